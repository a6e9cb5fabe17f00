package db

import "github.com/jmoiron/sqlx"

// Pool hands the playdesk stores separate read and write connections.
//
// On SQLite the writer is pinned to MaxOpenConns(1) so session and ticket
// writes serialize instead of tripping SQLITE_BUSY, while the reader opens
// several read-only connections that see consistent WAL snapshots. On
// Postgres both sides are the same *sqlx.DB and pgx pools underneath.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool wraps writer and reader connections. Pass the same handle twice
// when the driver pools internally.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer is the connection the stores use for INSERT, UPDATE, DELETE, and
// transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is the connection the stores use for SELECT queries. On SQLite it
// runs concurrently with the writer.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both sides, once when they share a handle.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
