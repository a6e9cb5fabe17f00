// Package dialect contains helpers for writing SQL that works on both
// SQLite and PostgreSQL. Store code passes the driver name (sqlx.DB.DriverName)
// and gets back the dialect-appropriate fragment.
package dialect

const (
	// SQLite3 is the driver name for mattn/go-sqlite3.
	SQLite3 = "sqlite3"
	// PGX is the driver name for jackc/pgx registered via stdlib.
	PGX = "pgx"
)

// IsPostgres reports whether the driver name refers to PostgreSQL.
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BoolToInt converts a bool to the integer representation used for SQLite
// boolean columns. Postgres stores are expected to use native booleans, but
// keeping one storage representation simplifies shared queries.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
