package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPostgres(t *testing.T) {
	assert.True(t, IsPostgres(PGX))
	assert.False(t, IsPostgres(SQLite3))
	assert.False(t, IsPostgres(""))
}

func TestBoolToInt(t *testing.T) {
	assert.Equal(t, 1, BoolToInt(true))
	assert.Equal(t, 0, BoolToInt(false))
}

func TestLike(t *testing.T) {
	assert.Equal(t, "ILIKE", Like(PGX))
	assert.Equal(t, "LIKE", Like(SQLite3))
}

func TestDurationMs(t *testing.T) {
	assert.Contains(t, DurationMs(PGX, "started_at", "closed_at"), "EXTRACT(EPOCH FROM")
	assert.Contains(t, DurationMs(SQLite3, "started_at", "closed_at"), "julianday")
}
