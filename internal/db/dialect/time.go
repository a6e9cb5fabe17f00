package dialect

import "fmt"

// DurationMs returns the SQL expression computing the elapsed milliseconds
// between two timestamp columns, used for service-time aggregates.
func DurationMs(driver, startCol, endCol string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s)) * 1000", endCol, startCol)
	}
	return fmt.Sprintf("(julianday(%s) - julianday(%s)) * 86400000", endCol, startCol)
}
