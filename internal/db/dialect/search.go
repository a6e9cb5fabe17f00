package dialect

// Like returns the case-insensitive pattern-match operator for the driver.
// SQLite's LIKE is case-insensitive for ASCII by default; Postgres needs ILIKE.
func Like(driver string) string {
	if IsPostgres(driver) {
		return "ILIKE"
	}
	return "LIKE"
}
