package repository

// Schema definitions for the Kestrel report archive.
// Compatible with both SQLite and PostgreSQL.

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    alert_id TEXT NOT NULL,
    customer_name TEXT NOT NULL,
    status TEXT NOT NULL,
    analysis_status TEXT NOT NULL,
    report TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaReportIndexes = `
CREATE INDEX IF NOT EXISTS idx_reports_alert ON reports(alert_id);
CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaReports,
		schemaReportIndexes,
	}
}
