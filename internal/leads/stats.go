package leads

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLSummaryReader aggregates lead counts through database/sql. The API
// opens it over the pgx stdlib driver so analytics queries use their own
// connection pool, separate from the intake path.
type SQLSummaryReader struct {
	db *sql.DB
}

var _ SummaryReader = (*SQLSummaryReader)(nil)

func NewSQLSummaryReader(db *sql.DB) *SQLSummaryReader {
	if db == nil {
		panic("leads: sql db required")
	}
	return &SQLSummaryReader{db: db}
}

// Summary counts leads created at or after since, grouped by form and
// business type.
func (r *SQLSummaryReader) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	summary := newSummary(since)

	rows, err := r.db.QueryContext(ctx, `
		SELECT form_type, business_type, COUNT(*)
		FROM leads
		WHERE created_at >= $1
		GROUP BY form_type, business_type
	`, since)
	if err != nil {
		return nil, fmt.Errorf("leads: summary query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			form, businessType string
			count              int
		)
		if err := rows.Scan(&form, &businessType, &count); err != nil {
			return nil, fmt.Errorf("leads: summary scan: %w", err)
		}
		summary.Total += count
		summary.ByForm[form] += count
		if businessType != "" {
			summary.ByBusinessType[businessType] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: summary rows: %w", err)
	}
	return summary, nil
}
