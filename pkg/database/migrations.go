package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateFullTextIndexes creates the GIN full-text index over summary and
// result, gated behind FULLTEXT_ENABLED (spec.md §4.3, §6). When disabled,
// the search store falls back to a LIKE-based conjunction instead.
func CreateFullTextIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_events_summary_result_gin
		ON events USING gin(to_tsvector('english', summary || ' ' || COALESCE(result, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create summary/result GIN index: %w", err)
	}
	return nil
}
