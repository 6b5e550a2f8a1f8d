package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes. These enable
// efficient search on analysis summaries and generated script content from
// the library endpoints.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_analyses_summary_gin
		ON analyses USING gin(to_tsvector('english', COALESCE(summary, '')))`)
	if err != nil {
		return fmt.Errorf("create summary GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_test_scripts_content_gin
		ON test_scripts USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("create script content GIN index: %w", err)
	}

	return nil
}
