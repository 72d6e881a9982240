package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-attendance/internal/models"
)

// CreateSchema creates the tables straight from the bun models. Production
// databases are migrated with the SQL files instead; this path serves tests
// and throwaway SQLite databases.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{(*models.Event)(nil), (*models.Ticket)(nil), (*models.Participant)(nil)}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", m, err)
		}
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_no_ticket_participant_per_event_email
			ON participants (event_id, lower(email)) WHERE ticket_uuid IS NULL`,
		`CREATE INDEX IF NOT EXISTS participants_event_email_idx ON participants (event_id, email)`,
		`CREATE INDEX IF NOT EXISTS tickets_event_idx ON tickets (event_id)`,
		`CREATE INDEX IF NOT EXISTS tickets_email_idx ON tickets (email)`,
		`CREATE INDEX IF NOT EXISTS events_name_idx ON events (name)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
