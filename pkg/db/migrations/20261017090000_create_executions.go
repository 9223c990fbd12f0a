package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/db"
)

// Migration20261017090000CreateExecutions creates the executions table
func Migration20261017090000CreateExecutions() db.Migration {
	return db.Migration{
		Version:     20261017090000,
		Description: "Create executions table",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS executions (
					plan_id TEXT PRIMARY KEY,
					flow TEXT NOT NULL,
					input TEXT NOT NULL DEFAULT '',
					descriptor_ids TEXT NOT NULL DEFAULT '[]',
					step_count INTEGER NOT NULL,
					completed_steps INTEGER NOT NULL,
					failed_step INTEGER,
					error TEXT,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL
				)`,
				"CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at DESC)",
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to create executions table")
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP INDEX IF EXISTS idx_executions_started_at"); err != nil {
				return errors.Wrap(err, "failed to drop index")
			}
			_, err := tx.Exec("DROP TABLE IF EXISTS executions")
			return errors.Wrap(err, "failed to drop executions table")
		},
	}
}
