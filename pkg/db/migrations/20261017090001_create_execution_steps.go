package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/db"
)

// Migration20261017090001CreateExecutionSteps stores the result of every
// completed step
func Migration20261017090001CreateExecutionSteps() db.Migration {
	return db.Migration{
		Version:     20261017090001,
		Description: "Create execution_steps table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS execution_steps (
				plan_id TEXT NOT NULL REFERENCES executions(plan_id) ON DELETE CASCADE,
				step_index INTEGER NOT NULL,
				descriptor_id TEXT NOT NULL,
				output TEXT NOT NULL,
				metadata TEXT,
				PRIMARY KEY (plan_id, step_index)
			)`)
			return errors.Wrap(err, "failed to create execution_steps table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS execution_steps")
			return errors.Wrap(err, "failed to drop execution_steps table")
		},
	}
}
