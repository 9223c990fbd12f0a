// Package migrations holds the audit database schema migrations.
// Versions are YYYYMMDDHHmmss timestamps.
package migrations

import (
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/db"
)

// All returns every migration. Append new migrations to the end.
func All() []db.Migration {
	return []db.Migration{
		Migration20261017090000CreateExecutions(),
		Migration20261017090001CreateExecutionSteps(),
	}
}
