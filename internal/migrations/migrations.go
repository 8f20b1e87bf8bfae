package migrations

import (
	_ "embed"

	"github.com/soroflow/streamwatch/internal/db"
	"github.com/soroflow/streamwatch/pkg/config"
)

//go:embed 001_stream_records.sql
var mig001 string

// RunMigrations brings the stream store schema up to date.
func RunMigrations(cfg config.DatabaseConfig) error {
	migrations := []db.Migration{
		{
			ID:  "001_stream_records.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrations(cfg.Path, migrations)
}
