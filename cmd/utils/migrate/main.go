package main

import (
	"log/slog"
	"os"

	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/infra/config"
)

// Applies the audit schema migrations to the configured Postgres database.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Getenv("AUDITGATE_CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Audit.Backend != "postgres" {
		logger.Error("audit backend is not postgres", "backend", cfg.Audit.Backend)
		os.Exit(1)
	}

	if err := audit.Migrate(cfg.Audit.DSN); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations completed successfully")
}
