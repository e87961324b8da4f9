/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the PTA dues engine. Loads configuration,
  wires the store, ledger, notifier and HTTP API together, and runs the
  server or a one-shot maintenance command.

COMMANDS:
  serve          Run the HTTP API (and the overdue scheduler if enabled)
  sweep          Flag overdue entries once and send reminders
  migrate        Create or update the database schema
  create-admin   Register a treasurer account

CONFIGURATION (lowest to highest precedence):
  1. Built-in defaults (config/config.go)
  2. .env file in the working directory (or PTA_ENV_FILE)
  3. PTA_* environment variables, e.g. PTA_DB_DSN, PTA_JWT_SECRET
  4. Command-line flags, e.g. --db-dsn, --port

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the overdue scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Cancel pending notifications and close the store

EXAMPLES:
  # Run against a local SQLite file with a sweep every hour
  PTA_JWT_SECRET=change-me-please-now ./server serve --sweep-interval=1h

  # Run in memory with demo scenarios
  ./server serve --db-driver=memory --scenarios

  # Nightly sweep from cron
  ./server sweep

SEE ALSO:
  - config/config.go: Configuration keys and validation
  - api/server.go: Router configuration
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pta-hub/dues-engine/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v, vErr := config.New()
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "server",
		Short:        "PTA contributions and penalties ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if vErr != nil {
				return vErr
			}
			loaded, err := config.Load(v)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.Int("port", 8080, "HTTP server port")
	flags.String("db-driver", "sqlite3", "database driver: sqlite3, postgres or memory")
	flags.String("db-dsn", "./data/pta.db", "SQLite path or PostgreSQL connection string")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Duration("sweep-interval", 0, "run the overdue sweeper on this interval (0 disables)")
	flags.String("notify-backend", "log", "notification backend: log, kafka or sendgrid")
	if v != nil {
		if err := config.BindFlags(v, flags); err != nil {
			vErr = err
		}
	}

	get := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCmd(get),
		newSweepCmd(get),
		newMigrateCmd(get),
		newCreateAdminCmd(get),
	)
	return root
}
