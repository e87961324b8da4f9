package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pta-hub/dues-engine/api"
	"github.com/pta-hub/dues-engine/auth"
	"github.com/pta-hub/dues-engine/config"
	"github.com/pta-hub/dues-engine/factory"
	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/generic/store"
	"github.com/pta-hub/dues-engine/notify"
	"github.com/pta-hub/dues-engine/pkg/logging"
	"github.com/pta-hub/dues-engine/store/sqldb"
)

const shutdownTimeout = 30 * time.Second

// =============================================================================
// WIRING
// =============================================================================

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sqldb.Store // nil for the memory driver
	ledger     *generic.Ledger
	users      auth.UserStore
	dispatcher *notify.Dispatcher
	handler    *api.Handler
	closers    []func() error
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: logging.Setup(cfg.LogLevel)}

	var ledgerStore generic.TxStore
	ping := func(context.Context) error { return nil }
	switch cfg.DBDriver {
	case "memory":
		ledgerStore = store.NewTxMemory()
		a.users = auth.NewMemoryUserStore()
		a.logger.Warn("using in-memory store; data is lost on exit")
	default:
		db, err := sqldb.New(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		ledgerStore, a.users, ping = db, db, db.Ping
	}

	a.ledger = generic.NewLedger(ledgerStore,
		generic.WithLogger(a.logger),
		generic.WithDefaultSettings(factory.Defaults()))

	sender, err := newSender(cfg, a.logger)
	if err != nil {
		a.close()
		return nil, err
	}
	if c, ok := sender.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.dispatcher = notify.NewDispatcher(sender,
		notify.WithBatchSize(cfg.NotifyBatchSize),
		notify.WithPace(cfg.NotifyPace),
		notify.WithLogger(a.logger))

	a.handler = api.NewHandler(api.Deps{
		Ledger:   a.ledger,
		Users:    a.users,
		Tokens:   auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL),
		Notifier: a.dispatcher,
		Logger:   a.logger,
		Ping:     ping,
	})
	return a, nil
}

func newSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	switch cfg.NotifyBackend {
	case "log":
		return notify.NewLogSender(logger), nil
	case "kafka":
		return notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "sendgrid":
		return notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom), nil
	default:
		return nil, fmt.Errorf("unknown notification backend %q", cfg.NotifyBackend)
	}
}

// drain waits for queued notifications and releases resources.
func (a *app) drain() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	a.close()
}

func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	var scenarios bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(cmd.Context(), scenarios)
		},
	}
	cmd.Flags().BoolVar(&scenarios, "scenarios", false, "enable the demo scenario endpoints")
	return cmd
}

func (a *app) serve(ctx context.Context, scenarios bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.NewRouter(a.handler, api.RouterOptions{
		AllowedOrigins:  a.cfg.CORSOrigins,
		EnableScenarios: scenarios,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := api.NewOverdueScheduler(a.handler, a.cfg.SweepInterval)
	scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			"addr", server.Addr,
			"db", a.cfg.DBDriver,
			"notify", a.cfg.NotifyBackend,
			"scenarios", scenarios)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// =============================================================================
// MAINTENANCE COMMANDS
// =============================================================================

func newSweepCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Flag overdue contributions and penalties once and send reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.drain()

			res, err := api.NewOverdueScheduler(a.handler, 0).RunNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if res.Failed > 0 {
				return fmt.Errorf("%d entries could not be flagged", res.Failed)
			}
			return nil
		},
	}
}

func newMigrateCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			if a.db == nil {
				return errors.New("the memory driver has no schema to migrate")
			}
			if err := a.db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.db.Driver())
			return nil
		},
	}
}

func newCreateAdminCmd(cfg func() *config.Config) *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Register a treasurer (ADMIN) account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			user, err := auth.NewPasswordAuthenticator(a.users).Register(cmd.Context(), auth.RegisterInput{
				Email:    email,
				Name:     name,
				Password: password,
				Role:     auth.RoleAdmin,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	cmd.Flags().StringVar(&name, "name", "Treasurer", "display name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
