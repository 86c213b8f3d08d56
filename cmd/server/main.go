package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/logger"

	"github.com/hien22444/WDP-LM-sub000/internal/app"
	"github.com/hien22444/WDP-LM-sub000/internal/config"
	"github.com/hien22444/WDP-LM-sub000/internal/db"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:          "tutor-booking",
		Short:        "Tutoring booking, payment and escrow backend",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config, builds the logger and connects the database.
func bootstrap(ctx context.Context) (*config.Config, logger.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.LogEngine, cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		return nil, nil, nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return cfg, log, pool, nil
}

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			// For receiving Ctrl+C / SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if migrate {
				if err := db.Migrate(ctx, pool); err != nil {
					return err
				}
			}

			container, err := app.NewContainer(app.Config{App: cfg, DBPool: pool, Logger: log})
			if err != nil {
				return err
			}
			defer func() {
				if err := container.Close(); err != nil {
					log.Warn("failed to close container", logger.String("error", err.Error()))
				}
			}()

			// Use http.Server for graceful shutdown
			server := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           container.Router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				container.Scheduler.Start(ctx)
			}()

			serverErr := make(chan error, 1)
			go func() {
				log.Info("server running", logger.String("addr", cfg.HTTPAddr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info("shutdown signal received")
			case err := <-serverErr:
				log.Error("server error", logger.String("error", err.Error()))
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("server forced to shutdown", logger.String("error", err.Error()))
			}
			wg.Wait()

			log.Info("server exited gracefully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, pool, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run every background sweep once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, pool, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			container, err := app.NewContainer(app.Config{App: cfg, DBPool: pool, Logger: log})
			if err != nil {
				return err
			}
			defer container.Close()

			return container.Scheduler.RunOnce(cmd.Context())
		},
	}
}
