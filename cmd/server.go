package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickcollette/kayveechat-server/core"
	"github.com/rickcollette/kayveechat-server/daemon"
	"github.com/rickcollette/kayveechat-server/handler"
	"github.com/rickcollette/kayveechat-server/metrics"
	"github.com/rickcollette/kayveechat-server/store"
	"github.com/rickcollette/kayveechat-server/utils"
)

const shutdownTimeout = 10 * time.Second

// StartCmd starts the KayVeeChat server and runs it until SIGINT or SIGTERM.
func StartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the KayVeeChat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log)
		},
	}
}

// run wires the store, core services, daemon and metrics endpoint and blocks
// until ctx is cancelled or one of them fails.
func run(ctx context.Context, cfg *utils.Config, log zerolog.Logger) error {
	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	hasher, err := core.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		db.Close()
		return err
	}

	m := metrics.New()
	sessions := core.NewSessionDirectory(cfg.SessionTTL)
	subs := core.NewRegistry(log, m)
	m.GaugeFunc("sessions_active", "Number of live sessions.", func() float64 { return float64(sessions.Len()) })
	m.GaugeFunc("subscribers_active", "Number of subscribed connections.", func() float64 { return float64(subs.Len()) })

	h := handler.New(db, sessions, subs, hasher, log, m)

	sweep := cfg.SessionSweepInterval
	if sweep == 0 {
		sweep = -1
	}
	srv := daemon.New(daemon.Options{
		Addr:          cfg.ListenAddr,
		MaxLineBytes:  cfg.MaxLineBytes,
		WriteTimeout:  cfg.WriteTimeout,
		IdleTimeout:   cfg.IdleTimeout,
		SweepInterval: sweep,
	}, h, sessions, subs, log, m)

	if err := srv.Start(); err != nil {
		db.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var httpSrv *http.Server
	if cfg.MetricsAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           m.Router(db),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		var result *multierror.Error
		if err := srv.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop daemon: %w", err))
		}
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, fmt.Errorf("stop metrics server: %w", err))
			}
		}
		if err := db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", err))
		}
		return result.ErrorOrNil()
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *utils.Config, log zerolog.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
