package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/routes"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/sweep"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const shutdownTimeout = 15 * time.Second

type ServeOptions struct {
	*RootOptions
	Sweep bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the HTTP API",
		Long:         "Starts the catalog HTTP API. With --sweep the drift sweep also runs in-process every SWEEP_INTERVAL.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Sweep, "sweep", false, "run the periodic drift sweep alongside the server")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	app, err := bootstrap(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	cfg := app.Config
	log := app.Logger.WithContext(ctx)

	checker := health.NewChecker(Version, app.HealthChecks())
	e := routes.NewServer(cfg.AppName, app.Service, checker, app.Logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("Listening on %s", srv.Addr)
		checker.SetReady(true)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		checker.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	if opts.Sweep && cfg.SweepInterval > 0 {
		sweeper := app.NewSweeper(sweepConfig(cfg.SweepConcurrency, cfg.SweepLockTTL, cfg.SweepAutoRepair, cfg.SweepAutoFreeze))
		g.Go(func() error {
			return sweeper.RunEvery(gctx, cfg.SweepInterval, func(report *sweep.Report) {
				log.WithField("projects", len(report.Projects)).Info("Drift sweep finished")
			})
		})
	}

	return g.Wait()
}

func sweepConfig(concurrency int, lockTTL time.Duration, autoRepair, autoFreeze bool) sweep.Config {
	return sweep.Config{
		Concurrency: concurrency,
		LockTTL:     lockTTL,
		AutoRepair:  autoRepair,
		AutoFreeze:  autoFreeze,
		Actor:       "drift-sweep",
	}
}
