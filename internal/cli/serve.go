package cli

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/config"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/health"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/jobs"
)

func serveCMD(opts *rootOptions) *cobra.Command {
	var port int
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin server (health, metrics) and the job worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if port == 0 {
					port = a.cfg.Metrics.Port
				}
				circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)

				hm := health.NewManager(a.logger)
				registerCheckers(ctx, a, hm)
				srv := newAdminServer(a.cfg, hm, port, a.logger)
				errCh := make(chan error, 2)
				go func() {
					a.logger.Info("Admin HTTP server listening", zap.Int("port", port))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
				}()

				if withWorker {
					w, err := newWorker(ctx, a)
					if err != nil {
						return err
					}
					go func() { errCh <- w.Run(ctx) }()
				}

				select {
				case <-ctx.Done():
				case err := <-errCh:
					if err != nil {
						a.logger.Error("Service component failed", zap.Error(err))
						shutdown(srv, a.logger)
						return err
					}
					<-ctx.Done()
				}
				shutdown(srv, a.logger)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "admin port (defaults to metrics.port)")
	cmd.Flags().BoolVar(&withWorker, "worker", true, "also consume join-key detection jobs")
	return cmd
}

func workerCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume join-key detection jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				w, err := newWorker(ctx, a)
				if err != nil {
					return err
				}
				return w.Run(ctx)
			})
		},
	}
}

func newWorker(ctx context.Context, a *app) (*jobs.Worker, error) {
	q, err := a.queue(ctx)
	if err != nil {
		return nil, err
	}
	d, err := a.detector(ctx)
	if err != nil {
		return nil, err
	}
	w := jobs.NewWorker(q, a.logger)
	w.Handle(jobs.TypeDetectJoinKeys, jobs.NewDetectJoinKeysHandler(d, a.logger))
	return w, nil
}

// registerCheckers adds a checker for every dependency that could be reached.
// Unreachable dependencies are registered as failing checks.
func registerCheckers(ctx context.Context, a *app, hm *health.Manager) {
	timeout := a.cfg.Health.CheckTimeout

	if _, w, err := a.redisCache(ctx); err == nil {
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(w).WithTimeout(timeout))
	} else {
		_ = hm.RegisterChecker(unreachable("redis", err))
	}
	if c, err := a.database(ctx); err == nil {
		_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(c).WithTimeout(timeout))
	} else {
		_ = hm.RegisterChecker(unreachable("database", err))
	}
	_ = hm.RegisterChecker(health.NewQdrantHealthChecker(a.vectorClient()).WithTimeout(timeout))
}

func unreachable(name string, err error) health.Checker {
	return health.NewCustomHealthChecker(name, true, time.Second, func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error(), Message: "connection failed at startup"}
	})
}

func newAdminServer(cfg *config.Config, hm *health.Manager, port int, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	if cfg.Health.Enabled {
		health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	}
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func shutdown(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Admin server shutdown failed", zap.Error(err))
	}
}
