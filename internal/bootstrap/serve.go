package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"

	"hookdeploy/internal/bootstrap/config"
	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/httpapi"
	"hookdeploy/internal/usecase/deploy"
	"hookdeploy/internal/usecase/operator"
	"hookdeploy/internal/usecase/receiver"
)

// ServeModule runs the receiver: schema migration, deploy pool, startup
// recovery, config hot reload and the HTTP server. Hooks stop in reverse
// order, so the server stops taking deliveries before the pool drains.
var ServeModule = fx.Options(
	fx.Provide(provideServer),
	fx.Invoke(registerSchema),
	fx.Invoke(registerPool),
	fx.Invoke(registerRecovery),
	fx.Invoke(registerConfigWatch),
	fx.Invoke(registerServer),
)

// Server is the webhook HTTP server. Err reports a failure after startup.
type Server struct {
	http *http.Server
	errc chan error
}

func (s *Server) Addr() string {
	return s.http.Addr
}

func (s *Server) Err() <-chan error {
	return s.errc
}

func provideServer(ctx context.Context, app *App, pool *deploy.Pool, recv *receiver.Service, ops *operator.Service) *Server {
	cfg := app.Config
	handler := httpapi.NewRouter(ctx, recv, ops, httpapi.Options{
		MaxBodyBytes:   cfg.Ingress.MaxBodyBytes,
		OperatorToken:  cfg.Server.OperatorToken,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		HealthCheck:    app.Ping,
		QueueDepth:     pool.Pending,
	})
	return &Server{
		http: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		errc: make(chan error, 1),
	}
}

func registerSchema(lc fx.Lifecycle, app *App) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return app.InitSchema(ctx)
		},
	})
}

func registerPool(lc fx.Lifecycle, pool *deploy.Pool) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pool.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return pool.Stop(ctx)
		},
	})
}

func registerRecovery(lc fx.Lifecycle, cfg config.Config, sweeper *deploy.Sweeper) {
	if !cfg.Deploy.RecoverOnStart {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))
			report, err := sweeper.Run(ctx)
			if err != nil {
				return errs.Wrap(err, "recover open events")
			}
			logging.Info(logCtx, "startup recovery finished",
				slog.Int("requeued", report.Requeued),
				slog.Int("completed", report.Completed),
				slog.Int("failed", report.Failed),
			)
			return nil
		},
	})
}

func registerConfigWatch(lc fx.Lifecycle, app *App, cfg config.Config, executor *deploy.Executor) {
	if cfg.FileUsed == "" {
		return
	}

	var watcher *config.Watcher
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w, err := config.NewWatcher(context.WithoutCancel(ctx), cfg)
			if err != nil {
				return errs.Wrap(err, "create config watcher")
			}
			w.OnChange(func(next config.Config) {
				executor.UpdateSettings(ExecutorSettings(next.Deploy))
			})
			if err := w.Start(); err != nil {
				return errs.Wrap(err, "start config watcher")
			}
			watcher = w
			app.watch(w)
			return nil
		},
		OnStop: func(_ context.Context) error {
			if watcher != nil {
				watcher.Stop()
			}
			return nil
		},
	})
}

func registerServer(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logCtx := logging.WithAttrs(context.WithoutCancel(ctx), slog.String("component", "bootstrap.http"))

			ln, err := net.Listen("tcp", srv.http.Addr)
			if err != nil {
				return errs.Wrapf(err, "listen on %s", srv.http.Addr)
			}
			srv.http.BaseContext = func(net.Listener) context.Context { return logCtx }

			go func() {
				if err := srv.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Error(logCtx, "webhook server failed", slog.Any("err", errs.Loggable(err)))
					srv.errc <- err
				}
			}()

			logging.Info(logCtx, "webhook server started", slog.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.http.Shutdown(ctx); err != nil {
				return errs.Wrap(err, "shutdown webhook server")
			}
			return nil
		},
	})
}
