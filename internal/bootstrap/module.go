package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"hookdeploy/internal/bootstrap/config"
	"hookdeploy/internal/bootstrap/database"
	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/httpapi"
	sqliterepo "hookdeploy/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "hookdeploy/internal/infrastructure/persistence/sqlite/uow"
	"hookdeploy/internal/infrastructure/state"
	"hookdeploy/internal/ports"
	"hookdeploy/internal/usecase/deploy"
	"hookdeploy/internal/usecase/operator"
	"hookdeploy/internal/usecase/receiver"
)

// Module wires storage and use cases. Nothing here starts goroutines; the
// serve lifecycle lives in ServeModule.
var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewConfigurationRepository,
			fx.As(new(ports.ConfigurationRepository)),
			fx.As(new(ports.ConfigurationReadRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewEventRepository,
			fx.As(new(ports.EventRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			state.NewSQLiteStateStore,
			fx.As(new(ports.DeployStateStore)),
		),
	),
	fx.Provide(provideExecutor),
	fx.Provide(providePool),
	fx.Provide(provideSweeper),
	fx.Provide(provideReceiver),
	fx.Provide(operator.NewService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

// ExecutorSettings maps the deploy section onto the executor's reloadable knobs.
func ExecutorSettings(cfg config.DeployConfig) deploy.Settings {
	return deploy.Settings{
		GitTimeout:           cfg.GitTimeout,
		HookTimeout:          cfg.HookTimeout,
		MigrateCommand:       append([]string(nil), cfg.MigrateCommand...),
		CollectStaticCommand: append([]string(nil), cfg.CollectStaticCommand...),
	}
}

func provideExecutor(cfg config.Config, events ports.EventRepository, store ports.DeployStateStore) *deploy.Executor {
	return deploy.NewExecutor(events, store, ExecutorSettings(cfg.Deploy))
}

func providePool(cfg config.Config, executor *deploy.Executor, events ports.EventRepository) *deploy.Pool {
	return deploy.NewPool(executor, events, deploy.PoolConfig{
		Workers:   cfg.Deploy.Workers,
		QueueSize: cfg.Deploy.QueueSize,
		LockWait:  cfg.Deploy.LockWait,
	})
}

func provideSweeper(cfg config.Config, events ports.EventRepository, configs ports.ConfigurationReadRepository, pool *deploy.Pool) *deploy.Sweeper {
	return deploy.NewSweeper(events, configs, pool, cfg.Deploy.WorkDir)
}

type receiverParams struct {
	fx.In

	Config  config.Config
	Configs ports.ConfigurationReadRepository
	Events  ports.EventRepository
	UoW     ports.UnitOfWork
	Pool    *deploy.Pool
}

func provideReceiver(p receiverParams) *receiver.Service {
	opts := receiver.Options{
		ExactMatch: p.Config.Ingress.ExactMatch(),
		DeployRoot: p.Config.Deploy.WorkDir,
	}
	if limiter := httpapi.NewRepositoryLimiter(p.Config.Ingress.RateLimitPerMin); limiter != nil {
		opts.Limiter = limiter
	}
	return receiver.NewService(p.Configs, p.Events, p.UoW, p.Pool, opts)
}
