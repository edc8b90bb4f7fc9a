package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"hookdeploy/internal/bootstrap/config"
	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/infrastructure/persistence/sqlite/model"
)

// App is the loaded configuration and the open state database.
type App struct {
	Config config.Config
	DB     *gorm.DB

	mu      sync.RWMutex
	watcher *config.Watcher
}

// CurrentConfig is Config with the latest valid hot-reloaded file applied.
func (a *App) CurrentConfig() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.watcher != nil {
		return a.watcher.Current()
	}
	return a.Config
}

// StopTimeout bounds stopping the application under the current config.
func (a *App) StopTimeout() time.Duration {
	return a.CurrentConfig().StopTimeout()
}

func (a *App) watch(w *config.Watcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watcher = w
}

// InitSchema creates or upgrades the configuration, event and deploy state
// tables. It is safe to run on every start.
func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	models := model.All()
	logging.Info(logCtx, "start schema migration", slog.Int("tables", len(models)))

	if err := a.DB.WithContext(ctx).AutoMigrate(models...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed", slog.String("database_dsn", a.Config.Database.DSN))
	return nil
}

// Ping checks that the state database answers.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.Wrap(err, "ping database")
	}
	return nil
}
