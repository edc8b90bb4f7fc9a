package config

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
)

// Watcher re-reads the config file on change and hands every valid result to
// the registered callbacks. Invalid edits are logged and ignored.
type Watcher struct {
	ctx       context.Context
	viper     *viper.Viper
	mu        sync.RWMutex
	callbacks []func(Config)
	current   Config
	stopped   bool
}

func NewWatcher(ctx context.Context, cfg Config) (*Watcher, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if cfg.FileUsed == "" {
		return nil, errors.New("config was not loaded from a file")
	}

	return &Watcher{
		ctx:     logging.WithAttrs(ctx, slog.String("component", "bootstrap.config.watcher")),
		viper:   newViper(cfg.FileUsed),
		current: cfg,
	}, nil
}

func (w *Watcher) OnChange(callback func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) Start() error {
	if err := w.viper.ReadInConfig(); err != nil {
		return errs.Wrap(err, "read config for watch")
	}

	w.viper.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e)
	})
	w.viper.WatchConfig()

	logging.Info(w.ctx, "watching config file", slog.String("path", w.viper.ConfigFileUsed()))
	return nil
}

func (w *Watcher) reload(e fsnotify.Event) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	cfg, err := decode(w.viper)
	if err != nil {
		logging.Warn(w.ctx, "ignoring invalid config change",
			slog.String("path", e.Name),
			slog.Any("err", errs.Loggable(err)),
		)
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info(w.ctx, "config reloaded", slog.String("path", e.Name), slog.String("op", e.Op.String()))
	for _, callback := range callbacks {
		callback(cfg)
	}
}

// Stop detaches the callbacks. viper offers no way to close its watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
