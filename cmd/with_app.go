package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"hookdeploy/internal/bootstrap"
	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/usecase/operator"
)

const lifecycleTimeout = 10 * time.Second

type runFunc func(cmd *cobra.Command, app *bootstrap.App, ops *operator.Service) error

func withApp(run runFunc) func(cmd *cobra.Command, args []string) error {
	return runApp(fx.Options(), nil, run)
}

// runApp builds the fx graph for one command. extra adds modules, populate
// receives additional values from the graph.
func runApp(extra fx.Option, populate []any, run runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var app *bootstrap.App
		var ops *operator.Service
		targets := append([]any{&app, &ops}, populate...)
		fxApp := fx.New(
			bootstrap.Module,
			extra,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(targets...),
		)
		if err := fxApp.Err(); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "build fx application")
		}

		logger, err := logging.NewLogger(cmd.ErrOrStderr(), app.Config.Log.Level, app.Config.Log.Format)
		if err != nil {
			return errs.Wrap(err, "build logger")
		}
		ctx = logging.WithLogger(ctx, logger)
		cmd.SetContext(ctx)

		startCtx, cancelStart := context.WithTimeout(ctx, lifecycleTimeout)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "start application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopTimeout := lifecycleTimeout + app.StopTimeout()
			stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if err := run(cmd, app, ops); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}
