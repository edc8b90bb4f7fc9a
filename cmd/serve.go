package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hookdeploy/internal/bootstrap"
	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/usecase/operator"
)

var serveServer *bootstrap.Server

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and deploy workers",
	RunE: runApp(bootstrap.ServeModule, []any{&serveServer}, func(cmd *cobra.Command, app *bootstrap.App, _ *operator.Service) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		logging.Info(ctx, "receiver running",
			slog.String("addr", serveServer.Addr()),
			slog.String("deploy_workdir", app.Config.Deploy.WorkDir),
		)

		select {
		case <-ctx.Done():
			logging.Info(ctx, "shutdown requested")
			return nil
		case err := <-serveServer.Err():
			return errs.Wrap(err, "serve webhooks")
		}
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
