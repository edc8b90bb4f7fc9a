package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"hookdeploy/internal/bootstrap"
	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/usecase/operator"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect recorded webhook events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events, newest first",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		flags := cmd.Flags()
		eventType, _ := flags.GetString("type")
		status, _ := flags.GetString("status")
		repository, _ := flags.GetString("repository")
		page, _ := flags.GetInt("page")

		out, err := svc.ListEvents(ctx, operator.EventQuery{
			EventType:  eventType,
			Status:     status,
			Repository: repository,
			Page:       page,
		})
		if err != nil {
			return errs.Wrap(err, "list events")
		}

		rows := make([][]string, 0, len(out.Items))
		for _, item := range out.Items {
			rows = append(rows, []string{
				strconv.FormatUint(item.ID, 10),
				item.EventID,
				item.EventType,
				item.Repository,
				orDash(item.Branch),
				orDash(shortSHA(item.CommitSHA)),
				item.Status,
				item.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			})
		}

		w := cmd.OutOrStdout()
		title := fmt.Sprintf("Events (page %d of %d, %d total)", out.Page, out.TotalPages, out.Total)
		return renderTable(w, title,
			[]string{"ID", "Event ID", "Type", "Repository", "Branch", "Commit", "Status", "Created"}, rows)
	}),
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <id|event-id>",
	Short: "Show one event with its payload",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		event, err := svc.GetEvent(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "show event")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(event); err != nil {
			return errs.Wrap(err, "write event")
		}
		return nil
	}),
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event counts and the last deploy per working copy",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		stats, err := svc.Stats(ctx)
		if err != nil {
			return errs.Wrap(err, "event stats")
		}
		deploys, err := svc.Deploys(ctx)
		if err != nil {
			return errs.Wrap(err, "list deploys")
		}

		w := cmd.OutOrStdout()
		if err := renderTable(w, "Events by status", []string{"Status", "Count"}, [][]string{
			{"total", strconv.FormatInt(stats.Total, 10)},
			{"pending", strconv.FormatInt(stats.Pending, 10)},
			{"processing", strconv.FormatInt(stats.Processing, 10)},
			{"completed", strconv.FormatInt(stats.Completed, 10)},
			{"failed", strconv.FormatInt(stats.Failed, 10)},
		}); err != nil {
			return err
		}

		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		typeRows := make([][]string, 0, len(types))
		for _, t := range types {
			typeRows = append(typeRows, []string{t, strconv.FormatInt(stats.ByType[t], 10)})
		}
		if err := renderTable(w, "Events by type", []string{"Type", "Count"}, typeRows); err != nil {
			return err
		}

		deployRows := make([][]string, 0, len(deploys))
		for _, d := range deploys {
			deployedAt := d.DeployedAt
			deployRows = append(deployRows, []string{
				d.WorkDir,
				d.Repository,
				d.Branch,
				shortSHA(d.CommitSHA),
				formatTime(&deployedAt),
			})
		}
		return renderTable(w, "Last deploys", []string{"Workdir", "Repository", "Branch", "Commit", "Deployed"}, deployRows)
	}),
}

var eventsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete completed and failed events older than a given age",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		n, err := svc.PurgeEvents(ctx, olderThan)
		if err != nil {
			return errs.Wrap(err, "purge events")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "purged %d events older than %s\n", n, olderThan); err != nil {
			return errs.Wrap(err, "write purge output")
		}
		return nil
	}),
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd, eventsShowCmd, eventsStatsCmd, eventsPurgeCmd)

	eventsListCmd.Flags().String("type", "", "Filter by event type (push, pull_request, issues, release, other)")
	eventsListCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed)")
	eventsListCmd.Flags().String("repository", "", "Filter by repository substring")
	eventsListCmd.Flags().Int("page", 1, "Page number")

	eventsPurgeCmd.Flags().Duration("older-than", 0, "Minimum age of purged events, for example 720h")
	_ = eventsPurgeCmd.MarkFlagRequired("older-than")
}
