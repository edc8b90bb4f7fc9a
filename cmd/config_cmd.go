package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hookdeploy/internal/bootstrap"
	"hookdeploy/internal/bootstrap/config"
	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/usecase/operator"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage repository configurations",
}

var configAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a repository configuration",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		flags := cmd.Flags()
		repositoryURL, _ := flags.GetString("repository-url")
		secret, _ := flags.GetString("secret")
		branch, _ := flags.GetString("branch")
		workDir, _ := flags.GetString("workdir")
		autoDeploy, _ := flags.GetBool("auto-deploy")
		enabled, _ := flags.GetBool("enabled")

		out, err := svc.CreateConfiguration(ctx, operator.ConfigurationInput{
			RepositoryURL: repositoryURL,
			Secret:        secret,
			Enabled:       enabled,
			AutoDeploy:    autoDeploy,
			DeployBranch:  branch,
			WorkDir:       workDir,
		})
		if err != nil {
			return errs.Wrap(err, "add configuration")
		}
		return printSaved(cmd.OutOrStdout(), "configuration added", out)
	}),
}

var configUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a repository configuration",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, err := parseConfigurationID(cmd.Flags().Arg(0))
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		var patch operator.ConfigurationPatch
		if flags.Changed("repository-url") {
			v, _ := flags.GetString("repository-url")
			patch.RepositoryURL = &v
		}
		if flags.Changed("secret") {
			v, _ := flags.GetString("secret")
			patch.Secret = &v
		}
		if flags.Changed("branch") {
			v, _ := flags.GetString("branch")
			patch.DeployBranch = &v
		}
		if flags.Changed("workdir") {
			v, _ := flags.GetString("workdir")
			patch.WorkDir = &v
		}
		if flags.Changed("auto-deploy") {
			v, _ := flags.GetBool("auto-deploy")
			patch.AutoDeploy = &v
		}
		if flags.Changed("enabled") {
			v, _ := flags.GetBool("enabled")
			patch.Enabled = &v
		}

		out, err := svc.UpdateConfiguration(ctx, id, patch)
		if err != nil {
			return errs.Wrap(err, "update configuration")
		}
		return printSaved(cmd.OutOrStdout(), "configuration updated", out)
	}),
}

var configRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a repository configuration",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, err := parseConfigurationID(cmd.Flags().Arg(0))
		if err != nil {
			return err
		}
		if err := svc.DeleteConfiguration(ctx, id); err != nil {
			return errs.Wrap(err, "remove configuration")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "configuration %d removed\n", id); err != nil {
			return errs.Wrap(err, "write remove output")
		}
		return nil
	}),
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repository configurations",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		items, err := svc.ListConfigurations(ctx)
		if err != nil {
			return errs.Wrap(err, "list configurations")
		}

		rows := make([][]string, 0, len(items))
		var warnings []string
		for _, item := range items {
			rows = append(rows, []string{
				strconv.FormatUint(item.ID, 10),
				item.RepositoryURL,
				item.DeployBranch,
				yesNo(item.Enabled),
				yesNo(item.AutoDeploy),
				yesNo(item.HasSecret),
				orDash(item.WorkDir),
			})
			if item.Enabled && !item.HasSecret {
				warnings = append(warnings, fmt.Sprintf("configuration %d: %s", item.ID, operator.WarnMissingSecret))
			}
		}

		out := cmd.OutOrStdout()
		if err := renderTable(out, "Configurations",
			[]string{"ID", "Repository", "Branch", "Enabled", "Auto deploy", "Secret", "Workdir"}, rows); err != nil {
			return err
		}
		return renderWarnings(out, warnings)
	}),
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export runtime settings and repository configurations",
	Long:  "Export runtime settings and repository configurations as json, yaml or toml. Secrets are never exported.",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		format, _ := cmd.Flags().GetString("format")
		items, err := svc.ListConfigurations(ctx)
		if err != nil {
			return errs.Wrap(err, "list configurations")
		}

		doc := exportDocument{
			Settings:       app.Config.Redacted(),
			Configurations: items,
		}
		return writeExport(cmd.OutOrStdout(), format, doc)
	}),
}

type exportDocument struct {
	Settings       config.Config                `json:"settings" yaml:"settings" toml:"settings"`
	Configurations []operator.ConfigurationView `json:"configurations" yaml:"configurations" toml:"configurations"`
}

func writeExport(w io.Writer, format string, doc exportDocument) error {
	var buf bytes.Buffer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return errs.Wrap(err, "encode json export")
		}
	case "yaml", "yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return errs.Wrap(err, "encode yaml export")
		}
		if err := enc.Close(); err != nil {
			return errs.Wrap(err, "close yaml encoder")
		}
	case "toml":
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return errs.Wrap(err, "encode toml export")
		}
	default:
		return fmt.Errorf("unsupported export format %q (json, yaml or toml)", format)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errs.Wrap(err, "write export")
	}
	return nil
}

func printSaved(w io.Writer, title string, out operator.SaveResult) error {
	c := out.Configuration
	if err := renderTable(w, title,
		[]string{"ID", "Repository", "Branch", "Enabled", "Auto deploy", "Secret", "Workdir"},
		[][]string{{
			strconv.FormatUint(c.ID, 10),
			c.RepositoryURL,
			c.DeployBranch,
			yesNo(c.Enabled),
			yesNo(c.AutoDeploy),
			yesNo(c.HasSecret),
			orDash(c.WorkDir),
		}}); err != nil {
		return err
	}
	return renderWarnings(w, out.Warnings)
}

func parseConfigurationID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid configuration id %q", raw)
	}
	return id, nil
}

func addConfigurationFlags(cmd *cobra.Command) {
	cmd.Flags().String("repository-url", "", "Repository URL, for example https://github.com/acme/site")
	cmd.Flags().String("secret", "", "Webhook secret shared with GitHub (at least 10 characters)")
	cmd.Flags().String("branch", "main", "Branch whose pushes trigger a deploy")
	cmd.Flags().String("workdir", "", "Working copy, relative to deploy.workdir (empty uses deploy.workdir)")
	cmd.Flags().Bool("auto-deploy", true, "Deploy on matching pushes")
	cmd.Flags().Bool("enabled", true, "Accept deliveries for this repository")
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configAddCmd, configUpdateCmd, configRemoveCmd, configListCmd, configExportCmd)

	addConfigurationFlags(configAddCmd)
	_ = configAddCmd.MarkFlagRequired("repository-url")
	addConfigurationFlags(configUpdateCmd)

	configExportCmd.Flags().String("format", "yaml", "Export format: json, yaml or toml")
}
