package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"hookdeploy/internal/bootstrap"
	"hookdeploy/internal/bootstrap/logging"
	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/ports"
	"hookdeploy/internal/usecase/operator"
)

const sampleCommitSHA = "test-commit-sha-123456789"

var webhookConfigs ports.ConfigurationRepository

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook test helpers",
}

var webhookSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a signed sample delivery to a running receiver",
	Long: "Build a sample push, pull_request, release or issues payload for a configured repository, " +
		"sign it with the configuration secret and POST it to the receiver.",
	Args: cobra.NoArgs,
	RunE: runApp(fx.Options(), []any{&webhookConfigs}, func(cmd *cobra.Command, app *bootstrap.App, _ *operator.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		flags := cmd.Flags()
		id, _ := flags.GetUint64("id")
		eventType, _ := flags.GetString("event")
		branch, _ := flags.GetString("branch")
		target, _ := flags.GetString("url")
		timeout, _ := flags.GetDuration("timeout")

		cfg, err := pickConfiguration(ctx, webhookConfigs, id)
		if err != nil {
			return err
		}
		if branch == "" {
			branch = cfg.DeployBranch
		}
		if target == "" {
			target = receiverURL(app.Config.Server.Addr)
		}

		body, err := samplePayload(eventType, domaindeploy.CanonicalRepository(cfg.RepositoryURL), branch)
		if err != nil {
			return err
		}

		deliveryID := uuid.NewString()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return errs.Wrap(err, "build webhook request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(github.EventTypeHeader, eventType)
		req.Header.Set(github.DeliveryIDHeader, deliveryID)
		if cfg.HasSecret() {
			req.Header.Set(github.SHA256SignatureHeader, domaindeploy.Sign([]byte(cfg.Secret), body))
		}

		logging.Info(ctx, "sending sample delivery",
			slog.String("url", target),
			slog.String("event", eventType),
			slog.String("delivery_id", deliveryID),
			slog.Uint64("configuration_id", cfg.ID),
		)

		client := &http.Client{Timeout: timeout}
		resp, err := client.Do(req)
		if err != nil {
			return errs.Wrap(err, "send webhook")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return errs.Wrap(err, "read webhook response")
		}

		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "%s %s -> %s\n", eventType, cfg.RepositoryURL, resp.Status); err != nil {
			return errs.Wrap(err, "write send output")
		}
		if text := strings.TrimSpace(string(respBody)); text != "" {
			if _, err := fmt.Fprintln(out, text); err != nil {
				return errs.Wrap(err, "write send output")
			}
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("receiver answered %s", resp.Status)
		}
		return nil
	}),
}

// pickConfiguration returns the configuration with id, or the first enabled
// one when id is zero.
func pickConfiguration(ctx context.Context, configs ports.ConfigurationReadRepository, id uint64) (ports.Configuration, error) {
	if id != 0 {
		cfg, err := configs.GetConfiguration(ctx, id)
		if err != nil {
			return ports.Configuration{}, errs.Wrapf(err, "load configuration %d", id)
		}
		return cfg, nil
	}

	items, err := configs.ListConfigurations(ctx)
	if err != nil {
		return ports.Configuration{}, errs.Wrap(err, "list configurations")
	}
	for _, item := range items {
		if item.Enabled {
			return item, nil
		}
	}
	return ports.Configuration{}, errors.New("no enabled configuration found, add one with `config add`")
}

func receiverURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/webhooks/github/"
}

func samplePayload(eventType string, fullName string, branch string) ([]byte, error) {
	if fullName == "" {
		return nil, errors.New("configuration repository url has no owner/name")
	}
	repo := &github.Repository{FullName: github.Ptr(fullName)}

	var payload any
	switch eventType {
	case "push":
		payload = github.PushEvent{
			Ref: github.Ptr("refs/heads/" + branch),
			Repo: &github.PushEventRepository{
				FullName: github.Ptr(fullName),
			},
			HeadCommit: &github.HeadCommit{
				ID:        github.Ptr(sampleCommitSHA),
				Message:   github.Ptr("Test commit message"),
				Timestamp: &github.Timestamp{Time: time.Now().UTC()},
			},
		}
	case "pull_request":
		payload = github.PullRequestEvent{
			Action: github.Ptr("opened"),
			Number: github.Ptr(1),
			PullRequest: &github.PullRequest{
				Number: github.Ptr(1),
				Title:  github.Ptr("Test Pull Request"),
				Head: &github.PullRequestBranch{
					Ref: github.Ptr("feature-branch"),
					SHA: github.Ptr("test-pr-sha-123456789"),
				},
			},
			Repo: repo,
		}
	case "release":
		payload = github.ReleaseEvent{
			Action: github.Ptr("published"),
			Release: &github.RepositoryRelease{
				Name:    github.Ptr("v1.0.0"),
				TagName: github.Ptr("v1.0.0"),
			},
			Repo: repo,
		}
	case "issues":
		payload = github.IssuesEvent{
			Action: github.Ptr("opened"),
			Issue: &github.Issue{
				Number: github.Ptr(1),
				Title:  github.Ptr("Test Issue"),
			},
			Repo: repo,
		}
	default:
		return nil, fmt.Errorf("unsupported event %q (push, pull_request, release or issues)", eventType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(err, "encode sample payload")
	}
	return body, nil
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookSendCmd)

	webhookSendCmd.Flags().Uint64("id", 0, "Configuration id (default: first enabled configuration)")
	webhookSendCmd.Flags().String("event", "push", "Event to simulate: push, pull_request, release or issues")
	webhookSendCmd.Flags().String("branch", "", "Pushed branch (default: the configuration's deploy branch)")
	webhookSendCmd.Flags().String("url", "", "Receiver URL (default: derived from server.addr)")
	webhookSendCmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
}
