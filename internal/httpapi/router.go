package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/metrics"
	"hookdeploy/internal/usecase/operator"
	"hookdeploy/internal/usecase/receiver"
)

// DefaultMaxBodyBytes caps a webhook body when no limit is configured.
const DefaultMaxBodyBytes int64 = 25 << 20

type Receiver interface {
	Receive(context.Context, receiver.Delivery) (receiver.Result, error)
}

type Options struct {
	MaxBodyBytes   int64
	OperatorToken  string
	MetricsEnabled bool
	// HealthCheck backs /healthz when set.
	HealthCheck func(context.Context) error
	// QueueDepth adds the number of queued deploys to /healthz when set.
	QueueDepth func() int
}

type healthResponse struct {
	Status        string `json:"status"`
	QueuedDeploys *int   `json:"queued_deploys,omitempty"`
}

// NewRouter mounts the webhook endpoint, health and metrics, and the operator
// routes when a token is configured.
func NewRouter(ctx context.Context, recv Receiver, ops *operator.Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(requestContext)
	r.Use(recoverPanics)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.HealthCheck != nil {
			if err := opts.HealthCheck(r.Context()); err != nil {
				logging.Warn(r.Context(), "health check failed", slog.Any("err", errs.Loggable(err)))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		resp := healthResponse{Status: "ok"}
		if opts.QueueDepth != nil {
			n := opts.QueueDepth()
			resp.QueuedDeploys = &n
		}
		writeJSON(w, http.StatusOK, resp)
	})
	if opts.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	wh := &webhookHandler{recv: recv, maxBody: opts.MaxBodyBytes}
	r.Post("/webhooks/github", wh.handle)

	logCtx := logging.WithAttrs(ctx, slog.String("component", "httpapi"))
	switch {
	case ops == nil:
	case opts.OperatorToken == "":
		logging.Warn(logCtx, "operator token not set, operator routes disabled")
	default:
		oh := &operatorHandler{svc: ops}
		r.Group(func(r chi.Router) {
			r.Use(requireBearer(opts.OperatorToken))
			r.Get("/webhooks/dashboard", oh.dashboard)
			r.Get("/webhooks/stats", oh.stats)
			r.Get("/webhooks/events", oh.listEvents)
			r.Get("/webhooks/events/{ref}", oh.getEvent)
			r.Post("/webhooks/events/{ref}/delete", oh.deleteEvent)
			r.Get("/webhooks/configurations", oh.listConfigurations)
			r.Post("/webhooks/configurations/create", oh.createConfiguration)
			r.Get("/webhooks/configurations/{id}", oh.getConfiguration)
			r.Post("/webhooks/configurations/{id}/edit", oh.updateConfiguration)
			r.Post("/webhooks/configurations/{id}/delete", oh.deleteConfiguration)
		})
	}

	return r
}
