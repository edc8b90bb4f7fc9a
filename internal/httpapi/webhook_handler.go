package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v68/github"

	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/metrics"
	"hookdeploy/internal/usecase/receiver"
)

type webhookHandler struct {
	recv    Receiver
	maxBody int64
}

type webhookResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status,omitempty"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

func (h *webhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		msg := "failed to read payload"
		if errors.As(err, &tooLarge) {
			msg = "payload too large"
		}
		h.reject(w, r, http.StatusBadRequest, msg, "invalid")
		return
	}

	result, err := h.recv.Receive(ctx, receiver.Delivery{
		Body:        body,
		Signature:   r.Header.Get(github.SHA256SignatureHeader),
		GitHubEvent: github.WebHookType(r),
		DeliveryID:  github.DeliveryID(r),
	})
	if err != nil {
		kind := errs.KindOf(err)
		status := statusForKind(kind)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			logging.Error(ctx, "webhook processing failed", slog.Any("err", errs.Loggable(err)))
			msg = "internal error"
		}
		h.reject(w, r, status, msg, kind.String())
		return
	}

	if result.Outcome == receiver.OutcomeIgnored {
		metrics.RecordWebhook(string(result.Outcome), http.StatusNoContent)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	metrics.RecordWebhook(string(result.Outcome), http.StatusOK)
	writeJSON(w, http.StatusOK, webhookResponse{
		EventID: result.EventID,
		Status:  string(result.Status),
		Outcome: string(result.Outcome),
		Reason:  result.Reason,
	})
}

func (h *webhookHandler) reject(w http.ResponseWriter, r *http.Request, status int, msg string, outcome string) {
	logging.Warn(r.Context(), "webhook rejected", slog.Int("status", status), slog.String("reason", msg))
	metrics.RecordWebhook(outcome, status)
	writeError(w, status, msg)
}
