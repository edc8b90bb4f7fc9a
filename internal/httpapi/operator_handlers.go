package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"hookdeploy/internal/bootstrap/logging"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/usecase/operator"
)

const maxOperatorBodyBytes = 1 << 20

type operatorHandler struct {
	svc *operator.Service
}

// configurationRequest is the body of create and edit requests. Omitted
// fields keep their current value on edit and take defaults on create.
type configurationRequest struct {
	RepositoryURL *string `json:"repository_url"`
	Secret        *string `json:"secret"`
	Enabled       *bool   `json:"enabled"`
	AutoDeploy    *bool   `json:"auto_deploy"`
	DeployBranch  *string `json:"deploy_branch"`
	WorkDir       *string `json:"work_dir"`
}

func (req configurationRequest) input() operator.ConfigurationInput {
	in := operator.ConfigurationInput{
		Enabled:      true,
		AutoDeploy:   true,
		DeployBranch: "main",
	}
	if req.RepositoryURL != nil {
		in.RepositoryURL = *req.RepositoryURL
	}
	if req.Secret != nil {
		in.Secret = *req.Secret
	}
	if req.Enabled != nil {
		in.Enabled = *req.Enabled
	}
	if req.AutoDeploy != nil {
		in.AutoDeploy = *req.AutoDeploy
	}
	if req.DeployBranch != nil {
		in.DeployBranch = *req.DeployBranch
	}
	if req.WorkDir != nil {
		in.WorkDir = *req.WorkDir
	}
	return in
}

func (req configurationRequest) patch() operator.ConfigurationPatch {
	return operator.ConfigurationPatch{
		RepositoryURL: req.RepositoryURL,
		Secret:        req.Secret,
		Enabled:       req.Enabled,
		AutoDeploy:    req.AutoDeploy,
		DeployBranch:  req.DeployBranch,
		WorkDir:       req.WorkDir,
	}
}

func (h *operatorHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *operatorHandler) stats(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *operatorHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := 1
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be a number")
			return
		}
		page = n
	}

	out, err := h.svc.ListEvents(r.Context(), operator.EventQuery{
		EventType:  q.Get("event_type"),
		Status:     q.Get("status"),
		Repository: q.Get("repository"),
		Page:       page,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *operatorHandler) getEvent(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *operatorHandler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if err := h.svc.DeleteEvent(r.Context(), ref); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": ref})
}

func (h *operatorHandler) listConfigurations(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListConfigurations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *operatorHandler) createConfiguration(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeConfigurationRequest(w, r)
	if !ok {
		return
	}
	out, err := h.svc.CreateConfiguration(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *operatorHandler) getConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := configurationID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.GetConfiguration(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *operatorHandler) updateConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := configurationID(w, r)
	if !ok {
		return
	}
	req, ok := decodeConfigurationRequest(w, r)
	if !ok {
		return
	}
	out, err := h.svc.UpdateConfiguration(r.Context(), id, req.patch())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *operatorHandler) deleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := configurationID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteConfiguration(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"deleted": id})
}

func (h *operatorHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForKind(errs.KindOf(err))
	if status == http.StatusInternalServerError {
		logging.Error(r.Context(), "operator request failed", slog.Any("err", errs.Loggable(err)))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func configurationID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid configuration id")
		return 0, false
	}
	return id, true
}

func decodeConfigurationRequest(w http.ResponseWriter, r *http.Request) (configurationRequest, bool) {
	var req configurationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOperatorBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var syntaxErr *json.SyntaxError
		msg := "invalid request body"
		if errors.As(err, &syntaxErr) {
			msg = "request body is not valid JSON"
		}
		writeError(w, http.StatusBadRequest, msg)
		return configurationRequest{}, false
	}
	return req, true
}
