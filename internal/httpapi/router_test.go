package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/go-github/v68/github"
	"gorm.io/gorm"

	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "hookdeploy/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "hookdeploy/internal/infrastructure/persistence/sqlite/uow"
	"hookdeploy/internal/infrastructure/state"
	"hookdeploy/internal/ports"
	"hookdeploy/internal/usecase/deploy"
	"hookdeploy/internal/usecase/operator"
	"hookdeploy/internal/usecase/receiver"
)

const (
	testSecret = "s3cr3t-s3cr3t"
	testToken  = "operator-token"
	pushMain   = `{"ref":"refs/heads/main","repository":{"full_name":"acme/site"},"head_commit":{"id":"abc123","message":"fix header"}}`
)

type fakeSubmitter struct {
	jobs []deploy.Job
}

func (f *fakeSubmitter) Submit(job deploy.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

type fixture struct {
	handler http.Handler
	pool    *fakeSubmitter
	events  *sqliterepo.EventRepository
}

func setupRouter(t *testing.T, recvOpts receiver.Options, opts Options) fixture {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "httpapi.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	configs := sqliterepo.NewConfigurationRepository(db)
	events := sqliterepo.NewEventRepository(db)
	if _, err := configs.CreateConfiguration(context.Background(), ports.Configuration{
		RepositoryURL: "https://github.com/acme/site",
		Secret:        testSecret,
		Enabled:       true,
		AutoDeploy:    true,
		DeployBranch:  "main",
	}); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	pool := &fakeSubmitter{}
	if recvOpts.DeployRoot == "" {
		recvOpts.DeployRoot = "/srv"
	}
	recv := receiver.NewService(configs, events, sqliteuow.NewUnitOfWork(db), pool, recvOpts)
	ops := operator.NewService(configs, events, state.NewSQLiteStateStore(db))

	return fixture{
		handler: NewRouter(context.Background(), recv, ops, opts),
		pool:    pool,
		events:  events,
	}
}

func webhookRequest(path string, body string, deliveryID string, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(github.EventTypeHeader, "push")
	if deliveryID != "" {
		req.Header.Set(github.DeliveryIDHeader, deliveryID)
	}
	if secret != "" {
		req.Header.Set(github.SHA256SignatureHeader, domaindeploy.Sign([]byte(secret), []byte(body)))
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestWebhookQueuesSignedPush(t *testing.T) {
	f := setupRouter(t, receiver.Options{}, Options{})

	rec := serve(f.handler, webhookRequest("/webhooks/github/", pushMain, "delivery-1", testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}

	var got webhookResponse
	decodeBody(t, rec, &got)
	if got.EventID != "delivery-1" || got.Outcome != string(receiver.OutcomeQueued) || got.Status != "processing" {
		t.Fatalf("response = %+v", got)
	}
	if len(f.pool.jobs) != 1 || f.pool.jobs[0].CommitSHA != "abc123" {
		t.Fatalf("jobs = %+v, want one job for abc123", f.pool.jobs)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("missing %s header", requestIDHeader)
	}

	// Redelivery of the same delivery id is acknowledged without a second deploy.
	rec = serve(f.handler, webhookRequest("/webhooks/github", pushMain, "delivery-1", testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
	decodeBody(t, rec, &got)
	if got.Outcome != string(receiver.OutcomeDuplicate) {
		t.Fatalf("duplicate outcome = %q", got.Outcome)
	}
	if len(f.pool.jobs) != 1 {
		t.Fatalf("jobs after duplicate = %d, want 1", len(f.pool.jobs))
	}
}

func TestWebhookRejections(t *testing.T) {
	f := setupRouter(t, receiver.Options{}, Options{MaxBodyBytes: 512})

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{
			name:   "wrong method",
			req:    httptest.NewRequest(http.MethodGet, "/webhooks/github/", nil),
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "not json",
			req:    webhookRequest("/webhooks/github", "not json", "d-1", testSecret),
			status: http.StatusBadRequest,
		},
		{
			name:   "missing repository",
			req:    webhookRequest("/webhooks/github", `{"ref":"refs/heads/main"}`, "d-2", testSecret),
			status: http.StatusBadRequest,
		},
		{
			name:   "too large",
			req:    webhookRequest("/webhooks/github", `{"pad":"`+strings.Repeat("x", 1024)+`"}`, "d-3", testSecret),
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown repository",
			req:    webhookRequest("/webhooks/github", `{"repository":{"full_name":"other/repo"}}`, "d-4", ""),
			status: http.StatusNoContent,
		},
		{
			name:   "bad signature",
			req:    webhookRequest("/webhooks/github", pushMain, "d-5", "wrong-secret-value"),
			status: http.StatusUnauthorized,
		},
		{
			name:   "missing signature",
			req:    webhookRequest("/webhooks/github", pushMain, "d-6", ""),
			status: http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(f.handler, tc.req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tc.status, rec.Body.String())
			}
		})
	}

	page, err := f.events.QueryEvents(context.Background(), ports.EventFilter{})
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("recorded events = %d, want 0", page.Total)
	}
	if len(f.pool.jobs) != 0 {
		t.Fatalf("jobs = %d, want 0", len(f.pool.jobs))
	}
}

func TestWebhookRateLimitedAfterBurst(t *testing.T) {
	f := setupRouter(t, receiver.Options{Limiter: NewRepositoryLimiter(1)}, Options{})

	rec := serve(f.handler, webhookRequest("/webhooks/github", pushMain, "d-1", testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}
	rec = serve(f.handler, webhookRequest("/webhooks/github", pushMain, "d-2", testSecret))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
}

type panicReceiver struct{}

func (panicReceiver) Receive(context.Context, receiver.Delivery) (receiver.Result, error) {
	panic("boom")
}

func TestPanicBecomesInternalError(t *testing.T) {
	h := NewRouter(context.Background(), panicReceiver{}, nil, Options{})

	rec := serve(h, webhookRequest("/webhooks/github", pushMain, "d-1", ""))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := NewRouter(context.Background(), panicReceiver{}, nil, Options{
		MetricsEnabled: true,
		QueueDepth:     func() int { return 3 },
	})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var health struct {
		Status        string `json:"status"`
		QueuedDeploys int    `json:"queued_deploys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if health.Status != "ok" || health.QueuedDeploys != 3 {
		t.Fatalf("healthz = %#v", health)
	}
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hookdeploy_") {
		t.Fatalf("metrics status = %d", rec.Code)
	}

	h = NewRouter(context.Background(), panicReceiver{}, nil, Options{
		HealthCheck: func(context.Context) error { return errors.New("database closed") },
	})
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled metrics status = %d, want 404", rec.Code)
	}
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing healthz status = %d, want 503", rec.Code)
	}
}
