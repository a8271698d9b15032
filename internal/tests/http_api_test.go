package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"payup/internal/app"
	"payup/internal/domain"
	"payup/internal/handler"
	"payup/internal/service"
)

const testAdminToken = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// apiFixture serves the full router over in-memory collaborators.
type apiFixture struct {
	*sessionFixture
	appService *service.AppService
	templates  *MockWebhookTemplateRepository
	router     http.Handler
	apiKey     string
	appID      string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{sessionFixture: newSessionFixture(), templates: NewMockWebhookTemplateRepository()}
	f.appService = service.NewAppService(f.apps, f.templates, discardLogger())

	created, err := f.appService.CreateApp(context.Background(), service.CreateAppRequest{
		Name: "Shop", WebhookURL: "https://shop.example/hooks",
	})
	if err != nil {
		t.Fatalf("CreateApp: %v", err)
	}
	f.apiKey = created.APIKey
	f.appID = created.App.ID

	f.router = f.newRouter(f.service)
	return f
}

// newRouter serves svc behind the full middleware stack.
func (f *apiFixture) newRouter(svc *service.SessionService) http.Handler {
	return app.NewRouter(app.RouterDeps{
		PayupHandler:     handler.NewPayupHandler(svc),
		AppHandler:       handler.NewAppHandler(f.appService),
		Authenticator:    f.appService,
		IdempotencyStore: f.kv,
		AdminToken:       testAdminToken,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})
}

func (f *apiFixture) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createPayup(t *testing.T) handler.CheckoutResponse {
	t.Helper()

	rec := f.do(http.MethodPost, "/v1/payups", f.apiKey, handler.CreatePayupRequest{
		Amount: 2500, Currency: "usd", ReturnURL: "https://shop.example/return",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create payup: status %d body %s", rec.Code, rec.Body.String())
	}

	var payup handler.CheckoutResponse
	decode(t, rec, &payup)
	return payup
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Payups and checkout
// ──────────────────────────────────────────────────────────────────────────────

func TestAPI_CreatePayup_UsesAuthenticatedApp(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	payup := f.createPayup(t)

	if payup.AppID != f.appID {
		t.Errorf("expected app %s, got %s", f.appID, payup.AppID)
	}
	if payup.Status != domain.PayupStatusCreated || payup.Currency != "USD" {
		t.Errorf("unexpected payup %+v", payup)
	}

	rec := f.do(http.MethodGet, "/v1/checkout/"+payup.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get checkout: status %d", rec.Code)
	}
	var view handler.CheckoutResponse
	decode(t, rec, &view)
	if view.ID != payup.ID || view.Amount != 2500 {
		t.Errorf("unexpected checkout view %+v", view)
	}
}

func TestAPI_CreatePayup_Errors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	tests := []struct {
		name     string
		token    string
		body     any
		wantCode int
	}{
		{"missing key", "", handler.CreatePayupRequest{Amount: 100, Currency: "USD", ReturnURL: "https://shop.example/r"}, http.StatusUnauthorized},
		{"wrong key", f.apiKey + "x", handler.CreatePayupRequest{Amount: 100, Currency: "USD", ReturnURL: "https://shop.example/r"}, http.StatusUnauthorized},
		{"bad currency", f.apiKey, handler.CreatePayupRequest{Amount: 100, Currency: "XXX", ReturnURL: "https://shop.example/r"}, http.StatusBadRequest},
		{"zero amount", f.apiKey, handler.CreatePayupRequest{Amount: 0, Currency: "USD", ReturnURL: "https://shop.example/r"}, http.StatusBadRequest},
		{"bad body", f.apiKey, "not an object", http.StatusBadRequest},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/v1/payups", tc.token, tc.body)
			if rec.Code != tc.wantCode {
				t.Errorf("expected %d, got %d (%s)", tc.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAPI_Finalize_RepeatedIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	payup := f.createPayup(t)

	var first, second handler.TransitionResponse
	rec := f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "success"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first finalize: status %d body %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &first)

	rec = f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "failure"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second finalize: status %d", rec.Code)
	}
	decode(t, rec, &second)

	if first.AlreadyProcessed || !first.DeliveryEnqueued {
		t.Errorf("unexpected first response %+v", first)
	}
	if !second.AlreadyProcessed {
		t.Error("expected already_processed on the repeat")
	}
	if second.Payup.Status != domain.PayupStatusFinalized {
		t.Errorf("expected the first outcome to stand, got %s", second.Payup.Status)
	}
	if first.Transaction == nil || second.Transaction == nil || first.Transaction.ID != second.Transaction.ID {
		t.Errorf("expected the same transaction, got %+v and %+v", first.Transaction, second.Transaction)
	}
	if got := len(f.queue.Pending()); got != 1 {
		t.Errorf("expected 1 webhook job, got %d", got)
	}
}

func TestAPI_Finalize_Errors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	payup := f.createPayup(t)

	rec := f.do(http.MethodPost, "/v1/checkout/missing/finalize", "", handler.FinalizeRequest{Outcome: "success"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown payup: expected 404, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "maybe"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad outcome: expected 400, got %d", rec.Code)
	}

	f.kv.GetError = ErrMockKVUnavailable
	rec = f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "success"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("kv down: expected 503, got %d", rec.Code)
	}
	var body handler.ErrorResponse
	decode(t, rec, &body)
	if body.Error != http.StatusText(http.StatusServiceUnavailable) {
		t.Errorf("expected internal detail to be hidden, got %q", body.Error)
	}
}

func TestAPI_Finalize_InProgressIsConflict(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.router = f.newRouter(f.newService(f.payups, service.SessionConfig{SettleWait: 20 * time.Millisecond}))
	payup := f.createPayup(t)

	f.claim(t, payup.ID, f.clock.Now().Add(time.Minute))

	rec := f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "success"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while another request settles, got %d", rec.Code)
	}

	f.clock.Advance(2 * time.Minute)

	rec = f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "success"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 once the claim expired, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_Finalize_QueueDownStillCommits(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	payup := f.createPayup(t)
	f.queue.SetEnqueueError(ErrMockQueueUnavailable)

	rec := f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "success"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp handler.TransitionResponse
	decode(t, rec, &resp)
	if resp.DeliveryEnqueued {
		t.Error("expected delivery_enqueued=false")
	}
	if f.outbox.CountUnpublished() != 1 {
		t.Errorf("expected the outbox row to stay unpublished for the relay, got %d", f.outbox.CountUnpublished())
	}
}

func TestAPI_Cancel(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	payup := f.createPayup(t)

	rec := f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/cancel", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d", rec.Code)
	}
	var resp handler.TransitionResponse
	decode(t, rec, &resp)
	if resp.Payup.Status != domain.PayupStatusCancelled || resp.Transaction != nil {
		t.Errorf("unexpected cancel response %+v", resp)
	}

	rec = f.do(http.MethodPost, "/v1/checkout/"+payup.ID+"/finalize", "", handler.FinalizeRequest{Outcome: "success"})
	decode(t, rec, &resp)
	if !resp.AlreadyProcessed || resp.Payup.Status != domain.PayupStatusCancelled {
		t.Errorf("expected finalize after cancel to be a no-op, got %+v", resp)
	}
}

func TestAPI_IdempotencyKeyReplaysResponse(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	body := handler.CreatePayupRequest{Amount: 900, Currency: "EUR", ReturnURL: "https://shop.example/return"}

	first := f.do(http.MethodPost, "/v1/payups", f.apiKey, body, "Idempotency-Key", "order-77")
	second := f.do(http.MethodPost, "/v1/payups", f.apiKey, body, "Idempotency-Key", "order-77")
	third := f.do(http.MethodPost, "/v1/payups", f.apiKey, body, "Idempotency-Key", "order-78")

	var a, b, c handler.CheckoutResponse
	decode(t, first, &a)
	decode(t, second, &b)
	decode(t, third, &c)

	if a.ID != b.ID {
		t.Errorf("expected replayed payup %s, got %s", a.ID, b.ID)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header")
	}
	if c.ID == a.ID {
		t.Error("expected a new payup for a different key")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Apps
// ──────────────────────────────────────────────────────────────────────────────

func TestAPI_CreateApp_RequiresAdminToken(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	req := handler.CreateAppRequest{Name: "Other", WebhookURL: "https://other.example/hooks"}

	if rec := f.do(http.MethodPost, "/v1/apps", "", req); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/v1/apps", f.apiKey, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("api key as admin token: expected 401, got %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/v1/apps", testAdminToken, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var creds handler.CredentialsResponse
	decode(t, rec, &creds)
	if creds.App == nil || creds.APIKey == "" || creds.WebhookSecret == "" {
		t.Errorf("expected credentials, got %+v", creds)
	}
}

func TestAPI_RotateAPIKey_OldKeyStopsWorking(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/v1/apps/me/api-key", f.apiKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: status %d", rec.Code)
	}
	var creds handler.CredentialsResponse
	decode(t, rec, &creds)

	if rec := f.do(http.MethodGet, "/v1/apps/me", f.apiKey, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("old key: expected 401, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/v1/apps/me", creds.APIKey, nil); rec.Code != http.StatusOK {
		t.Errorf("new key: expected 200, got %d", rec.Code)
	}
}

func TestAPI_UpsertTemplate(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rec := f.do(http.MethodPut, "/v1/apps/me/templates/payment.succeeded", f.apiKey,
		handler.UpsertTemplateRequest{Body: `{"id": {{ json .ID }}}`})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if _, err := f.templates.Get(context.Background(), f.appID, domain.EventPaymentSucceeded); err != nil {
		t.Errorf("expected stored template: %v", err)
	}

	rec = f.do(http.MethodPut, "/v1/apps/me/templates/payment.refunded", f.apiKey,
		handler.UpsertTemplateRequest{Body: `{}`})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown event type: expected 400, got %d", rec.Code)
	}

	rec = f.do(http.MethodPut, "/v1/apps/me/templates/payment.failed", f.apiKey,
		handler.UpsertTemplateRequest{Body: `{"id": {{ json .ID }`})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unparsable template: expected 400, got %d", rec.Code)
	}
}

func TestAPI_DisableApp_BlocksNewPayups(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	if rec := f.do(http.MethodDelete, "/v1/apps/me", f.apiKey, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("disable: status %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/v1/payups", f.apiKey, handler.CreatePayupRequest{
		Amount: 100, Currency: "USD", ReturnURL: "https://shop.example/r",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a disabled app, got %d", rec.Code)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	if rec := f.do(http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", rec.Code)
	}

	rec := f.do(http.MethodOptions, "/v1/checkout/abc/finalize", "", nil,
		"Origin", "https://checkout.example",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "Content-Type, Idempotency-Key",
	)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: status %d headers %v", rec.Code, rec.Header())
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost) {
		t.Errorf("preflight: expected POST to be allowed, got %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}

	rec = f.do(http.MethodGet, "/health", "", nil, "Origin", "https://checkout.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("simple request: expected allow origin header, got %v", rec.Header())
	}
}
