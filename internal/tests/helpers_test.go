package tests

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"payup/internal/domain"
	"payup/internal/repository"
	"payup/internal/service"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sessionFixture wires a SessionService to in-memory collaborators.
type sessionFixture struct {
	clock   *Clock
	kv      *MockKVStore
	apps    *MockAppRepository
	payups  *MockPayupRepository
	txns    *MockTransactionRepository
	outbox  *MockOutboxRepository
	queue   *MockQueue
	service *service.SessionService
}

func newSessionFixture() *sessionFixture {
	f := &sessionFixture{
		clock:  NewClock(testStart),
		apps:   NewMockAppRepository(),
		txns:   NewMockTransactionRepository(),
		outbox: NewMockOutboxRepository(),
		queue:  NewMockQueue(),
	}
	f.kv = NewMockKVStore(f.clock)
	f.payups = NewMockPayupRepository(f.txns, f.outbox)

	f.apps.AddApp(&domain.App{
		ID:            "app-1",
		Name:          "Shop",
		WebhookSecret: "whsec_test",
		WebhookURL:    "https://merchant.example/webhooks",
		Active:        true,
	})

	f.service = f.newService(f.payups, service.SessionConfig{})
	return f
}

// newService builds a SessionService over the fixture's collaborators with
// payups as the durable store. Zero TTL and Now fields take the fixture defaults.
func (f *sessionFixture) newService(payups repository.PayupRepository, cfg service.SessionConfig) *service.SessionService {
	if cfg.TTL == 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = f.clock.Now
	}
	return service.NewSessionService(
		f.kv, f.apps, payups, f.txns, f.outbox, f.queue, nil, discardLogger(), cfg,
	)
}

// claim marks a stored payup as held by another writer until the given time.
func (f *sessionFixture) claim(t *testing.T, sessionID string, until time.Time) {
	t.Helper()

	ctx := context.Background()
	key := "payup:" + sessionID
	raw, err := f.kv.Get(ctx, key)
	if err != nil || raw == nil {
		t.Fatalf("load payup %s: %v", sessionID, err)
	}

	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		t.Fatalf("decode payup: %v", err)
	}
	record["claim"] = "crashed-writer"
	record["claim_expires_at"] = until

	claimed, _ := json.Marshal(record)
	if err := f.kv.Set(ctx, key, claimed, 15*time.Minute); err != nil {
		t.Fatalf("store claim: %v", err)
	}
}

func validCreateRequest() service.CreateSessionRequest {
	return service.CreateSessionRequest{
		AppID:     "app-1",
		Amount:    2500,
		Currency:  "usd",
		Metadata:  map[string]any{"order_id": "ord_42"},
		ReturnURL: "https://merchant.example/return",
	}
}
