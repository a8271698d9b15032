package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"payup/internal/domain"
	"payup/internal/service"
)

// ──────────────────────────────────────────────
// 1. SESSION CREATION
// ──────────────────────────────────────────────

func TestCreateSession_ValidInput_Succeeds(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()

	payup, err := f.service.CreateSession(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if payup.Status != domain.PayupStatusCreated {
		t.Errorf("expected CREATED, got %s", payup.Status)
	}
	if payup.Currency != "USD" {
		t.Errorf("expected currency to be normalized to USD, got %s", payup.Currency)
	}
	if !payup.ExpiresAt.Equal(testStart.Add(15 * time.Minute)) {
		t.Errorf("unexpected expiry %v", payup.ExpiresAt)
	}
	if !f.kv.Has("payup:" + payup.ID) {
		t.Error("expected payup to be stored in the kv store")
	}
	if f.payups.CountPayups() != 0 {
		t.Error("expected no durable record before settlement")
	}
}

func TestCreateSession_InvalidInput_Fails(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(r *service.CreateSessionRequest)
	}{
		{"zero amount", func(r *service.CreateSessionRequest) { r.Amount = 0 }},
		{"negative amount", func(r *service.CreateSessionRequest) { r.Amount = -100 }},
		{"unsupported currency", func(r *service.CreateSessionRequest) { r.Currency = "XYZ" }},
		{"missing currency", func(r *service.CreateSessionRequest) { r.Currency = "" }},
		{"relative return url", func(r *service.CreateSessionRequest) { r.ReturnURL = "/return" }},
		{"non-http return url", func(r *service.CreateSessionRequest) { r.ReturnURL = "ftp://merchant.example/return" }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newSessionFixture()
			req := validCreateRequest()
			tc.mutate(&req)

			_, err := f.service.CreateSession(context.Background(), req)
			if !errors.Is(err, service.ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
			if f.kv.SetCallCount != 0 {
				t.Error("expected nothing to be written")
			}
		})
	}
}

func TestCreateSession_UnknownOrDisabledApp_Fails(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	f.apps.AddApp(&domain.App{ID: "app-disabled", Active: false})

	for _, appID := range []string{"app-missing", "app-disabled"} {
		req := validCreateRequest()
		req.AppID = appID

		_, err := f.service.CreateSession(context.Background(), req)
		if !errors.Is(err, service.ErrAppNotFound) {
			t.Errorf("%s: expected ErrAppNotFound, got: %v", appID, err)
		}
	}
}

func TestCreateSession_KVFailure_ReturnsErrKV(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	f.kv.SetError = ErrMockKVUnavailable

	_, err := f.service.CreateSession(context.Background(), validCreateRequest())
	if !errors.Is(err, service.ErrKV) {
		t.Errorf("expected ErrKV, got: %v", err)
	}
}

// ──────────────────────────────────────────────
// 2. READING SESSIONS
// ──────────────────────────────────────────────

func TestGetSessionData_FallsBackToDurableStore(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())
	if _, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess}); err != nil {
		t.Fatalf("FinalizePayment: %v", err)
	}

	if f.kv.Has("payup:" + payup.ID) {
		t.Fatal("expected kv entry to be cleared after settlement")
	}

	got, err := f.service.GetSessionData(ctx, payup.ID)
	if err != nil {
		t.Fatalf("GetSessionData: %v", err)
	}
	if got.Status != domain.PayupStatusFinalized {
		t.Errorf("expected FINALIZED, got %s", got.Status)
	}
}

func TestGetSessionData_Unknown_ReturnsNotFound(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()

	_, err := f.service.GetSessionData(context.Background(), "pu_missing")
	if !errors.Is(err, service.ErrPayupNotFound) {
		t.Errorf("expected ErrPayupNotFound, got: %v", err)
	}
}

// ──────────────────────────────────────────────
// 3. FINALIZATION
// ──────────────────────────────────────────────

func TestFinalizePayment_HappyPath(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())

	res, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if res.Payup.Status != domain.PayupStatusFinalized {
		t.Errorf("expected FINALIZED, got %s", res.Payup.Status)
	}
	if res.Transaction == nil || res.Transaction.Status != domain.TransactionStatusSucceeded {
		t.Fatalf("expected a succeeded transaction, got %+v", res.Transaction)
	}
	if res.Transaction.ID != res.Payup.TransactionID {
		t.Error("expected transaction id to be recorded on the payup")
	}
	if !res.DeliveryEnqueued || res.AlreadyProcessed || res.Notice != nil {
		t.Errorf("unexpected flags: %+v", res)
	}

	if f.txns.CountTransactions() != 1 {
		t.Errorf("expected 1 transaction, got %d", f.txns.CountTransactions())
	}
	pending := f.queue.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued webhook, got %d", len(pending))
	}
	if pending[0].EventType != domain.EventPaymentSucceeded || pending[0].PayupID != payup.ID {
		t.Errorf("unexpected queue message %+v", pending[0])
	}
	if f.outbox.CountUnpublished() != 0 {
		t.Error("expected outbox message to be marked published")
	}
}

func TestFinalizePayment_Failure_RecordsReason(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())

	res, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeFailure, FailureReason: "card_declined"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if res.Payup.Status != domain.PayupStatusFailed || res.Payup.FailureReason != "card_declined" {
		t.Errorf("unexpected payup %+v", res.Payup)
	}
	if res.Transaction.Status != domain.TransactionStatusFailed {
		t.Errorf("expected failed transaction, got %s", res.Transaction.Status)
	}
	if f.queue.Pending()[0].EventType != domain.EventPaymentFailed {
		t.Error("expected payment.failed event")
	}
}

func TestFinalizePayment_InvalidOutcome_Fails(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	payup, _ := f.service.CreateSession(context.Background(), validCreateRequest())

	_, err := f.service.FinalizePayment(context.Background(), payup.ID, domain.Outcome{Status: "maybe"})
	if !errors.Is(err, service.ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestFinalizePayment_Duplicate_ReturnsOriginalResult(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())

	first, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	// A late failure report must not overwrite the recorded success.
	second, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeFailure})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	if !second.AlreadyProcessed || !errors.Is(second.Notice, service.ErrPayupAlreadyProcessed) {
		t.Errorf("expected already-processed notice, got %+v", second)
	}
	if second.Payup.Status != domain.PayupStatusFinalized {
		t.Errorf("expected status to stay FINALIZED, got %s", second.Payup.Status)
	}
	if second.Transaction == nil || second.Transaction.ID != first.Transaction.ID {
		t.Error("expected the original transaction to be returned")
	}
	if second.DeliveryEnqueued {
		t.Error("expected no second delivery")
	}
	if f.txns.CountTransactions() != 1 {
		t.Errorf("expected 1 transaction, got %d", f.txns.CountTransactions())
	}
	if len(f.queue.Pending()) != 1 {
		t.Errorf("expected 1 queued webhook, got %d", len(f.queue.Pending()))
	}
}

func TestFinalizePayment_Expired_ReturnsNotFound(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())
	f.clock.Advance(16 * time.Minute)

	_, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if !errors.Is(err, service.ErrPayupNotFound) {
		t.Errorf("expected ErrPayupNotFound, got: %v", err)
	}
	if f.txns.CountTransactions() != 0 || f.queue.EnqueueCallCount != 0 {
		t.Error("expected no side effects for an expired session")
	}

	if _, err := f.service.GetSessionData(ctx, payup.ID); !errors.Is(err, service.ErrPayupNotFound) {
		t.Errorf("expected expired session to be unreadable, got: %v", err)
	}
}

func TestFinalizePayment_QueueFailure_ReturnsResultAndErrQueue(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())
	f.queue.SetEnqueueError(ErrMockQueueUnavailable)

	res, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if !errors.Is(err, service.ErrQueue) {
		t.Fatalf("expected ErrQueue, got: %v", err)
	}
	if res == nil || res.Payup.Status != domain.PayupStatusFinalized {
		t.Fatal("expected the finalized result alongside the queue error")
	}
	if res.DeliveryEnqueued {
		t.Error("expected DeliveryEnqueued=false")
	}

	// The transition is durable; a retry is a no-op.
	again, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if err != nil || !again.AlreadyProcessed {
		t.Errorf("expected already-processed retry, got %+v (err=%v)", again, err)
	}

	if f.outbox.CountUnpublished() != 1 {
		t.Errorf("expected the webhook to remain in the outbox, got %d", f.outbox.CountUnpublished())
	}
}

func TestFinalizePayment_DBFailure_RollsBack(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())
	f.payups.SettleError = ErrMockDBUnavailable

	_, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if !errors.Is(err, service.ErrDB) {
		t.Fatalf("expected ErrDB, got: %v", err)
	}

	got, err := f.service.GetSessionData(ctx, payup.ID)
	if err != nil {
		t.Fatalf("GetSessionData: %v", err)
	}
	if got.Status != domain.PayupStatusCreated {
		t.Errorf("expected rollback to CREATED, got %s", got.Status)
	}
	if f.queue.EnqueueCallCount != 0 {
		t.Error("expected no webhook for a failed transition")
	}

	// Once the database recovers the session can still be finalized.
	f.payups.SettleError = nil
	res, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if err != nil || res.Payup.Status != domain.PayupStatusFinalized {
		t.Errorf("expected finalize to succeed after recovery, got %+v (err=%v)", res, err)
	}
}

// ──────────────────────────────────────────────
// 4. CANCELLATION
// ──────────────────────────────────────────────

func TestCancelPayment_EmitsCancelledEvent(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())

	res, err := f.service.CancelPayment(ctx, payup.ID)
	if err != nil {
		t.Fatalf("CancelPayment: %v", err)
	}
	if res.Payup.Status != domain.PayupStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", res.Payup.Status)
	}
	if f.txns.CountTransactions() != 0 {
		t.Error("expected no transaction for a cancelled payup")
	}
	if pending := f.queue.Pending(); len(pending) != 1 || pending[0].EventType != domain.EventPaymentCancelled {
		t.Errorf("expected one payment.cancelled event, got %+v", pending)
	}

	// A cancelled session cannot be finalized.
	fin, err := f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})
	if err != nil {
		t.Fatalf("FinalizePayment: %v", err)
	}
	if !fin.AlreadyProcessed || fin.Payup.Status != domain.PayupStatusCancelled || fin.Transaction != nil {
		t.Errorf("expected cancelled session to stay cancelled, got %+v", fin)
	}
}

func TestCancelPayment_AfterFinalize_IsNoop(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())
	_, _ = f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})

	res, err := f.service.CancelPayment(ctx, payup.ID)
	if err != nil {
		t.Fatalf("CancelPayment: %v", err)
	}
	if !res.AlreadyProcessed || res.Payup.Status != domain.PayupStatusFinalized {
		t.Errorf("expected no-op, got %+v", res)
	}
}
