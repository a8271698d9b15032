package tests

import (
	"context"
	"testing"

	"payup/internal/domain"
	"payup/internal/service"
)

func TestOutboxRelay_RepublishesAfterEnqueueFailure(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	ctx := context.Background()

	payup, _ := f.service.CreateSession(ctx, validCreateRequest())
	f.queue.SetEnqueueError(ErrMockQueueUnavailable)
	_, _ = f.service.FinalizePayment(ctx, payup.ID, domain.Outcome{Status: domain.OutcomeSuccess})

	relay := service.NewOutboxRelay(f.outbox, f.queue, nil, discardLogger(), service.RelayConfig{BatchSize: 10})

	// Still failing: nothing is published.
	n, err := relay.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing relayed, got %d (err=%v)", n, err)
	}

	f.queue.SetEnqueueError(nil)

	n, err = relay.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 relayed message, got %d", n)
	}

	pending := f.queue.Pending()
	if len(pending) != 1 || pending[0].ID != f.outbox.Messages()[0].ID {
		t.Errorf("expected the outbox message id to be reused, got %+v", pending)
	}

	// A second sweep finds nothing left.
	if n, _ := relay.Sweep(ctx); n != 0 {
		t.Errorf("expected empty sweep, got %d", n)
	}
}
