package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"payup/internal/crypto"
	"payup/internal/domain"
	"payup/internal/metrics"
	"payup/internal/queue"
	"payup/internal/redis"
	"payup/internal/repository"
)

// maxSwapAttempts bounds how often a transition re-reads after losing a
// compare-and-set to a concurrent writer.
const maxSwapAttempts = 3

const (
	defaultClaimTTL    = 30 * time.Second
	defaultSettleWait  = 5 * time.Second
	settlePollInterval = 10 * time.Millisecond
)

// SessionConfig configures the session workflow.
type SessionConfig struct {
	TTL        time.Duration
	Currencies []string
	// ClaimTTL bounds how long a settling writer holds a payup.
	ClaimTTL time.Duration
	// SettleWait bounds how long a concurrent caller waits for that writer.
	SettleWait time.Duration
	Now        func() time.Time // Defaults to time.Now.
}

// SessionService owns the payup lifecycle: create, then finalize or cancel.
// In-flight payups live in the KV store; terminal payups are recorded durably
// together with their transaction and webhook outbox message.
type SessionService struct {
	kv         redis.KVStoreInterface
	appRepo    repository.AppRepository
	payupRepo  repository.PayupRepository
	txnRepo    repository.TransactionRepository
	outbox     repository.OutboxRepository
	publisher  queue.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	validate   *validator.Validate
	ttl        time.Duration
	claimTTL   time.Duration
	settleWait time.Duration
	now        func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	kv redis.KVStoreInterface,
	appRepo repository.AppRepository,
	payupRepo repository.PayupRepository,
	txnRepo repository.TransactionRepository,
	outbox repository.OutboxRepository,
	publisher queue.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg SessionConfig,
) *SessionService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = DefaultCurrencies
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = defaultSettleWait
	}

	return &SessionService{
		kv:         kv,
		appRepo:    appRepo,
		payupRepo:  payupRepo,
		txnRepo:    txnRepo,
		outbox:     outbox,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
		validate:   newValidator(cfg.Currencies),
		ttl:        cfg.TTL,
		claimTTL:   cfg.ClaimTTL,
		settleWait: cfg.SettleWait,
		now:        cfg.Now,
	}
}

// CreateSessionRequest contains the parameters for creating a payup.
type CreateSessionRequest struct {
	AppID     string         `json:"app_id" validate:"required"`
	Amount    int64          `json:"amount" validate:"gt=0"`
	Currency  string         `json:"currency" validate:"required,currency"`
	Metadata  map[string]any `json:"metadata"`
	ReturnURL string         `json:"return_url" validate:"required,weburl"`
}

// FinalizeResult is the outcome of FinalizePayment.
type FinalizeResult struct {
	Payup            *domain.Payup
	Transaction      *domain.Transaction
	DeliveryEnqueued bool
	AlreadyProcessed bool
	Notice           error // ErrPayupAlreadyProcessed when AlreadyProcessed.
}

// CancelResult is the outcome of CancelPayment.
type CancelResult struct {
	Payup            *domain.Payup
	DeliveryEnqueued bool
	AlreadyProcessed bool
	Notice           error
}

// CreateSession validates the request and stores a new CREATED payup with a bounded TTL.
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Payup, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.validate.Struct(req); err != nil {
		return nil, normalizeValidationError(err)
	}

	if _, err := s.activeApp(ctx, req.AppID); err != nil {
		return nil, err
	}

	id, err := crypto.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	payup := &domain.Payup{
		ID:        id,
		AppID:     req.AppID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    domain.PayupStatusCreated,
		Metadata:  req.Metadata,
		ReturnURL: req.ReturnURL,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	data, err := json.Marshal(payup)
	if err != nil {
		return nil, err
	}

	if err := s.kv.Set(ctx, sessionKey(id), data, s.ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKV, err)
	}

	s.metrics.SessionCreated()
	s.logger.InfoContext(ctx, "payup created",
		slog.String("payup_id", id),
		slog.String("app_id", req.AppID),
		slog.Int64("amount", req.Amount),
		slog.String("currency", req.Currency))

	return payup, nil
}

// GetSessionData returns the payup from the KV store, falling back to the durable record.
func (s *SessionService) GetSessionData(ctx context.Context, sessionID string) (*domain.Payup, error) {
	rec, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !rec.Status.IsTerminal() && s.expired(&rec.Payup) {
		return nil, ErrPayupNotFound
	}

	return &rec.Payup, nil
}

// FinalizePayment moves a CREATED payup to FINALIZED or FAILED exactly once.
// Repeated or concurrent calls return the first caller's result with
// AlreadyProcessed set and produce no further side effects.
// When the durable write succeeded but the webhook job could not be enqueued,
// the result is returned together with ErrQueue; the outbox relay retries later.
func (s *SessionService) FinalizePayment(ctx context.Context, sessionID string, outcome domain.Outcome) (*FinalizeResult, error) {
	switch outcome.Status {
	case domain.OutcomeSuccess, domain.OutcomeFailure:
	default:
		return nil, fmt.Errorf("%w: outcome must be one of [success, failure]", ErrValidation)
	}

	res, err := s.transition(ctx, sessionID, func(p *domain.Payup, now time.Time) {
		p.Status = outcome.TerminalStatus()
		p.FinalizedAt = &now
		p.TransactionID = uuid.New().String()
		if p.Status == domain.PayupStatusFailed {
			p.FailureReason = outcome.FailureReason
			if p.FailureReason == "" {
				p.FailureReason = "payment_failed"
			}
		}
	})
	if res == nil {
		return nil, err
	}

	result := &FinalizeResult{
		Payup:            res.payup,
		Transaction:      domain.TransactionFor(res.payup),
		DeliveryEnqueued: res.enqueued,
		AlreadyProcessed: res.alreadyProcessed,
	}
	if res.alreadyProcessed {
		result.Transaction = s.storedTransaction(ctx, res.payup)
		result.Notice = ErrPayupAlreadyProcessed
	}

	return result, err
}

// CancelPayment moves a CREATED payup to CANCELLED. Terminal payups are left unchanged.
func (s *SessionService) CancelPayment(ctx context.Context, sessionID string) (*CancelResult, error) {
	res, err := s.transition(ctx, sessionID, func(p *domain.Payup, now time.Time) {
		p.Status = domain.PayupStatusCancelled
		p.FinalizedAt = &now
	})
	if res == nil {
		return nil, err
	}

	result := &CancelResult{
		Payup:            res.payup,
		DeliveryEnqueued: res.enqueued,
		AlreadyProcessed: res.alreadyProcessed,
	}
	if res.alreadyProcessed {
		result.Notice = ErrPayupAlreadyProcessed
	}

	return result, err
}

type transitionResult struct {
	payup            *domain.Payup
	enqueued         bool
	alreadyProcessed bool
}

// transition applies one terminal transition. The winner of a KV
// compare-and-set holds a claim on the payup until its durable write commits.
// Concurrent callers wait for the claim to resolve and then observe the
// durable result. A claim left behind by a crashed writer expires after claimTTL.
func (s *SessionService) transition(ctx context.Context, sessionID string, apply func(p *domain.Payup, now time.Time)) (*transitionResult, error) {
	key := sessionKey(sessionID)

	var wait <-chan time.Time
	swaps := 0

	for {
		rec, raw, err := s.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if rec.Status.IsTerminal() {
			s.metrics.DuplicateRequest()
			return &transitionResult{payup: &rec.Payup, alreadyProcessed: true}, nil
		}

		// Non-terminal payups only exist in the KV store.
		if raw == nil {
			return nil, ErrPayupNotFound
		}

		now := s.now().UTC()
		if rec.claimed(now) {
			if wait == nil {
				timer := time.NewTimer(s.settleWait)
				defer timer.Stop()
				wait = timer.C
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-wait:
				return nil, ErrPayupInProgress
			case <-time.After(settlePollInterval):
			}
			continue
		}

		if s.expired(&rec.Payup) {
			return nil, ErrPayupNotFound
		}

		claimExpiresAt := now.Add(s.claimTTL)
		claimedRaw, err := json.Marshal(&sessionRecord{
			Payup:          rec.Payup,
			Claim:          uuid.New().String(),
			ClaimExpiresAt: &claimExpiresAt,
		})
		if err != nil {
			return nil, err
		}
		releasedRaw, err := json.Marshal(&sessionRecord{Payup: rec.Payup})
		if err != nil {
			return nil, err
		}

		swapped, err := s.kv.CompareAndSet(ctx, key, raw, claimedRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKV, err)
		}
		if !swapped {
			swaps++
			if swaps >= maxSwapAttempts {
				return nil, fmt.Errorf("%w: payup %s is under contention", ErrKV, sessionID)
			}
			continue
		}

		next := rec.Payup
		apply(&next, now)

		return s.commit(ctx, key, claimedRaw, releasedRaw, &next, now)
	}
}

// commit makes a claimed transition durable, clears the KV entry and enqueues the webhook.
func (s *SessionService) commit(ctx context.Context, key string, claimedRaw, releasedRaw []byte, next *domain.Payup, now time.Time) (*transitionResult, error) {
	txn := domain.TransactionFor(next)

	msg, err := newOutboxMessage(next, txn, now)
	if err != nil {
		s.release(ctx, key, claimedRaw, releasedRaw)
		return nil, err
	}

	if err := s.payupRepo.Settle(ctx, next, txn, msg); err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			return s.alreadySettled(ctx, key, next.ID)
		}

		s.release(ctx, key, claimedRaw, releasedRaw)
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}

	s.metrics.Transition(string(next.Status))
	s.logger.InfoContext(ctx, "payup settled",
		slog.String("payup_id", next.ID),
		slog.String("status", string(next.Status)),
		slog.String("transaction_id", next.TransactionID))

	// Readers fall back to the durable record once the entry is gone.
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to clear settled payup from kv",
			slog.String("payup_id", next.ID), slog.Any("error", err))
	}

	if _, err := s.publisher.Enqueue(ctx, msg.QueueMessage(now)); err != nil {
		s.metrics.EnqueueFailed()
		s.logger.ErrorContext(ctx, "webhook enqueue failed, left for outbox relay",
			slog.String("payup_id", next.ID),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		return &transitionResult{payup: next}, fmt.Errorf("%w: %v", ErrQueue, err)
	}

	if err := s.outbox.MarkPublished(ctx, msg.ID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to mark outbox message published",
			slog.String("message_id", msg.ID), slog.Any("error", err))
	}

	return &transitionResult{payup: next, enqueued: true}, nil
}

// alreadySettled handles a durable record that left CREATED before this writer
// got to it, for example after taking over an expired claim. The durable record wins.
func (s *SessionService) alreadySettled(ctx context.Context, key, sessionID string) (*transitionResult, error) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to clear settled payup from kv",
			slog.String("payup_id", sessionID), slog.Any("error", err))
	}

	payup, err := s.payupRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}

	s.metrics.DuplicateRequest()
	return &transitionResult{payup: payup, alreadyProcessed: true}, nil
}

// release drops this writer's claim so the payup can be settled again.
func (s *SessionService) release(ctx context.Context, key string, claimedRaw, releasedRaw []byte) {
	if _, err := s.kv.CompareAndSet(context.WithoutCancel(ctx), key, claimedRaw, releasedRaw); err != nil {
		s.logger.ErrorContext(ctx, "failed to release payup claim",
			slog.String("key", key), slog.Any("error", err))
	}
}

// storedTransaction returns the transaction recorded for a settled payup.
// The derived transaction is returned when the lookup fails; both carry the same id.
func (s *SessionService) storedTransaction(ctx context.Context, p *domain.Payup) *domain.Transaction {
	derived := domain.TransactionFor(p)
	if derived == nil {
		return nil
	}

	txn, err := s.txnRepo.GetByPayupID(ctx, p.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load recorded transaction",
			slog.String("payup_id", p.ID), slog.Any("error", err))
		return derived
	}
	return txn
}

// load reads a payup from the KV store, then from the durable store.
// raw is nil when the payup came from the durable store.
func (s *SessionService) load(ctx context.Context, sessionID string) (rec *sessionRecord, raw []byte, err error) {
	if sessionID == "" {
		return nil, nil, ErrPayupNotFound
	}

	raw, err = s.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKV, err)
	}

	if raw != nil {
		var r sessionRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, nil, fmt.Errorf("%w: decode payup: %v", ErrKV, err)
		}
		return &r, raw, nil
	}

	p, err := s.payupRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrPayupNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrDB, err)
	}

	return &sessionRecord{Payup: *p}, nil, nil
}

func (s *SessionService) activeApp(ctx context.Context, appID string) (*domain.App, error) {
	app, err := s.appRepo.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}

	if !app.Active {
		return nil, ErrAppNotFound
	}

	return app, nil
}

func (s *SessionService) expired(p *domain.Payup) bool {
	return !s.now().Before(p.ExpiresAt)
}

func newOutboxMessage(p *domain.Payup, txn *domain.Transaction, now time.Time) (*domain.OutboxMessage, error) {
	id := uuid.New().String()
	eventType := domain.EventTypeFor(p.Status)

	payload, err := json.Marshal(domain.WebhookEvent{
		ID:          id,
		Type:        eventType,
		CreatedAt:   now,
		Payup:       *p,
		Transaction: txn,
	})
	if err != nil {
		return nil, err
	}

	return &domain.OutboxMessage{
		ID:        id,
		AppID:     p.AppID,
		PayupID:   p.ID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// sessionRecord is the KV representation of a payup. Claim marks a terminal
// transition that is being made durable; the payup itself stays CREATED until
// the durable write commits.
type sessionRecord struct {
	domain.Payup
	Claim          string     `json:"claim,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
}

func (r *sessionRecord) claimed(now time.Time) bool {
	return r.Claim != "" && r.ClaimExpiresAt != nil && now.Before(*r.ClaimExpiresAt)
}

func sessionKey(id string) string {
	return "payup:" + id
}
