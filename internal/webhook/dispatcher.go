package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newrelic/go-agent/v3/newrelic"

	"payup/internal/domain"
	"payup/internal/metrics"
	"payup/internal/queue"
	"payup/internal/redis"
	"payup/internal/repository"
)

var (
	// ErrWebhookDelivery is returned when the merchant endpoint did not accept
	// the webhook; the message stays unacknowledged.
	ErrWebhookDelivery = errors.New("webhook delivery failed")

	// ErrTemplateNotFound is reported when an app has no template for an event type.
	ErrTemplateNotFound = errors.New("webhook template not found")

	// ErrDeliveryInProgress is returned when another worker holds the delivery lock.
	ErrDeliveryInProgress = errors.New("webhook delivery in progress")
)

// Outcome classifies how a message was handled.
type Outcome string

const (
	OutcomeDelivered         Outcome = "delivered"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeDroppedNoApp      Outcome = "dropped_no_app"
	OutcomeDroppedNoTemplate Outcome = "dropped_no_template"
	OutcomeDroppedBadPayload Outcome = "dropped_bad_payload"
	OutcomeFailed            Outcome = "failed"
)

// Result describes one dispatch attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error // Why the message was dropped or failed.
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	Timeout time.Duration
	LockTTL time.Duration
	Now     func() time.Time // Defaults to time.Now.
}

// Dispatcher turns queue messages into signed HTTP POSTs to merchant endpoints.
type Dispatcher struct {
	appRepo      repository.AppRepository
	templateRepo repository.WebhookTemplateRepository
	ledger       redis.DeliveryLedgerInterface
	client       *resty.Client
	metrics      *metrics.Metrics
	logger       *slog.Logger
	nrApp        *newrelic.Application
	lockTTL      time.Duration
	now          func() time.Time
}

// NewDispatcher creates a new Dispatcher. nrApp may be nil.
func NewDispatcher(
	appRepo repository.AppRepository,
	templateRepo repository.WebhookTemplateRepository,
	ledger redis.DeliveryLedgerInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
	nrApp *newrelic.Application,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * cfg.Timeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetTransport(newrelic.NewRoundTripper(http.DefaultTransport)).
		SetRedirectPolicy(resty.NoRedirectPolicy())

	return &Dispatcher{
		appRepo:      appRepo,
		templateRepo: templateRepo,
		ledger:       ledger,
		client:       client,
		metrics:      m,
		logger:       logger,
		nrApp:        nrApp,
		lockTTL:      cfg.LockTTL,
		now:          cfg.Now,
	}
}

// Handle adapts Dispatch to a queue handler: a nil error acknowledges the message.
func (d *Dispatcher) Handle() queue.Handler {
	return func(ctx context.Context, msg *domain.QueueMessage) error {
		if d.nrApp != nil {
			txn := d.nrApp.StartTransaction("webhook/" + string(msg.EventType))
			defer txn.End()
			ctx = newrelic.NewContext(ctx, txn)
		}

		_, err := d.Dispatch(ctx, msg)
		return err
	}
}

// Dispatch delivers one message. Permanent problems (unknown app, missing
// template, undecodable payload) are reported in the Result and acknowledged;
// transient ones return an error so the queue redelivers.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.QueueMessage) (*Result, error) {
	logger := d.logger.With(
		slog.String("message_id", msg.ID),
		slog.String("app_id", msg.AppID),
		slog.String("event_type", string(msg.EventType)),
		slog.Int("attempt", msg.Attempt))

	delivered, err := d.ledger.IsDelivered(ctx, msg.ID)
	if err != nil {
		return d.fail(ctx, logger, 0, fmt.Errorf("check delivery ledger: %w", err))
	}
	if delivered {
		return d.drop(ctx, logger, OutcomeDuplicate, nil), nil
	}

	acquired, err := d.ledger.AcquireDeliveryLock(ctx, msg.ID, d.lockTTL)
	if err != nil {
		return d.fail(ctx, logger, 0, fmt.Errorf("acquire delivery lock: %w", err))
	}
	if !acquired {
		return d.fail(ctx, logger, 0, ErrDeliveryInProgress)
	}
	defer func() {
		if err := d.ledger.ReleaseDeliveryLock(context.WithoutCancel(ctx), msg.ID); err != nil {
			logger.WarnContext(ctx, "release delivery lock failed", slog.Any("error", err))
		}
	}()

	// The app is read on every attempt so a rotated secret or URL takes effect.
	app, err := d.appRepo.GetByID(ctx, msg.AppID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return d.drop(ctx, logger, OutcomeDroppedNoApp, err), nil
		}
		return d.fail(ctx, logger, 0, fmt.Errorf("load app: %w", err))
	}
	if !app.Active {
		return d.drop(ctx, logger, OutcomeDroppedNoApp, errors.New("app disabled")), nil
	}

	tmpl, err := d.templateRepo.Get(ctx, msg.AppID, msg.EventType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return d.drop(ctx, logger, OutcomeDroppedNoTemplate, ErrTemplateNotFound), nil
		}
		return d.fail(ctx, logger, 0, fmt.Errorf("load template: %w", err))
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return d.drop(ctx, logger, OutcomeDroppedBadPayload, err), nil
	}

	body, err := Render(tmpl, &event)
	if err != nil {
		return d.drop(ctx, logger, OutcomeDroppedBadPayload, err), nil
	}

	signature, err := Sign(body, app.WebhookSecret, d.now())
	if err != nil {
		return d.drop(ctx, logger, OutcomeDroppedNoApp, err), nil
	}

	started := time.Now()
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, signature).
		SetHeader(EventIDHeader, msg.ID).
		SetHeader(EventTypeHeader, string(msg.EventType)).
		SetBody(body).
		Post(app.WebhookURL)
	elapsed := time.Since(started)

	if err != nil {
		return d.fail(ctx, logger, elapsed, fmt.Errorf("%w: %v", ErrWebhookDelivery, err))
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		res, err := d.fail(ctx, logger, elapsed, fmt.Errorf("%w: endpoint returned %s", ErrWebhookDelivery, resp.Status()))
		res.StatusCode = resp.StatusCode()
		return res, err
	}

	if err := d.ledger.MarkDelivered(ctx, msg.ID); err != nil {
		// The merchant dedups on the event id if this message comes back.
		logger.WarnContext(ctx, "mark delivered failed", slog.Any("error", err))
	}

	d.metrics.Delivery(string(OutcomeDelivered), elapsed)
	logger.InfoContext(ctx, "webhook delivered",
		slog.Int("status", resp.StatusCode()),
		slog.Duration("elapsed", elapsed))

	return &Result{Outcome: OutcomeDelivered, StatusCode: resp.StatusCode()}, nil
}

func (d *Dispatcher) drop(ctx context.Context, logger *slog.Logger, outcome Outcome, reason error) *Result {
	d.metrics.Delivery(string(outcome), 0)
	if outcome == OutcomeDuplicate {
		logger.InfoContext(ctx, "webhook already delivered, skipping")
	} else {
		logger.WarnContext(ctx, "webhook dropped", slog.String("outcome", string(outcome)), slog.Any("error", reason))
	}
	return &Result{Outcome: outcome, Err: reason}
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, elapsed time.Duration, err error) (*Result, error) {
	d.metrics.Delivery(string(OutcomeFailed), elapsed)
	logger.WarnContext(ctx, "webhook attempt failed", slog.Any("error", err))
	return &Result{Outcome: OutcomeFailed, Err: err}, err
}
