package tests

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"payup/internal/domain"
	"payup/internal/queue"
	"payup/internal/repository"
)

// ──────────────────────────────────────────────
// CLOCK
// ──────────────────────────────────────────────

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────
// MOCK KV STORE
// ──────────────────────────────────────────────

type kvEntry struct {
	value   []byte
	expires time.Time
}

// MockKVStore is an in-memory implementation of KVStoreInterface with TTLs
// driven by a Clock.
type MockKVStore struct {
	mu      sync.Mutex
	entries map[string]kvEntry
	clock   *Clock

	// Counters
	SetCallCount    int32
	CASCallCount    int32
	CASSuccessCount int32
	DeleteCallCount int32

	// Error injection
	GetError    error
	SetError    error
	CASError    error
	DeleteError error
}

// NewMockKVStore creates a new mock KV store.
func NewMockKVStore(clock *Clock) *MockKVStore {
	return &MockKVStore{
		entries: make(map[string]kvEntry),
		clock:   clock,
	}
}

func (m *MockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.live(key)
	if !ok {
		return nil, nil
	}
	return bytes.Clone(entry.value), nil
}

func (m *MockKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := kvEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		entry.expires = m.clock.Now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *MockKVStore) Delete(ctx context.Context, key string) error {
	atomic.AddInt32(&m.DeleteCallCount, 1)
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MockKVStore) CompareAndSet(ctx context.Context, key string, expected, next []byte) (bool, error) {
	atomic.AddInt32(&m.CASCallCount, 1)
	if m.CASError != nil {
		return false, m.CASError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.live(key)
	if !ok || !bytes.Equal(entry.value, expected) {
		return false, nil
	}
	entry.value = bytes.Clone(next)
	m.entries[key] = entry
	atomic.AddInt32(&m.CASSuccessCount, 1)
	return true, nil
}

// Has reports whether key holds a live value (for test assertions).
func (m *MockKVStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok
}

// live must be called with mu held.
func (m *MockKVStore) live(key string) (kvEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return kvEntry{}, false
	}
	if !entry.expires.IsZero() && !m.clock.Now().Before(entry.expires) {
		delete(m.entries, key)
		return kvEntry{}, false
	}
	return entry, true
}

// ──────────────────────────────────────────────
// MOCK APP REPOSITORY
// ──────────────────────────────────────────────

// MockAppRepository is a mock implementation of AppRepository.
type MockAppRepository struct {
	mu   sync.RWMutex
	apps map[string]*domain.App

	// Counters
	GetByIDCallCount int32
	UpdateCallCount  int32

	// Error injection
	GetByIDError error
	UpdateError  error
}

// NewMockAppRepository creates a new mock app repository.
func NewMockAppRepository() *MockAppRepository {
	return &MockAppRepository{
		apps: make(map[string]*domain.App),
	}
}

// AddApp adds an app to the mock repository.
func (m *MockAppRepository) AddApp(app *domain.App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.ID] = app
}

func (m *MockAppRepository) Create(ctx context.Context, app *domain.App) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *app
	m.apps[app.ID] = &copy
	return nil
}

func (m *MockAppRepository) GetByID(ctx context.Context, id string) (*domain.App, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	if m.GetByIDError != nil {
		return nil, m.GetByIDError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *app
	return &copy, nil
}

func (m *MockAppRepository) UpdateFields(ctx context.Context, id string, upd repository.AppUpdate) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	copy := *app
	if upd.APIKeyHash != nil {
		copy.APIKeyHash = *upd.APIKeyHash
	}
	if upd.WebhookSecret != nil {
		copy.WebhookSecret = *upd.WebhookSecret
	}
	if upd.WebhookURL != nil {
		copy.WebhookURL = *upd.WebhookURL
	}
	if upd.Active != nil {
		copy.Active = *upd.Active
	}
	m.apps[id] = &copy
	return nil
}

// SetWebhookSecret rotates an app's secret (for test setup).
func (m *MockAppRepository) SetWebhookSecret(appID, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app, ok := m.apps[appID]; ok {
		app.WebhookSecret = secret
	}
}

// ──────────────────────────────────────────────
// MOCK PAYUP REPOSITORY
// ──────────────────────────────────────────────

// MockPayupRepository is a mock implementation of PayupRepository. Settle
// writes the transaction and outbox message into the linked mocks atomically.
type MockPayupRepository struct {
	mu     sync.Mutex
	payups map[string]*domain.Payup
	txns   *MockTransactionRepository
	outbox *MockOutboxRepository

	// Counters
	SettleCallCount int32

	// Error injection
	SettleError  error
	GetByIDError error
}

// NewMockPayupRepository creates a new mock payup repository.
func NewMockPayupRepository(txns *MockTransactionRepository, outbox *MockOutboxRepository) *MockPayupRepository {
	return &MockPayupRepository{
		payups: make(map[string]*domain.Payup),
		txns:   txns,
		outbox: outbox,
	}
}

// AddPayup stores a durable payup (for test setup).
func (m *MockPayupRepository) AddPayup(p *domain.Payup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *p
	m.payups[p.ID] = &copy
}

func (m *MockPayupRepository) GetByID(ctx context.Context, id string) (*domain.Payup, error) {
	if m.GetByIDError != nil {
		return nil, m.GetByIDError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (m *MockPayupRepository) Settle(ctx context.Context, payup *domain.Payup, txn *domain.Transaction, msg *domain.OutboxMessage) error {
	atomic.AddInt32(&m.SettleCallCount, 1)
	if m.SettleError != nil {
		return m.SettleError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.payups[payup.ID]; ok && existing.Status != domain.PayupStatusCreated {
		return repository.ErrAlreadySettled
	}
	copy := *payup
	m.payups[payup.ID] = &copy
	if txn != nil && m.txns != nil {
		m.txns.add(txn)
	}
	if msg != nil && m.outbox != nil {
		m.outbox.add(msg)
	}
	return nil
}

// CountPayups returns the number of durable payups.
func (m *MockPayupRepository) CountPayups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payups)
}

// ──────────────────────────────────────────────
// MOCK TRANSACTION REPOSITORY
// ──────────────────────────────────────────────

// MockTransactionRepository is a mock implementation of TransactionRepository.
type MockTransactionRepository struct {
	mu   sync.RWMutex
	txns map[string]*domain.Transaction
}

// NewMockTransactionRepository creates a new mock transaction repository.
func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		txns: make(map[string]*domain.Transaction),
	}
}

func (m *MockTransactionRepository) add(txn *domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *txn
	m.txns[txn.ID] = &copy
}

func (m *MockTransactionRepository) GetByPayupID(ctx context.Context, payupID string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, txn := range m.txns {
		if txn.PayupID == payupID {
			copy := *txn
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

// CountTransactions returns the number of recorded transactions.
func (m *MockTransactionRepository) CountTransactions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txns)
}

// ──────────────────────────────────────────────
// MOCK OUTBOX REPOSITORY
// ──────────────────────────────────────────────

// MockOutboxRepository is a mock implementation of OutboxRepository.
type MockOutboxRepository struct {
	mu       sync.Mutex
	messages map[string]*domain.OutboxMessage

	// Counters
	MarkPublishedCallCount  int32
	ProcessPendingCallCount int32

	// Error injection
	MarkPublishedError  error
	ProcessPendingError error
}

// NewMockOutboxRepository creates a new mock outbox repository.
func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{
		messages: make(map[string]*domain.OutboxMessage),
	}
}

func (m *MockOutboxRepository) add(msg *domain.OutboxMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *msg
	m.messages[msg.ID] = &copy
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	atomic.AddInt32(&m.MarkPublishedCallCount, 1)
	if m.MarkPublishedError != nil {
		return m.MarkPublishedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.PublishedAt == nil {
		msg.PublishedAt = &at
	}
	return nil
}

func (m *MockOutboxRepository) ProcessPending(ctx context.Context, limit int, olderThan time.Time, fn func(ctx context.Context, msg *domain.OutboxMessage) error) (int, error) {
	atomic.AddInt32(&m.ProcessPendingCallCount, 1)
	if m.ProcessPendingError != nil {
		return 0, m.ProcessPendingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*domain.OutboxMessage
	for _, msg := range m.messages {
		if msg.PublishedAt == nil && msg.CreatedAt.Before(olderThan) {
			pending = append(pending, msg)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	published := 0
	for _, msg := range pending {
		copy := *msg
		if err := fn(ctx, &copy); err != nil {
			continue
		}
		now := time.Now()
		msg.PublishedAt = &now
		published++
	}
	return published, nil
}

// Messages returns all outbox messages ordered by creation time.
func (m *MockOutboxRepository) Messages() []domain.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.OutboxMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		result = append(result, *msg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// CountUnpublished returns the number of messages not yet handed to the queue.
func (m *MockOutboxRepository) CountUnpublished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.PublishedAt == nil {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// MOCK WEBHOOK TEMPLATE REPOSITORY
// ──────────────────────────────────────────────

// MockWebhookTemplateRepository is a mock implementation of WebhookTemplateRepository.
type MockWebhookTemplateRepository struct {
	mu        sync.RWMutex
	templates map[string]*domain.WebhookTemplate

	// Error injection
	GetError error
}

// NewMockWebhookTemplateRepository creates a new mock template repository.
func NewMockWebhookTemplateRepository() *MockWebhookTemplateRepository {
	return &MockWebhookTemplateRepository{
		templates: make(map[string]*domain.WebhookTemplate),
	}
}

func templateKey(appID string, eventType domain.EventType) string {
	return appID + "/" + string(eventType)
}

func (m *MockWebhookTemplateRepository) Get(ctx context.Context, appID string, eventType domain.EventType) (*domain.WebhookTemplate, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tmpl, ok := m.templates[templateKey(appID, eventType)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *tmpl
	return &copy, nil
}

func (m *MockWebhookTemplateRepository) Upsert(ctx context.Context, tmpl *domain.WebhookTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *tmpl
	m.templates[templateKey(tmpl.AppID, tmpl.EventType)] = &copy
	return nil
}

// ──────────────────────────────────────────────
// MOCK DELIVERY LEDGER
// ──────────────────────────────────────────────

// MockDeliveryLedger is a mock implementation of DeliveryLedgerInterface.
type MockDeliveryLedger struct {
	mu        sync.Mutex
	locks     map[string]time.Time
	delivered map[string]bool

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError       error
	IsDeliveredError   error
	MarkDeliveredError error

	// Force lock failure
	ForceAcquireFailure bool
}

// NewMockDeliveryLedger creates a new mock delivery ledger.
func NewMockDeliveryLedger() *MockDeliveryLedger {
	return &MockDeliveryLedger{
		locks:     make(map[string]time.Time),
		delivered: make(map[string]bool),
	}
}

func (m *MockDeliveryLedger) AcquireDeliveryLock(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	if m.ForceAcquireFailure {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, exists := m.locks[messageID]; exists && time.Now().Before(expiry) {
		return false, nil // Lock still held.
	}

	m.locks[messageID] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockDeliveryLedger) ReleaseDeliveryLock(ctx context.Context, messageID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, messageID)
	return nil
}

func (m *MockDeliveryLedger) IsDelivered(ctx context.Context, messageID string) (bool, error) {
	if m.IsDeliveredError != nil {
		return false, m.IsDeliveredError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered[messageID], nil
}

func (m *MockDeliveryLedger) MarkDelivered(ctx context.Context, messageID string) error {
	if m.MarkDeliveredError != nil {
		return m.MarkDeliveredError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[messageID] = true
	return nil
}

// IsLocked checks if a message is locked (for test assertions).
func (m *MockDeliveryLedger) IsLocked(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, exists := m.locks[messageID]
	return exists && time.Now().Before(expiry)
}

// ──────────────────────────────────────────────
// MOCK QUEUE
// ──────────────────────────────────────────────

// MockQueue is an in-memory queue. Consume redelivers a message until the
// handler returns nil, incrementing Attempt each time.
type MockQueue struct {
	mu      sync.Mutex
	pending []*domain.QueueMessage
	acked   []*domain.QueueMessage

	// Counters
	EnqueueCallCount int32

	// Error injection
	EnqueueError error
}

var _ queue.Queue = (*MockQueue)(nil)

// NewMockQueue creates a new mock queue.
func NewMockQueue() *MockQueue {
	return &MockQueue{}
}

func (m *MockQueue) Enqueue(ctx context.Context, msg *domain.QueueMessage) (string, error) {
	atomic.AddInt32(&m.EnqueueCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueError != nil {
		return "", m.EnqueueError
	}
	copy := *msg
	m.pending = append(m.pending, &copy)
	return msg.ID, nil
}

// Consume drains pending messages until none remain or ctx is cancelled.
func (m *MockQueue) Consume(ctx context.Context, handler queue.Handler) error {
	for ctx.Err() == nil {
		msg := m.next()
		if msg == nil {
			return nil
		}
		msg.Attempt++
		if err := handler(ctx, msg); err != nil {
			m.requeue(msg)
			continue
		}
		m.mu.Lock()
		m.acked = append(m.acked, msg)
		m.mu.Unlock()
	}
	return nil
}

// ConsumeOnce hands each pending message to handler a single time.
func (m *MockQueue) ConsumeOnce(ctx context.Context, handler queue.Handler) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, msg := range batch {
		msg.Attempt++
		if err := handler(ctx, msg); err != nil {
			m.requeue(msg)
			continue
		}
		m.mu.Lock()
		m.acked = append(m.acked, msg)
		m.mu.Unlock()
	}
}

func (m *MockQueue) Close() error {
	return nil
}

func (m *MockQueue) next() *domain.QueueMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	return msg
}

func (m *MockQueue) requeue(msg *domain.QueueMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, msg)
}

// SetEnqueueError configures enqueue failures.
func (m *MockQueue) SetEnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnqueueError = err
}

// Pending returns the unacknowledged messages.
func (m *MockQueue) Pending() []*domain.QueueMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.QueueMessage(nil), m.pending...)
}

// Acked returns the acknowledged messages.
func (m *MockQueue) Acked() []*domain.QueueMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.QueueMessage(nil), m.acked...)
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBUnavailable    = errors.New("mock: database unavailable")
	ErrMockKVUnavailable    = errors.New("mock: kv store unavailable")
	ErrMockQueueUnavailable = errors.New("mock: queue unavailable")
)
