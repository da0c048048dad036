package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/stretchr/testify/mock"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Exists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockGateway) Create(ctx context.Context, name, phoneHint string) (*domain.CreateResult, error) {
	args := m.Called(ctx, name, phoneHint)
	res, _ := args.Get(0).(*domain.CreateResult)
	return res, args.Error(1)
}

func (m *mockGateway) Connect(ctx context.Context, name string) (*domain.PairingInfo, error) {
	args := m.Called(ctx, name)
	info, _ := args.Get(0).(*domain.PairingInfo)
	return info, args.Error(1)
}

func (m *mockGateway) Logout(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockGateway) Restart(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockGateway) ConnectionState(ctx context.Context, name string) (domain.ConnectionState, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.ConnectionState), args.Error(1)
}

func (m *mockGateway) FetchInstances(ctx context.Context) ([]domain.GatewayInstance, error) {
	args := m.Called(ctx)
	instances, _ := args.Get(0).([]domain.GatewayInstance)
	return instances, args.Error(1)
}

type mockRepository struct {
	mock.Mock
	stored map[string]*domain.Instance
}

// Upsert echoes the update applied to a fresh instance unless the expectation
// returns an explicit *domain.Instance.
func (m *mockRepository) Upsert(ctx context.Context, phone string, update domain.InstanceUpdate) (*domain.Instance, error) {
	args := m.Called(ctx, phone, update)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if inst, ok := args.Get(0).(*domain.Instance); ok {
		return inst, nil
	}
	inst := &domain.Instance{ID: "instance-id", Phone: phone}
	update.Apply(inst, time.Time{})
	return inst, nil
}

// GetByPhone serves from stored instead of expectations, so Connect tests only
// declare it when a phone is already taken.
func (m *mockRepository) GetByPhone(_ context.Context, phone string) (*domain.Instance, error) {
	if inst, ok := m.stored[phone]; ok {
		cp := *inst
		return &cp, nil
	}
	return nil, domain.ErrInstanceNotFound
}

func (m *mockRepository) GetByName(ctx context.Context, name string) (*domain.Instance, error) {
	args := m.Called(ctx, name)
	inst, _ := args.Get(0).(*domain.Instance)
	return inst, args.Error(1)
}

func (m *mockRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Instance, error) {
	args := m.Called(ctx, ownerID)
	instances, _ := args.Get(0).([]domain.Instance)
	return instances, args.Error(1)
}

type mockInvalidator struct {
	mock.Mock
}

func (m *mockInvalidator) Invalidate(ownerID string) {
	m.Called(ownerID)
}

// instantClock fires every timer immediately and records the requested delays.
type instantClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newInstantClock() *instantClock {
	return &instantClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)

	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *instantClock) NewTicker(time.Duration) clock.Ticker {
	panic("instantClock does not support tickers")
}

func (c *instantClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// recordingMetrics exposes reconcile outcomes on a channel so tests can step
// through cycles.
type recordingMetrics struct {
	mu       sync.Mutex
	attempts []string
	lookups  []string
	cycles   chan string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{cycles: make(chan string, 64)}
}

func (r *recordingMetrics) GatewayRequest(string, string, time.Duration) {}

func (r *recordingMetrics) PairingAttempt(strategy, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, strategy+":"+outcome)
}

func (r *recordingMetrics) ReconcileCycle(outcome string) {
	r.cycles <- outcome
}

func (r *recordingMetrics) CacheLookup(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, result)
}

func (r *recordingMetrics) Attempts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.attempts...)
}

func (r *recordingMetrics) Lookups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lookups...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
