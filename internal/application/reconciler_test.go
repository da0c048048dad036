package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/apascualco/pairgate/internal/infrastructure/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testInterval = 2 * time.Minute

type reconcilerFixture struct {
	gateway    *mockGateway
	repo       *mockRepository
	cache      *mockInvalidator
	tracker    *MemoryPairingTracker
	clock      *clock.Fake
	metrics    *recordingMetrics
	reconciler *StatusReconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	f := &reconcilerFixture{
		gateway: &mockGateway{},
		repo:    &mockRepository{},
		cache:   &mockInvalidator{},
		clock:   clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
		metrics: newRecordingMetrics(),
	}
	f.tracker = NewMemoryPairingTracker(f.clock)
	f.reconciler = NewStatusReconciler(f.gateway, f.repo, f.cache, f.tracker, ReconcilerConfig{
		Interval: testInterval,
		Clock:    f.clock,
		Metrics:  f.metrics,
		Logger:   discardLogger(),
	})
	t.Cleanup(f.reconciler.Stop)
	return f
}

// tick advances one interval and returns the outcome of the cycle it triggers.
func (f *reconcilerFixture) tick(t *testing.T) string {
	t.Helper()
	f.clock.Advance(testInterval)
	select {
	case outcome := <-f.metrics.cycles:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile cycle did not run")
		return ""
	}
}

func (f *reconcilerFixture) watch(ctx context.Context) <-chan domain.Status {
	return f.watchFrom(ctx, domain.StatusConnecting)
}

func (f *reconcilerFixture) watchFrom(ctx context.Context, stored domain.Status) <-chan domain.Status {
	out := f.reconciler.Watch(ctx, domain.Instance{
		Name:    testName,
		Phone:   testPhone,
		OwnerID: testOwner,
		Status:  stored,
	})
	f.clock.WaitForTimers(1)
	return out
}

func (f *reconcilerFixture) waitIdle(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool { return f.clock.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, out <-chan domain.Status) domain.Status {
	t.Helper()
	select {
	case status := <-out:
		return status
	case <-time.After(2 * time.Second):
		t.Fatal("no status published")
		return ""
	}
}

func waitClosed(t *testing.T, out <-chan domain.Status) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("status channel was not closed")
		}
	}
}

func TestReconciler_WritesOnlyOnChange(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateOpen, nil)
	f.repo.On("Upsert", mock.Anything, testPhone, domain.InstanceUpdate{Status: domain.StatusConnected}).Return(nil, nil)
	f.cache.On("Invalidate", testOwner).Return()

	out := f.watch(ctx)

	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
	assert.Equal(t, domain.StatusConnected, receive(t, out))

	for i := 0; i < 4; i++ {
		assert.Equal(t, observability.OutcomeUnchanged, f.tick(t))
	}

	f.repo.AssertNumberOfCalls(t, "Upsert", 1)
	f.cache.AssertNumberOfCalls(t, "Invalidate", 1)
	f.gateway.AssertNumberOfCalls(t, "ConnectionState", 5)
}

func TestReconciler_TransportErrorKeepsLastStatus(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateOpen, nil).Once()
	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateUnknown, errors.New("i/o timeout")).Once()
	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateOpen, nil).Once()
	f.repo.On("Upsert", mock.Anything, testPhone, mock.Anything).Return(nil, nil)
	f.cache.On("Invalidate", testOwner).Return()

	f.watch(ctx)

	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
	assert.Equal(t, observability.OutcomeError, f.tick(t))
	assert.Equal(t, observability.OutcomeUnchanged, f.tick(t))

	f.repo.AssertNumberOfCalls(t, "Upsert", 1)
	f.repo.AssertNotCalled(t, "Upsert", mock.Anything, testPhone, domain.InstanceUpdate{Status: domain.StatusDisconnected})
}

func TestReconciler_MissingInstanceIsDisconnected(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.tracker.Track(ctx, testName, domain.NewPairingWindow(f.clock.Now(), time.Hour)))

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateUnknown, notFound())
	f.repo.On("Upsert", mock.Anything, testPhone, domain.InstanceUpdate{Status: domain.StatusDisconnected}).Return(nil, nil)
	f.cache.On("Invalidate", testOwner).Return()

	out := f.watch(ctx)

	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
	assert.Equal(t, domain.StatusDisconnected, receive(t, out))

	_, err := f.tracker.Window(ctx, testName)
	assert.ErrorIs(t, err, domain.ErrPairingNotTracked)
}

func TestReconciler_StartsFromStoredStatus(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateConnecting, nil)

	f.watch(ctx)
	assert.Equal(t, observability.OutcomeUnchanged, f.tick(t))
	assert.Equal(t, observability.OutcomeUnchanged, f.tick(t))

	f.repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
	f.cache.AssertNotCalled(t, "Invalidate", mock.Anything)
}

func TestReconciler_ConnectingKeepsPairingWindow(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.tracker.Track(ctx, testName, domain.NewPairingWindow(f.clock.Now(), time.Hour)))

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateConnecting, nil)
	f.repo.On("Upsert", mock.Anything, testPhone, domain.InstanceUpdate{Status: domain.StatusConnecting}).Return(nil, nil)
	f.cache.On("Invalidate", testOwner).Return()

	f.watchFrom(ctx, domain.StatusDisconnected)
	assert.Equal(t, observability.OutcomeChanged, f.tick(t))

	_, err := f.tracker.Window(ctx, testName)
	assert.NoError(t, err)
}

func TestReconciler_PausedCyclesAreSkipped(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateOpen, nil)
	f.repo.On("Upsert", mock.Anything, testPhone, mock.Anything).Return(nil, nil)
	f.cache.On("Invalidate", testOwner).Return()

	f.watch(ctx)

	f.reconciler.Pause(testName)
	assert.Equal(t, observability.OutcomeSkipped, f.tick(t))
	assert.Equal(t, observability.OutcomeSkipped, f.tick(t))
	f.gateway.AssertNotCalled(t, "ConnectionState", mock.Anything, mock.Anything)

	f.reconciler.Resume(testName)
	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
}

func TestReconciler_PersistFailureRetriesNextCycle(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateOpen, nil)
	f.repo.On("Upsert", mock.Anything, testPhone, mock.Anything).Return(nil, errors.New("deadlock detected")).Once()
	f.repo.On("Upsert", mock.Anything, testPhone, mock.Anything).Return(nil, nil).Once()
	f.cache.On("Invalidate", testOwner).Return()

	out := f.watch(ctx)

	assert.Equal(t, observability.OutcomeError, f.tick(t))
	f.cache.AssertNotCalled(t, "Invalidate", testOwner)

	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
	assert.Equal(t, domain.StatusConnected, receive(t, out))
	f.repo.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestReconciler_ContextCancelClosesChannel(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	out := f.watch(ctx)
	cancel()

	waitClosed(t, out)
	f.waitIdle(t)
}

func TestReconciler_SubscribersShareOneLoop(t *testing.T) {
	f := newReconcilerFixture(t)
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	secondCtx, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateOpen, nil).Once()
	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateClosed, nil).Once()
	f.repo.On("Upsert", mock.Anything, testPhone, mock.Anything).Return(nil, nil)
	f.cache.On("Invalidate", testOwner).Return()

	first := f.watch(firstCtx)
	second := f.watch(secondCtx)
	assert.Equal(t, 1, f.clock.Pending())

	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
	assert.Equal(t, domain.StatusConnected, receive(t, first))
	assert.Equal(t, domain.StatusConnected, receive(t, second))
	f.gateway.AssertNumberOfCalls(t, "ConnectionState", 1)

	cancelFirst()
	waitClosed(t, first)

	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
	assert.Equal(t, domain.StatusDisconnected, receive(t, second))
	f.repo.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestReconciler_LastSubscriberEndsLoop(t *testing.T) {
	f := newReconcilerFixture(t)
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	secondCtx, cancelSecond := context.WithCancel(context.Background())

	f.gateway.On("ConnectionState", mock.Anything, testName).Return(domain.StateOpen, nil)
	f.repo.On("Upsert", mock.Anything, testPhone, mock.Anything).Return(nil, nil)
	f.cache.On("Invalidate", testOwner).Return()

	first := f.watch(firstCtx)
	second := f.watch(secondCtx)
	cancelFirst()
	cancelSecond()
	waitClosed(t, first)
	waitClosed(t, second)
	f.waitIdle(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	again := f.watch(ctx)

	assert.Equal(t, observability.OutcomeChanged, f.tick(t))
	assert.Equal(t, domain.StatusConnected, receive(t, again))
}

func TestReconciler_Stop(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	out := f.watch(ctx)
	f.reconciler.Stop()

	_, ok := <-out
	assert.False(t, ok)

	late := f.reconciler.Watch(ctx, domain.Instance{Name: "late"})
	_, ok = <-late
	assert.False(t, ok, "watching after stop yields a closed channel")
}

func TestReconciler_PauseNests(t *testing.T) {
	f := newReconcilerFixture(t)

	f.reconciler.Pause(testName)
	f.reconciler.Pause(testName)
	f.reconciler.Resume(testName)
	assert.True(t, f.reconciler.Paused(testName))

	f.reconciler.Resume(testName)
	assert.False(t, f.reconciler.Paused(testName))

	f.reconciler.Resume(testName)
	assert.False(t, f.reconciler.Paused(testName), "extra resume is harmless")
}

func TestReconciler_ReleaseKeepsPairingPause(t *testing.T) {
	f := newReconcilerFixture(t)

	f.reconciler.Pause(testName)
	f.reconciler.Release(testName)
	assert.True(t, f.reconciler.Paused(testName), "pairing run must keep polling paused")

	f.reconciler.Hold(testName)
	f.reconciler.Resume(testName)
	assert.True(t, f.reconciler.Paused(testName), "hold outlives the pairing run")
	assert.True(t, f.reconciler.Held(testName))

	f.reconciler.Release(testName)
	assert.False(t, f.reconciler.Paused(testName))
}
