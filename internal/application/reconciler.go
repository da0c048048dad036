package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/apascualco/pairgate/internal/infrastructure/observability"
)

const DefaultReconcileInterval = 2 * time.Minute

type ReconcilerConfig struct {
	Interval time.Duration
	Clock    clock.Clock
	Metrics  observability.Recorder
	Logger   *slog.Logger
}

// StatusReconciler polls the gateway for each watched instance and persists
// the mapped status only when it differs from the last one observed.
type StatusReconciler struct {
	gateway domain.Gateway
	repo    domain.InstanceRepository
	cache   CacheInvalidator
	tracker PairingTracker
	config  ReconcilerConfig

	mu      sync.Mutex
	guards  map[string]int
	held    map[string]bool
	watches map[string]*watch
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// watch is the single polling loop of one instance and the subscribers it feeds.
type watch struct {
	name    string
	subs    map[chan domain.Status]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool
}

func NewStatusReconciler(gateway domain.Gateway, repo domain.InstanceRepository, cache CacheInvalidator, tracker PairingTracker, cfg ReconcilerConfig) *StatusReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcileInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &StatusReconciler{
		gateway: gateway,
		repo:    repo,
		cache:   cache,
		tracker: tracker,
		config:  cfg,
		guards:  make(map[string]int),
		held:    make(map[string]bool),
		watches: make(map[string]*watch),
		stopCh:  make(chan struct{}),
	}
}

// Watch subscribes to status changes of inst until ctx is done or Stop is
// called. Subscribers of the same instance share one polling loop, which starts
// from the stored inst.Status and ends with its last subscriber. The returned
// channel carries each persisted change and is closed when the subscription ends.
func (r *StatusReconciler) Watch(ctx context.Context, inst domain.Instance) <-chan domain.Status {
	out := make(chan domain.Status, 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		close(out)
		return out
	}

	w, ok := r.watches[inst.Name]
	if !ok || w.closing {
		var previous <-chan struct{}
		if ok {
			previous = w.done
		}
		w = r.startLocked(ctx, inst, previous)
	}
	w.subs[out] = struct{}{}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-ctx.Done():
			r.unsubscribe(w, out)
		case <-w.done:
		}
	}()
	return out
}

// startLocked launches the loop for inst. A loop still winding down for the
// same name is waited for first, so two loops never poll one instance.
func (r *StatusReconciler) startLocked(ctx context.Context, inst domain.Instance, previous <-chan struct{}) *watch {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watch{
		name:   inst.Name,
		subs:   make(map[chan domain.Status]struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.watches[inst.Name] = w

	r.wg.Add(1)
	go r.run(loopCtx, w, inst, previous)
	return w
}

func (r *StatusReconciler) unsubscribe(w *watch, out chan domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := w.subs[out]; !ok {
		return
	}
	delete(w.subs, out)
	close(out)

	if len(w.subs) == 0 {
		w.closing = true
		w.cancel()
	}
}

// Pause and Resume bracket a pairing run. Runs nest, so polling resumes only
// once every run has ended.
func (r *StatusReconciler) Pause(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards[name]++
}

func (r *StatusReconciler) Resume(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch n := r.guards[name]; {
	case n <= 1:
		delete(r.guards, name)
	default:
		r.guards[name] = n - 1
	}
}

// Hold stops polling name until Release. Holds are an operator switch and
// leave pairing runs untouched.
func (r *StatusReconciler) Hold(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held[name] = true
}

func (r *StatusReconciler) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, name)
}

func (r *StatusReconciler) Held(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[name]
}

// Paused reports whether cycles for name are skipped, by a pairing run or a hold.
func (r *StatusReconciler) Paused(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guards[name] > 0 || r.held[name]
}

// Stop ends every watch loop and waits for them to return.
func (r *StatusReconciler) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopCh)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *StatusReconciler) run(ctx context.Context, w *watch, inst domain.Instance, previous <-chan struct{}) {
	defer r.wg.Done()
	defer r.finish(w)
	defer w.cancel()

	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}

	logger := r.config.Logger.With("instance", inst.Name)
	logger.Debug("status reconciler started", "interval", r.config.Interval, "stored_status", inst.Status)

	ticker := r.config.Clock.NewTicker(r.config.Interval)
	defer ticker.Stop()

	last := inst.Status
	for {
		select {
		case <-ctx.Done():
			logger.Debug("status reconciler stopped", "reason", "no subscribers")
			return
		case <-r.stopCh:
			logger.Debug("status reconciler stopped", "reason", "shutdown")
			return
		case <-ticker.C():
			status, changed := r.reconcile(ctx, logger, inst, last)
			if !changed {
				continue
			}
			last = status
			r.broadcast(w, status)
		}
	}
}

// reconcile runs one cycle and reports the new status when it was persisted.
func (r *StatusReconciler) reconcile(ctx context.Context, logger *slog.Logger, inst domain.Instance, last domain.Status) (domain.Status, bool) {
	if r.Paused(inst.Name) {
		r.config.Metrics.ReconcileCycle(observability.OutcomeSkipped)
		return last, false
	}

	state, err := r.gateway.ConnectionState(ctx, inst.Name)
	if err != nil {
		if !errors.Is(err, domain.ErrGatewayInstanceNotFound) {
			logger.Warn("status probe failed, keeping last status", "status", last, "error", err)
			r.config.Metrics.ReconcileCycle(observability.OutcomeError)
			return last, false
		}
		state = domain.StateUnknown
	}

	status := domain.StatusFromConnectionState(state)
	if status == last {
		r.config.Metrics.ReconcileCycle(observability.OutcomeUnchanged)
		return last, false
	}

	if _, err := r.repo.Upsert(ctx, inst.Phone, domain.InstanceUpdate{Status: status}); err != nil {
		logger.Error("failed to persist status", "status", status, "error", err)
		r.config.Metrics.ReconcileCycle(observability.OutcomeError)
		return last, false
	}

	r.cache.Invalidate(inst.OwnerID)
	if status != domain.StatusConnecting {
		if err := r.tracker.Clear(ctx, inst.Name); err != nil {
			logger.Warn("failed to clear pairing window", "error", err)
		}
	}

	logger.Info("instance status changed", "from", last, "to", status, "gateway_state", state)
	r.config.Metrics.ReconcileCycle(observability.OutcomeChanged)
	return status, true
}

// finish closes the channels still subscribed to w and releases its name.
func (r *StatusReconciler) finish(w *watch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watches[w.name] == w {
		delete(r.watches, w.name)
	}
	for out := range w.subs {
		close(out)
		delete(w.subs, out)
	}
	close(w.done)
}

func (r *StatusReconciler) broadcast(w *watch, status domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for out := range w.subs {
		publish(out, status)
	}
}

// publish delivers status without blocking, replacing an unread older value.
// Sends happen under the reconciler lock, so the send after draining cannot block.
func publish(out chan domain.Status, status domain.Status) {
	select {
	case out <- status:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	out <- status
}
