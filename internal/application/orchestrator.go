package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/apascualco/pairgate/internal/infrastructure/observability"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProbing
	PhaseCreating
	PhaseResettingViaLogout
	PhaseResettingViaRestart
	PhaseAwaitingScan
	PhaseConnected
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProbing:
		return "probing"
	case PhaseCreating:
		return "creating"
	case PhaseResettingViaLogout:
		return "resetting_via_logout"
	case PhaseResettingViaRestart:
		return "resetting_via_restart"
	case PhaseAwaitingScan:
		return "awaiting_scan"
	case PhaseConnected:
		return "connected"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PairingGuard keeps background status polling away from an instance while it
// is being paired.
type PairingGuard interface {
	Pause(name string)
	Resume(name string)
}

type noopGuard struct{}

func (noopGuard) Pause(string)  {}
func (noopGuard) Resume(string) {}

type OrchestratorConfig struct {
	LogoutSettleDelay   time.Duration
	RestartSettleDelay  time.Duration
	ConnectPollAttempts int
	ConnectPollDelay    time.Duration

	Guard   PairingGuard
	Clock   clock.Clock
	Metrics observability.Recorder
	Logger  *slog.Logger
}

type ConnectRequest struct {
	OwnerID   string
	OwnerName string
	Phone     string
}

// PairingResult is what a pairing run hands back to the caller. Instance is
// always set; Pairing and Window only while awaiting a scan.
type PairingResult struct {
	Instance *domain.Instance
	Pairing  *domain.PairingInfo
	Phase    Phase
	Strategy string
	// Degraded is set when only a QR could be obtained and the pairing code lookup failed.
	Degraded bool
	Window   *domain.PairingWindow
}

// Orchestrator drives an instance from whatever state the gateway reports to
// either connected or awaiting a scan.
type Orchestrator struct {
	gateway domain.Gateway
	repo    domain.InstanceRepository
	cache   CacheInvalidator
	tracker PairingTracker
	config  OrchestratorConfig
}

func NewOrchestrator(gateway domain.Gateway, repo domain.InstanceRepository, cache CacheInvalidator, tracker PairingTracker, cfg OrchestratorConfig) *Orchestrator {
	if cfg.ConnectPollAttempts < 1 {
		cfg.ConnectPollAttempts = 3
	}
	if cfg.Guard == nil {
		cfg.Guard = noopGuard{}
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

	return &Orchestrator{
		gateway: gateway,
		repo:    repo,
		cache:   cache,
		tracker: tracker,
		config:  cfg,
	}
}

// pairingTarget identifies the instance a single run works on.
type pairingTarget struct {
	phone   string
	name    string
	ownerID string
	logger  *slog.Logger
}

func (o *Orchestrator) Connect(ctx context.Context, req ConnectRequest) (*PairingResult, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", domain.ErrInvalidRequest)
	}

	phone, err := domain.NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	t := o.target(phone, domain.InstanceName(req.OwnerName, phone), req.OwnerID)

	if err := o.checkOwner(ctx, t); err != nil {
		return nil, err
	}

	o.config.Guard.Pause(t.name)
	defer o.config.Guard.Resume(t.name)

	t.logger.Info("pairing started", "phase", PhaseProbing)

	state, err := o.gateway.ConnectionState(ctx, t.name)
	switch {
	case errors.Is(err, domain.ErrGatewayInstanceNotFound):
		return o.create(ctx, t)
	case err != nil:
		return o.abandon(t, PhaseProbing, fmt.Errorf("failed to probe instance %s: %w", t.name, err))
	case state == domain.StateOpen:
		return o.markConnected(ctx, t)
	default:
		t.logger.Debug("instance exists but is not open", "gateway_state", state)
		return o.reset(ctx, t)
	}
}

// Regenerate issues a fresh pairing payload for an instance the owner already has.
func (o *Orchestrator) Regenerate(ctx context.Context, ownerID, name string) (*PairingResult, error) {
	inst, err := o.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if inst.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}

	t := o.target(inst.Phone, inst.Name, inst.OwnerID)

	o.config.Guard.Pause(t.name)
	defer o.config.Guard.Resume(t.name)

	t.logger.Info("pairing regeneration started")
	return o.reset(ctx, t)
}

// checkOwner refuses a run for a phone stored under another owner, before the
// gateway is touched.
func (o *Orchestrator) checkOwner(ctx context.Context, t pairingTarget) error {
	existing, err := o.repo.GetByPhone(ctx, t.phone)
	switch {
	case errors.Is(err, domain.ErrInstanceNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up phone %s: %w", t.phone, err)
	}
	if existing.OwnerID != t.ownerID {
		t.logger.Warn("phone is paired under another owner", "stored_instance", existing.Name)
		return fmt.Errorf("%w: phone %s", domain.ErrInstanceConflict, t.phone)
	}
	return nil
}

func (o *Orchestrator) target(phone, name, ownerID string) pairingTarget {
	return pairingTarget{
		phone:   phone,
		name:    name,
		ownerID: ownerID,
		logger:  o.config.Logger.With("instance", name, "owner_id", ownerID),
	}
}

func (o *Orchestrator) create(ctx context.Context, t pairingTarget) (*PairingResult, error) {
	t.logger.Info("pairing phase", "phase", PhaseCreating)

	res, err := o.gateway.Create(ctx, t.name, t.phone)
	if err != nil {
		return o.abandon(t, PhaseCreating, fmt.Errorf("failed to create instance %s: %w", t.name, err))
	}
	if res.AlreadyExists {
		t.logger.Info("instance already exists on gateway, resetting instead")
		return o.reset(ctx, t)
	}

	if info, ok := o.viaCreateResponse(res); ok {
		return o.awaitScan(ctx, t, info, StrategyCreateResponse)
	}

	info, err := o.viaConnectEndpoint(ctx, t, o.config.ConnectPollAttempts, linearDelay(o.config.ConnectPollDelay))
	if err != nil {
		return o.abandon(t, PhaseCreating, noPayload(t.name, err))
	}
	return o.awaitScan(ctx, t, info, StrategyConnectEndpoint)
}

// reset forces the gateway to issue a new payload: logout first, restart if
// logout alone was not enough.
func (o *Orchestrator) reset(ctx context.Context, t pairingTarget) (*PairingResult, error) {
	t.logger.Info("pairing phase", "phase", PhaseResettingViaLogout)

	if err := o.gateway.Logout(ctx, t.name); err != nil {
		t.logger.Warn("logout failed, continuing", "error", err)
	}
	if err := sleep(ctx, o.config.Clock, o.config.LogoutSettleDelay); err != nil {
		return o.abandon(t, PhaseResettingViaLogout, err)
	}

	info, err := o.viaConnectEndpoint(ctx, t, 1, noDelay)
	if err == nil {
		return o.awaitScan(ctx, t, info, StrategyConnectEndpoint)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return o.abandon(t, PhaseResettingViaLogout, ctxErr)
	}

	t.logger.Info("pairing phase", "phase", PhaseResettingViaRestart, "reason", err)

	if err := o.gateway.Restart(ctx, t.name); err != nil {
		return o.abandon(t, PhaseResettingViaRestart, fmt.Errorf("failed to restart instance %s: %w", t.name, err))
	}
	if err := sleep(ctx, o.config.Clock, o.config.RestartSettleDelay); err != nil {
		return o.abandon(t, PhaseResettingViaRestart, err)
	}

	info, err = o.viaConnectEndpoint(ctx, t, 1, noDelay)
	if err != nil {
		return o.abandon(t, PhaseResettingViaRestart, noPayload(t.name, err))
	}
	return o.awaitScan(ctx, t, info, StrategyConnectEndpoint)
}

func (o *Orchestrator) markConnected(ctx context.Context, t pairingTarget) (*PairingResult, error) {
	inst := o.persist(ctx, t, domain.InstanceUpdate{
		Name:    t.name,
		OwnerID: t.ownerID,
		Status:  domain.StatusConnected,
	})

	if err := o.tracker.Clear(ctx, t.name); err != nil {
		t.logger.Warn("failed to clear pairing window", "error", err)
	}

	t.logger.Info("instance already connected", "phase", PhaseConnected)
	return &PairingResult{Instance: inst, Phase: PhaseConnected}, nil
}

// awaitScan enriches the payload if needed, then persists and tracks it.
func (o *Orchestrator) awaitScan(ctx context.Context, t pairingTarget, info *domain.PairingInfo, strategy string) (*PairingResult, error) {
	result := &PairingResult{Pairing: info, Phase: PhaseAwaitingScan, Strategy: strategy}

	if info.QRCode != "" && info.PairingCode == "" {
		extra, err := o.viaFetchInstancesLookup(ctx, t)
		if err != nil {
			t.logger.Warn("pairing code unavailable, continuing with QR only", "error", err)
			result.Degraded = true
		} else {
			info.Merge(extra)
		}
	}

	window := domain.NewPairingWindow(o.config.Clock.Now(), info.ExpiresIn)
	result.Window = &window

	stored := &domain.StoredPairing{QRCode: info.QRCode, Code: info.PairingCode}
	if window.Expiring() {
		expiresAt := window.ExpiresAt
		stored.ExpiresAt = &expiresAt
	}

	result.Instance = o.persist(ctx, t, domain.InstanceUpdate{
		Name:    t.name,
		OwnerID: t.ownerID,
		Status:  domain.StatusConnecting,
		Pairing: stored,
	})

	if err := o.tracker.Track(ctx, t.name, window); err != nil {
		t.logger.Warn("failed to track pairing window", "error", err)
	}

	t.logger.Info("awaiting scan",
		"phase", PhaseAwaitingScan,
		"strategy", strategy,
		"has_qr", info.QRCode != "",
		"has_code", info.PairingCode != "",
		"degraded", result.Degraded,
	)
	return result, nil
}

// persist writes the update and invalidates the owner's cache entry. A failed
// write is logged and the caller continues with the in-memory instance.
func (o *Orchestrator) persist(ctx context.Context, t pairingTarget, update domain.InstanceUpdate) *domain.Instance {
	defer o.cache.Invalidate(t.ownerID)

	inst, err := o.repo.Upsert(ctx, t.phone, update)
	if err == nil {
		return inst
	}

	t.logger.Error("failed to persist instance", "status", update.Status, "error", err)

	now := o.config.Clock.Now()
	inst = &domain.Instance{Phone: t.phone, CreatedAt: now}
	update.Apply(inst, now)
	return inst
}

func (o *Orchestrator) abandon(t pairingTarget, from Phase, err error) (*PairingResult, error) {
	t.logger.Warn("pairing abandoned", "phase", PhaseAbandoned, "from", from, "error", err)
	return nil, err
}

func noPayload(name string, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return fmt.Errorf("%w for %s: %w", domain.ErrNoPairingPayload, name, cause)
}
