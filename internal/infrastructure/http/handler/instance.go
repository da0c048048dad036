package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/apascualco/pairgate/internal/application"
	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/apascualco/pairgate/internal/infrastructure/http/middleware"
	"github.com/gin-gonic/gin"
)

type Orchestrator interface {
	Connect(ctx context.Context, req application.ConnectRequest) (*application.PairingResult, error)
	Regenerate(ctx context.Context, ownerID, name string) (*application.PairingResult, error)
}

type InstanceLister interface {
	Get(ctx context.Context, ownerID string) ([]domain.Instance, error)
}

// StatusWatcher is the background status loop. Hold and Release are the
// operator switch; Paused also covers pairing runs in progress.
type StatusWatcher interface {
	Watch(ctx context.Context, inst domain.Instance) <-chan domain.Status
	Hold(name string)
	Release(name string)
	Paused(name string) bool
}

type InstanceHandlerConfig struct {
	Orchestrator Orchestrator
	Instances    InstanceLister
	Repository   domain.InstanceRepository
	Tracker      application.PairingTracker
	Watcher      StatusWatcher
	Clock        clock.Clock
}

type InstanceHandler struct {
	orchestrator Orchestrator
	instances    InstanceLister
	repo         domain.InstanceRepository
	tracker      application.PairingTracker
	watcher      StatusWatcher
	clock        clock.Clock
}

func NewInstanceHandler(cfg InstanceHandlerConfig) *InstanceHandler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &InstanceHandler{
		orchestrator: cfg.Orchestrator,
		instances:    cfg.Instances,
		repo:         cfg.Repository,
		tracker:      cfg.Tracker,
		watcher:      cfg.Watcher,
		clock:        cfg.Clock,
	}
}

type ConnectBody struct {
	Phone     string `json:"phone" binding:"required"`
	OwnerName string `json:"owner_name"`
}

type WindowResponse struct {
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Expired          bool       `json:"expired"`
}

type PairingResponse struct {
	Instance    *domain.Instance `json:"instance"`
	Phase       string           `json:"phase"`
	Strategy    string           `json:"strategy,omitempty"`
	Degraded    bool             `json:"degraded,omitempty"`
	QRCode      string           `json:"qrcode,omitempty"`
	PairingCode string           `json:"pairing_code,omitempty"`
	Window      *WindowResponse  `json:"window,omitempty"`
}

type InstanceResponse struct {
	Instance *domain.Instance `json:"instance"`
	Paused   bool             `json:"paused"`
	Window   *WindowResponse  `json:"window,omitempty"`
}

func (h *InstanceHandler) Connect(c *gin.Context) {
	var body ConnectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	ownerName := body.OwnerName
	if ownerName == "" {
		ownerName = middleware.OwnerName(c)
	}

	result, err := h.orchestrator.Connect(c.Request.Context(), application.ConnectRequest{
		OwnerID:   middleware.OwnerID(c),
		OwnerName: ownerName,
		Phone:     body.Phone,
	})
	if err != nil {
		writePairingError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.pairingResponse(result))
}

func (h *InstanceHandler) Regenerate(c *gin.Context) {
	result, err := h.orchestrator.Regenerate(c.Request.Context(), middleware.OwnerID(c), c.Param("name"))
	if err != nil {
		writePairingError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.pairingResponse(result))
}

func (h *InstanceHandler) List(c *gin.Context) {
	instances, err := h.instances.Get(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"instances": instances,
		"count":     len(instances),
	})
}

func (h *InstanceHandler) Get(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	resp := InstanceResponse{
		Instance: inst,
		Paused:   h.watcher.Paused(inst.Name),
	}

	window, err := h.tracker.Window(c.Request.Context(), inst.Name)
	switch {
	case err == nil:
		resp.Window = h.windowResponse(window)
	case !errors.Is(err, domain.ErrPairingNotTracked):
		_ = c.Error(err)
	}

	c.JSON(http.StatusOK, resp)
}

// Events streams status changes as server-sent events until the client goes away.
func (h *InstanceHandler) Events(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	updates := h.watcher.Watch(ctx, *inst)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("status", statusEvent(inst.Name, inst.Status))
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case status, open := <-updates:
			if !open {
				return
			}
			c.SSEvent("status", statusEvent(inst.Name, status))
			c.Writer.Flush()
		}
	}
}

func (h *InstanceHandler) Pause(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	h.watcher.Hold(inst.Name)
	c.JSON(http.StatusOK, gin.H{"instance": inst.Name, "paused": h.watcher.Paused(inst.Name)})
}

func (h *InstanceHandler) Resume(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	h.watcher.Release(inst.Name)
	c.JSON(http.StatusOK, gin.H{"instance": inst.Name, "paused": h.watcher.Paused(inst.Name)})
}

// ownedInstance loads :name and hides instances of other owners behind a 404.
func (h *InstanceHandler) ownedInstance(c *gin.Context) (*domain.Instance, bool) {
	inst, err := h.repo.GetByName(c.Request.Context(), c.Param("name"))
	if err == nil && inst.OwnerID != middleware.OwnerID(c) {
		err = domain.ErrInstanceNotFound
	}
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return inst, true
}

func (h *InstanceHandler) pairingResponse(result *application.PairingResult) PairingResponse {
	resp := PairingResponse{
		Instance: result.Instance,
		Phase:    result.Phase.String(),
		Strategy: result.Strategy,
		Degraded: result.Degraded,
	}
	if result.Pairing != nil {
		resp.QRCode = result.Pairing.QRCode
		resp.PairingCode = result.Pairing.PairingCode
	}
	if result.Window != nil {
		resp.Window = h.windowResponse(result.Window)
	}
	return resp
}

func (h *InstanceHandler) windowResponse(w *domain.PairingWindow) *WindowResponse {
	now := h.clock.Now()
	resp := &WindowResponse{
		IssuedAt:         w.IssuedAt,
		RemainingSeconds: int64(w.Remaining(now).Seconds()),
		Expired:          w.Expired(now),
	}
	if w.Expiring() {
		expiresAt := w.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

func statusEvent(name string, status domain.Status) gin.H {
	return gin.H{"instance": name, "status": status}
}
