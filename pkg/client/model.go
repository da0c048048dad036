package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrPairingExpired   = errors.New("pairing window expired before the device connected")
	ErrPhoneConflict    = errors.New("phone is paired under another owner")
)

const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusError        = "error"
)

type Instance struct {
	ID               string     `json:"id"`
	Phone            string     `json:"phone"`
	Name             string     `json:"name"`
	OwnerID          string     `json:"owner_id"`
	Status           string     `json:"status"`
	QRPayload        string     `json:"qr_payload,omitempty"`
	PairingCode      string     `json:"pairing_code,omitempty"`
	PairingExpiresAt *time.Time `json:"pairing_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Window struct {
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Expired          bool       `json:"expired"`
}

type ConnectRequest struct {
	Phone     string `json:"phone"`
	OwnerName string `json:"owner_name,omitempty"`
}

type PairingResponse struct {
	Instance    *Instance `json:"instance"`
	Phase       string    `json:"phase"`
	Strategy    string    `json:"strategy,omitempty"`
	Degraded    bool      `json:"degraded,omitempty"`
	QRCode      string    `json:"qrcode,omitempty"`
	PairingCode string    `json:"pairing_code,omitempty"`
	Window      *Window   `json:"window,omitempty"`
}

type InstanceResponse struct {
	Instance *Instance `json:"instance"`
	Paused   bool      `json:"paused"`
	Window   *Window   `json:"window,omitempty"`
}

type listResponse struct {
	Instances []Instance `json:"instances"`
	Count     int        `json:"count"`
}

type pauseResponse struct {
	Instance string `json:"instance"`
	Paused   bool   `json:"paused"`
}

// APIError is a non-2xx reply from the pairgate API.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
	Retry      bool   `json:"retry"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pairgate API returned %d (%s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("pairgate API returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the server asked the caller to try again.
func (e *APIError) Retryable() bool {
	return e.Retry || e.StatusCode == http.StatusServiceUnavailable
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInstanceNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrPhoneConflict:
		return e.StatusCode == http.StatusConflict
	default:
		return false
	}
}
