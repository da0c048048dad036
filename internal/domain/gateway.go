package domain

import (
	"context"
	"strings"
	"time"
)

// ConnectionState is the connection state reported by the messaging gateway.
type ConnectionState string

const (
	StateOpen       ConnectionState = "open"
	StateConnecting ConnectionState = "connecting"
	StateClosed     ConnectionState = "closed"
	StateUnknown    ConnectionState = "unknown"
)

func ParseConnectionState(raw string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open":
		return StateOpen
	case "connecting":
		return StateConnecting
	case "close", "closed":
		return StateClosed
	default:
		return StateUnknown
	}
}

// StatusFromConnectionState is the single mapping from gateway states to stored statuses.
func StatusFromConnectionState(s ConnectionState) Status {
	switch s {
	case StateOpen:
		return StatusConnected
	case StateConnecting:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}

// PairingInfo is what the gateway hands out to link a device: a QR image, a pairing code, or both.
type PairingInfo struct {
	QRCode      string        `json:"qrcode,omitempty"`
	PairingCode string        `json:"pairing_code,omitempty"`
	ExpiresIn   time.Duration `json:"expires_in,omitempty"`
}

func (p *PairingInfo) HasPayload() bool {
	return p != nil && (p.QRCode != "" || p.PairingCode != "")
}

// Merge fills empty fields of p from other. Values already present win.
func (p *PairingInfo) Merge(other *PairingInfo) {
	if other == nil {
		return
	}
	if p.QRCode == "" {
		p.QRCode = other.QRCode
	}
	if p.PairingCode == "" {
		p.PairingCode = other.PairingCode
	}
	if p.ExpiresIn == 0 {
		p.ExpiresIn = other.ExpiresIn
	}
}

type CreateResult struct {
	AlreadyExists bool
	Pairing       *PairingInfo
}

// GatewayInstance is one row of the gateway's instance listing.
type GatewayInstance struct {
	Name    string
	State   ConnectionState
	Pairing PairingInfo
}

// Gateway is the outbound port to the messaging gateway.
type Gateway interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name, phoneHint string) (*CreateResult, error)
	Connect(ctx context.Context, name string) (*PairingInfo, error)
	Logout(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	ConnectionState(ctx context.Context, name string) (ConnectionState, error)
	FetchInstances(ctx context.Context) ([]GatewayInstance, error)
}
