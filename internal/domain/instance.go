package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusConnected, StatusError:
		return true
	default:
		return false
	}
}

// Instance is one gateway pairing slot, keyed by phone.
type Instance struct {
	ID               string     `json:"id"`
	Phone            string     `json:"phone"`
	Name             string     `json:"name"`
	OwnerID          string     `json:"owner_id"`
	Status           Status     `json:"status"`
	QRPayload        string     `json:"qr_payload,omitempty"`
	PairingCode      string     `json:"pairing_code,omitempty"`
	PairingExpiresAt *time.Time `json:"pairing_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (i *Instance) IsConnected() bool {
	return i.Status == StatusConnected
}

// StoredPairing is the pairing payload persisted alongside a connecting instance.
type StoredPairing struct {
	QRCode    string
	Code      string
	ExpiresAt *time.Time
}

// InstanceUpdate is the only write shape accepted by InstanceRepository.Upsert.
// Empty Name and OwnerID keep the stored values; a nil Pairing keeps the stored payload.
type InstanceUpdate struct {
	Name    string
	OwnerID string
	Status  Status
	Pairing *StoredPairing
}

func (u InstanceUpdate) Validate() error {
	if !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, u.Status)
	}
	return nil
}

// ValidateInsert applies the stricter rules for a phone not yet stored.
func (u InstanceUpdate) ValidateInsert() error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if u.OwnerID == "" {
		return fmt.Errorf("%w: owner_id is required", ErrInvalidRequest)
	}
	return nil
}

// CheckOwner rejects an update that would hand an existing instance to another owner.
func (u InstanceUpdate) CheckOwner(existing *Instance) error {
	if u.OwnerID != "" && existing.OwnerID != "" && u.OwnerID != existing.OwnerID {
		return fmt.Errorf("%w: phone %s", ErrInstanceConflict, existing.Phone)
	}
	return nil
}

// Apply mutates i with u. The pairing payload only survives while the status is connecting.
func (u InstanceUpdate) Apply(i *Instance, now time.Time) {
	if u.Name != "" {
		i.Name = u.Name
	}
	if u.OwnerID != "" {
		i.OwnerID = u.OwnerID
	}
	i.Status = u.Status

	if u.Pairing != nil {
		i.QRPayload = u.Pairing.QRCode
		i.PairingCode = u.Pairing.Code
		i.PairingExpiresAt = u.Pairing.ExpiresAt
	}
	if i.Status != StatusConnecting {
		i.QRPayload = ""
		i.PairingCode = ""
		i.PairingExpiresAt = nil
	}

	i.UpdatedAt = now
}
