package domain

import "time"

// PairingWindow is the lifetime of a pairing payload handed to the user.
// A zero ExpiresAt means the payload does not expire on its own.
type PairingWindow struct {
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func NewPairingWindow(now time.Time, expiresIn time.Duration) PairingWindow {
	w := PairingWindow{IssuedAt: now}
	if expiresIn > 0 {
		w.ExpiresAt = now.Add(expiresIn)
	}
	return w
}

func (w PairingWindow) Expiring() bool {
	return !w.ExpiresAt.IsZero()
}

func (w PairingWindow) Remaining(now time.Time) time.Duration {
	if !w.Expiring() {
		return 0
	}
	if d := w.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (w PairingWindow) Expired(now time.Time) bool {
	return w.Expiring() && !now.Before(w.ExpiresAt)
}
