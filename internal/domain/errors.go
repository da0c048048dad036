package domain

import (
	"fmt"
	"net/http"
)

// GatewayError is a non-2xx reply from the messaging gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway %s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("gateway %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

var (
	ErrInstanceNotFound        = fmt.Errorf("instance not found")
	ErrGatewayInstanceNotFound = fmt.Errorf("instance not found on gateway")
	ErrNoPairingPayload        = fmt.Errorf("gateway returned no pairing payload")
	ErrInvalidPhone            = fmt.Errorf("invalid phone number")
	ErrInvalidRequest          = fmt.Errorf("invalid request")
	ErrPairingNotTracked       = fmt.Errorf("pairing window not tracked")
	ErrInstanceConflict        = fmt.Errorf("instance belongs to another owner")
)
