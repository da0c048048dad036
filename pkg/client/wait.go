package client

import (
	"context"
	"errors"
	"time"
)

// WaitConnected polls the instance until the device is linked, the pairing
// window runs out, or ctx is done. Transient errors are logged and polling continues.
func (c *Client) WaitConnected(ctx context.Context, name string, interval time.Duration) (*Instance, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		resp, err := c.Get(ctx, name)
		switch {
		case err == nil:
			if resp.Instance.Status == StatusConnected {
				return resp.Instance, nil
			}
			if resp.Window != nil && resp.Window.Expired {
				return resp.Instance, ErrPairingExpired
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			if !retryable(err) {
				return nil, err
			}
			c.logger.Warn("instance poll failed", "instance", name, "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// transport failure
		return true
	}
	return apiErr.Retryable() || apiErr.StatusCode >= 500
}
