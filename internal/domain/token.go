package domain

import (
	"fmt"
	"time"
)

const IssuerAuthService = "auth-service"

// OwnerClaims identifies the tenant behind an admin API call.
type OwnerClaims struct {
	Subject   string `json:"sub"`
	Name      string `json:"name,omitempty"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	NotBefore int64  `json:"nbf,omitempty"`
}

func (c *OwnerClaims) Valid() error {
	now := time.Now().Unix()

	if c.ExpiresAt != 0 && now > c.ExpiresAt {
		return ErrTokenExpired
	}

	if c.NotBefore != 0 && now < c.NotBefore {
		return ErrTokenNotYetValid
	}

	if c.Subject == "" {
		return ErrTokenInvalidSubject
	}

	return nil
}

func (c *OwnerClaims) ValidateIssuer(allowedIssuers []string) error {
	for _, allowed := range allowedIssuers {
		if c.Issuer == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in allowed list", ErrTokenIssuerNotAllowed, c.Issuer)
}

var (
	ErrTokenExpired          = fmt.Errorf("token has expired")
	ErrTokenNotYetValid      = fmt.Errorf("token is not yet valid")
	ErrTokenInvalidSubject   = fmt.Errorf("token has invalid subject")
	ErrTokenIssuerNotAllowed = fmt.Errorf("token issuer not allowed")
	ErrTokenInvalidSignature = fmt.Errorf("token has invalid signature")
	ErrTokenMalformed        = fmt.Errorf("token is malformed")
)
