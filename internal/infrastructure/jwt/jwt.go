package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
)

// Service validates owner tokens issued by the auth service.
type Service struct {
	publicKey      *rsa.PublicKey
	allowedIssuers []string
}

// NewService returns a service without a key when JWT_PUBLIC_KEY is empty;
// callers check Enabled before relying on it.
func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{allowedIssuers: cfg.JWTAllowedIssuers}

	if cfg.JWTPublicKey != "" {
		pubKey, err := parseRSAPublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		s.publicKey = pubKey
	}

	return s, nil
}

func NewServiceWithKey(publicKey *rsa.PublicKey, allowedIssuers []string) *Service {
	return &Service{
		publicKey:      publicKey,
		allowedIssuers: allowedIssuers,
	}
}

func (s *Service) Enabled() bool {
	return s != nil && s.publicKey != nil
}

func (s *Service) ValidateOwnerToken(tokenString string) (*domain.OwnerClaims, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("public key not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", domain.ErrTokenMalformed, token.Header["alg"])
		}
		return s.publicKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, domain.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, domain.ErrTokenNotYetValid
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, domain.ErrTokenInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !token.Valid || !ok {
		return nil, domain.ErrTokenMalformed
	}

	claims := &domain.OwnerClaims{
		Subject: getStringClaim(mapClaims, "sub"),
		Name:    getStringClaim(mapClaims, "name"),
		Issuer:  getStringClaim(mapClaims, "iss"),
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.IssuedAt = int64(iat)
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = int64(exp)
	}
	if nbf, ok := mapClaims["nbf"].(float64); ok {
		claims.NotBefore = int64(nbf)
	}

	if err := claims.Valid(); err != nil {
		return nil, err
	}
	if err := claims.ValidateIssuer(s.allowedIssuers); err != nil {
		return nil, err
	}

	return claims, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(normalizePEM(pemStr)))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPub, nil
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

var (
	pemHeaderRe = regexp.MustCompile(`(?i)(-----BEGIN [A-Z ]+-----)`)
	pemFooterRe = regexp.MustCompile(`(?i)(-----END [A-Z ]+-----)`)
)

// normalizePEM restores line breaks in keys passed through single-line env vars.
func normalizePEM(s string) string {
	if strings.Contains(s, "\n") {
		return s
	}
	s = pemHeaderRe.ReplaceAllString(s, "$1\n")
	s = pemFooterRe.ReplaceAllString(s, "\n$1")

	header, rest, ok := strings.Cut(strings.TrimSpace(s), "\n")
	if !ok {
		return s
	}
	body, footer, ok := strings.Cut(rest, "\n")
	if !ok {
		return s
	}
	return header + "\n" + strings.Join(strings.Fields(body), "\n") + "\n" + footer + "\n"
}
