// Package pairing handles device enrolment credentials: the token a
// device presents to its realm to obtain transport credentials, and
// the renewal boundary the client calls when those credentials are
// about to lapse.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Domain errors, checkable with errors.Is().
var (
	// ErrTokenInvalid is returned for malformed, expired or
	// wrongly-signed pairing tokens.
	ErrTokenInvalid = errors.New("pairing: invalid token")

	// ErrMissingCredentials is returned when the device has no
	// credentials secret configured.
	ErrMissingCredentials = errors.New("pairing: missing credentials secret")
)

// Claims are the pairing token claims binding a token to one device in
// one realm.
type Claims struct {
	jwt.RegisteredClaims
	Realm    string `json:"realm"`
	DeviceID string `json:"device_id"`
}

// Credentials identify a device to its realm.
type Credentials struct {
	Realm    string
	DeviceID string

	// Secret is the per-device credentials secret issued at
	// registration. It signs pairing tokens and never leaves the
	// device except inside a signed token.
	Secret string
}

// Validate checks the credentials are complete.
func (c Credentials) Validate() error {
	if c.Secret == "" {
		return ErrMissingCredentials
	}
	if c.Realm == "" || c.DeviceID == "" {
		return fmt.Errorf("%w: realm and device id required", ErrMissingCredentials)
	}
	return nil
}

// defaultTokenTTL bounds a token's life when the caller does not pick one.
// Tokens exist only to bootstrap a transport session, not as a session
// credential themselves.
const defaultTokenTTL = 5 * time.Minute

// GenerateToken creates a signed pairing token for the device.
func GenerateToken(creds Credentials, ttl time.Duration) (string, error) {
	if err := creds.Validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   creds.DeviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Realm:    creds.Realm,
		DeviceID: creds.DeviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(creds.Secret))
	if err != nil {
		return "", fmt.Errorf("signing pairing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a pairing token against the credentials secret
// and returns its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Realm == "" {
		return nil, fmt.Errorf("%w: missing realm", ErrTokenInvalid)
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing device id", ErrTokenInvalid)
	}
	return claims, nil
}

// Renewer is the credential-renewal boundary. The transport calls it
// when the broker rejects the session or certificates near expiry.
type Renewer interface {
	// Renew obtains fresh transport credentials for the device.
	Renew(ctx context.Context) error
}

// TokenSource derives broker credentials from the device's pairing
// credentials, caching the signed token and re-signing once it no
// longer validates. The transport asks for credentials on every
// (re)connect, so an expired token is replaced before the next
// session attempt.
type TokenSource struct {
	mu    sync.Mutex
	creds Credentials
	ttl   time.Duration
	token string
}

// Statically ensure the renewal boundary is satisfied.
var _ Renewer = (*TokenSource)(nil)

// NewTokenSource creates a token source for the given credentials.
// A non-positive ttl falls back to the default token lifetime.
func NewTokenSource(creds Credentials, ttl time.Duration) (*TokenSource, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenSource{creds: creds, ttl: ttl}, nil
}

// Renew discards the cached token and signs a fresh one.
func (s *TokenSource) Renew(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewLocked()
}

func (s *TokenSource) renewLocked() error {
	token, err := GenerateToken(s.creds, s.ttl)
	if err != nil {
		return err
	}
	s.token = token
	return nil
}

// BrokerCredentials returns the username/password pair for the next
// session attempt, renewing the token first if the cached one fails
// validation. Signing never fails for validated credentials, so the
// pair is always usable.
func (s *TokenSource) BrokerCredentials() (username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		s.renewLocked() //nolint:errcheck // only fails on empty secret, excluded by Validate
	} else if _, err := ParseToken(s.token, s.creds.Secret); err != nil {
		s.renewLocked() //nolint:errcheck
	}
	return s.creds.Realm + "/" + s.creds.DeviceID, s.token
}
