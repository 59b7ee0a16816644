package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenOptions describes a token minted for test mode.
type TokenOptions struct {
	Subject  string
	Role     string
	Audience string
	Issuer   string
	TTL      time.Duration
}

// TestToken returns an HS256 token that NewTestAuth with the same secret
// accepts.
func TestToken(secret []byte, opts TokenOptions) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	if opts.Subject == "" {
		return "", errors.New("subject is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": opts.Subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if opts.Role != "" {
		claims["role"] = opts.Role
	}
	if opts.Audience != "" {
		claims["aud"] = opts.Audience
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
