// Package auth verifies the bearer tokens clients present when
// authenticating a signaling connection.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 signatures against a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(token string) (core.Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.ID == "" || len(c.ID) > domain.MaxUserIDLen {
		return core.Identity{}, ErrInvalidToken
	}
	if c.Username == "" {
		return core.Identity{}, domain.ErrUsernameEmpty
	}
	if len(c.Username) > domain.MaxUsernameLen {
		return core.Identity{}, domain.ErrUsernameTooLong
	}
	return core.Identity{
		UserID:   domain.UserID(c.ID),
		Username: c.Username,
	}, nil
}

// Issue signs a token for the given identity, used by tests and tooling.
func (v *JWTVerifier) Issue(id core.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ID:       string(id.UserID),
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}
