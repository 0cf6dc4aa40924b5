package httpapi

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"flowerbelle/backend/internal/domain"
)

const sessionIssuer = "flowerbelle"

var errInvalidSession = errors.New("invalid or expired token")

type sessionClaims struct {
	jwtlib.RegisteredClaims
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
}

// sessionSigner issues and verifies HS256 access tokens.
type sessionSigner struct {
	key []byte
	ttl time.Duration
}

func (s sessionSigner) issue(actor domain.Actor, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   actor.Username,
			ID:        fmt.Sprintf("%d.%x", actor.UserID, now.UnixNano()),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		UserID: actor.UserID,
		Role:   actor.Role,
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expiresAt, nil
}

func (s sessionSigner) verify(raw string) (domain.Actor, error) {
	var claims sessionClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (interface{}, error) {
		return s.key, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(sessionIssuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, errInvalidSession
	}
	if claims.Subject == "" || claims.UserID < 1 {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: claims.UserID, Username: claims.Subject, Role: claims.Role}, nil
}
