package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bunbase/bunbase/internal/config"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidIssuer    = errors.New("invalid token issuer")
	ErrMissingSubject   = errors.New("token missing subject")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidKind      = errors.New("token has an unrecognized kind")
)

// tokenClaims carries the bearer-token contract: {subject, kind, exp} plus
// collection, which "subject" alone doesn't disambiguate: a user's id is
// only unique within the auth collection it belongs to.
type tokenClaims struct {
	jwt.RegisteredClaims
	Kind       Kind   `json:"kind"`
	Collection string `json:"collection,omitempty"`
}

// tokenService signs and verifies bearer tokens with a single symmetric
// secret.
type tokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func newTokenService(cfg config.JWTConfig) *tokenService {
	return &tokenService{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.TTL}
}

// issue signs a bearer token for the given principal. collection is empty
// for admins.
func (s *tokenService) issue(subject string, kind Kind, collection string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
		Kind:       kind,
		Collection: collection,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// parse validates tokenString's signature and expiry and returns its claims.
func (s *tokenService) parse(tokenString string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidIssuer
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if claims.Kind != KindAdmin && claims.Kind != KindUser {
		return nil, ErrInvalidKind
	}

	return claims, nil
}
