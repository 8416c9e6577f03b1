package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for any session token that fails verification.
var ErrInvalidSession = errors.New("invalid session")

// SessionClaims identifies a returning customer.
type SessionClaims struct {
	CustomerID uint   `json:"customer_id"`
	Phone      string `json:"phone"`
}

type sessionJWTClaims struct {
	CustomerID uint   `json:"customer_id"`
	Phone      string `json:"phone"`
	jwt.RegisteredClaims
}

// GenerateSessionToken creates a signed HS256 session token valid for ttl from issuedAt.
func GenerateSessionToken(secret string, claims SessionClaims, issuedAt time.Time, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("session secret is empty")
	}
	if claims.CustomerID == 0 || claims.Phone == "" {
		return "", fmt.Errorf("%w: customer id and phone are required", ErrInvalidSession)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &sessionJWTClaims{
		CustomerID: claims.CustomerID,
		Phone:      claims.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// ParseSessionToken validates the token against now and returns the embedded claims.
// Every failure, malformed input included, is reported as ErrInvalidSession.
func ParseSessionToken(secret, tokenString string, now time.Time) (*SessionClaims, error) {
	if secret == "" || tokenString == "" {
		return nil, ErrInvalidSession
	}

	parsed := &sessionJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}

	if parsed.CustomerID == 0 || parsed.Phone == "" {
		return nil, ErrInvalidSession
	}

	return &SessionClaims{CustomerID: parsed.CustomerID, Phone: parsed.Phone}, nil
}
