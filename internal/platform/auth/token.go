// Package auth issues and checks the bearer tokens that bind an HTTP client
// to its login workflow.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "ehr-login"

var ErrInvalidToken = errors.New("invalid workflow token")

// Claims carry the workflow a token grants access to. Subject is the backend
// user uuid; ID is the jti used for revocation.
type Claims struct {
	jwt.RegisteredClaims
	WorkflowID string `json:"wfid"`
}

// Issuer signs workflow tokens with HMAC-SHA256.
type Issuer struct {
	key     []byte
	ttl     time.Duration
	issuer  string
	revoked *TokenRevocationStore
	now     func() time.Time
}

func NewIssuer(key []byte, ttl time.Duration, revoked *TokenRevocationStore) *Issuer {
	return &Issuer{
		key:     key,
		ttl:     ttl,
		issuer:  defaultIssuer,
		revoked: revoked,
		now:     time.Now,
	}
}

// Issue returns a signed token for workflowID and its expiry.
func (i *Issuer) Issue(workflowID, userUUID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   userUUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		WorkflowID: workflowID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign workflow token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates a token and returns its claims. Revoked tokens are
// rejected.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.WorkflowID == "" {
		return nil, ErrInvalidToken
	}
	if i.revoked != nil && i.revoked.IsRevoked(claims.ID) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Revoke invalidates the token described by claims until it expires.
func (i *Issuer) Revoke(claims *Claims) {
	if i.revoked == nil || claims == nil {
		return
	}
	exp := i.now().Add(i.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	i.revoked.Revoke(claims.ID, exp)
}
