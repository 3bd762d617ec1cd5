// Package authtoken implements bearer-token verification for the queue and
// session handshakes: an HMAC-signed claims check narrowed down to this
// service's single permission: allowed to submit work at all.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("authtoken: invalid token")
	ErrNoToken      = errors.New("authtoken: token required")
	ErrTokenExpired = errors.New("authtoken: token expired")
)

// Claims is the decoded payload of a bearer token issued to a caller.
type Claims struct {
	Subject string    `json:"sub"`
	Expires time.Time `json:"expires"`
}

// Verifier checks bearer tokens signed with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier against secret, the HMAC signing key.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify decodes and validates tokenStr, rejecting anything not signed
// with the Verifier's secret, malformed, or expired.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrNoToken
	}
	token, err := jwt.Parse(tokenStr, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authtoken: unexpected signing method: %v", tk.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	c := &Claims{}
	if sub, ok := claims["sub"].(string); ok {
		c.Subject = sub
	}
	if expStr, ok := claims["expires"].(string); ok {
		t, err := time.Parse(time.RFC3339, expStr)
		if err == nil {
			c.Expires = t
		}
	}
	if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
		return nil, ErrTokenExpired
	}
	return c, nil
}

// Issue signs a new bearer token for subject, expiring after ttl. Mainly
// useful for tests and local tooling; production issuance belongs to
// whatever identity provider fronts this service.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":     subject,
		"expires": time.Now().Add(ttl).Format(time.RFC3339),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
