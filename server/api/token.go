/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/UnifyEM/diragent/common/clock"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/server/global"
)

// CustomClaims includes jwt.RegisteredClaims and adds custom fields
type CustomClaims struct {
	jwt.RegisteredClaims
	Role    int    `json:"role"`
	Purpose string `json:"purpose"`
}

// Tokens issues and validates HS256 operator tokens
type Tokens struct {
	key   []byte
	life  time.Duration
	clock clock.Clock
}

// NewTokens requires the signing key. A zero lifetime issues tokens that
// never expire.
func NewTokens(key []byte, life time.Duration, c clock.Clock) (*Tokens, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	if c == nil {
		c = clock.Real()
	}
	return &Tokens{key: key, life: life, clock: c}, nil
}

// Create issues an access token for subject with the given role
func (t *Tokens) Create(subject string, role int) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if role == schema.RoleNone {
		return "", errors.New("a role is required")
	}

	// NotBefore is 5 minutes in the past to allow for clock skew
	now := t.clock.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    global.Name,
			ID:        "T-" + uuid.New().String(),
		},
		Role:    role,
		Purpose: schema.TokenPurposeAccess,
	}

	if t.life > 0 {
		claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(now.Add(t.life))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Validate checks the token, including its purpose, and returns the subject and role
func (t *Tokens) Validate(tokenString string, purpose string) (string, int, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(global.Name),
		jwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		return "", 0, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		if claims.Purpose == purpose && claims.Role != schema.RoleNone {
			return claims.Subject, claims.Role, nil
		}
	}
	return "", 0, errors.New("invalid token")
}
