/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends standard registered claims with an ops role and, when the
// token is scoped to a single guild's control surface, that guild's id.
type Claims struct {
	UserID  string   `json:"uid"`
	Roles   []string `json:"roles"`
	GuildID string   `json:"guild_id,omitempty"`
	jwt.RegisteredClaims
}

// Issue creates an HS256 JWT token string.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Subject:   claims.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates token string and enforces HS256 signing method.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	claims.Roles = normalizeClaimRoles(claims.Roles)

	return claims, nil
}

func normalizeClaimRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, strings.ToLower(strings.TrimSpace(role)))
	}
	return out
}

// HasRole reports whether claims carries role among its normalized roles.
func (c *Claims) HasRole(role string) bool {
	role = strings.ToLower(role)
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
