// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator extracts agent identity and role from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide both.
type Authenticator interface {
	AgentID(r *http.Request) (string, error)
	Role(r *http.Request) (string, error)
}

// JWTAuth handles JWT authentication
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims represents JWT claims for field-agent sync
type JWTClaims struct {
	DeviceID string `json:"did"`  // Device the agent is syncing from
	Role     string `json:"role"` // agent or admin
	jwt.RegisteredClaims
}

// GenerateToken generates a JWT token for a field agent. The agent ID goes
// in the standard 'sub' claim.
func (j *JWTAuth) GenerateToken(agentID, deviceID, role string, expiration time.Duration) (string, error) {
	if role == "" {
		role = RoleAgent
	}
	claims := &JWTClaims{
		DeviceID: deviceID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "go-fieldsync",
			Subject:   agentID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (agent ID) in token")
		}
		if claims.Role == "" {
			claims.Role = RoleAgent
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// claimsFromRequest extracts and validates the bearer token on a request.
func (j *JWTAuth) claimsFromRequest(r *http.Request) (*JWTClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, fmt.Errorf("bearer token required")
	}

	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// AgentID extracts the agent ID from the JWT sub claim (implements Authenticator)
func (j *JWTAuth) AgentID(r *http.Request) (string, error) {
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Role extracts the role claim (implements Authenticator)
func (j *JWTAuth) Role(r *http.Request) (string, error) {
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}
