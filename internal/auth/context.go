// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	agentIDKey contextKey = "agent_id"
	roleKey    contextKey = "role"
)

// SetAgentID sets the authenticated agent ID in the context
func SetAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// GetAgentID retrieves the authenticated agent ID from the context
func GetAgentID(ctx context.Context) (string, bool) {
	agentID, ok := ctx.Value(agentIDKey).(string)
	return agentID, ok
}

// SetRole sets the authenticated role in the context
func SetRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// GetRole retrieves the authenticated role from the context
func GetRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey).(string)
	return role, ok
}

// SetAuthContext sets both agent ID and role in context
func SetAuthContext(ctx context.Context, agentID, role string) context.Context {
	ctx = SetAgentID(ctx, agentID)
	return SetRole(ctx, role)
}
