// Package middleware provides shared context helpers for the Glassboard
// console engine.
//
// This package lives in pkg/ (not internal/) so that deployments which
// front the engine with their own middleware can use GetWorkspace() and
// SetWorkspace() without importing internal packages.
package middleware

import "context"

type contextKey string

const workspaceKey contextKey = "workspace"

// GetWorkspace extracts the workspace name from the context.
// Returns "default" if no workspace is set.
func GetWorkspace(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceKey).(string); ok && v != "" {
		return v
	}
	return "default"
}

// SetWorkspace stores the workspace name in the context.
func SetWorkspace(ctx context.Context, workspace string) context.Context {
	return context.WithValue(ctx, workspaceKey, workspace)
}
