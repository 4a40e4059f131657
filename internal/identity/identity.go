// Package identity carries the authenticated user through a request.
//
// Authentication itself happens outside this server (a fronting proxy for
// the SSE transport, the local OS user for stdio). Handlers only ever ask a
// Resolver for the user id.
package identity

import (
	"context"
	"strings"

	"github.com/HendryAvila/stagehand/internal/agenterr"
)

type contextKey string

const userKey contextKey = "user"

// WithUser returns a copy of ctx carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserFrom returns the user id stored in ctx, if any.
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey).(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// Resolver provides the authenticated user id for a request.
type Resolver interface {
	UserID(ctx context.Context) (string, error)
}

// ContextResolver reads the user placed in the context by the transport.
type ContextResolver struct{}

// UserID implements Resolver.
func (ContextResolver) UserID(ctx context.Context) (string, error) {
	if id, ok := UserFrom(ctx); ok {
		return id, nil
	}
	return "", agenterr.New(agenterr.Unauthorized, "no authenticated user")
}

// StaticResolver prefers a user from the context and falls back to a fixed
// user id. It serves single-user stdio sessions.
type StaticResolver struct {
	Fallback string
}

// UserID implements Resolver.
func (r StaticResolver) UserID(ctx context.Context) (string, error) {
	if id, ok := UserFrom(ctx); ok {
		return id, nil
	}
	if strings.TrimSpace(r.Fallback) == "" {
		return "", agenterr.New(agenterr.Unauthorized, "no authenticated user")
	}
	return r.Fallback, nil
}
