package auth

import (
	"context"
	"net/http"
	"slices"
)

// Permission names an action on the object store.
type Permission string

const (
	PermissionView   Permission = "r2:view"
	PermissionAdd    Permission = "r2:add"
	PermissionEdit   Permission = "r2:edit"
	PermissionDelete Permission = "r2:delete"

	// Wildcard grants every permission.
	Wildcard Permission = "*"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool

	// User identifies the caller, or is empty when unknown. It is recorded
	// in object metadata such as uploadedBy and createdBy.
	User string
}

type Authorizer interface {

	// Authorize decides whether rq may exercise permission. A request that
	// carries no usable credentials is denied with a nil error; an error is
	// returned only when the decision itself could not be made.
	Authorize(ctx context.Context, rq *http.Request, permission Permission) (Decision, error)
}

// Grants reports whether permission is granted by the set, honouring the
// wildcard.
func Grants(granted []Permission, permission Permission) bool {
	return slices.Contains(granted, Wildcard) || slices.Contains(granted, permission)
}

// AllowAll admits every request. It is used when authorization is enforced
// entirely in front of the server.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, rq *http.Request, permission Permission) (Decision, error) {
	return Decision{Allowed: true}, nil
}

type contextKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user stored by WithUser, or "".
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(contextKey{}).(string)
	return user
}
