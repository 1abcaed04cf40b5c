package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultAllowedHeader     = "X-Auth-Allowed"
	DefaultPermissionsHeader = "X-Auth-Permissions"
	DefaultUserHeader        = "X-Auth-User"
)

// HeaderAuthorizer trusts a decision made by an upstream gateway and passed
// along in request headers. The gateway either sends a boolean verdict in
// AllowedHeader or the caller's permission list, comma separated, in
// PermissionsHeader. A verdict takes precedence over a permission list.
//
// The server must only be reachable through that gateway.
type HeaderAuthorizer struct {
	AllowedHeader     string
	PermissionsHeader string
	UserHeader        string
}

func NewHeaderAuthorizer() *HeaderAuthorizer {
	return &HeaderAuthorizer{
		AllowedHeader:     DefaultAllowedHeader,
		PermissionsHeader: DefaultPermissionsHeader,
		UserHeader:        DefaultUserHeader,
	}
}

func (a *HeaderAuthorizer) Authorize(ctx context.Context, r *http.Request, permission Permission) (Decision, error) {
	decision := Decision{User: r.Header.Get(a.UserHeader)}

	if verdict := r.Header.Get(a.AllowedHeader); verdict != "" {
		allowed, err := strconv.ParseBool(strings.TrimSpace(verdict))
		if err != nil {
			return Decision{}, nil
		}
		decision.Allowed = allowed
		return decision, nil
	}

	var granted []Permission
	for _, p := range strings.Split(r.Header.Get(a.PermissionsHeader), ",") {
		if p = strings.TrimSpace(p); p != "" {
			granted = append(granted, Permission(p))
		}
	}

	decision.Allowed = Grants(granted, permission)
	return decision, nil
}
