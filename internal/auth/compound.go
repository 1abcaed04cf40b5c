package auth

import (
	"context"
	"net/http"
)

type CompoundAuthorizer struct {
	authorizers []Authorizer
}

// NewCompoundAuthorizer creates a CompoundAuthorizer consulting the given
// authorizers in order.
func NewCompoundAuthorizer(authorizers ...Authorizer) *CompoundAuthorizer {
	return &CompoundAuthorizer{
		authorizers: authorizers,
	}
}

// Authorize returns the first allowing decision. When none allows, the last
// denial is returned so that a recognised user is still reported.
func (a *CompoundAuthorizer) Authorize(ctx context.Context, r *http.Request, permission Permission) (Decision, error) {
	var last Decision
	for _, authorizer := range a.authorizers {
		decision, err := authorizer.Authorize(ctx, r, permission)
		if err != nil {
			return Decision{}, err
		}
		if decision.Allowed {
			return decision, nil
		}
		if decision.User != "" {
			last = decision
		}
	}

	return last, nil
}
