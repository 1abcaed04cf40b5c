package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	BasicAuthPrefix = "Basic "
)

// BasicUser is one set of credentials accepted by BasicAuthorizer.
type BasicUser struct {
	Name        string       `yaml:"name"`
	Password    string       `yaml:"password"`
	Permissions []Permission `yaml:"permissions"`
}

// BasicAuthorizer checks HTTP Basic credentials against a fixed user table.
type BasicAuthorizer struct {
	users map[string]BasicUser
}

// NewBasicAuthorizer creates a BasicAuthorizer accepting the given users.
func NewBasicAuthorizer(users ...BasicUser) *BasicAuthorizer {
	a := &BasicAuthorizer{users: make(map[string]BasicUser, len(users))}
	for _, u := range users {
		a.users[u.Name] = u
	}
	return a
}

func parseBasicAuth(r *http.Request) (string, string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, BasicAuthPrefix) {
		return "", "", false
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(BasicAuthPrefix):]))
	if err != nil {
		return "", "", false
	}

	creds := strings.SplitN(string(payload), ":", 2)
	if len(creds) != 2 {
		return "", "", false
	}

	return creds[0], creds[1], true
}

// Authorize checks the Authorization header for valid Basic credentials and
// then whether the user holds permission.
func (a *BasicAuthorizer) Authorize(ctx context.Context, r *http.Request, permission Permission) (Decision, error) {
	name, password, ok := parseBasicAuth(r)
	if !ok {
		return Decision{}, nil
	}

	user, ok := a.users[name]
	if !ok || subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
		return Decision{}, nil
	}

	return Decision{Allowed: Grants(user.Permissions, permission), User: user.Name}, nil
}
