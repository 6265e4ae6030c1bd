package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Roles are ordered; each one grants everything below it.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

func level(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

func HasAtLeast(roles []string, required string) bool {
	want := level(required)
	if want == 0 {
		return false
	}
	for _, role := range roles {
		if level(role) >= want {
			return true
		}
	}
	return false
}

// Rule sets the role for requests with Method whose path ends in PathSuffix.
type Rule struct {
	Method     string
	PathSuffix string
	Role       string
}

// Policy maps a request to the role it needs. The first matching rule wins;
// without one, reads need viewer and anything that appends records needs editor.
type Policy []Rule

// DefaultPolicy reserves object storage exports for admins.
var DefaultPolicy = Policy{
	{Method: http.MethodPost, PathSuffix: "/export", Role: RoleAdmin},
}

func (p Policy) RequiredRole(r *http.Request) string {
	for _, rule := range p {
		if rule.Method != "" && rule.Method != r.Method {
			continue
		}
		if strings.HasSuffix(r.URL.Path, rule.PathSuffix) {
			return rule.Role
		}
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleEditor
	}
}
