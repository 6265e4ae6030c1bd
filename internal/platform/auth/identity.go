package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// SubjectFromContext returns the caller's subject, or "" for unauthenticated calls.
func SubjectFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.Subject
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// StaticAuthenticator accepts every request as one fixed identity.
type StaticAuthenticator struct {
	Identity Identity
}

func (a StaticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.Identity, nil
}

// New builds the authenticator for cfg.Mode. It returns nil, nil when auth is
// disabled.
func New(ctx context.Context, cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeDisabled:
		return nil, nil
	case ModeDev:
		return StaticAuthenticator{Identity: Identity{Subject: cfg.DevSubject, Email: cfg.DevEmail, Roles: cfg.DevRoles}}, nil
	case ModeHeaders:
		return NewHeadersAuthenticator(cfg.InternalSecret, cfg.MaxSkew)
	case ModeOIDC:
		return NewOIDCAuthenticator(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}
