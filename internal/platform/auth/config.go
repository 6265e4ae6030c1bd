// Package auth authenticates API callers and checks their role against the request.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/animus-evals/internal/platform/env"
)

type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeDev      Mode = "dev"
	// ModeHeaders trusts identity headers signed by the gateway.
	ModeHeaders Mode = "headers"
	// ModeOIDC verifies bearer ID tokens against an OIDC issuer.
	ModeOIDC Mode = "oidc"
)

type Config struct {
	Mode Mode

	RolesClaim string
	EmailClaim string

	OIDCIssuerURL string
	OIDCClientID  string

	InternalSecret string
	MaxSkew        time.Duration

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeDisabled)))))
	maxSkew, err := env.Duration("AUTH_MAX_SKEW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode:           mode,
		RolesClaim:     env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:     env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL:  env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:   env.String("OIDC_CLIENT_ID", ""),
		InternalSecret: env.String("ANIMUS_INTERNAL_AUTH_SECRET", ""),
		MaxSkew:        maxSkew,
		DevSubject:     env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:       env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:       parseRoles(env.String("DEV_AUTH_ROLES", RoleAdmin)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeDisabled:
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
		}
	case ModeHeaders:
		if strings.TrimSpace(c.InternalSecret) == "" {
			return errors.New("ANIMUS_INTERNAL_AUTH_SECRET is required when AUTH_MODE=headers")
		}
		if c.MaxSkew < 0 {
			return errors.New("AUTH_MAX_SKEW must be >= 0")
		}
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("AUTH_ROLES_CLAIM is required")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be one of: disabled, dev, headers, oidc (got %q)", c.Mode)
	}
	return nil
}

// parseRoles splits a comma-separated role list, lowercasing and dropping duplicates.
func parseRoles(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		role := strings.ToLower(strings.TrimSpace(part))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
