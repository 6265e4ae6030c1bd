package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/animus-evals/internal/platform/requestid"
)

const (
	HeaderSubject   = "X-Animus-Subject"
	HeaderEmail     = "X-Animus-Email"
	HeaderRoles     = "X-Animus-Roles"
	HeaderTimestamp = "X-Animus-Auth-Ts"
	HeaderSignature = "X-Animus-Auth-Sig"
)

// HeadersAuthenticator trusts the identity headers a gateway adds after it has
// authenticated the caller. The headers are bound to the request by an HMAC over
// the timestamp, method, path, request id and identity.
type HeadersAuthenticator struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

func NewHeadersAuthenticator(secret string, maxSkew time.Duration) (*HeadersAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("ANIMUS_INTERNAL_AUTH_SECRET is required")
	}
	return &HeadersAuthenticator{
		secret:  secret,
		maxSkew: maxSkew,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (a *HeadersAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	ts := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if ts == "" || sig == "" {
		return Identity{}, ErrUnauthenticated
	}
	if err := verifyTimestamp(ts, a.now(), a.maxSkew); err != nil {
		return Identity{}, err
	}

	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	roles := strings.TrimSpace(r.Header.Get(HeaderRoles))
	expected, err := Sign(a.secret, ts, r.Method, r.URL.Path, r.Header.Get(requestid.Header), subject, email, roles)
	if err != nil {
		return Identity{}, err
	}
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return Identity{}, errors.New("invalid signature")
	}
	return Identity{Subject: subject, Email: email, Roles: parseRoles(roles)}, nil
}

// Sign computes the signature header value a gateway sends alongside the identity
// headers.
func Sign(secret, ts, method, path, requestID, subject, email, roles string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("internal auth secret is required")
	}
	if strings.TrimSpace(ts) == "" {
		return "", errors.New("timestamp is required")
	}
	msg := strings.Join([]string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		strings.TrimSpace(requestID),
		strings.TrimSpace(subject),
		strings.TrimSpace(email),
		strings.TrimSpace(roles),
	}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(msg)); err != nil {
		return "", fmt.Errorf("hmac: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func verifyTimestamp(ts string, now time.Time, maxSkew time.Duration) error {
	parsed, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		return nil
	}
	at := time.Unix(parsed, 0).UTC()
	if at.After(now.Add(maxSkew)) || at.Before(now.Add(-maxSkew)) {
		return errors.New("timestamp outside allowed skew")
	}
	return nil
}
