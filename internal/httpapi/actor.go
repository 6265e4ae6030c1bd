package httpapi

import (
	"context"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/auth"
)

const (
	MetaCreatedBy   = "created_by"
	MetaAnnotatedBy = "annotated_by"
)

// StampActor returns a copy of meta with the authenticated subject recorded under key.
// Requests without an identity leave meta unchanged.
func StampActor(ctx context.Context, meta domain.Metadata, key string) domain.Metadata {
	subject := auth.SubjectFromContext(ctx)
	if subject == "" {
		return meta
	}
	out := meta.Clone()
	out[key] = subject
	return out
}
