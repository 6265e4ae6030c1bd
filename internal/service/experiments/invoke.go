package experiments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/animus-evals/internal/domain"
)

type outcome[T any] struct {
	value    T
	err      error
	panicked bool
	panicMsg string
}

// invoke runs fn with an optional timeout. fn runs on its own goroutine so a callee
// that ignores ctx is abandoned when ctx ends instead of blocking the caller.
func invoke[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, *domain.RunFailure) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, contextFailure(err, timeout)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- outcome[T]{panicked: true, panicMsg: fmt.Sprint(v)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.panicked {
			return zero, &domain.RunFailure{Kind: domain.FailurePanic, Message: out.panicMsg}
		}
		if out.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(out.err, ctxErr) {
				return zero, contextFailure(ctxErr, timeout)
			}
			return zero, &domain.RunFailure{Kind: domain.FailureTaskError, Message: out.err.Error()}
		}
		return out.value, nil
	case <-ctx.Done():
		return zero, contextFailure(ctx.Err(), timeout)
	}
}

func contextFailure(err error, timeout time.Duration) *domain.RunFailure {
	if errors.Is(err, context.DeadlineExceeded) {
		msg := "deadline exceeded"
		if timeout > 0 {
			msg = fmt.Sprintf("exceeded timeout of %s", timeout)
		}
		return &domain.RunFailure{Kind: domain.FailureTimeout, Message: msg}
	}
	return &domain.RunFailure{Kind: domain.FailureCanceled, Message: err.Error()}
}

// normalizeOutput round-trips a task result through JSON so stored outputs are plain
// maps, slices and scalars regardless of backend.
func normalizeOutput(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
