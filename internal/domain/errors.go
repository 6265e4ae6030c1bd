package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrUnknownVersion = errors.New("unknown version")
)

// ValidationError reports malformed input rejected before any write.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundReason distinguishes why a lookup produced no live record.
type NotFoundReason string

const (
	NotFoundNoRevision     NotFoundReason = "no_revision"
	NotFoundDeleted        NotFoundReason = "deleted"
	NotFoundUnknownExample NotFoundReason = "unknown_example"
)

// NotFoundError is returned when an example has no live revision as of a version.
type NotFoundError struct {
	ExampleID string
	// VersionID is the cursor the lookup was resolved against.
	VersionID string
	// DeletedVersionID is the version whose DELETE revision hid the example.
	DeletedVersionID string
	Reason           NotFoundReason
}

func (e *NotFoundError) Error() string {
	switch e.Reason {
	case NotFoundDeleted:
		return fmt.Sprintf("example %s deleted in version %s (as of %s)", e.ExampleID, e.DeletedVersionID, e.VersionID)
	case NotFoundUnknownExample:
		return fmt.Sprintf("example %s not found", e.ExampleID)
	default:
		return fmt.Sprintf("example %s has no revision as of version %s", e.ExampleID, e.VersionID)
	}
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// UnknownVersionError is returned when a version cursor is outside the example's dataset.
type UnknownVersionError struct {
	VersionID string
	DatasetID string
}

func (e *UnknownVersionError) Error() string {
	if e.DatasetID == "" {
		return fmt.Sprintf("unknown version %s", e.VersionID)
	}
	return fmt.Sprintf("version %s does not belong to dataset %s", e.VersionID, e.DatasetID)
}

func (e *UnknownVersionError) Is(target error) bool {
	return target == ErrUnknownVersion
}
