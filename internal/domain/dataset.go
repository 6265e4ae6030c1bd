package domain

import (
	"errors"
	"strings"
	"time"
)

// Dataset is a named collection of examples.
type Dataset struct {
	ID          string
	Name        string
	Description string
	Metadata    Metadata
	CreatedAt   time.Time
}

// DatasetVersion is an ordered checkpoint within a dataset's history. It stores no
// content; revisions are attached to it.
type DatasetVersion struct {
	ID          string
	DatasetID   string
	Ordinal     int64
	Description string
	Metadata    Metadata
	CreatedAt   time.Time
}

// DatasetExample is a stable example identity. Content lives in revisions.
type DatasetExample struct {
	ID        string
	DatasetID string
	CreatedAt time.Time
}

type RevisionKind string

const (
	RevisionCreate RevisionKind = "CREATE"
	RevisionPatch  RevisionKind = "PATCH"
	RevisionDelete RevisionKind = "DELETE"
)

func ParseRevisionKind(v string) (RevisionKind, bool) {
	switch RevisionKind(strings.ToUpper(strings.TrimSpace(v))) {
	case RevisionCreate:
		return RevisionCreate, true
	case RevisionPatch:
		return RevisionPatch, true
	case RevisionDelete:
		return RevisionDelete, true
	default:
		return "", false
	}
}

// DatasetExampleRevision is an immutable fact about an example at one version.
// DELETE revisions carry the last known content but denote absence.
type DatasetExampleRevision struct {
	ID             string
	DatasetID      string
	ExampleID      string
	VersionID      string
	VersionOrdinal int64
	Input          Object
	Output         Object
	Metadata       Metadata
	Kind           RevisionKind
	CreatedAt      time.Time
}

func (r DatasetExampleRevision) Clone() DatasetExampleRevision {
	r.Input = r.Input.Clone()
	r.Output = r.Output.Clone()
	r.Metadata = r.Metadata.Clone()
	return r
}

// SnapshotExample pairs an example with its effective revision.
type SnapshotExample struct {
	Example  DatasetExample
	Revision DatasetExampleRevision
}

// Snapshot is the materialized set of live examples as of one version, in example
// creation order.
type Snapshot struct {
	Dataset  Dataset
	Version  DatasetVersion
	Examples []SnapshotExample
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("dataset name is required")
	}
	return nil
}

func (v DatasetVersion) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return errors.New("dataset version id is required")
	}
	if strings.TrimSpace(v.DatasetID) == "" {
		return errors.New("dataset id is required")
	}
	if v.Ordinal < 1 {
		return errors.New("dataset version ordinal must be >= 1")
	}
	return nil
}

func (e DatasetExample) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("example id is required")
	}
	if strings.TrimSpace(e.DatasetID) == "" {
		return errors.New("dataset id is required")
	}
	return nil
}

func (r DatasetExampleRevision) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("revision id is required")
	}
	if strings.TrimSpace(r.DatasetID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(r.ExampleID) == "" {
		return errors.New("example id is required")
	}
	if strings.TrimSpace(r.VersionID) == "" {
		return errors.New("version id is required")
	}
	if r.VersionOrdinal < 1 {
		return errors.New("version ordinal must be >= 1")
	}
	if _, ok := ParseRevisionKind(string(r.Kind)); !ok {
		return errors.New("revision kind must be CREATE, PATCH or DELETE")
	}
	return nil
}
