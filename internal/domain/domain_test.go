package domain

import (
	"errors"
	"testing"
)

func TestObjectCloneIsDeep(t *testing.T) {
	orig := Object{"nested": map[string]any{"k": "v"}, "list": []any{map[string]any{"a": 1.0}}}
	clone := orig.Clone()

	clone["nested"].(map[string]any)["k"] = "changed"
	clone["list"].([]any)[0].(map[string]any)["a"] = 2.0

	if got := orig["nested"].(map[string]any)["k"]; got != "v" {
		t.Fatalf("nested value mutated: %v", got)
	}
	if got := orig["list"].([]any)[0].(map[string]any)["a"]; got != 1.0 {
		t.Fatalf("list value mutated: %v", got)
	}
}

func TestNilCloneReturnsEmpty(t *testing.T) {
	var meta Metadata
	if got := meta.Clone(); got == nil || len(got) != 0 {
		t.Fatalf("Clone() = %#v, want empty metadata", got)
	}
	var obj Object
	if got := obj.Clone(); got == nil || len(got) != 0 {
		t.Fatalf("Clone() = %#v, want empty object", got)
	}
}

func TestParseRevisionKind(t *testing.T) {
	cases := map[string]RevisionKind{"create": RevisionCreate, " PATCH ": RevisionPatch, "Delete": RevisionDelete}
	for in, want := range cases {
		got, ok := ParseRevisionKind(in)
		if !ok || got != want {
			t.Fatalf("ParseRevisionKind(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseRevisionKind("UPSERT"); ok {
		t.Fatalf("expected UPSERT to be rejected")
	}
}

func TestRevisionValidate(t *testing.T) {
	rev := DatasetExampleRevision{ID: "r", DatasetID: "d", ExampleID: "e", VersionID: "v", VersionOrdinal: 1, Kind: RevisionCreate}
	if err := rev.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	rev.Kind = "UPSERT"
	if err := rev.Validate(); err == nil {
		t.Fatalf("expected invalid kind error")
	}
}

func TestErrorSentinels(t *testing.T) {
	if !errors.Is(&NotFoundError{ExampleID: "e", Reason: NotFoundDeleted}, ErrNotFound) {
		t.Fatalf("NotFoundError must match ErrNotFound")
	}
	if !errors.Is(&UnknownVersionError{VersionID: "v"}, ErrUnknownVersion) {
		t.Fatalf("UnknownVersionError must match ErrUnknownVersion")
	}
	if !errors.Is(Invalid("bad %s", "input"), ErrValidation) {
		t.Fatalf("ValidationError must match ErrValidation")
	}
	var nf *NotFoundError
	if !errors.As(errors.Join(errors.New("wrap"), &NotFoundError{Reason: NotFoundNoRevision}), &nf) || nf.Reason != NotFoundNoRevision {
		t.Fatalf("expected NotFoundError detail to survive wrapping")
	}
}

func TestAnnotationValidateRejectsScoreWithError(t *testing.T) {
	score := 1.0
	a := ExperimentAnnotation{ID: "a", ExperimentRunID: "r", Name: "n", AnnotatorKind: AnnotatorCode, Score: &score, Error: "boom"}
	if err := a.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}
