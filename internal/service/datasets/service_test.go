package datasets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/repo/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := memory.New()
	svc := New(store.Datasets(), store.Examples(), nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return svc
}

func mustDataset(t *testing.T, svc *Service) domain.Dataset {
	t.Helper()
	ds, err := svc.CreateDataset(context.Background(), CreateDatasetInput{Name: "dataset-" + NewID()})
	if err != nil {
		t.Fatalf("CreateDataset() err=%v", err)
	}
	return ds
}

func mustVersion(t *testing.T, svc *Service, datasetID string) domain.DatasetVersion {
	t.Helper()
	v, err := svc.CreateVersion(context.Background(), datasetID, VersionInput{})
	if err != nil {
		t.Fatalf("CreateVersion() err=%v", err)
	}
	return v
}

func mustAppend(t *testing.T, svc *Service, exampleID, versionID string, kind domain.RevisionKind, input, output string) domain.DatasetExampleRevision {
	t.Helper()
	rev, err := svc.Append(context.Background(), AppendRevisionInput{
		ExampleID: exampleID,
		VersionID: versionID,
		Kind:      kind,
		Input:     domain.Object{"input": input},
		Output:    domain.Object{"output": output},
	})
	if err != nil {
		t.Fatalf("Append(%s) err=%v", kind, err)
	}
	return rev
}

func TestResolvePatchedExample(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)

	v1, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, []Change{{
		Kind:   domain.RevisionCreate,
		Input:  domain.Object{"input": "first-input"},
		Output: domain.Object{"output": "first-output"},
	}})
	if err != nil {
		t.Fatalf("ApplyChanges(v1) err=%v", err)
	}
	exampleID := v1.Revisions[0].ExampleID
	if _, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, []Change{{
		Kind:      domain.RevisionPatch,
		ExampleID: exampleID,
		Input:     domain.Object{"input": "second-input"},
		Output:    domain.Object{"output": "second-output"},
	}}); err != nil {
		t.Fatalf("ApplyChanges(v2) err=%v", err)
	}

	latest, err := svc.Resolve(ctx, exampleID, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve(latest) err=%v", err)
	}
	if latest.Input["input"] != "second-input" || latest.Output["output"] != "second-output" {
		t.Fatalf("Resolve(latest) = %v / %v", latest.Input, latest.Output)
	}

	first, err := svc.Resolve(ctx, exampleID, ResolveOptions{VersionID: v1.Version.ID})
	if err != nil {
		t.Fatalf("Resolve(v1) err=%v", err)
	}
	if first.Input["input"] != "first-input" || first.Output["output"] != "first-output" {
		t.Fatalf("Resolve(v1) = %v / %v", first.Input, first.Output)
	}
}

func TestResolveInheritsAcrossEmptyVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	example, err := svc.CreateExample(ctx, ds.ID)
	if err != nil {
		t.Fatalf("CreateExample() err=%v", err)
	}
	v1 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v1.ID, domain.RevisionCreate, "one", "one")
	v2 := mustVersion(t, svc, ds.ID)
	v3 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v3.ID, domain.RevisionPatch, "three", "three")

	got, err := svc.Resolve(ctx, example.ID, ResolveOptions{VersionID: v2.ID})
	if err != nil {
		t.Fatalf("Resolve(v2) err=%v", err)
	}
	if got.Input["input"] != "one" {
		t.Fatalf("Resolve(v2) = %v, want version-1 content", got.Input)
	}
}

func TestResolveDefaultVersionPrecedence(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	example, _ := svc.CreateExample(ctx, ds.ID)
	v1 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v1.ID, domain.RevisionCreate, "one", "one")
	v2 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v2.ID, domain.RevisionPatch, "two", "two")

	got, err := svc.Resolve(ctx, example.ID, ResolveOptions{DefaultVersionID: v1.ID})
	if err != nil || got.Input["input"] != "one" {
		t.Fatalf("Resolve(default v1) = %v err=%v", got.Input, err)
	}
	got, err = svc.Resolve(ctx, example.ID, ResolveOptions{VersionID: v2.ID, DefaultVersionID: v1.ID})
	if err != nil || got.Input["input"] != "two" {
		t.Fatalf("explicit version must win over default: %v err=%v", got.Input, err)
	}
}

func TestResolveDeletedExample(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	example, _ := svc.CreateExample(ctx, ds.ID)
	v1 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v1.ID, domain.RevisionCreate, "one", "one")
	v2 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v2.ID, domain.RevisionDelete, "one", "one")
	v3 := mustVersion(t, svc, ds.ID)

	for _, v := range []domain.DatasetVersion{v2, v3} {
		_, err := svc.Resolve(ctx, example.ID, ResolveOptions{VersionID: v.ID})
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) || nf.Reason != domain.NotFoundDeleted {
			t.Fatalf("Resolve(v%d) err=%v, want deleted", v.Ordinal, err)
		}
		if nf.DeletedVersionID != v2.ID {
			t.Fatalf("deleted version = %s, want %s", nf.DeletedVersionID, v2.ID)
		}
	}
	if _, err := svc.Resolve(ctx, example.ID, ResolveOptions{VersionID: v1.ID}); err != nil {
		t.Fatalf("Resolve(v1) err=%v", err)
	}
}

func TestResolveNoRevisionYet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	example, _ := svc.CreateExample(ctx, ds.ID)
	v1 := mustVersion(t, svc, ds.ID)
	v2 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v2.ID, domain.RevisionCreate, "two", "two")

	_, err := svc.Resolve(ctx, example.ID, ResolveOptions{VersionID: v1.ID})
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Reason != domain.NotFoundNoRevision {
		t.Fatalf("Resolve(v1) err=%v, want no_revision", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound sentinel")
	}
}

func TestResolveUnknownVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	other := mustDataset(t, svc)
	example, _ := svc.CreateExample(ctx, ds.ID)
	v1 := mustVersion(t, svc, ds.ID)
	foreign := mustVersion(t, svc, other.ID)
	mustAppend(t, svc, example.ID, v1.ID, domain.RevisionCreate, "one", "one")

	if _, err := svc.Resolve(ctx, example.ID, ResolveOptions{VersionID: foreign.ID}); !errors.Is(err, domain.ErrUnknownVersion) {
		t.Fatalf("foreign version err=%v, want unknown version", err)
	}
	if _, err := svc.Resolve(ctx, example.ID, ResolveOptions{VersionID: "missing"}); !errors.Is(err, domain.ErrUnknownVersion) {
		t.Fatalf("missing version err=%v, want unknown version", err)
	}
	if _, err := svc.Resolve(ctx, "missing", ResolveOptions{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing example err=%v, want not found", err)
	}
}

func TestAppendRejectsDuplicateAndForeignVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	other := mustDataset(t, svc)
	example, _ := svc.CreateExample(ctx, ds.ID)
	v1 := mustVersion(t, svc, ds.ID)
	foreign := mustVersion(t, svc, other.ID)
	mustAppend(t, svc, example.ID, v1.ID, domain.RevisionCreate, "one", "one")

	_, err := svc.Append(ctx, AppendRevisionInput{ExampleID: example.ID, VersionID: v1.ID, Kind: domain.RevisionPatch})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate append err=%v, want conflict", err)
	}
	_, err = svc.Append(ctx, AppendRevisionInput{ExampleID: example.ID, VersionID: foreign.ID, Kind: domain.RevisionPatch})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("foreign version err=%v, want validation error", err)
	}
	_, err = svc.Append(ctx, AppendRevisionInput{ExampleID: example.ID, VersionID: v1.ID, Kind: "UPSERT"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad kind err=%v, want validation error", err)
	}

	history, err := svc.History(ctx, example.ID)
	if err != nil {
		t.Fatalf("History() err=%v", err)
	}
	if len(history) != 1 || history[0].Input["input"] != "one" {
		t.Fatalf("history = %+v, want the single original revision", history)
	}
}

func TestAppendRejectsSupersededVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	example, _ := svc.CreateExample(ctx, ds.ID)
	v1 := mustVersion(t, svc, ds.ID)
	mustAppend(t, svc, example.ID, v1.ID, domain.RevisionCreate, "one", "one")
	pinned, err := svc.Snapshot(ctx, ds.ID, v1.ID)
	if err != nil {
		t.Fatalf("Snapshot(v1) err=%v", err)
	}
	mustVersion(t, svc, ds.ID)

	late, _ := svc.CreateExample(ctx, ds.ID)
	_, err = svc.Append(ctx, AppendRevisionInput{ExampleID: late.ID, VersionID: v1.ID, Kind: domain.RevisionCreate, Input: domain.Object{"input": "late"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("append at superseded version err=%v, want validation error", err)
	}
	again, err := svc.Snapshot(ctx, ds.ID, v1.ID)
	if err != nil {
		t.Fatalf("Snapshot(v1) err=%v", err)
	}
	if len(again.Examples) != len(pinned.Examples) {
		t.Fatalf("v1 snapshot grew from %d to %d examples", len(pinned.Examples), len(again.Examples))
	}
}

// appendConcurrently races n Append calls for one (example, version) pair and
// counts successes and conflicts.
func appendConcurrently(t *testing.T, svc *Service, exampleID, versionID string, n int) (ok, conflicts int) {
	t.Helper()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		other []error
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := svc.Append(context.Background(), AppendRevisionInput{
				ExampleID: exampleID,
				VersionID: versionID,
				Kind:      domain.RevisionCreate,
				Input:     domain.Object{"writer": i},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	if len(other) > 0 {
		t.Fatalf("unexpected append errors: %v", other)
	}
	return ok, conflicts
}

func TestConcurrentAppendsToSamePairConflict(t *testing.T) {
	store := memory.New()
	svc := New(store.Datasets(), store.Examples(), nil)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	example, err := svc.CreateExample(ctx, ds.ID)
	if err != nil {
		t.Fatalf("CreateExample() err=%v", err)
	}
	v1 := mustVersion(t, svc, ds.ID)

	ok, conflicts := appendConcurrently(t, svc, example.ID, v1.ID, 32)
	if ok != 1 || conflicts != 31 {
		t.Fatalf("ok=%d conflict=%d, want 1 and 31", ok, conflicts)
	}
	history, err := svc.History(ctx, example.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("History() = %d err=%v, want one revision", len(history), err)
	}
}

func TestSnapshotExcludesDeletedAndKeepsOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)

	created, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, []Change{
		{Kind: domain.RevisionCreate, Input: domain.Object{"n": 1.0}},
		{Kind: domain.RevisionCreate, Input: domain.Object{"n": 2.0}},
		{Kind: domain.RevisionCreate, Input: domain.Object{"n": 3.0}},
	})
	if err != nil {
		t.Fatalf("ApplyChanges() err=%v", err)
	}
	deleted, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, []Change{
		{Kind: domain.RevisionDelete, ExampleID: created.Revisions[1].ExampleID},
	})
	if err != nil {
		t.Fatalf("ApplyChanges(delete) err=%v", err)
	}

	snap, err := svc.Snapshot(ctx, ds.ID, "")
	if err != nil {
		t.Fatalf("Snapshot() err=%v", err)
	}
	if snap.Version.ID != deleted.Version.ID {
		t.Fatalf("snapshot version = %s, want latest %s", snap.Version.ID, deleted.Version.ID)
	}
	if len(snap.Examples) != 2 {
		t.Fatalf("snapshot examples = %d, want 2", len(snap.Examples))
	}
	if snap.Examples[0].Example.ID != created.Revisions[0].ExampleID || snap.Examples[1].Example.ID != created.Revisions[2].ExampleID {
		t.Fatalf("snapshot order wrong: %+v", snap.Examples)
	}

	again, err := svc.Snapshot(ctx, ds.ID, deleted.Version.ID)
	if err != nil {
		t.Fatalf("Snapshot() err=%v", err)
	}
	for i := range again.Examples {
		if again.Examples[i].Example.ID != snap.Examples[i].Example.ID {
			t.Fatalf("snapshot not order-stable")
		}
	}

	old, err := svc.Snapshot(ctx, ds.ID, created.Version.ID)
	if err != nil {
		t.Fatalf("Snapshot(v1) err=%v", err)
	}
	if len(old.Examples) != 3 {
		t.Fatalf("snapshot v1 examples = %d, want 3", len(old.Examples))
	}
}

func TestSnapshotIsPointInTime(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	created, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, []Change{{Kind: domain.RevisionCreate, Input: domain.Object{"q": "a"}}})
	if err != nil {
		t.Fatalf("ApplyChanges() err=%v", err)
	}
	snap, err := svc.Snapshot(ctx, ds.ID, created.Version.ID)
	if err != nil {
		t.Fatalf("Snapshot() err=%v", err)
	}
	if _, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, []Change{{Kind: domain.RevisionCreate, Input: domain.Object{"q": "b"}}}); err != nil {
		t.Fatalf("ApplyChanges() err=%v", err)
	}
	if len(snap.Examples) != 1 {
		t.Fatalf("snapshot changed after later append: %d", len(snap.Examples))
	}
	later, _ := svc.Snapshot(ctx, ds.ID, created.Version.ID)
	if len(later.Examples) != 1 {
		t.Fatalf("re-read of v1 includes later revisions: %d", len(later.Examples))
	}
}

func TestSnapshotUnknownVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)
	other := mustDataset(t, svc)
	foreign := mustVersion(t, svc, other.ID)
	if _, err := svc.Snapshot(ctx, ds.ID, foreign.ID); !errors.Is(err, domain.ErrUnknownVersion) {
		t.Fatalf("Snapshot(foreign) err=%v", err)
	}
	if _, err := svc.Snapshot(ctx, "missing", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Snapshot(missing dataset) err=%v", err)
	}
}

func TestApplyChangesValidatesBeforeWriting(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ds := mustDataset(t, svc)

	_, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, []Change{
		{Kind: domain.RevisionCreate, Input: domain.Object{"a": 1.0}},
		{Kind: domain.RevisionPatch},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ApplyChanges() err=%v, want validation", err)
	}
	versions, err := svc.ListVersions(ctx, repo.DatasetVersionFilter{DatasetID: ds.ID})
	if err != nil {
		t.Fatalf("ListVersions() err=%v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("rejected change set created %d versions", len(versions))
	}
	if _, err := svc.ApplyChanges(ctx, ds.ID, VersionInput{}, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty change set err=%v", err)
	}
}

func TestCreateDatasetRequiresUniqueName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateDataset(ctx, CreateDatasetInput{Name: " "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank name err=%v", err)
	}
	if _, err := svc.CreateDataset(ctx, CreateDatasetInput{Name: "qa"}); err != nil {
		t.Fatalf("CreateDataset() err=%v", err)
	}
	if _, err := svc.CreateDataset(ctx, CreateDatasetInput{Name: "qa"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate name err=%v", err)
	}
	found, err := svc.FindDataset(ctx, "qa")
	if err != nil || found.Name != "qa" {
		t.Fatalf("FindDataset(name) = %+v err=%v", found, err)
	}
}

func TestParseJSONL(t *testing.T) {
	body := `{"input":{"q":"a"},"output":{"a":"b"},"metadata":{"tag":"x"}}

{"input":{"q":"c"}}
`
	changes, err := ParseJSONL(strings.NewReader(body), KeyMapping{})
	if err != nil {
		t.Fatalf("ParseJSONL() err=%v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].Output["a"] != "b" || changes[0].Metadata["tag"] != "x" {
		t.Fatalf("first change = %+v", changes[0])
	}

	mapped, err := ParseJSONL(strings.NewReader(`{"question":"q","answer":"a","src":"s"}`), KeyMapping{
		InputKeys: []string{"question"}, OutputKeys: []string{"answer"}, MetadataKeys: []string{"src"},
	})
	if err != nil {
		t.Fatalf("ParseJSONL(mapped) err=%v", err)
	}
	if mapped[0].Input["question"] != "q" || mapped[0].Output["answer"] != "a" || mapped[0].Metadata["src"] != "s" {
		t.Fatalf("mapped change = %+v", mapped[0])
	}

	if _, err := ParseJSONL(strings.NewReader(`{"input":"not-an-object"}`), KeyMapping{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	body := "question,answer,source\nwhat?,that,docs\nwho?,them,faq\n"
	changes, err := ParseCSV(strings.NewReader(body), KeyMapping{
		InputKeys: []string{"question"}, OutputKeys: []string{"answer"}, MetadataKeys: []string{"source"},
	})
	if err != nil {
		t.Fatalf("ParseCSV() err=%v", err)
	}
	if len(changes) != 2 || changes[1].Input["question"] != "who?" || changes[1].Output["answer"] != "them" {
		t.Fatalf("changes = %+v", changes)
	}
	if _, err := ParseCSV(strings.NewReader(body), KeyMapping{InputKeys: []string{"missing"}}); err == nil {
		t.Fatalf("expected missing column error")
	}
	if _, err := ParseCSV(strings.NewReader(body), KeyMapping{InputKeys: []string{"question"}, OutputKeys: []string{"question"}}); err == nil {
		t.Fatalf("expected duplicate mapping error")
	}
}
