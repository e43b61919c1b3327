package docservice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/richfilter/internal/apperr"
	"github.com/starford/richfilter/internal/checksum"
	"github.com/starford/richfilter/internal/index"
	"github.com/starford/richfilter/internal/testutil"
)

func newTestService(t *testing.T) (string, *Service) {
	t.Helper()
	vault, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	return vault, NewService(store, db, testutil.Pipeline())
}

func TestCreate_SanitizesAndIndexes(t *testing.T) {
	vault, svc := newTestService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "drafts/a.json", []byte(testutil.DirtyDoc))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Report == nil || d.Report.Total() != 3 {
		t.Fatalf("report = %+v, want 3 rewrites", d.Report)
	}
	if len(d.EntityTypes) != 0 {
		t.Errorf("entity types = %v, inline image should be gone", d.EntityTypes)
	}

	onDisk, err := os.ReadFile(filepath.Join(vault, "drafts", "a.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != d.Content || checksum.Sum(onDisk) != d.Checksum {
		t.Error("stored bytes should match the returned content")
	}
	if strings.Contains(d.Content, "UNDERLINE") {
		t.Error("disallowed style should be stripped before storing")
	}

	items, total, err := svc.List(ctx, 10, 0, "")
	if err != nil || total != 1 || items[0].Path != "drafts/a.json" {
		t.Errorf("List = %+v, %d, %v", items, total, err)
	}

	runs, _ := svc.Runs(ctx, "drafts/a.json", 10)
	if len(runs) != 1 || runs[0].Source != index.SourceAPI || !runs[0].Changed {
		t.Errorf("runs = %+v", runs)
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))
	if _, err := svc.Create(ctx, "a.json", []byte(testutil.CleanDoc)); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreate_Invalid(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a.json", []byte("{oops")); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Errorf("err = %v, want ErrInvalidDocument", err)
	}
	for _, p := range []string{"", "../escape.json", "/abs.json", "notes.md", "a/.hidden.json", "a//b.json"} {
		if _, err := svc.Create(ctx, p, []byte(testutil.CleanDoc)); !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("path %q: err = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestGet(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))

	d, err := svc.Get(ctx, "a.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Title != "Release notes" || d.Checksum != created.Checksum || d.Blocks != 2 {
		t.Errorf("detail = %+v", d)
	}
	if d.Report != nil {
		t.Error("Get should not report a filter run")
	}

	if _, err := svc.Get(ctx, "missing.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_IfMatch(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))

	if _, err := svc.Update(ctx, "a.json", []byte(testutil.DirtyDoc), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	d, err := svc.Update(ctx, "a.json", []byte(testutil.DirtyDoc), created.Checksum)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.Report.Total() != 3 || d.Title != "Draft" {
		t.Errorf("detail = %+v", d)
	}

	if _, err := svc.Update(ctx, "missing.json", []byte(testutil.CleanDoc), ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_YAMLPathKeepsYAML(t *testing.T) {
	vault, svc := newTestService(t)
	ctx := context.Background()
	testutil.WriteFile(t, vault, "a.yaml", "blocks: []\n")

	d, err := svc.Update(ctx, "a.yaml", []byte(testutil.DirtyDoc), "")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.Format != "yaml" || strings.HasPrefix(d.Content, "{") {
		t.Errorf("format = %q content = %q", d.Format, d.Content)
	}
}

func TestMove(t *testing.T) {
	vault, svc := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))

	d, err := svc.Move(ctx, "a.json", "archive/b.yaml")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if d.Path != "archive/b.yaml" || d.Format != "yaml" {
		t.Errorf("detail = %+v", d)
	}
	if _, err := os.Stat(filepath.Join(vault, "a.json")); !os.IsNotExist(err) {
		t.Error("old file should be gone")
	}
	if _, err := svc.Get(ctx, "archive/b.yaml"); err != nil {
		t.Errorf("Get moved: %v", err)
	}
	_, total, _ := svc.List(ctx, 10, 0, "")
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestMove_TargetExists(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))
	_, _ = svc.Create(ctx, "b.json", []byte(testutil.CleanDoc))

	if _, err := svc.Move(ctx, "a.json", "b.json"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
	if _, err := svc.Move(ctx, "missing.json", "c.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))

	if err := svc.Delete(ctx, "a.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, "a.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	_, total, _ := svc.List(ctx, 10, 0, "")
	if total != 0 {
		t.Errorf("total = %d after delete", total)
	}
}

func TestFilter_Stateless(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Filter(ctx, []byte(testutil.DirtyDoc))
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !res.Changed || res.Report.EntitiesStripped != 1 || res.Format != "json" {
		t.Errorf("result = %+v", res)
	}

	clean, _ := svc.Filter(ctx, []byte(testutil.CleanDoc))
	if clean.Changed || clean.Content != testutil.CleanDoc {
		t.Error("clean payload should come back byte-for-byte")
	}

	_, total, _ := svc.List(ctx, 10, 0, "")
	runs, _ := svc.Runs(ctx, "", 10)
	if total != 0 || len(runs) != 0 {
		t.Error("Filter must not store anything")
	}
}

func TestSearchAndPolicy(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))

	hits, err := svc.Search(ctx, "docs", 10)
	if err != nil || len(hits) != 1 {
		t.Errorf("Search = %+v, %v", hits, err)
	}

	pol := svc.Policy()
	if pol.MaxListNesting != 4 || len(pol.EntityTypes) == 0 {
		t.Errorf("policy = %+v", pol)
	}
}

func TestWithSource(t *testing.T) {
	_, store := testutil.TestVault(t)
	svc := NewService(store, testutil.TestDB(t), testutil.Pipeline(), WithSource(index.SourceMCP))
	ctx := context.Background()
	_, _ = svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))
	runs, _ := svc.Runs(ctx, "a.json", 1)
	if len(runs) != 1 || runs[0].Source != index.SourceMCP {
		t.Errorf("runs = %+v", runs)
	}
}

func TestWithNotifier(t *testing.T) {
	_, store := testutil.TestVault(t)
	var events []string
	svc := NewService(store, testutil.TestDB(t), testutil.Pipeline(), WithNotifier(func(kind, path string) {
		events = append(events, kind+":"+path)
	}))
	ctx := context.Background()

	_, _ = svc.Create(ctx, "a.json", []byte(testutil.DirtyDoc))
	_, _ = svc.Update(ctx, "a.json", []byte(testutil.CleanDoc), "")
	_, _ = svc.Move(ctx, "a.json", "b.json")
	_ = svc.Delete(ctx, "b.json")

	want := []string{
		"created:a.json", "filtered:a.json",
		"updated:a.json",
		"deleted:a.json", "created:b.json",
		"deleted:b.json",
	}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestRender(t *testing.T) {
	vault, svc := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "a.json", []byte(testutil.CleanDoc))

	out, err := svc.Render(ctx, "a.json")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "<h2>Release notes</h2>") || !strings.Contains(out, "<strong>Read</strong>") {
		t.Errorf("html = %s", out)
	}

	// Files the watcher has not seen yet are filtered before rendering.
	testutil.WriteFile(t, vault, "raw.json", testutil.DirtyDoc)
	out, err = svc.Render(ctx, "raw.json")
	if err != nil {
		t.Fatalf("Render raw: %v", err)
	}
	if strings.Contains(out, "<h1>") || strings.Contains(out, "<u>") {
		t.Errorf("unsanitized html = %s", out)
	}

	if _, err := svc.Render(ctx, "missing.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFilterHTML(t *testing.T) {
	_, svc := newTestService(t)
	out, report, err := svc.FilterHTML(context.Background(), []byte(testutil.DirtyDoc))
	if err != nil {
		t.Fatalf("FilterHTML: %v", err)
	}
	if report.Total() != 3 || !strings.Contains(out, "<p>Draft</p>") {
		t.Errorf("html = %s report = %+v", out, report)
	}
}
