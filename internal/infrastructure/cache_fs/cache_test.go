package cache_fs

import (
	"context"
	"os"
	"testing"

	"github.com/davarch/buildlight/internal/domain"
)

func snapshot(name, status string, inError bool) domain.Snapshot {
	return domain.Snapshot{
		Project:   domain.Project{Name: name, Ref: domain.ProjectRef{ProjectID: "group/" + name, Ref: "main"}, Outputs: domain.DefaultOutputs},
		State:     domain.ProjectState{Current: status, Previous: "success", InError: inError},
		Build:     domain.Build{ID: 1, Ref: "main", Status: status, CommitSHA: "eb94b618fb5865b26e80fdd8ae531b7a63ad851a"},
		Retrieved: 123,
	}
}

func TestCache_WriteCreatesFile(t *testing.T) {
	tmp := t.TempDir()
	path := tmp + "/snap.json"

	c := New(path)
	if err := c.Write(context.Background(), snapshot("api", "success", false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Class != "success" || len(doc.Projects) != 1 || doc.Projects[0].SHA != "eb94b618" {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestCache_KeepsOneEntryPerProject(t *testing.T) {
	path := t.TempDir() + "/snap.json"
	c := New(path)
	ctx := context.Background()

	_ = c.Write(ctx, snapshot("api", "success", false))
	_ = c.Write(ctx, snapshot("web", "running", false))
	_ = c.Write(ctx, snapshot("api", "failed", false))

	doc, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Projects) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(doc.Projects))
	}
	if doc.Projects[0].Name != "api" || doc.Projects[0].Status != "failed" {
		t.Errorf("api entry not updated in place: %+v", doc.Projects[0])
	}
	if doc.Class != "failed" || doc.Text != "CI ✗ 1" {
		t.Errorf("class/text = %q/%q", doc.Class, doc.Text)
	}
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		entries []Entry
		class   string
	}{
		{[]Entry{{Status: "success"}}, "success"},
		{[]Entry{{Status: "success"}, {Status: "running"}}, "pending"},
		{[]Entry{{Status: "running"}, {Status: "success", Error: true}}, "failed"},
	}
	for _, tc := range cases {
		if got, _ := summarize(tc.entries); got != tc.class {
			t.Errorf("summarize(%+v) = %q, want %q", tc.entries, got, tc.class)
		}
	}
}

func TestCache_EmptyPath(t *testing.T) {
	if err := New("").Write(context.Background(), snapshot("api", "success", false)); err == nil {
		t.Fatal("expected error")
	}
}

func TestCache_ForgetDropsEntryAndRecomputesClass(t *testing.T) {
	path := t.TempDir() + "/snap.json"
	c := New(path)
	ctx := context.Background()

	failing := snapshot("api", "failed", false)
	_ = c.Write(ctx, failing)
	_ = c.Write(ctx, snapshot("web", "success", false))

	if err := c.Forget(ctx, failing.Project.Key()); err != nil {
		t.Fatal(err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Projects) != 1 || doc.Projects[0].Name != "web" {
		t.Fatalf("unexpected projects %+v", doc.Projects)
	}
	if doc.Class != "success" || doc.Text != "CI ✓" {
		t.Errorf("class = %q text = %q, want success", doc.Class, doc.Text)
	}

	if err := c.Forget(ctx, "unknown"); err != nil {
		t.Errorf("forget of unknown key: %v", err)
	}
}
