package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	uri, err := store.Save(context.Background(), "course/2026-01-10-lecture-1/abc_upload.csv", []byte("a,b\n1,2\n"), "text/csv")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("expected file:// URI, got %q", uri)
	}

	data, err := store.Load(context.Background(), uri)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("unexpected content %q", data)
	}

	if err := store.Delete(context.Background(), uri); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(context.Background(), uri); err == nil {
		t.Error("expected load error after delete")
	}
	// Deleting again must be a no-op.
	if err := store.Delete(context.Background(), uri); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	paths := []string{
		"../outside.csv",
		"a/../../outside.csv",
		"../../etc/passwd",
	}
	for _, path := range paths {
		_, err := store.Save(context.Background(), path, []byte("x"), "")
		if err == nil {
			t.Errorf("Save(%q): expected traversal rejection", path)
			continue
		}
		var serr *Error
		if !errors.As(err, &serr) {
			t.Errorf("Save(%q): expected *storage.Error, got %T", path, err)
		}
	}
}

func TestLocalStoreRejectsForeignURI(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	outside := filepath.Join(filepath.Dir(dir), "other.csv")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(outside)

	if _, err := store.Load(context.Background(), "file://"+outside); err == nil {
		t.Error("expected rejection of URI outside the upload root")
	}
	if _, err := store.Load(context.Background(), "s3://bucket/key"); err == nil {
		t.Error("expected rejection of non-file URI")
	}
}

func TestBuildPath(t *testing.T) {
	path := BuildPath("Intro to Statistics", "2026-01-10", 3, "Survey Results.CSV")

	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		t.Fatalf("expected 3 segments, got %v", parts)
	}
	if parts[0] != "intro-to-statistics" {
		t.Errorf("unexpected course slug %q", parts[0])
	}
	if parts[1] != "2026-01-10-lecture-3" {
		t.Errorf("unexpected lecture segment %q", parts[1])
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}_survey-results\.csv$`).MatchString(parts[2]) {
		t.Errorf("unexpected file segment %q", parts[2])
	}

	// Two uploads of the same file never collide.
	if other := BuildPath("Intro to Statistics", "2026-01-10", 3, "Survey Results.CSV"); other == path {
		t.Error("expected unique paths per upload")
	}
}

func TestBuildPathDefaultsFilename(t *testing.T) {
	path := BuildPath("統計学", "2026-01-10", 1, "")
	if !strings.HasSuffix(path, "_uploaded.csv") {
		t.Errorf("expected default filename, got %q", path)
	}
	// Non-ASCII course names collapse to the placeholder slug.
	if !strings.HasPrefix(path, "value/") {
		t.Errorf("expected placeholder slug, got %q", path)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in          string
		allowPeriod bool
		want        string
	}{
		{"Hello World", false, "hello-world"},
		{"  A--B  ", false, "a-b"},
		{"data.csv", true, "data.csv"},
		{"data.csv", false, "data-csv"},
		{"###", false, "value"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in, tt.allowPeriod); got != tt.want {
			t.Errorf("slugify(%q, %v) = %q, want %q", tt.in, tt.allowPeriod, got, tt.want)
		}
	}
}

func TestS3KeyFromURI(t *testing.T) {
	store := &S3Store{bucket: "surveys"}

	key, err := store.keyFromURI("s3://surveys/course/file.csv")
	if err != nil {
		t.Fatalf("keyFromURI: %v", err)
	}
	if key != "course/file.csv" {
		t.Errorf("unexpected key %q", key)
	}

	if _, err := store.keyFromURI("s3://other/file.csv"); err == nil {
		t.Error("expected bucket mismatch error")
	}
	if _, err := store.keyFromURI("file:///tmp/x"); err == nil {
		t.Error("expected scheme error")
	}
	if _, err := store.keyFromURI("s3://surveys"); err == nil {
		t.Error("expected missing-key error")
	}
}

func TestS3ObjectKeyPrefix(t *testing.T) {
	withPrefix := &S3Store{bucket: "b", prefix: normalizePrefix("/uploads/raw/")}
	if got := withPrefix.objectKey("a/b.csv"); got != "uploads/raw/a/b.csv" {
		t.Errorf("unexpected key %q", got)
	}
	noPrefix := &S3Store{bucket: "b"}
	if got := noPrefix.objectKey("/a//b.csv"); got != "a/b.csv" {
		t.Errorf("unexpected key %q", got)
	}
}
