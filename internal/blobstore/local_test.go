package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLocal(t *testing.T) *Local {
	t.Helper()
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	return backend
}

func TestLocalRoundTrip(t *testing.T) {
	backend := testLocal(t)
	ctx := context.Background()

	sink, err := backend.Create(ctx, CreateOptions{Key: ObjectKey("tk-abc123", 1, 0)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := io.WriteString(sink, "hello blob"); err != nil {
		t.Fatalf("write: %v", err)
	}

	loc, err := sink.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if loc.Kind != KindFilesystem || loc.Path == "" {
		t.Fatalf("unexpected locator: %+v", loc)
	}

	rc, err := backend.Open(ctx, loc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello blob" {
		t.Fatalf("expected round-trip bytes, got %q", data)
	}
}

func TestLocalLocatorSurvivesEncode(t *testing.T) {
	backend := testLocal(t)
	ctx := context.Background()

	sink, err := backend.Create(ctx, CreateOptions{Key: ObjectKey("tk-enc", 2, 1)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := io.WriteString(sink, "x"); err != nil {
		t.Fatalf("write: %v", err)
	}
	loc, err := sink.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// The registry stores the encoded form; reading back must work from it.
	raw, err := loc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := ParseLocator(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rc, err := backend.Open(ctx, parsed)
	if err != nil {
		t.Fatalf("open from parsed locator: %v", err)
	}
	rc.Close()
}

func TestLocalAbortLeavesNothing(t *testing.T) {
	root := t.TempDir()
	backend, err := NewLocal(root)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	sink, err := backend.Create(ctx, CreateOptions{Key: "tk-abort_01_000"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := io.WriteString(sink, "partial data"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Abort(ctx); err != nil {
		t.Fatalf("abort: %v", err)
	}

	var files []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files after abort, got %v", files)
	}

	// Abort twice is safe, writes after abort are not.
	if err := sink.Abort(ctx); err != nil {
		t.Fatalf("second abort: %v", err)
	}
	if _, err := io.WriteString(sink, "more"); err == nil {
		t.Fatal("expected write after abort to fail")
	}
}

func TestLocalOpenMissing(t *testing.T) {
	backend := testLocal(t)
	ctx := context.Background()

	_, err := backend.Open(ctx, Locator{Kind: KindFilesystem, Path: "objects/ab/tk-gone_01_000"})
	if !errors.Is(err, ErrObjectMissing) {
		t.Fatalf("expected ErrObjectMissing, got %v", err)
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	backend := testLocal(t)
	ctx := context.Background()

	sink, err := backend.Create(ctx, CreateOptions{Key: "tk-del_01_000"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := io.WriteString(sink, "bye"); err != nil {
		t.Fatalf("write: %v", err)
	}
	loc, err := sink.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := backend.Delete(ctx, loc); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := backend.Delete(ctx, loc); err != nil {
		t.Fatalf("repeated delete must be safe: %v", err)
	}
	if _, err := backend.Open(ctx, loc); !errors.Is(err, ErrObjectMissing) {
		t.Fatalf("expected ErrObjectMissing after delete, got %v", err)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	backend := testLocal(t)
	ctx := context.Background()

	if _, err := backend.Create(ctx, CreateOptions{Key: "../escape"}); err == nil {
		t.Fatal("expected traversal key rejected")
	}
	if _, err := backend.Open(ctx, Locator{Kind: KindFilesystem, Path: "../../etc/passwd"}); err == nil {
		t.Fatal("expected traversal locator rejected")
	}
	if _, err := backend.Open(ctx, Locator{Kind: KindFilesystem, Path: "/abs/path"}); err == nil {
		t.Fatal("expected absolute locator rejected")
	}
	if _, err := backend.Open(ctx, Locator{Kind: KindObjectStore, Bucket: "b", Key: "k"}); err == nil {
		t.Fatal("expected foreign locator kind rejected")
	}
}

func TestObjectKeyFormat(t *testing.T) {
	got := ObjectKey("tk-abc123", 3, 12)
	if got != "tk-abc123_03_012" {
		t.Fatalf("unexpected key format: %s", got)
	}
}

func TestParseLocatorErrors(t *testing.T) {
	if _, err := ParseLocator(""); err == nil {
		t.Fatal("expected error for empty locator")
	}
	if _, err := ParseLocator("not-json"); err == nil {
		t.Fatal("expected error for malformed locator")
	}
	if _, err := ParseLocator(`{"path":"x"}`); err == nil {
		t.Fatal("expected error for locator without kind")
	}
	loc, err := ParseLocator(`{"kind":"object_store","bucket":"drops","key":"tk-a_01_000"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Bucket != "drops" || loc.Key != "tk-a_01_000" {
		t.Fatalf("unexpected locator: %+v", loc)
	}
}

func TestShardedPathStable(t *testing.T) {
	first := shardedPath("tk-abc123_01_000")
	second := shardedPath("tk-abc123_01_000")
	if first != second {
		t.Fatalf("sharding must be deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "objects/") {
		t.Fatalf("expected objects/ prefix, got %s", first)
	}
}
