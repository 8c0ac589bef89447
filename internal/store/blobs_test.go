package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"vrac/internal/models"
)

func testUploadToken(t *testing.T, st *Store, path string, now time.Time) *models.Token {
	t.Helper()
	token, err := st.CreateToken(context.Background(), testTokenSpec(path, time.Hour, now), now)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return token
}

func TestBeginAndCompleteBlob(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "blobs", now)

	attempt, err := st.NextAttempt(ctx, token.ID)
	if err != nil {
		t.Fatalf("next attempt: %v", err)
	}

	blob, err := st.BeginBlob(ctx, token.ID, attempt, "report.pdf", "application/pdf", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if blob.Completed() {
		t.Fatal("fresh blob must be incomplete")
	}

	// Incomplete blobs are invisible to downloads.
	live, err := st.ListLiveBlobs(ctx, token.ID)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no live blobs, got %d", len(live))
	}

	locator := `{"kind":"filesystem","path":"ab/cd/report"}`
	if err := st.CompleteBlob(ctx, blob.ID, locator, 2048, "application/pdf", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := st.GetBlob(ctx, blob.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Completed() || got.Locator != locator {
		t.Fatalf("expected completed blob with locator, got %+v", got)
	}

	md, err := st.GetBlobMetadata(ctx, blob.ID)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md == nil || md.SizeBytes != 2048 || md.MimeType != "application/pdf" {
		t.Fatalf("expected recorded metadata, got %+v", md)
	}
}

func TestCompleteBlobIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "idem", now)

	attempt, _ := st.NextAttempt(ctx, token.ID)
	blob, err := st.BeginBlob(ctx, token.ID, attempt, "a.txt", "", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	locator := `{"kind":"filesystem","path":"aa/bb/a"}`
	if err := st.CompleteBlob(ctx, blob.ID, locator, 10, "text/plain", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Identical call is a safe retry.
	if err := st.CompleteBlob(ctx, blob.ID, locator, 10, "text/plain", now.Add(time.Second)); err != nil {
		t.Fatalf("idempotent complete: %v", err)
	}

	// Different locator or size is a conflict.
	if err := st.CompleteBlob(ctx, blob.ID, `{"kind":"filesystem","path":"other"}`, 10, "text/plain", now); !errors.Is(err, ErrBlobConflict) {
		t.Fatalf("expected ErrBlobConflict on locator change, got %v", err)
	}
	if err := st.CompleteBlob(ctx, blob.ID, locator, 11, "text/plain", now); !errors.Is(err, ErrBlobConflict) {
		t.Fatalf("expected ErrBlobConflict on size change, got %v", err)
	}

	if err := st.CompleteBlob(ctx, "bl-zzzzzz", locator, 10, "", now); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestLiveBlobsAcrossAttempts(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "retry", now)

	// First attempt writes two blobs, then the client retries.
	first, _ := st.NextAttempt(ctx, token.ID)
	for i, name := range []string{"one.bin", "two.bin"} {
		blob, err := st.BeginBlob(ctx, token.ID, first, name, "", models.BackendFilesystem, now)
		if err != nil {
			t.Fatalf("begin %s: %v", name, err)
		}
		if err := st.CompleteBlob(ctx, blob.ID, `{"kind":"filesystem","path":"`+name+`"}`, int64(100+i), "", now); err != nil {
			t.Fatalf("complete %s: %v", name, err)
		}
	}

	second, err := st.NextAttempt(ctx, token.ID)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	winner, err := st.BeginBlob(ctx, token.ID, second, "final.bin", "", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin winner: %v", err)
	}
	if err := st.CompleteBlob(ctx, winner.ID, `{"kind":"filesystem","path":"final"}`, 5, "", now); err != nil {
		t.Fatalf("complete winner: %v", err)
	}

	live, err := st.ListLiveBlobs(ctx, token.ID)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 1 || live[0].ID != winner.ID {
		t.Fatalf("expected only the winning attempt's blob, got %+v", live)
	}

	stale, err := st.ListStaleBlobs(ctx)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale blobs, got %d", len(stale))
	}
	for _, blob := range stale {
		if blob.Attempt != first {
			t.Fatalf("stale blob from wrong attempt: %+v", blob)
		}
	}

	direct, err := st.GetLiveBlob(ctx, token.ID, winner.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if direct == nil {
		t.Fatal("winner must be fetchable")
	}
	hidden, err := st.GetLiveBlob(ctx, token.ID, stale[0].ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if hidden != nil {
		t.Fatal("stale blob must look missing")
	}
}

func TestSlowAttemptFinishingFirstLoses(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "interleaved", now)

	// Attempt A resolves and completes its blob, but attempt B claimed a
	// newer id while A was streaming. A must be told it lost; otherwise
	// the token would be consumed with no live content.
	first, _ := st.NextAttempt(ctx, token.ID)
	early, err := st.BeginBlob(ctx, token.ID, first, "early.bin", "", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin early: %v", err)
	}
	if err := st.CompleteBlob(ctx, early.ID, `{"kind":"filesystem","path":"early"}`, 7, "", now); err != nil {
		t.Fatalf("complete early: %v", err)
	}

	second, err := st.NextAttempt(ctx, token.ID)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if err := st.MarkUsed(ctx, token.ID, first, now); !errors.Is(err, ErrAttemptSuperseded) {
		t.Fatalf("expected ErrAttemptSuperseded, got %v", err)
	}

	// The token stays unused until the current attempt finishes.
	live, err := st.ListLiveBlobs(ctx, token.ID)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no live blobs yet, got %+v", live)
	}

	winner, err := st.BeginBlob(ctx, token.ID, second, "late.bin", "", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin winner: %v", err)
	}
	if err := st.CompleteBlob(ctx, winner.ID, `{"kind":"filesystem","path":"late"}`, 3, "", now); err != nil {
		t.Fatalf("complete winner: %v", err)
	}
	if err := st.MarkUsed(ctx, token.ID, second, now); err != nil {
		t.Fatalf("winner mark used: %v", err)
	}

	live, err = st.ListLiveBlobs(ctx, token.ID)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 1 || live[0].ID != winner.ID {
		t.Fatalf("expected the winner's blob to be live, got %+v", live)
	}
}

func TestLiveBlobsKeepUploadOrder(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "order", now)

	attempt, _ := st.NextAttempt(ctx, token.ID)
	names := []string{"c.txt", "a.txt", "b.txt"}
	for _, name := range names {
		blob, err := st.BeginBlob(ctx, token.ID, attempt, name, "", models.BackendFilesystem, now)
		if err != nil {
			t.Fatalf("begin %s: %v", name, err)
		}
		if err := st.CompleteBlob(ctx, blob.ID, `{"kind":"filesystem","path":"`+name+`"}`, 1, "", now); err != nil {
			t.Fatalf("complete %s: %v", name, err)
		}
	}

	live, err := st.ListLiveBlobs(ctx, token.ID)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 3 {
		t.Fatalf("expected 3 blobs, got %d", len(live))
	}
	for i, name := range names {
		if live[i].Name != name {
			t.Fatalf("expected upload order %v, got %s at %d", names, live[i].Name, i)
		}
	}
}

func TestStaleExcludesCurrentAttempt(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "inflight", now)

	attempt, _ := st.NextAttempt(ctx, token.ID)
	if _, err := st.BeginBlob(ctx, token.ID, attempt, "streaming.bin", "", models.BackendFilesystem, now); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// An in-flight blob of the current attempt must not be sweepable.
	stale, err := st.ListStaleBlobs(ctx)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale blobs, got %+v", stale)
	}
}

func TestExpiredBlobs(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	token := testUploadToken(t, st, "expiring", now)
	attempt, _ := st.NextAttempt(ctx, token.ID)
	blob, err := st.BeginBlob(ctx, token.ID, attempt, "doc.txt", "", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := st.CompleteBlob(ctx, blob.ID, `{"kind":"filesystem","path":"doc"}`, 1, "", now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := st.MarkUsed(ctx, token.ID, attempt, now); err != nil {
		t.Fatalf("mark used: %v", err)
	}

	expired, err := st.ListExpiredBlobs(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("live content must not be expired, got %+v", expired)
	}

	// 24h ttl from testTokenSpec.
	expired, err = st.ListExpiredBlobs(ctx, now.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != blob.ID {
		t.Fatalf("expected the blob after ttl, got %+v", expired)
	}

	// Soft delete expires content immediately.
	if _, err := st.SoftDelete(ctx, token.ID, now); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	expired, err = st.ListExpiredBlobs(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected blob of deleted token, got %+v", expired)
	}
}

func TestDeleteBlobIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "del", now)

	attempt, _ := st.NextAttempt(ctx, token.ID)
	blob, err := st.BeginBlob(ctx, token.ID, attempt, "x", "", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := st.CompleteBlob(ctx, blob.ID, `{"kind":"filesystem","path":"x"}`, 1, "", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := st.DeleteBlob(ctx, blob.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteBlob(ctx, blob.ID); err != nil {
		t.Fatalf("repeated delete must be safe: %v", err)
	}

	// Metadata cascades with the blob row.
	md, err := st.GetBlobMetadata(ctx, blob.ID)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md != nil {
		t.Fatalf("expected metadata gone, got %+v", md)
	}
}

func TestListBlobsMissingMetadata(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	token := testUploadToken(t, st, "backfill", now)

	attempt, _ := st.NextAttempt(ctx, token.ID)
	complete, err := st.BeginBlob(ctx, token.ID, attempt, "with-md", "", models.BackendFilesystem, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := st.CompleteBlob(ctx, complete.ID, `{"kind":"filesystem","path":"with"}`, 9, "", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Simulate a pre-metadata row by stripping the record.
	if _, err := st.db.ExecContext(ctx, "DELETE FROM blob_metadata WHERE blob_id = ?", complete.ID); err != nil {
		t.Fatalf("strip metadata: %v", err)
	}
	// Incomplete blobs never need backfill.
	if _, err := st.BeginBlob(ctx, token.ID, attempt, "incomplete", "", models.BackendFilesystem, now); err != nil {
		t.Fatalf("begin incomplete: %v", err)
	}

	missing, err := st.ListBlobsMissingMetadata(ctx)
	if err != nil {
		t.Fatalf("list missing: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != complete.ID {
		t.Fatalf("expected one backfill candidate, got %+v", missing)
	}

	if err := st.UpsertBlobMetadata(ctx, models.BlobMetadata{BlobID: complete.ID, SizeBytes: 9, MimeType: "text/plain"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	missing, err = st.ListBlobsMissingMetadata(ctx)
	if err != nil {
		t.Fatalf("list missing: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no candidates after backfill, got %+v", missing)
	}
}
