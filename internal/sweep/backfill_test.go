package sweep

import (
	"context"
	"io"
	"testing"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/models"
)

func TestBackfillNothingMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	token := f.createToken(t, "full-metadata", time.Hour, now)
	attempt, _ := f.store.NextAttempt(ctx, token.ID)
	f.writeBlob(t, token.ID, attempt, 0, now)

	filled, err := f.sweeper.BackfillMetadata(ctx)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if filled != 0 {
		t.Fatalf("expected nothing to backfill, got %d", filled)
	}
}

func TestMeasureBlobCountsAndSniffs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sink, err := f.backend.Create(ctx, blobstore.CreateOptions{Key: "tk-meas_01_000"})
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	payload := "<html><body>hello</body></html>"
	if _, err := io.WriteString(sink, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	loc, err := sink.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	encoded, err := loc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	md, err := f.sweeper.measureBlob(ctx, models.Blob{ID: "bl-meas", Locator: encoded})
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if md.SizeBytes != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", md.SizeBytes, len(payload))
	}
	if md.MimeType != "text/html; charset=utf-8" {
		t.Fatalf("mime = %q", md.MimeType)
	}
}
