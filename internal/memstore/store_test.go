package memstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mnemo/internal/logging"
	"mnemo/internal/memstore"
)

func openStore(t *testing.T) *memstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memories.db")
	store, err := memstore.Open(context.Background(), path, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIngestAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record, err := store.Ingest(ctx, "prefers tabs over spaces in Go files", []string{"style", "style", " "}, "editor")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if record.ID == "" || record.CreatedAt.IsZero() {
		t.Fatalf("incomplete record %+v", record)
	}
	if len(record.Tags) != 1 || record.Tags[0] != "style" {
		t.Fatalf("tags not normalized: %v", record.Tags)
	}

	got, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != record.Text || got.Source != "editor" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(record.CreatedAt) {
		t.Fatalf("created_at drifted: %s vs %s", got.CreatedAt, record.CreatedAt)
	}

	if _, err := store.Get(ctx, "no-such-id"); !errors.Is(err, memstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngestRejectsEmptyText(t *testing.T) {
	store := openStore(t)
	if _, err := store.Ingest(context.Background(), "   ", nil, ""); err == nil {
		t.Fatal("empty text must be rejected")
	}
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	seed := []struct {
		text string
		tags []string
	}{
		{"the build uses make lint before every commit", []string{"build"}},
		{"database migrations run at worker startup", []string{"database"}},
		{"build artifacts for the database layer live in dist/", []string{"build", "database"}},
		{"lunch is at noon", nil},
	}
	for _, s := range seed {
		if _, err := store.Ingest(ctx, s.text, s.tags, ""); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	hits, err := store.Retrieve(ctx, "build database", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	// The record matching both terms plus both tags must rank first.
	if hits[0].Text != "build artifacts for the database layer live in dist/" {
		t.Fatalf("wrong top hit: %q (score %.2f)", hits[0].Text, hits[0].Score)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("hits not sorted by score: %v", hits)
		}
	}

	hits, err = store.Retrieve(ctx, "kubernetes", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for unrelated query, got %d", len(hits))
	}
}

func TestRetrieveEmptyQueryListsRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		if _, err := store.Ingest(ctx, text, nil, ""); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	hits, err := store.Retrieve(ctx, "", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Text != "third" || hits[1].Text != "second" {
		t.Fatalf("recent list out of order: %q, %q", hits[0].Text, hits[1].Text)
	}
}

func TestForget(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record, err := store.Ingest(ctx, "temporary note", nil, "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	removed, err := store.Forget(ctx, record.ID)
	if err != nil || !removed {
		t.Fatalf("Forget: removed=%v err=%v", removed, err)
	}
	removed, err = store.Forget(ctx, record.ID)
	if err != nil || removed {
		t.Fatalf("second Forget must be a miss: removed=%v err=%v", removed, err)
	}
}

func TestStatsAndPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("empty store total = %d", stats.Total)
	}

	for _, text := range []string{"a", "b", "c"} {
		if _, err := store.Ingest(ctx, text, nil, ""); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.Oldest.IsZero() || stats.Newest.Before(stats.Oldest) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	pruned, err := store.Prune(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 3 {
		t.Fatalf("pruned %d, want 3", pruned)
	}
	stats, _ = store.Stats(ctx)
	if stats.Total != 0 {
		t.Fatalf("store not empty after prune: %d", stats.Total)
	}
}

func TestOpenIsIdempotentOnSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.db")
	ctx := context.Background()

	first, err := memstore.Open(ctx, path, logging.NewNop())
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := first.Ingest(ctx, "survives reopen", nil, ""); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	_ = first.Close()

	second, err := memstore.Open(ctx, path, logging.NewNop())
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()

	stats, err := second.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("record lost across reopen: total=%d", stats.Total)
	}
}
