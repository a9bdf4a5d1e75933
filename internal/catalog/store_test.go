package catalog_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"magpie/internal/catalog"
	"magpie/internal/logging"
)

func newStore(t *testing.T) *catalog.Store {
	t.Helper()
	return catalog.NewStore(filepath.Join(t.TempDir(), "catalog.json"), logging.NewNop())
}

func TestPhaseFlagInvariant(t *testing.T) {
	item := &catalog.Item{ID: "p1"}
	if err := item.Validate(); err != nil {
		t.Fatalf("empty item should be valid: %v", err)
	}

	item.CategoriesProcessed = true // without cache/media
	if err := item.Validate(); err == nil {
		t.Fatal("expected invariant violation for out-of-order flag")
	}

	item = &catalog.Item{ID: "p2"}
	for _, p := range catalog.PhaseOrder() {
		if !item.NeedsPhase(p) {
			t.Fatalf("expected phase %s to be needed", p)
		}
		item.CompletePhase(p)
		if err := item.Validate(); err != nil {
			t.Fatalf("valid progression rejected at %s: %v", p, err)
		}
	}
	if !item.ProcessingComplete {
		t.Fatal("expected ProcessingComplete after all phases")
	}
	if item.ErrorMessage != "" {
		t.Fatal("complete item must have no error")
	}
}

func TestNeedsPhaseRequiresPrerequisites(t *testing.T) {
	item := &catalog.Item{ID: "p1", CacheComplete: true}
	if !item.NeedsPhase(catalog.PhaseMedia) {
		t.Fatal("media should be needed after cache")
	}
	if item.NeedsPhase(catalog.PhaseClassify) {
		t.Fatal("classify must wait for media")
	}
}

func TestCompletePhaseClearsFailureMarkers(t *testing.T) {
	item := &catalog.Item{ID: "p1", CacheComplete: true}
	item.MarkFailed(catalog.PhaseMedia, "vision backend down", 3)
	if item.CurrentState() != catalog.StateFailed {
		t.Fatalf("expected failed state, got %s", item.CurrentState())
	}
	item.CompletePhase(catalog.PhaseMedia)
	if item.FailedPhase != "" || item.ErrorMessage != "" {
		t.Fatal("expected failure markers cleared")
	}
	if item.CurrentState() != catalog.StateInProgress {
		t.Fatalf("expected in-progress, got %s", item.CurrentState())
	}
}

func TestMarkProcessedIdempotent(t *testing.T) {
	store := newStore(t)
	store.GetOrCreate("p1", "https://example.com/p/1")
	store.MarkProcessed("p1")
	store.MarkProcessed("p1")
	if got := store.ProcessedIDs(); len(got) != 1 || got[0] != "p1" {
		t.Fatalf("unexpected processed set %v", got)
	}
	if got := store.UnprocessedIDs(); len(got) != 0 {
		t.Fatalf("unexpected unprocessed set %v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	store := catalog.NewStore(path, logging.NewNop())
	item := store.GetOrCreate("p1", "https://example.com/p/1")
	item.CompletePhase(catalog.PhaseCache)
	item.Text = "hello"
	if err := store.Update(item); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := catalog.NewStore(path, logging.NewNop())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, ok := reloaded.Get("p1")
	if !ok {
		t.Fatal("item lost in round trip")
	}
	if !got.CacheComplete || got.Text != "hello" {
		t.Fatalf("unexpected item %+v", got)
	}
}

func TestLoadReconciliation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	raw := map[string]any{
		"version":     1,
		"unprocessed": []string{"ghost", "both"},
		"processed":   []string{"both"},
		"items": map[string]any{
			"orphan": map[string]any{"id": "orphan"},
			"both":   map[string]any{"id": "both"},
		},
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := catalog.NewStore(path, logging.NewNop())
	if err := store.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// "ghost" was in unprocessed without a map entry: synthesized and kept.
	if _, ok := store.Get("ghost"); !ok {
		t.Fatal("expected synthesized item for ghost")
	}
	unprocessed := store.UnprocessedIDs()
	want := map[string]bool{"ghost": true, "orphan": true}
	for _, id := range unprocessed {
		if !want[id] {
			t.Fatalf("unexpected unprocessed id %s", id)
		}
		delete(want, id)
	}
	if len(want) != 0 {
		t.Fatalf("missing unprocessed ids: %v", want)
	}
	// "both" was in both sets: unprocessed entry dropped.
	if got := store.ProcessedIDs(); len(got) != 1 || got[0] != "both" {
		t.Fatalf("unexpected processed set %v", got)
	}
}

func TestLoadCorruptFileFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store := catalog.NewStore(path, logging.NewNop())
	if err := store.Load(); err != nil {
		t.Fatalf("Load should repair, got %v", err)
	}
	if items := store.Items(); len(items) != 0 {
		t.Fatalf("expected empty catalog, got %d items", len(items))
	}
}

func TestItemsNeedingPhase(t *testing.T) {
	store := newStore(t)
	a := store.GetOrCreate("a", "")
	a.CompletePhase(catalog.PhaseCache)
	if err := store.Update(a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	store.GetOrCreate("b", "")

	needCache := store.ItemsNeedingPhase(catalog.PhaseCache, false)
	if len(needCache) != 1 || needCache[0].ID != "b" {
		t.Fatalf("unexpected cache work list %v", needCache)
	}
	needMedia := store.ItemsNeedingPhase(catalog.PhaseMedia, false)
	if len(needMedia) != 1 || needMedia[0].ID != "a" {
		t.Fatalf("unexpected media work list %v", needMedia)
	}
	forced := store.ItemsNeedingPhase(catalog.PhaseCache, true)
	if len(forced) != 2 {
		t.Fatalf("forced cache should include both items, got %d", len(forced))
	}
}

func TestResetPhaseReopensWork(t *testing.T) {
	item := &catalog.Item{ID: "r1"}
	for _, p := range catalog.PhaseOrder() {
		item.CompletePhase(p)
	}
	item.Media = []catalog.MediaRef{{
		OriginalURL: "https://example.com/a.png",
		Kind:        catalog.MediaImage,
		Description: "old description",
	}}
	if !item.ProcessingComplete {
		t.Fatalf("fixture should be complete: %+v", item)
	}

	item.ResetPhase(catalog.PhaseMedia)
	if item.MediaProcessed || item.ProcessingComplete {
		t.Fatalf("media phase should be reopened: %+v", item)
	}
	if item.Media[0].Description != "" {
		t.Fatal("stale description must be cleared so it is redone")
	}
	if !item.NeedsPhase(catalog.PhaseMedia) {
		t.Fatal("item must be eligible media work again")
	}

	// Completing the phase again restores the fully-processed shape.
	item.CompletePhase(catalog.PhaseMedia)
	if !item.ProcessingComplete {
		t.Fatalf("expected complete after redo: %+v", item)
	}
	if err := item.Validate(); err != nil {
		t.Fatalf("invariant broken after reset/redo: %v", err)
	}
}

func TestResetPhaseCacheClearsFlagOnly(t *testing.T) {
	item := &catalog.Item{ID: "r2", Text: "cached text"}
	item.CompletePhase(catalog.PhaseCache)

	item.ResetPhase(catalog.PhaseCache)
	if item.CacheComplete {
		t.Fatal("cache flag must clear")
	}
	if item.Text != "cached text" {
		t.Fatal("content is overwritten by the re-fetch, not the reset")
	}
	if !item.NeedsPhase(catalog.PhaseCache) {
		t.Fatal("item must be eligible cache work again")
	}
}
