package synthesis_test

import (
	"testing"
	"time"

	"magpie/internal/catalog"
	"magpie/internal/logging"
	"magpie/internal/synthesis"
)

func readyItem(id, category, sub, text string, updated time.Time) *catalog.Item {
	return &catalog.Item{
		ID:                  id,
		Text:                text,
		Category:            category,
		SubCategory:         sub,
		CacheComplete:       true,
		MediaProcessed:      true,
		CategoriesProcessed: true,
		DocumentCreated:     true,
		UpdatedAt:           updated,
	}
}

func baseRecord(items ...*catalog.Item) synthesis.Record {
	ids := make([]string, 0, len(items))
	last := time.Time{}
	for _, item := range items {
		ids = append(ids, item.ID)
		if item.UpdatedAt.After(last) {
			last = item.UpdatedAt
		}
	}
	return synthesis.Record{
		Key:              synthesis.Key{Category: "Cooking", SubCategory: "Baking"},
		ContentHash:      synthesis.ContentHash(items),
		DependencyIDs:    ids,
		LastSourceUpdate: last,
	}
}

func TestAnalyzeUpToDate(t *testing.T) {
	now := time.Now().UTC()
	items := []*catalog.Item{
		readyItem("1", "Cooking", "Baking", "starter", now),
		readyItem("2", "Cooking", "Baking", "bagels", now),
	}
	engine := synthesis.NewEngine(2, logging.NewNop())
	plan := engine.Analyze([]synthesis.Record{baseRecord(items...)}, items)
	if len(plan.ToRegenerate) != 0 || len(plan.ToCreate) != 0 || len(plan.UpToDate) != 1 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestAnalyzeStaleReasons(t *testing.T) {
	now := time.Now().UTC()
	one := readyItem("1", "Cooking", "Baking", "starter", now)
	two := readyItem("2", "Cooking", "Baking", "bagels", now)
	record := baseRecord(one, two)
	engine := synthesis.NewEngine(2, logging.NewNop())

	t.Run("explicit", func(t *testing.T) {
		flagged := record
		flagged.NeedsRegeneration = true
		plan := engine.Analyze([]synthesis.Record{flagged}, []*catalog.Item{one, two})
		assertReason(t, plan, synthesis.ReasonExplicit)
	})

	t.Run("new items", func(t *testing.T) {
		three := readyItem("3", "Cooking", "Baking", "croissants", now)
		plan := engine.Analyze([]synthesis.Record{record}, []*catalog.Item{one, two, three})
		assertReason(t, plan, synthesis.ReasonNewItems)
	})

	t.Run("removed items", func(t *testing.T) {
		plan := engine.Analyze([]synthesis.Record{record}, []*catalog.Item{one})
		assertReason(t, plan, synthesis.ReasonRemovedItems)
	})

	t.Run("updated items", func(t *testing.T) {
		touched := readyItem("1", "Cooking", "Baking", "starter", now.Add(time.Hour))
		plan := engine.Analyze([]synthesis.Record{record}, []*catalog.Item{touched, two})
		assertReason(t, plan, synthesis.ReasonUpdatedItems)
	})

	t.Run("content changed", func(t *testing.T) {
		// Same membership, same timestamps, different text: only the hash
		// can detect this.
		rewritten := readyItem("1", "Cooking", "Baking", "starter v2", now)
		plan := engine.Analyze([]synthesis.Record{record}, []*catalog.Item{rewritten, two})
		assertReason(t, plan, synthesis.ReasonContentChanged)
	})
}

func assertReason(t *testing.T, plan synthesis.Plan, want synthesis.Reason) {
	t.Helper()
	if len(plan.ToRegenerate) != 1 {
		t.Fatalf("expected 1 stale artifact, got %+v", plan)
	}
	if got := plan.ToRegenerate[0].Reason; got != want {
		t.Fatalf("expected reason %s, got %s", want, got)
	}
}

func TestAnalyzeDiscovery(t *testing.T) {
	now := time.Now().UTC()
	items := []*catalog.Item{
		readyItem("1", "Cooking", "Baking", "a", now),
		readyItem("2", "Cooking", "Baking", "b", now),
		readyItem("3", "Cooking", "Baking", "c", now),
		// Below the minimum group size.
		readyItem("4", "Astronomy", "Telescopes", "d", now),
		// Not ready: no document yet.
		{ID: "5", Category: "Cooking", SubCategory: "Knives", CategoriesProcessed: true},
	}
	engine := synthesis.NewEngine(3, logging.NewNop())
	plan := engine.Analyze(nil, items)
	if len(plan.ToCreate) != 1 {
		t.Fatalf("expected 1 candidate, got %+v", plan.ToCreate)
	}
	if plan.ToCreate[0] != (synthesis.Key{Category: "Cooking", SubCategory: "Baking"}) {
		t.Fatalf("unexpected candidate %+v", plan.ToCreate[0])
	}
}

func TestContentHashOrderIndependent(t *testing.T) {
	now := time.Now().UTC()
	a := readyItem("a", "C", "S", "alpha", now)
	b := readyItem("b", "C", "S", "beta", now)
	if synthesis.ContentHash([]*catalog.Item{a, b}) != synthesis.ContentHash([]*catalog.Item{b, a}) {
		t.Fatal("hash must not depend on iteration order")
	}
	changed := readyItem("a", "C", "S", "alpha2", now)
	if synthesis.ContentHash([]*catalog.Item{a, b}) == synthesis.ContentHash([]*catalog.Item{changed, b}) {
		t.Fatal("hash must change when content changes")
	}
}
