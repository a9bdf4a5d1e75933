package synthesis

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"

	"magpie/internal/catalog"
	"magpie/internal/logging"
)

// Reason explains why an artifact was judged stale.
type Reason string

const (
	ReasonExplicit       Reason = "explicit"
	ReasonNewItems       Reason = "new_items"
	ReasonRemovedItems   Reason = "removed_items"
	ReasonUpdatedItems   Reason = "updated_items"
	ReasonContentChanged Reason = "content_changed"
)

// Decision pairs a stale artifact with the first matching staleness reason.
type Decision struct {
	Key    Key
	Reason Reason
}

// Plan is the engine's output: which artifacts to regenerate, which groups
// deserve a first generation, and which artifacts are current.
type Plan struct {
	ToRegenerate []Decision
	ToCreate     []Key
	UpToDate     []Key
}

// Engine performs staleness analysis. It reads item state and existing
// records but never touches disk itself; analysis failures downgrade an
// artifact to "not stale" rather than failing the caller.
type Engine struct {
	minGroupSize int
	logger       *slog.Logger
}

// NewEngine constructs an engine. Groups smaller than minGroupSize are never
// proposed as new artifacts.
func NewEngine(minGroupSize int, logger *slog.Logger) *Engine {
	if minGroupSize < 1 {
		minGroupSize = 1
	}
	return &Engine{
		minGroupSize: minGroupSize,
		logger:       logging.NewComponentLogger(logger, "synthesis"),
	}
}

// Analyze compares every record against the current item population and
// discovers groups that qualify for a first artifact.
func (e *Engine) Analyze(records []Record, items []*catalog.Item) Plan {
	groups := groupQualifying(items)

	var plan Plan
	known := make(map[Key]struct{}, len(records))
	for _, record := range records {
		known[record.Key] = struct{}{}
		if record.Key.Category == "" && record.Key.SubCategory == "" {
			e.logger.Warn("record with empty key treated as up to date")
			continue
		}
		if reason, stale := e.check(record, groups[record.Key]); stale {
			plan.ToRegenerate = append(plan.ToRegenerate, Decision{Key: record.Key, Reason: reason})
		} else {
			plan.UpToDate = append(plan.UpToDate, record.Key)
		}
	}

	for key, members := range groups {
		if _, exists := known[key]; exists {
			continue
		}
		if len(members) >= e.minGroupSize {
			plan.ToCreate = append(plan.ToCreate, key)
		}
	}
	sort.Slice(plan.ToRegenerate, func(i, j int) bool {
		return plan.ToRegenerate[i].Key.String() < plan.ToRegenerate[j].Key.String()
	})
	sort.Slice(plan.ToCreate, func(i, j int) bool { return plan.ToCreate[i].String() < plan.ToCreate[j].String() })
	sort.Slice(plan.UpToDate, func(i, j int) bool { return plan.UpToDate[i].String() < plan.UpToDate[j].String() })
	return plan
}

func (e *Engine) check(record Record, current []*catalog.Item) (Reason, bool) {
	if record.NeedsRegeneration {
		return ReasonExplicit, true
	}

	currentIDs := make(map[string]struct{}, len(current))
	for _, item := range current {
		currentIDs[item.ID] = struct{}{}
	}
	storedIDs := make(map[string]struct{}, len(record.DependencyIDs))
	for _, id := range record.DependencyIDs {
		storedIDs[id] = struct{}{}
	}

	if containsAll(currentIDs, storedIDs) && len(currentIDs) > len(storedIDs) {
		return ReasonNewItems, true
	}
	if containsAll(storedIDs, currentIDs) && len(storedIDs) > len(currentIDs) {
		return ReasonRemovedItems, true
	}
	for _, item := range current {
		if item.UpdatedAt.After(record.LastSourceUpdate) {
			return ReasonUpdatedItems, true
		}
	}
	if ContentHash(current) != record.ContentHash {
		return ReasonContentChanged, true
	}
	return "", false
}

// ContentHash digests the identity and primary content of the dependency set
// in ID order, so identical inputs hash identically regardless of how the
// caller iterated.
func ContentHash(items []*catalog.Item) string {
	sorted := make([]*catalog.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, item := range sorted {
		h.Write([]byte(item.ID))
		h.Write([]byte{0})
		h.Write([]byte(item.Text))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// groupQualifying buckets items that are far enough along to feed an
// aggregate: classified, documented, and not currently failed.
func groupQualifying(items []*catalog.Item) map[Key][]*catalog.Item {
	groups := make(map[Key][]*catalog.Item)
	for _, item := range items {
		if !item.CategoriesProcessed || !item.DocumentCreated || item.ErrorMessage != "" {
			continue
		}
		if item.Category == "" || item.SubCategory == "" {
			continue
		}
		key := Key{Category: item.Category, SubCategory: item.SubCategory}
		groups[key] = append(groups[key], item)
	}
	return groups
}

func containsAll(outer, inner map[string]struct{}) bool {
	for id := range inner {
		if _, ok := outer[id]; !ok {
			return false
		}
	}
	return true
}
