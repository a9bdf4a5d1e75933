package catalog

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"magpie/internal/logging"
)

// Store manages the in-memory snapshot of all known items. All mutation goes
// through a single exclusive lock; Save must be called explicitly to persist.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger

	unprocessed map[string]struct{}
	processed   map[string]struct{}
	items       map[string]*Item
}

// NewStore creates a store persisting to the given snapshot path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:        path,
		logger:      logging.NewComponentLogger(logger, "catalog"),
		unprocessed: make(map[string]struct{}),
		processed:   make(map[string]struct{}),
		items:       make(map[string]*Item),
	}
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the item, if known.
func (s *Store) Get(id string) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// GetOrCreate returns a copy of the item, creating an empty unprocessed
// record when the ID is unknown.
func (s *Store) GetOrCreate(id, sourceURL string) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		item = &Item{ID: id, SourceURL: sourceURL, UpdatedAt: time.Now().UTC()}
		s.items[id] = item
		s.unprocessed[id] = struct{}{}
	}
	if sourceURL != "" && item.SourceURL == "" {
		item.SourceURL = sourceURL
	}
	return item.Clone()
}

// Update replaces the stored record for the item's ID. Unknown IDs are an
// error; use GetOrCreate first.
func (s *Store) Update(item *Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("catalog update: item with empty id")
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("catalog update: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return fmt.Errorf("catalog update: unknown item %s", item.ID)
	}
	cp := item.Clone()
	cp.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = cp
	return nil
}

// MarkProcessed moves an ID from the unprocessed set to the processed set.
// Idempotent.
func (s *Store) MarkProcessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return
	}
	delete(s.unprocessed, id)
	s.processed[id] = struct{}{}
}

// UnprocessedIDs returns the sorted IDs awaiting processing.
func (s *Store) UnprocessedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.unprocessed)
}

// ProcessedIDs returns the sorted IDs that finished processing.
func (s *Store) ProcessedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.processed)
}

// Items returns copies of every known item, sorted by ID.
func (s *Store) Items() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, 0, len(s.items))
	for _, id := range sortedKeys(s.items) {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// ItemsNeedingPhase returns copies of the items eligible for the given phase.
// With forced set, completion flags are ignored as long as prerequisites hold.
func (s *Store) ItemsNeedingPhase(phase Phase, forced bool) []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, id := range sortedKeys(s.items) {
		item := s.items[id]
		if forced {
			if item.PrerequisitesMet(phase) {
				out = append(out, item.Clone())
			}
			continue
		}
		if item.NeedsPhase(phase) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Counts summarizes item lifecycle states.
func (s *Store) Counts() map[State]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[State]int, 4)
	for _, item := range s.items {
		counts[item.CurrentState()]++
	}
	return counts
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
