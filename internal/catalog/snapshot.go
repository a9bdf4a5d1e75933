package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"magpie/internal/fileutil"
	"magpie/internal/logging"
)

const snapshotVersion = 1

type snapshot struct {
	Version     int              `json:"version"`
	Unprocessed []string         `json:"unprocessed"`
	Processed   []string         `json:"processed"`
	Items       map[string]*Item `json:"items"`
}

// Load reads the persisted snapshot and reconciles inconsistencies left by
// earlier versions or interrupted writes. A missing or corrupt file yields an
// empty store with a logged warning, never an error the caller must handle.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("snapshot corrupt, starting from empty catalog",
			logging.Error(err),
			logging.String(logging.FieldEventType, "snapshot_corrupt"),
			logging.String(logging.FieldErrorHint, "previous snapshot is unreadable; items will be rediscovered"),
		)
		return nil
	}

	s.unprocessed = make(map[string]struct{}, len(snap.Unprocessed))
	s.processed = make(map[string]struct{}, len(snap.Processed))
	s.items = make(map[string]*Item, len(snap.Items))
	for id, item := range snap.Items {
		if item == nil {
			item = &Item{}
		}
		item.ID = id
		s.items[id] = item
	}
	for _, id := range snap.Unprocessed {
		s.unprocessed[id] = struct{}{}
	}
	for _, id := range snap.Processed {
		s.processed[id] = struct{}{}
	}

	s.reconcileLocked()
	return nil
}

// reconcileLocked repairs set/map mismatches:
//   - an ID in either set without a map entry gets a synthesized empty item
//   - an ID present only in the map joins the unprocessed set
//   - an ID in both sets is removed from unprocessed
func (s *Store) reconcileLocked() {
	repaired := 0
	for id := range s.unprocessed {
		if _, ok := s.items[id]; !ok {
			s.items[id] = &Item{ID: id}
			repaired++
		}
	}
	for id := range s.processed {
		if _, ok := s.items[id]; !ok {
			s.items[id] = &Item{ID: id}
			delete(s.processed, id)
			s.unprocessed[id] = struct{}{}
			repaired++
		}
	}
	for id := range s.items {
		_, inUnprocessed := s.unprocessed[id]
		_, inProcessed := s.processed[id]
		switch {
		case inUnprocessed && inProcessed:
			delete(s.unprocessed, id)
			repaired++
		case !inUnprocessed && !inProcessed:
			s.unprocessed[id] = struct{}{}
			repaired++
		}
	}
	if repaired > 0 {
		s.logger.Warn("snapshot reconciled",
			logging.Int("repairs", repaired),
			logging.String(logging.FieldEventType, "snapshot_reconciled"),
			logging.String(logging.FieldErrorHint, "previous shutdown may have been unclean"),
		)
	}
}

// Save writes the full snapshot atomically (temp file plus rename) so a
// crash mid-write never corrupts the previous snapshot.
func (s *Store) Save() error {
	s.mu.Lock()
	snap := snapshot{
		Version:     snapshotVersion,
		Unprocessed: sortedKeys(s.unprocessed),
		Processed:   sortedKeys(s.processed),
		Items:       make(map[string]*Item, len(s.items)),
	}
	for id, item := range s.items {
		snap.Items[id] = item.Clone()
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}
