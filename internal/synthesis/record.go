// Package synthesis decides when aggregate summary documents must be
// regenerated and produces them from their source items.
package synthesis

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"magpie/internal/fileutil"
	"magpie/internal/logging"
	"magpie/internal/textutil"
)

// Key identifies one aggregate artifact by its grouping tuple.
type Key struct {
	Category    string `json:"category"`
	SubCategory string `json:"subCategory"`
}

func (k Key) String() string {
	return k.Category + "/" + k.SubCategory
}

func (k Key) fileName() string {
	return textutil.Slug(k.Category) + "--" + textutil.Slug(k.SubCategory) + ".json"
}

// Record is the durable state of one aggregate artifact.
type Record struct {
	Key               Key       `json:"key"`
	ContentHash       string    `json:"contentHash"`
	DependencyIDs     []string  `json:"dependencyIds"`
	LastSourceUpdate  time.Time `json:"lastSourceUpdate"`
	IsStale           bool      `json:"isStale"`
	StaleReason       Reason    `json:"staleReason,omitempty"`
	NeedsRegeneration bool      `json:"needsRegeneration"`
	GeneratedPath     string    `json:"generatedPath,omitempty"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

// RecordStore persists one JSON file per artifact under a directory.
// Unreadable record files are skipped with a warning so one corrupt artifact
// never blocks analysis of the rest.
type RecordStore struct {
	dir    string
	logger *slog.Logger
}

// NewRecordStore constructs a store rooted at dir.
func NewRecordStore(dir string, logger *slog.Logger) *RecordStore {
	return &RecordStore{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "synthesis"),
	}
}

// Load reads every record in the store directory. A missing directory means
// no artifacts exist yet.
func (s *RecordStore) Load() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load synthesis records: %w", err)
	}
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable record", logging.String("path", path), logging.Error(err))
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("skipping corrupt record", logging.String("path", path), logging.Error(err))
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key.String() < records[j].Key.String() })
	return records, nil
}

// Get returns the record for a key, or false when none exists.
func (s *RecordStore) Get(key Key) (Record, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key.fileName()))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read synthesis record %s: %w", key, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("corrupt record treated as missing", logging.String("key", key.String()), logging.Error(err))
		return Record{}, false, nil
	}
	return record, true, nil
}

// Save writes a record atomically.
func (s *RecordStore) Save(record Record) error {
	sort.Strings(record.DependencyIDs)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode synthesis record %s: %w", record.Key, err)
	}
	return fileutil.WriteFileAtomic(filepath.Join(s.dir, record.Key.fileName()), data, 0o644)
}

// MarkForRegeneration sets the explicit regeneration flag on an existing
// record.
func (s *RecordStore) MarkForRegeneration(key Key) error {
	record, found, err := s.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no synthesis record for %s", key)
	}
	record.NeedsRegeneration = true
	return s.Save(record)
}
