// Package indexer maintains the library's navigation index.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"magpie/internal/catalog"
	"magpie/internal/fileutil"
	"magpie/internal/logging"
)

const indexFile = "README.md"

// Indexer regenerates the category → subcategory → document index at the
// library root.
type Indexer struct {
	libraryDir string
	logger     *slog.Logger
}

// NewIndexer constructs an indexer writing under libraryDir.
func NewIndexer(libraryDir string, logger *slog.Logger) *Indexer {
	return &Indexer{
		libraryDir: libraryDir,
		logger:     logging.NewComponentLogger(logger, "indexer"),
	}
}

type indexEntry struct {
	name string
	path string
}

// BuildIndex rewrites the index from every item that has a generated
// document. The index is rebuilt from scratch on every call, so removed or
// renamed documents disappear from it naturally.
func (x *Indexer) BuildIndex(ctx context.Context, items []*catalog.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// category → subcategory → entries
	tree := make(map[string]map[string][]indexEntry)
	total := 0
	for _, item := range items {
		if !item.DocumentCreated || item.GeneratedPath == "" {
			continue
		}
		subs, ok := tree[item.Category]
		if !ok {
			subs = make(map[string][]indexEntry)
			tree[item.Category] = subs
		}
		subs[item.SubCategory] = append(subs[item.SubCategory], indexEntry{
			name: item.ItemName,
			path: filepath.ToSlash(item.GeneratedPath),
		})
		total++
	}

	var sb strings.Builder
	sb.WriteString("# Library\n")
	for _, category := range sortedIndexKeys(tree) {
		sb.WriteString("\n## " + category + "\n")
		subs := tree[category]
		for _, sub := range sortedIndexKeys(subs) {
			sb.WriteString("\n### " + sub + "\n\n")
			entries := subs[sub]
			sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
			for _, entry := range entries {
				sb.WriteString(fmt.Sprintf("- [%s](%s)\n", entry.name, entry.path))
			}
		}
	}

	if err := fileutil.WriteFileAtomic(filepath.Join(x.libraryDir, indexFile), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	x.logger.Info("index rebuilt", logging.Int("documents", total))
	return nil
}

func sortedIndexKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
