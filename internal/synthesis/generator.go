package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"magpie/internal/catalog"
	"magpie/internal/fileutil"
	"magpie/internal/logging"
	"magpie/internal/services"
	"magpie/internal/services/llm"
	"magpie/internal/textutil"
)

const generatePrompt = `You are writing an overview document for a reference
library. Below are the saved posts filed under one subcategory. Write a
cohesive overview that synthesizes their key points, written for someone
browsing the library. Respond with a JSON object:
{"title": "<overview title>", "body": "<overview body in markdown>"}`

// Generator produces aggregate overview documents from a staleness plan.
type Generator struct {
	client     *llm.Client
	records    *RecordStore
	libraryDir string
	logger     *slog.Logger
	now        func() time.Time
}

// NewGenerator constructs a generator writing overviews under libraryDir and
// records into the given store.
func NewGenerator(client *llm.Client, records *RecordStore, libraryDir string, logger *slog.Logger) *Generator {
	return &Generator{
		client:     client,
		records:    records,
		libraryDir: libraryDir,
		logger:     logging.NewComponentLogger(logger, "synthesis"),
		now:        time.Now,
	}
}

// Generate builds or rebuilds the artifact for one key from its current
// member items, writes the overview document, and rewrites the record with
// fresh dependency IDs, content hash, and cleared staleness flags.
func (g *Generator) Generate(ctx context.Context, key Key, members []*catalog.Item) error {
	if len(members) == 0 {
		return services.Wrap(services.ErrValidation, "synthesis", "generate",
			"no member items for "+key.String(), nil)
	}

	raw, err := g.client.CompleteJSON(ctx, "", buildGeneratePrompt(key, members))
	if err != nil {
		return err
	}
	var result struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := llm.DecodeJSON(raw, &result); err != nil {
		return services.Wrap(services.ErrValidation, "synthesis", "generate", "decode model response", err)
	}
	result.Title = strings.TrimSpace(result.Title)
	result.Body = strings.TrimSpace(result.Body)
	if result.Title == "" || result.Body == "" {
		return services.Wrap(services.ErrValidation, "synthesis", "generate",
			"model response missing title or body", nil)
	}

	relPath := filepath.Join(textutil.Slug(key.Category), textutil.Slug(key.SubCategory), "overview.md")
	content := renderOverview(result.Title, result.Body, members)
	if err := fileutil.WriteFileAtomic(filepath.Join(g.libraryDir, relPath), []byte(content), 0o644); err != nil {
		return services.MarkSystemic(fmt.Errorf("synthesis generate: write overview: %w", err))
	}

	ids := make([]string, 0, len(members))
	lastUpdate := time.Time{}
	for _, item := range members {
		ids = append(ids, item.ID)
		if item.UpdatedAt.After(lastUpdate) {
			lastUpdate = item.UpdatedAt
		}
	}
	sort.Strings(ids)
	record := Record{
		Key:              key,
		ContentHash:      ContentHash(members),
		DependencyIDs:    ids,
		LastSourceUpdate: lastUpdate,
		GeneratedPath:    relPath,
		GeneratedAt:      g.now().UTC(),
	}
	if err := g.records.Save(record); err != nil {
		return services.MarkSystemic(fmt.Errorf("synthesis generate: save record: %w", err))
	}
	g.logger.Info("overview generated",
		logging.String("key", key.String()),
		logging.Int("members", len(members)),
		logging.String("path", relPath))
	return nil
}

func buildGeneratePrompt(key Key, members []*catalog.Item) string {
	var sb strings.Builder
	sb.WriteString(generatePrompt)
	sb.WriteString("\n\nSubcategory: " + key.Category + " / " + key.SubCategory + "\n")
	for _, item := range members {
		sb.WriteString("\n---\n")
		if item.ItemName != "" {
			sb.WriteString("Title: " + item.ItemName + "\n")
		}
		sb.WriteString(textutil.Truncate(strings.TrimSpace(item.Text), 4000))
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderOverview(title, body string, members []*catalog.Item) string {
	sorted := make([]*catalog.Item, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemName < sorted[j].ItemName })

	var sb strings.Builder
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString(body)
	sb.WriteString("\n\n## Sources\n\n")
	for _, item := range sorted {
		name := item.ItemName
		if name == "" {
			name = item.ID
		}
		if item.GeneratedPath != "" {
			sb.WriteString(fmt.Sprintf("- [%s](%s)\n", name, "/"+filepath.ToSlash(item.GeneratedPath)))
		} else {
			sb.WriteString("- " + name + "\n")
		}
	}
	return sb.String()
}
