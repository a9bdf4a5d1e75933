// Package classify assigns a category, subcategory, and document name to a
// cached post.
package classify

import (
	"context"
	"log/slog"
	"strings"

	"magpie/internal/catalog"
	"magpie/internal/logging"
	"magpie/internal/services"
	"magpie/internal/services/llm"
)

const systemPrompt = `You are an archivist organizing saved social-media posts
into a reference library. Given a post, choose a broad category, a narrower
subcategory, and a short human-readable document name. Respond with a JSON
object containing exactly these fields:
{"category": "...", "subCategory": "...", "itemName": "..."}
All three fields are required and must be non-empty.`

// Classification is the model's verdict for one item. All fields are
// guaranteed non-empty by Classify.
type Classification struct {
	Category    string `json:"category"`
	SubCategory string `json:"subCategory"`
	ItemName    string `json:"itemName"`
}

// Categorizer classifies items through the shared model client. A response
// missing any field fails the attempt: the item is never filed under a
// guessed or placeholder category.
type Categorizer struct {
	client *llm.Client
	logger *slog.Logger
}

// NewCategorizer constructs a categorizer over the shared model client.
func NewCategorizer(client *llm.Client, logger *slog.Logger) *Categorizer {
	return &Categorizer{
		client: client,
		logger: logging.NewComponentLogger(logger, "classify"),
	}
}

// Classify returns the category assignment for the item.
func (c *Categorizer) Classify(ctx context.Context, item *catalog.Item) (Classification, error) {
	prompt := buildPrompt(item)
	if strings.TrimSpace(prompt) == "" {
		return Classification{}, services.Wrap(services.ErrValidation, "classify", "classify",
			"item has no content to classify", nil)
	}
	raw, err := c.client.CompleteJSON(ctx, systemPrompt, prompt)
	if err != nil {
		return Classification{}, err
	}
	var result Classification
	if err := llm.DecodeJSON(raw, &result); err != nil {
		return Classification{}, services.Wrap(services.ErrValidation, "classify", "classify",
			"decode model response", err)
	}
	result.Category = strings.TrimSpace(result.Category)
	result.SubCategory = strings.TrimSpace(result.SubCategory)
	result.ItemName = strings.TrimSpace(result.ItemName)
	if result.Category == "" || result.SubCategory == "" || result.ItemName == "" {
		return Classification{}, services.Wrap(services.ErrValidation, "classify", "classify",
			"model response missing required fields", nil)
	}
	return result, nil
}

func buildPrompt(item *catalog.Item) string {
	var sb strings.Builder
	if item.Author != "" {
		sb.WriteString("Author: " + item.Author + "\n\n")
	}
	sb.WriteString(strings.TrimSpace(item.Text))
	for _, segment := range item.ThreadSegments {
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(segment))
	}
	for _, ref := range item.Media {
		if ref.Description != "" {
			sb.WriteString("\n\n[Attached " + string(ref.Kind) + ": " + ref.Description + "]")
		}
	}
	return strings.TrimSpace(sb.String())
}
