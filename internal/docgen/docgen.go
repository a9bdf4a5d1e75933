// Package docgen renders cached posts into markdown documents in the library.
package docgen

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"magpie/internal/catalog"
	"magpie/internal/fileutil"
	"magpie/internal/logging"
	"magpie/internal/services"
	"magpie/internal/textutil"
)

// Result describes a generated document.
type Result struct {
	// Content is the rendered markdown.
	Content string
	// Path is the document location relative to the library root.
	Path string
	// MediaCopied counts attachments copied into the library.
	MediaCopied int
}

// Generator writes one markdown document per classified item under
// libraryDir/<category>/<subcategory>/.
type Generator struct {
	libraryDir string
	logger     *slog.Logger
}

// NewGenerator constructs a generator writing under libraryDir.
func NewGenerator(libraryDir string, logger *slog.Logger) *Generator {
	return &Generator{
		libraryDir: libraryDir,
		logger:     logging.NewComponentLogger(logger, "docgen"),
	}
}

// Generate renders the item's document, copies its media into the library,
// and writes the document file. The item must already be classified.
func (g *Generator) Generate(ctx context.Context, item *catalog.Item) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if item.Category == "" || item.SubCategory == "" || item.ItemName == "" {
		return Result{}, services.Wrap(services.ErrValidation, "docgen", "generate",
			"item is not classified", nil)
	}

	relDir := filepath.Join(textutil.Slug(item.Category), textutil.Slug(item.SubCategory))
	relPath := filepath.Join(relDir, textutil.Slug(item.ItemName)+".md")
	docDir := filepath.Join(g.libraryDir, relDir)

	copied := 0
	mediaLinks := make([]string, 0, len(item.Media))
	for idx, ref := range item.Media {
		link, didCopy, err := g.placeMedia(docDir, relDir, item.ID, idx, ref)
		if err != nil {
			return Result{}, err
		}
		if didCopy {
			copied++
		}
		if link != "" {
			mediaLinks = append(mediaLinks, link)
		}
	}

	content := render(item, mediaLinks)
	if err := fileutil.WriteFileAtomic(filepath.Join(g.libraryDir, relPath), []byte(content), 0o644); err != nil {
		return Result{}, services.MarkSystemic(fmt.Errorf("generate: write document: %w", err))
	}
	g.logger.Info("document generated",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("path", relPath),
		logging.Int("media_copied", copied))
	return Result{Content: content, Path: relPath, MediaCopied: copied}, nil
}

// placeMedia copies a locally cached attachment next to the document and
// returns the markdown reference for it. Attachments without a local copy
// fall back to their original URL.
func (g *Generator) placeMedia(docDir, relDir, itemID string, idx int, ref catalog.MediaRef) (string, bool, error) {
	if ref.Kind == catalog.MediaLink {
		if ref.OriginalURL == "" {
			return "", false, nil
		}
		return fmt.Sprintf("[link](%s)", ref.OriginalURL), false, nil
	}
	if ref.LocalPath == "" {
		if ref.OriginalURL == "" {
			return "", false, nil
		}
		return mediaMarkdown(ref, ref.OriginalURL), false, nil
	}

	name := fmt.Sprintf("%s-%02d%s", itemID, idx+1, filepath.Ext(ref.LocalPath))
	dst := filepath.Join(docDir, "media", name)
	if err := fileutil.CopyFile(ref.LocalPath, dst); err != nil {
		return "", false, fmt.Errorf("generate: copy media %s: %w", ref.LocalPath, err)
	}
	return mediaMarkdown(ref, filepath.ToSlash(filepath.Join("media", name))), true, nil
}

func mediaMarkdown(ref catalog.MediaRef, target string) string {
	switch ref.Kind {
	case catalog.MediaImage:
		alt := ref.Description
		if alt == "" {
			alt = "image"
		}
		return fmt.Sprintf("![%s](%s)", alt, target)
	case catalog.MediaVideo:
		return fmt.Sprintf("[video](%s)", target)
	default:
		return fmt.Sprintf("[attachment](%s)", target)
	}
}

func render(item *catalog.Item, mediaLinks []string) string {
	var sb strings.Builder
	sb.WriteString("# " + item.ItemName + "\n\n")
	if item.Author != "" {
		sb.WriteString("By " + item.Author)
		if item.PostedAt != nil {
			sb.WriteString(" on " + item.PostedAt.UTC().Format("2006-01-02"))
		}
		sb.WriteString("\n\n")
	}
	if item.SourceURL != "" {
		sb.WriteString("[Original post](" + item.SourceURL + ")\n\n")
	}
	sb.WriteString(strings.TrimSpace(item.Text))
	for _, segment := range item.ThreadSegments {
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(segment))
	}
	if len(mediaLinks) > 0 {
		sb.WriteString("\n\n## Media\n")
		for _, link := range mediaLinks {
			sb.WriteString("\n" + link + "\n")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
