// Package download caches post content and media attachments locally.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"magpie/internal/catalog"
	"magpie/internal/fileutil"
	"magpie/internal/logging"
	"magpie/internal/services"
)

const maxBodyBytes = 16 << 20

// Downloader fetches a post's content and media into the cache directory.
// Caching is idempotent: items already marked complete are left untouched.
type Downloader struct {
	cacheDir   string
	httpClient *http.Client
	converter  *md.Converter
	logger     *slog.Logger
}

// postPayload is the JSON document returned by API-backed post URLs.
type postPayload struct {
	Author   string     `json:"author"`
	Text     string     `json:"text"`
	Thread   []string   `json:"thread"`
	PostedAt *time.Time `json:"posted_at"`
	Media    []struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	} `json:"media"`
}

// NewDownloader constructs a downloader writing under cacheDir.
func NewDownloader(cacheDir string, logger *slog.Logger) *Downloader {
	return &Downloader{
		cacheDir:   cacheDir,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		converter:  md.NewConverter("", true, nil),
		logger:     logging.NewComponentLogger(logger, "download"),
	}
}

// WithHTTPClient overrides the HTTP client (used by tests).
func (d *Downloader) WithHTTPClient(client *http.Client) *Downloader {
	if client != nil {
		d.httpClient = client
	}
	return d
}

// Cache populates the item's raw content fields from its source URL and
// downloads media attachments. The post body itself must succeed; individual
// media failures are recorded on the attachment and do not fail the item.
// Items already flagged CacheComplete are a no-op; forced runs clear the flag
// before dispatch.
func (d *Downloader) Cache(ctx context.Context, item *catalog.Item) error {
	if item.CacheComplete {
		return nil
	}
	if strings.TrimSpace(item.SourceURL) == "" {
		return services.Wrap(services.ErrValidation, "download", "cache", "item has no source url", nil)
	}

	body, contentType, err := d.get(ctx, item.SourceURL)
	if err != nil {
		return err
	}

	itemDir := filepath.Join(d.cacheDir, item.ID)
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		return fmt.Errorf("cache: create item directory: %w", err)
	}

	switch {
	case strings.Contains(contentType, "application/json"):
		if err := d.applyJSON(item, body); err != nil {
			return err
		}
	case strings.Contains(contentType, "text/html"):
		converted, err := d.converter.ConvertString(string(body))
		if err != nil {
			return services.Wrap(services.ErrValidation, "download", "cache", "convert html to markdown", err)
		}
		item.Text = strings.TrimSpace(converted)
	default:
		item.Text = strings.TrimSpace(string(body))
	}

	if err := fileutil.WriteFileAtomic(filepath.Join(itemDir, "post.md"), []byte(d.renderCachedPost(item)), 0o644); err != nil {
		return fmt.Errorf("cache: write post body: %w", err)
	}

	for idx := range item.Media {
		ref := &item.Media[idx]
		if ref.LocalPath != "" {
			continue
		}
		if err := d.fetchMedia(ctx, itemDir, idx, ref); err != nil {
			ref.Error = err.Error()
			d.logger.Warn("media download failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.String("media_url", ref.OriginalURL),
				logging.Error(err))
		}
	}
	return nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("cache: new request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransient, "download", "cache", "fetch post", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrTransient
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			marker = services.ErrNotFound
		}
		return nil, "", services.Wrap(marker, "download", "cache",
			fmt.Sprintf("post returned http %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransient, "download", "cache", "read post body", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (d *Downloader) applyJSON(item *catalog.Item, body []byte) error {
	var payload postPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return services.Wrap(services.ErrValidation, "download", "cache", "decode post payload", err)
	}
	item.Author = strings.TrimSpace(payload.Author)
	item.Text = strings.TrimSpace(payload.Text)
	item.ThreadSegments = payload.Thread
	item.PostedAt = payload.PostedAt
	for _, m := range payload.Media {
		mediaURL := strings.TrimSpace(m.URL)
		if mediaURL == "" {
			continue
		}
		item.Media = append(item.Media, catalog.MediaRef{
			OriginalURL: mediaURL,
			Kind:        kindFromHint(m.Type, mediaURL),
		})
	}
	return nil
}

func (d *Downloader) fetchMedia(ctx context.Context, itemDir string, idx int, ref *catalog.MediaRef) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.OriginalURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media returned http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read media body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if kind := kindFromContentType(contentType); kind != "" {
		ref.Kind = kind
	}
	name := fmt.Sprintf("media-%02d%s", idx+1, extensionFor(contentType, ref.OriginalURL))
	localPath := filepath.Join(itemDir, name)
	if err := fileutil.WriteFileAtomic(localPath, data, 0o644); err != nil {
		return fmt.Errorf("write media: %w", err)
	}
	ref.LocalPath = localPath
	ref.Error = ""
	return nil
}

func (d *Downloader) renderCachedPost(item *catalog.Item) string {
	var sb strings.Builder
	sb.WriteString("# Post " + item.ID + "\n\n")
	if item.Author != "" {
		sb.WriteString("Author: " + item.Author + "\n\n")
	}
	sb.WriteString(item.Text)
	for _, segment := range item.ThreadSegments {
		sb.WriteString("\n\n---\n\n")
		sb.WriteString(segment)
	}
	sb.WriteString("\n")
	return sb.String()
}

func kindFromHint(hint, mediaURL string) catalog.MediaKind {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "image", "photo":
		return catalog.MediaImage
	case "video", "gif":
		return catalog.MediaVideo
	case "link":
		return catalog.MediaLink
	}
	switch strings.ToLower(path.Ext(strippedPath(mediaURL))) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return catalog.MediaImage
	case ".mp4", ".mov", ".webm":
		return catalog.MediaVideo
	}
	return catalog.MediaLink
}

func kindFromContentType(contentType string) catalog.MediaKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return catalog.MediaImage
	case strings.HasPrefix(mediaType, "video/"):
		return catalog.MediaVideo
	}
	return ""
}

func extensionFor(contentType, mediaURL string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "image/jpeg":
			return ".jpg"
		case "image/png":
			return ".png"
		case "image/gif":
			return ".gif"
		case "image/webp":
			return ".webp"
		case "video/mp4":
			return ".mp4"
		case "video/webm":
			return ".webm"
		}
	}
	if ext := path.Ext(strippedPath(mediaURL)); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".bin"
}

func strippedPath(rawURL string) string {
	if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	return rawURL
}
