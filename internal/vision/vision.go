// Package vision produces textual descriptions of image attachments.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"magpie/internal/catalog"
	"magpie/internal/logging"
	"magpie/internal/services"
	"magpie/internal/services/llm"
)

const maxImageBytes = 8 << 20

const describePrompt = `Describe the attached image for an archival record.
Respond with a JSON object: {"description": "<one or two factual sentences>"}.
Mention visible text verbatim when present.`

// Interpreter describes image media via a vision-capable model. Non-image
// attachments are skipped without error.
type Interpreter struct {
	client *llm.Client
	logger *slog.Logger
}

// NewInterpreter constructs an interpreter over the shared model client.
func NewInterpreter(client *llm.Client, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		client: client,
		logger: logging.NewComponentLogger(logger, "vision"),
	}
}

// Describe returns a description of an image attachment. For non-image media
// it returns an empty description and no error.
func (i *Interpreter) Describe(ctx context.Context, ref catalog.MediaRef) (string, error) {
	if ref.Kind != catalog.MediaImage {
		return "", nil
	}
	if ref.LocalPath == "" {
		return "", services.Wrap(services.ErrValidation, "vision", "describe", "image has no local path", nil)
	}
	dataURL, err := encodeImage(ref.LocalPath)
	if err != nil {
		return "", err
	}

	raw, err := i.client.CompleteVisionJSON(ctx, "", describePrompt, dataURL)
	if err != nil {
		return "", err
	}
	var result struct {
		Description string `json:"description"`
	}
	if err := llm.DecodeJSON(raw, &result); err != nil {
		return "", services.Wrap(services.ErrValidation, "vision", "describe", "decode model response", err)
	}
	description := strings.TrimSpace(result.Description)
	if description == "" {
		return "", services.Wrap(services.ErrValidation, "vision", "describe", "model returned empty description", nil)
	}
	return description, nil
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "vision", "describe", "read image", err)
	}
	if len(data) > maxImageBytes {
		return "", services.Wrap(services.ErrValidation, "vision", "describe",
			fmt.Sprintf("image exceeds %d bytes", maxImageBytes), nil)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/jpeg"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
