// Package fetch discovers new posts from the upstream feed API.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/services"
)

// Service queries the configured feed endpoint for posts that have not been
// seen before. Discovery failures are reported to the caller, which treats
// them as "no new items" rather than aborting a run.
type Service struct {
	cfg        config.Source
	httpClient *http.Client
	logger     *slog.Logger
}

type feedEntry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NewService constructs a discovery service from source configuration.
func NewService(cfg config.Source, logger *slog.Logger) *Service {
	timeout := 30 * time.Second
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "fetch"),
	}
}

// WithHTTPClient overrides the HTTP client (used by tests).
func (s *Service) WithHTTPClient(client *http.Client) *Service {
	if client != nil {
		s.httpClient = client
	}
	return s
}

// Discover returns newly published posts keyed by ID. Entries without an ID
// or URL are skipped with a warning.
func (s *Service) Discover(ctx context.Context) (map[string]string, error) {
	if strings.TrimSpace(s.cfg.FeedURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "fetch", "discover", "feed url not configured", nil)
	}
	endpoint, err := s.feedRequestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("discover: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "discover", "feed request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "discover", "read feed response", err)
	}
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			marker = services.ErrConfiguration
		}
		return nil, services.Wrap(marker, "fetch", "discover",
			fmt.Sprintf("feed returned http %d", resp.StatusCode), nil)
	}

	var entries []feedEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		// Some deployments wrap the list in an envelope.
		var envelope struct {
			Posts []feedEntry `json:"posts"`
		}
		if err2 := json.Unmarshal(body, &envelope); err2 != nil || envelope.Posts == nil {
			return nil, services.Wrap(services.ErrTransient, "fetch", "discover", "decode feed response", err)
		}
		entries = envelope.Posts
	}

	discovered := make(map[string]string, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		link := strings.TrimSpace(entry.URL)
		if id == "" || link == "" {
			s.logger.Warn("skipping malformed feed entry",
				logging.String("entry_id", entry.ID), logging.String("entry_url", entry.URL))
			continue
		}
		discovered[id] = link
	}
	s.logger.Info("feed discovery complete", logging.Int("entries", len(discovered)))
	return discovered, nil
}

func (s *Service) feedRequestURL() (string, error) {
	parsed, err := url.Parse(s.cfg.FeedURL)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "fetch", "discover", "invalid feed url", err)
	}
	query := parsed.Query()
	if len(s.cfg.Accounts) > 0 {
		query.Set("accounts", strings.Join(s.cfg.Accounts, ","))
	}
	if s.cfg.BatchLimit > 0 {
		query.Set("limit", strconv.Itoa(s.cfg.BatchLimit))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
