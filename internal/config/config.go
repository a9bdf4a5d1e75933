package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	CacheDir   string `toml:"cache_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
}

// Source contains configuration for the upstream content discovery API.
type Source struct {
	FeedURL        string   `toml:"feed_url"`
	APIKey         string   `toml:"api_key"`
	Accounts       []string `toml:"accounts"`
	BatchLimit     int      `toml:"batch_limit"`
	RequestTimeout int      `toml:"request_timeout"`
}

// LLM contains shared model connection settings used by multiple features.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Vision contains settings for image interpretation. Empty values fall back
// to the [llm] section.
type Vision struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
}

// Workflow contains orchestrator concurrency and retry settings.
type Workflow struct {
	NetworkWorkers int `toml:"network_workers"`
	ModelWorkers   int `toml:"model_workers"`
	DocWorkers     int `toml:"doc_workers"`
	RetryAttempts  int `toml:"retry_attempts"`
	RetryBackoff   int `toml:"retry_backoff_seconds"`
	// Model limiter tuning thresholds, in milliseconds of rolling average
	// call duration.
	TuneSlowMillis int `toml:"tune_slow_millis"`
	TuneFastMillis int `toml:"tune_fast_millis"`
	TimingWindow   int `toml:"timing_window"`
	// Runs stuck in running longer than this are failed by `magpie runs sweep`.
	StuckRunTimeoutMinutes int `toml:"stuck_run_timeout_minutes"`
}

// Synthesis contains settings for aggregate document regeneration.
type Synthesis struct {
	Enabled      bool   `toml:"enabled"`
	MinGroupSize int    `toml:"min_group_size"`
	Model        string `toml:"model"`
}

// Publish contains settings for pushing the generated library to a git remote.
type Publish struct {
	Enabled     bool   `toml:"enabled"`
	RemoteURL   string `toml:"remote_url"`
	Branch      string `toml:"branch"`
	AuthorName  string `toml:"author_name"`
	AuthorEmail string `toml:"author_email"`
	Token       string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for magpie.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Source    Source    `toml:"source"`
	LLM       LLM       `toml:"llm"`
	Vision    Vision    `toml:"vision"`
	Workflow  Workflow  `toml:"workflow"`
	Synthesis Synthesis `toml:"synthesis"`
	Publish   Publish   `toml:"publish"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/magpie/config.toml")
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error: defaults are returned and created reports false.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, false, err
		}
		resolved = defaultPath
	} else {
		expanded, err := expandPath(resolved)
		if err != nil {
			return nil, false, err
		}
		resolved = expanded
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// fall through with defaults
	default:
		return nil, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, err == nil, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates all configured directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.CacheDir, c.Paths.LibraryDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SnapshotPath returns the catalog snapshot file location.
func (c *Config) SnapshotPath() string { return filepath.Join(c.Paths.DataDir, "catalog.json") }

// RunDBPath returns the run lifecycle database location.
func (c *Config) RunDBPath() string { return filepath.Join(c.Paths.DataDir, "runs.db") }

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string { return filepath.Join(c.Paths.DataDir, "magpie.sock") }

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.DataDir, "magpie.lock") }

// SynthesisDir returns the directory holding aggregate artifact records.
func (c *Config) SynthesisDir() string { return filepath.Join(c.Paths.DataDir, "synthesis") }

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return err
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
