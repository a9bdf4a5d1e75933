package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants and reports every violation found.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		problems = append(problems, "paths.library_dir must not be empty")
	}
	if c.Workflow.NetworkWorkers < 1 {
		problems = append(problems, "workflow.network_workers must be at least 1")
	}
	if c.Workflow.ModelWorkers < 1 {
		problems = append(problems, "workflow.model_workers must be at least 1")
	}
	if c.Workflow.DocWorkers < 1 {
		problems = append(problems, "workflow.doc_workers must be at least 1")
	}
	if c.Workflow.RetryAttempts < 1 {
		problems = append(problems, "workflow.retry_attempts must be at least 1")
	}
	if c.Workflow.TimingWindow < 1 {
		problems = append(problems, "workflow.timing_window must be at least 1")
	}
	if c.Workflow.TuneFastMillis > c.Workflow.TuneSlowMillis {
		problems = append(problems, "workflow.tune_fast_millis must not exceed workflow.tune_slow_millis")
	}
	if c.Synthesis.Enabled && c.Synthesis.MinGroupSize < 1 {
		problems = append(problems, "synthesis.min_group_size must be at least 1 when synthesis is enabled")
	}
	if c.Publish.Enabled {
		if strings.TrimSpace(c.Publish.RemoteURL) == "" {
			problems = append(problems, "publish.remote_url is required when publish is enabled")
		}
		if strings.TrimSpace(c.Publish.Branch) == "" {
			problems = append(problems, "publish.branch must not be empty")
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}
