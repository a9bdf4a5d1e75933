package main

import (
	"log/slog"

	"magpie/internal/catalog"
	"magpie/internal/classify"
	"magpie/internal/config"
	"magpie/internal/docgen"
	"magpie/internal/download"
	"magpie/internal/fetch"
	"magpie/internal/indexer"
	"magpie/internal/pipeline"
	"magpie/internal/publish"
	"magpie/internal/runs"
	"magpie/internal/services/llm"
	"magpie/internal/synthesis"
	"magpie/internal/vision"
)

// buildOrchestrator wires every pipeline capability from configuration.
// Optional features (vision, synthesis, publishing) are left nil when
// disabled; the orchestrator skips what it is not given.
func buildOrchestrator(cfg *config.Config, cat *catalog.Store, runStore *runs.Store, logger *slog.Logger) *pipeline.Orchestrator {
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	deps := pipeline.Deps{
		Store:       cat,
		Runs:        runStore,
		Fetcher:     fetch.NewService(cfg.Source, logger),
		Downloader:  download.NewDownloader(cfg.Paths.CacheDir, logger),
		Categorizer: classify.NewCategorizer(client, logger),
		Generator:   docgen.NewGenerator(cfg.Paths.LibraryDir, logger),
		Indexer:     indexer.NewIndexer(cfg.Paths.LibraryDir, logger),
		Logger:      logger,
	}

	if cfg.Vision.Enabled {
		deps.Media = vision.NewInterpreter(modelClient(cfg, cfg.Vision.Model), logger)
	}
	if cfg.Synthesis.Enabled {
		records := synthesis.NewRecordStore(cfg.SynthesisDir(), logger)
		engine := synthesis.NewEngine(cfg.Synthesis.MinGroupSize, logger)
		generator := synthesis.NewGenerator(modelClient(cfg, cfg.Synthesis.Model), records, cfg.Paths.LibraryDir, logger)
		deps.Synthesis = synthesis.NewRunner(records, engine, generator, logger)
	}
	if cfg.Publish.Enabled {
		deps.Publisher = publish.NewPublisher(cfg.Publish, cfg.Paths.LibraryDir, logger)
	}

	return pipeline.New(cfg.Workflow, deps)
}

// modelClient builds a client for a feature-specific model, falling back to
// the shared [llm] connection settings when the feature names no model.
func modelClient(cfg *config.Config, model string) *llm.Client {
	if model == "" {
		model = cfg.LLM.Model
	}
	return llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
}
