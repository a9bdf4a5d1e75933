// Package pipeline sequences the enrichment phases over the item catalog:
// bounded fan-out within each phase, retry with backoff for model-call
// phases, cooperative cancellation, and progress reporting through the run
// lifecycle store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"magpie/internal/catalog"
	"magpie/internal/classify"
	"magpie/internal/config"
	"magpie/internal/docgen"
	"magpie/internal/logging"
	"magpie/internal/runs"
	"magpie/internal/services"
	"magpie/internal/stats"
)

// Fetcher discovers new posts keyed by ID.
type Fetcher interface {
	Discover(ctx context.Context) (map[string]string, error)
}

// Downloader caches a post's content and media locally.
type Downloader interface {
	Cache(ctx context.Context, item *catalog.Item) error
}

// MediaInterpreter describes image attachments.
type MediaInterpreter interface {
	Describe(ctx context.Context, ref catalog.MediaRef) (string, error)
}

// Categorizer assigns category, subcategory, and document name.
type Categorizer interface {
	Classify(ctx context.Context, item *catalog.Item) (classify.Classification, error)
}

// DocumentGenerator renders an item's library document.
type DocumentGenerator interface {
	Generate(ctx context.Context, item *catalog.Item) (docgen.Result, error)
}

// Indexer rebuilds the library navigation index.
type Indexer interface {
	BuildIndex(ctx context.Context, items []*catalog.Item) error
}

// Publisher pushes the library to its remote.
type Publisher interface {
	Publish(ctx context.Context, message string) error
}

// SynthesisRunner executes one aggregate regeneration pass.
type SynthesisRunner interface {
	Run(ctx context.Context, items []*catalog.Item) (int, error)
}

// Deps collects the orchestrator's collaborators. Store, Runs, Downloader,
// Categorizer, and Generator are required; the rest are optional and their
// steps are skipped when nil.
type Deps struct {
	Store       *catalog.Store
	Runs        *runs.Store
	Fetcher     Fetcher
	Downloader  Downloader
	Media       MediaInterpreter
	Categorizer Categorizer
	Generator   DocumentGenerator
	Indexer     Indexer
	Publisher   Publisher
	Synthesis   SynthesisRunner
	Logger      *slog.Logger
}

// Options selects what one run executes.
type Options struct {
	// Phases restricts the item phases executed; empty means all, always in
	// fixed dependency order.
	Phases []catalog.Phase
	// Forced reprocesses items whose completion flags are already set, as
	// long as prerequisites hold.
	Forced bool
	// SkipDiscovery suppresses the feed query at run start.
	SkipDiscovery bool
	// SkipSynthesis suppresses the aggregate regeneration pass.
	SkipSynthesis bool
	// SkipPublish suppresses the run-level push to the library remote.
	SkipPublish bool
}

// Orchestrator executes runs one at a time. Phases never overlap; items
// within a phase fan out up to the phase class's concurrency limit.
type Orchestrator struct {
	cfg    config.Workflow
	deps   Deps
	logger *slog.Logger

	limiters      map[phaseClass]*limiter
	modelBaseline int
	sleep         func(time.Duration)

	mu      sync.Mutex
	current *RunContext
}

// New constructs an orchestrator from workflow settings and collaborators.
func New(cfg config.Workflow, deps Deps) *Orchestrator {
	if cfg.NetworkWorkers < 1 {
		cfg.NetworkWorkers = 1
	}
	if cfg.ModelWorkers < 1 {
		cfg.ModelWorkers = 1
	}
	if cfg.DocWorkers < 1 {
		cfg.DocWorkers = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBackoff < 1 {
		cfg.RetryBackoff = 2
	}
	if cfg.TimingWindow < 1 {
		cfg.TimingWindow = 20
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "pipeline"),
		limiters: map[phaseClass]*limiter{
			classNetwork: newLimiter(cfg.NetworkWorkers),
			classModel:   newLimiter(cfg.ModelWorkers),
			classLocal:   newLimiter(cfg.DocWorkers),
		},
		modelBaseline: cfg.ModelWorkers,
		sleep:         time.Sleep,
	}
}

// CurrentRun returns the in-flight run context, or nil when idle.
func (o *Orchestrator) CurrentRun() *RunContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// RequestStop asks the in-flight run to stop. Returns false when no run is
// active.
func (o *Orchestrator) RequestStop() bool {
	rc := o.CurrentRun()
	if rc == nil {
		return false
	}
	rc.RequestStop()
	return true
}

// Execute performs one complete run and returns its ID. Per-item failures
// never fail the run; only systemic failures (snapshot persistence, run
// bookkeeping) do.
func (o *Orchestrator) Execute(ctx context.Context, opts Options) (string, error) {
	if err := o.validateDeps(); err != nil {
		return "", err
	}
	selected := selectPhases(opts.Phases)
	phaseNames := make([]string, len(selected))
	for i, p := range selected {
		phaseNames[i] = string(p)
	}

	run, err := o.deps.Runs.Create(ctx, phaseNames)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if err := o.deps.Runs.Begin(ctx, run.ID); err != nil {
		beginErr := fmt.Errorf("begin run: %w", err)
		// Fail the queued row so it cannot linger in history forever; the
		// stuck-run sweep only covers running.
		if ferr := o.deps.Runs.Finish(ctx, run.ID, runs.StatusFailed, beginErr.Error(), ""); ferr != nil {
			o.logger.Warn("failed to close out queued run",
				logging.String(logging.FieldRunID, run.ID), logging.Error(ferr))
		}
		return run.ID, beginErr
	}

	rc := newRunContext(run.ID, o.deps.Store, stats.NewCollector(o.cfg.TimingWindow))
	o.mu.Lock()
	o.current = rc
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}()

	ctx = services.WithRunID(ctx, run.ID)
	logger := o.logger.With(logging.String(logging.FieldRunID, run.ID))
	logger.Info("run started", logging.Any("phases", phaseNames), logging.Bool("forced", opts.Forced))

	runErr := o.execute(ctx, rc, opts, selected, logger)

	status := runs.StatusSucceeded
	message := "run completed"
	switch {
	case runErr != nil:
		status = runs.StatusFailed
		message = runErr.Error()
	case rc.Stopped():
		status = runs.StatusCancelled
		message = "stop requested, run drained cleanly"
	case rc.Stats.TotalFailed() > 0:
		message = fmt.Sprintf("run completed with %d item failures", rc.Stats.TotalFailed())
	}
	if err := o.deps.Runs.Finish(ctx, run.ID, status, message, rc.Stats.Report()); err != nil {
		logger.Error("failed to record run completion", logging.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finish run: %w", err)
		}
	}
	logger.Info("run finished", logging.String("status", string(status)), logging.String("message", message))
	return run.ID, runErr
}

func (o *Orchestrator) validateDeps() error {
	missing := ""
	switch {
	case o.deps.Store == nil:
		missing = "item store"
	case o.deps.Runs == nil:
		missing = "run store"
	case o.deps.Downloader == nil:
		missing = "downloader"
	case o.deps.Categorizer == nil:
		missing = "categorizer"
	case o.deps.Generator == nil:
		missing = "document generator"
	}
	if missing != "" {
		return services.Wrap(services.ErrConfiguration, "pipeline", "execute", missing+" not configured", nil)
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, rc *RunContext, opts Options, selected []catalog.Phase, logger *slog.Logger) error {
	steps := o.countSteps(opts, selected)
	step := 0
	progress := func(phase string, note string) {
		step++
		percent := float64(step) / float64(steps) * 100
		if eta := rc.ETA(); eta > 0 {
			note = fmt.Sprintf("%s (eta %s)", note, eta.Round(time.Second))
		}
		rc.setMessage(note)
		if err := o.deps.Runs.UpdateProgress(ctx, rc.RunID, phase, percent, note); err != nil {
			logger.Warn("progress update failed", logging.Error(err))
		}
	}

	if o.deps.Fetcher != nil && !opts.SkipDiscovery {
		o.discover(ctx, rc, logger)
		progress("discover", "discovery complete")
	}

	for _, def := range o.phaseDefs() {
		if !phaseSelected(selected, def.phase) {
			continue
		}
		if rc.Stopped() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if def.class == classModel {
			o.tuneModelLimiter(rc, logger)
		}
		work := o.deps.Store.ItemsNeedingPhase(def.phase, opts.Forced)
		rc.beginPhase(def.phase, len(work))
		logger.Info("phase starting",
			logging.String(logging.FieldPhase, string(def.phase)),
			logging.Int("items", len(work)),
			logging.Int("workers", o.limiters[def.class].limit()))
		o.runPhase(ctx, rc, def, work, opts.Forced)

		if err := o.deps.Store.Save(); err != nil {
			return services.MarkSystemic(fmt.Errorf("persist snapshot after %s: %w", def.phase, err))
		}
		progress(string(def.phase), fmt.Sprintf("%s complete (%d items)", def.phase, len(work)))
	}

	if rc.Stopped() {
		if err := o.deps.Store.Save(); err != nil {
			return services.MarkSystemic(fmt.Errorf("persist snapshot on stop: %w", err))
		}
		return nil
	}

	if o.deps.Synthesis != nil && !opts.SkipSynthesis {
		if _, err := o.deps.Synthesis.Run(ctx, o.deps.Store.Items()); err != nil {
			if services.IsSystemic(err) {
				return err
			}
			logger.Error("synthesis pass failed", logging.Error(err))
		}
		progress("synthesis", "synthesis complete")
	}
	if o.deps.Indexer != nil {
		if err := o.deps.Indexer.BuildIndex(ctx, o.deps.Store.Items()); err != nil {
			return services.MarkSystemic(fmt.Errorf("rebuild index: %w", err))
		}
		progress("index", "index rebuilt")
	}
	if o.deps.Publisher != nil && !opts.SkipPublish {
		message := fmt.Sprintf("Library update %s", time.Now().UTC().Format("2006-01-02"))
		if err := o.deps.Publisher.Publish(ctx, message); err != nil {
			// An unreachable remote should not undo a run's local work.
			rc.Stats.RecordFailure(catalog.PhasePublish, "library", err.Error(), 0)
			logger.Error("publish to remote failed", logging.Error(err))
		}
		progress("publish", "publish complete")
	}
	return nil
}

func (o *Orchestrator) countSteps(opts Options, selected []catalog.Phase) int {
	steps := len(selected)
	if o.deps.Fetcher != nil && !opts.SkipDiscovery {
		steps++
	}
	if o.deps.Synthesis != nil && !opts.SkipSynthesis {
		steps++
	}
	if o.deps.Indexer != nil {
		steps++
	}
	if o.deps.Publisher != nil && !opts.SkipPublish {
		steps++
	}
	if steps == 0 {
		steps = 1
	}
	return steps
}

// discover queries the feed and seeds unknown items. Failures downgrade to
// "no new items this cycle".
func (o *Orchestrator) discover(ctx context.Context, rc *RunContext, logger *slog.Logger) {
	discovered, err := o.deps.Fetcher.Discover(ctx)
	if err != nil {
		logger.Warn("discovery failed, continuing with known items", logging.Error(err))
		return
	}
	added := 0
	for id, sourceURL := range discovered {
		if _, known := o.deps.Store.Get(id); !known {
			added++
		}
		o.deps.Store.GetOrCreate(id, sourceURL)
	}
	logger.Info("discovery complete", logging.Int("discovered", len(discovered)), logging.Int("new", added))
}

func (o *Orchestrator) runPhase(ctx context.Context, rc *RunContext, def phaseDef, work []*catalog.Item, forced bool) {
	lim := o.limiters[def.class]
	var wg sync.WaitGroup
	for _, item := range work {
		if rc.Stopped() || ctx.Err() != nil {
			break
		}
		if err := lim.acquire(ctx); err != nil {
			break
		}
		// Re-check after a possibly long wait for a slot: a stop requested
		// while blocked must not dispatch another item.
		if rc.Stopped() {
			lim.release()
			break
		}
		wg.Add(1)
		go func(item *catalog.Item) {
			defer wg.Done()
			defer lim.release()
			o.processItem(ctx, rc, def, item, forced)
			rc.itemDone()
		}(item)
	}
	wg.Wait()
}

func (o *Orchestrator) processItem(ctx context.Context, rc *RunContext, def phaseDef, item *catalog.Item, forced bool) {
	ctx = services.WithPhase(services.WithItemID(ctx, item.ID), string(def.phase))
	if forced {
		// A forced run must redo the work, not skip on the stored result.
		item.ResetPhase(def.phase)
	}
	rc.Stats.RecordAttempt(def.phase)
	start := time.Now()
	item.BeginAttempt(def.phase, start)

	maxAttempts := 1
	if def.retryable {
		maxAttempts = o.cfg.RetryAttempts
	}
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		lastErr = def.run(ctx, item)
		if lastErr == nil {
			break
		}
		if attempt == maxAttempts || !services.IsTransient(lastErr) || rc.Stopped() {
			break
		}
		o.sleep(o.backoff(attempt))
	}
	elapsed := time.Since(start)

	if lastErr != nil {
		item.MarkFailed(def.phase, lastErr.Error(), attempts)
		if err := rc.Store.Update(item); err != nil {
			o.logger.Error("failed to record item failure",
				logging.String(logging.FieldItemID, item.ID), logging.Error(err))
		}
		rc.Stats.RecordFailure(def.phase, item.ID, lastErr.Error(), elapsed)
		o.logger.Warn("item failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldPhase, string(def.phase)),
			logging.Int("attempts", attempts),
			logging.Error(lastErr))
		return
	}

	item.CompletePhase(def.phase)
	if err := rc.Store.Update(item); err != nil {
		rc.Stats.RecordFailure(def.phase, item.ID, err.Error(), elapsed)
		o.logger.Error("failed to record item completion",
			logging.String(logging.FieldItemID, item.ID), logging.Error(err))
		return
	}
	if item.ProcessingComplete {
		rc.Store.MarkProcessed(item.ID)
	}
	rc.Stats.RecordSuccess(def.phase, elapsed)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := time.Duration(o.cfg.RetryBackoff) * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// tuneModelLimiter resizes the model-call limiter between phases from the
// rolling average duration of recent model calls. Never called while items
// are in flight on that limiter.
func (o *Orchestrator) tuneModelLimiter(rc *RunContext, logger *slog.Logger) {
	avg, ok := rc.modelAverage()
	if !ok {
		return
	}

	lim := o.limiters[classModel]
	current := lim.limit()
	slow := time.Duration(o.cfg.TuneSlowMillis) * time.Millisecond
	fast := time.Duration(o.cfg.TuneFastMillis) * time.Millisecond
	target := current
	switch {
	case slow > 0 && avg > slow && current > 1:
		target = current - 1
	case fast > 0 && avg < fast && current < 2*o.modelBaseline:
		target = current + 1
	}
	if target != current {
		lim.resize(target)
		logger.Info("model concurrency tuned",
			logging.Int("from", current),
			logging.Int("to", target),
			logging.Duration("rolling_avg", avg))
	}
}

func selectPhases(requested []catalog.Phase) []catalog.Phase {
	if len(requested) == 0 {
		return catalog.PhaseOrder()
	}
	want := make(map[catalog.Phase]struct{}, len(requested))
	for _, p := range requested {
		want[p] = struct{}{}
	}
	var out []catalog.Phase
	for _, p := range catalog.PhaseOrder() {
		if _, ok := want[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func phaseSelected(selected []catalog.Phase, phase catalog.Phase) bool {
	for _, p := range selected {
		if p == phase {
			return true
		}
	}
	return false
}
