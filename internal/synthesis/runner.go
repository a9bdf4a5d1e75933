package synthesis

import (
	"context"
	"fmt"
	"log/slog"

	"magpie/internal/catalog"
	"magpie/internal/logging"
	"magpie/internal/services"
)

// Groups buckets qualifying items by their artifact key. Exposed so callers
// can resolve a plan entry back to its member items.
func Groups(items []*catalog.Item) map[Key][]*catalog.Item {
	return groupQualifying(items)
}

// Runner drives one synthesis pass: load records, analyze, regenerate what
// the plan demands. Per-artifact generation failures are logged and skipped;
// only record-store failures propagate.
type Runner struct {
	records   *RecordStore
	engine    *Engine
	generator *Generator
	logger    *slog.Logger
}

// NewRunner wires a runner from its parts.
func NewRunner(records *RecordStore, engine *Engine, generator *Generator, logger *slog.Logger) *Runner {
	return &Runner{
		records:   records,
		engine:    engine,
		generator: generator,
		logger:    logging.NewComponentLogger(logger, "synthesis"),
	}
}

// Plan analyzes the current item population without generating anything.
func (r *Runner) Plan(items []*catalog.Item) (Plan, error) {
	records, err := r.records.Load()
	if err != nil {
		return Plan{}, err
	}
	return r.engine.Analyze(records, items), nil
}

// Run executes a full analyze-then-generate pass. Returns the number of
// artifacts regenerated or created.
func (r *Runner) Run(ctx context.Context, items []*catalog.Item) (int, error) {
	plan, err := r.Plan(items)
	if err != nil {
		return 0, err
	}
	groups := groupQualifying(items)

	generated := 0
	work := make([]Key, 0, len(plan.ToRegenerate)+len(plan.ToCreate))
	reasons := make(map[Key]Reason, len(plan.ToRegenerate))
	for _, decision := range plan.ToRegenerate {
		work = append(work, decision.Key)
		reasons[decision.Key] = decision.Reason
	}
	work = append(work, plan.ToCreate...)

	for _, key := range work {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		members := groups[key]
		if len(members) == 0 {
			r.logger.Warn("stale artifact has no qualifying members, skipping",
				logging.String("key", key.String()))
			continue
		}
		if err := r.generator.Generate(ctx, key, members); err != nil {
			if services.IsSystemic(err) {
				return generated, fmt.Errorf("synthesis run: %w", err)
			}
			r.logger.Error("artifact generation failed",
				logging.String("key", key.String()),
				logging.String("reason", string(reasons[key])),
				logging.Error(err))
			continue
		}
		generated++
	}
	r.logger.Info("synthesis pass complete",
		logging.Int("regenerated", len(plan.ToRegenerate)),
		logging.Int("created", len(plan.ToCreate)),
		logging.Int("generated", generated),
		logging.Int("up_to_date", len(plan.UpToDate)))
	return generated, nil
}
