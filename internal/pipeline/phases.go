package pipeline

import (
	"context"
	"strings"

	"magpie/internal/catalog"
	"magpie/internal/services"
)

// phaseClass groups phases by cost profile; each class has its own
// concurrency limiter.
type phaseClass int

const (
	classNetwork phaseClass = iota
	classModel
	classLocal
)

// phaseDef binds one item phase to its class, retry policy, and logic.
// Only model-call phases retry automatically; everything else records a
// terminal per-item failure on the first error.
type phaseDef struct {
	phase     catalog.Phase
	class     phaseClass
	retryable bool
	run       func(ctx context.Context, item *catalog.Item) error
}

func (o *Orchestrator) phaseDefs() []phaseDef {
	return []phaseDef{
		{phase: catalog.PhaseCache, class: classNetwork, run: o.runCache},
		{phase: catalog.PhaseMedia, class: classModel, retryable: true, run: o.runMedia},
		{phase: catalog.PhaseClassify, class: classModel, retryable: true, run: o.runClassify},
		{phase: catalog.PhaseDocument, class: classLocal, run: o.runDocument},
		{phase: catalog.PhasePublish, class: classLocal, run: o.runPublishItem},
	}
}

func (o *Orchestrator) runCache(ctx context.Context, item *catalog.Item) error {
	return o.deps.Downloader.Cache(ctx, item)
}

// runMedia describes every image attachment that has a local copy and no
// description yet. Attachments that failed to download keep their recorded
// error and are skipped.
func (o *Orchestrator) runMedia(ctx context.Context, item *catalog.Item) error {
	if o.deps.Media == nil {
		return nil
	}
	for idx := range item.Media {
		ref := &item.Media[idx]
		if ref.Kind != catalog.MediaImage || ref.Description != "" || ref.Error != "" {
			continue
		}
		description, err := o.deps.Media.Describe(ctx, *ref)
		if err != nil {
			return err
		}
		ref.Description = description
	}
	return nil
}

func (o *Orchestrator) runClassify(ctx context.Context, item *catalog.Item) error {
	result, err := o.deps.Categorizer.Classify(ctx, item)
	if err != nil {
		return err
	}
	item.Category = result.Category
	item.SubCategory = result.SubCategory
	item.ItemName = result.ItemName
	return nil
}

func (o *Orchestrator) runDocument(ctx context.Context, item *catalog.Item) error {
	result, err := o.deps.Generator.Generate(ctx, item)
	if err != nil {
		return err
	}
	item.GeneratedContent = result.Content
	item.GeneratedPath = result.Path
	return nil
}

// runPublishItem confirms the generated document is in place and marks the
// item published. The actual push to the remote happens once per run, after
// all items are processed.
func (o *Orchestrator) runPublishItem(_ context.Context, item *catalog.Item) error {
	if strings.TrimSpace(item.GeneratedPath) == "" {
		return services.Wrap(services.ErrValidation, "pipeline", "publish",
			"item has no generated document", nil)
	}
	return nil
}
