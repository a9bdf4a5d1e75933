package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Phase identifies one stage of the per-item pipeline.
type Phase string

const (
	PhaseCache    Phase = "cache"
	PhaseMedia    Phase = "media"
	PhaseClassify Phase = "classify"
	PhaseDocument Phase = "document"
	PhasePublish  Phase = "publish"
)

var phaseOrder = []Phase{PhaseCache, PhaseMedia, PhaseClassify, PhaseDocument, PhasePublish}

// PhaseOrder returns the fixed dependency order of item phases.
func PhaseOrder() []Phase {
	cp := make([]Phase, len(phaseOrder))
	copy(cp, phaseOrder)
	return cp
}

// ParsePhase converts a string into a known Phase.
func ParsePhase(value string) (Phase, bool) {
	normalized := Phase(strings.ToLower(strings.TrimSpace(value)))
	for _, p := range phaseOrder {
		if p == normalized {
			return p, true
		}
	}
	return "", false
}

// MediaKind distinguishes attachment types on a post.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaLink  MediaKind = "link"
)

// MediaRef describes one media attachment of a post.
type MediaRef struct {
	OriginalURL string    `json:"originalUrl"`
	LocalPath   string    `json:"localPath,omitempty"`
	Kind        MediaKind `json:"kind"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// State classifies where an item currently sits in its lifecycle.
type State string

const (
	StateUnprocessed State = "unprocessed"
	StateInProgress  State = "in_progress"
	StateFailed      State = "failed"
	StateComplete    State = "complete"
)

// Item is the durable per-post processing record.
type Item struct {
	ID        string `json:"id"`
	SourceURL string `json:"sourceUrl"`

	// Raw content captured during the cache phase.
	Author         string     `json:"author,omitempty"`
	Text           string     `json:"text,omitempty"`
	ThreadSegments []string   `json:"threadSegments,omitempty"`
	PostedAt       *time.Time `json:"postedAt,omitempty"`
	Media          []MediaRef `json:"media,omitempty"`

	// Phase completion flags. Monotonic: a later flag may only be true when
	// all earlier flags are true.
	CacheComplete       bool `json:"cacheComplete"`
	MediaProcessed      bool `json:"mediaProcessed"`
	CategoriesProcessed bool `json:"categoriesProcessed"`
	DocumentCreated     bool `json:"documentCreated"`
	Published           bool `json:"published"`
	ProcessingComplete  bool `json:"processingComplete"`

	// Derived fields written by phases.
	Category         string `json:"category,omitempty"`
	SubCategory      string `json:"subCategory,omitempty"`
	ItemName         string `json:"itemName,omitempty"`
	GeneratedContent string `json:"generatedContent,omitempty"`
	GeneratedPath    string `json:"generatedPath,omitempty"`

	// Bookkeeping.
	LastAttemptAt map[Phase]time.Time `json:"lastAttemptAt,omitempty"`
	RetryCount    int                 `json:"retryCount,omitempty"`
	FailedPhase   Phase               `json:"failedPhase,omitempty"`
	ErrorMessage  string              `json:"errorMessage,omitempty"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// PhaseDone reports whether the completion flag for the given phase is set.
func (i *Item) PhaseDone(phase Phase) bool {
	switch phase {
	case PhaseCache:
		return i.CacheComplete
	case PhaseMedia:
		return i.MediaProcessed
	case PhaseClassify:
		return i.CategoriesProcessed
	case PhaseDocument:
		return i.DocumentCreated
	case PhasePublish:
		return i.Published
	default:
		return false
	}
}

func (i *Item) setPhaseDone(phase Phase) {
	switch phase {
	case PhaseCache:
		i.CacheComplete = true
	case PhaseMedia:
		i.MediaProcessed = true
	case PhaseClassify:
		i.CategoriesProcessed = true
	case PhaseDocument:
		i.DocumentCreated = true
	case PhasePublish:
		i.Published = true
	}
}

// PrerequisitesMet reports whether every phase before the given one has
// completed for this item.
func (i *Item) PrerequisitesMet(phase Phase) bool {
	for _, p := range phaseOrder {
		if p == phase {
			return true
		}
		if !i.PhaseDone(p) {
			return false
		}
	}
	return false
}

// NeedsPhase reports whether the item is eligible work for the given phase:
// the phase itself is incomplete and all prerequisite phases are complete.
func (i *Item) NeedsPhase(phase Phase) bool {
	return !i.PhaseDone(phase) && i.PrerequisitesMet(phase)
}

// ResetPhase clears a phase's completion flag and the derived state that
// makes its work skippable, so a forced run re-executes the phase instead of
// short-circuiting on the previous result.
func (i *Item) ResetPhase(phase Phase) {
	switch phase {
	case PhaseCache:
		i.CacheComplete = false
	case PhaseMedia:
		i.MediaProcessed = false
		for idx := range i.Media {
			i.Media[idx].Description = ""
		}
	case PhaseClassify:
		i.CategoriesProcessed = false
	case PhaseDocument:
		i.DocumentCreated = false
	case PhasePublish:
		i.Published = false
	}
	i.ProcessingComplete = false
}

// BeginAttempt records the start of a phase attempt.
func (i *Item) BeginAttempt(phase Phase, now time.Time) {
	if i.LastAttemptAt == nil {
		i.LastAttemptAt = make(map[Phase]time.Time, len(phaseOrder))
	}
	i.LastAttemptAt[phase] = now.UTC()
}

// CompletePhase sets the completion flag for a phase and clears failure
// markers left by earlier attempts of that phase. When the final phase
// completes, ProcessingComplete is set.
func (i *Item) CompletePhase(phase Phase) {
	i.setPhaseDone(phase)
	if i.FailedPhase == phase {
		i.FailedPhase = ""
		i.ErrorMessage = ""
		i.RetryCount = 0
	}
	all := true
	for _, p := range phaseOrder {
		if !i.PhaseDone(p) {
			all = false
			break
		}
	}
	if all && i.ErrorMessage == "" {
		i.ProcessingComplete = true
	}
}

// MarkFailed records a terminal per-item failure for the given phase.
func (i *Item) MarkFailed(phase Phase, message string, attempts int) {
	i.FailedPhase = phase
	i.ErrorMessage = strings.TrimSpace(message)
	i.RetryCount += attempts
	i.ProcessingComplete = false
}

// CurrentState derives the lifecycle state from the item's flags.
func (i *Item) CurrentState() State {
	if i.ProcessingComplete {
		return StateComplete
	}
	if i.FailedPhase != "" || i.ErrorMessage != "" {
		return StateFailed
	}
	for _, p := range phaseOrder {
		if i.PhaseDone(p) {
			return StateInProgress
		}
	}
	return StateUnprocessed
}

// NextPhase returns the first incomplete phase, or false when the item is
// fully processed.
func (i *Item) NextPhase() (Phase, bool) {
	for _, p := range phaseOrder {
		if !i.PhaseDone(p) {
			return p, true
		}
	}
	return "", false
}

// Validate checks the monotonic flag invariant: a later phase's completion
// flag may only be true when all earlier flags are true, and
// ProcessingComplete implies all flags true with no error.
func (i *Item) Validate() error {
	seenIncomplete := false
	for _, p := range phaseOrder {
		done := i.PhaseDone(p)
		if done && seenIncomplete {
			return fmt.Errorf("item %s: phase %s complete but an earlier phase is not", i.ID, p)
		}
		if !done {
			seenIncomplete = true
		}
	}
	if i.ProcessingComplete {
		if seenIncomplete {
			return fmt.Errorf("item %s: processingComplete with incomplete phases", i.ID)
		}
		if i.ErrorMessage != "" {
			return fmt.Errorf("item %s: processingComplete with error %q", i.ID, i.ErrorMessage)
		}
	}
	return nil
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	cp := *i
	if i.ThreadSegments != nil {
		cp.ThreadSegments = append([]string(nil), i.ThreadSegments...)
	}
	if i.Media != nil {
		cp.Media = append([]MediaRef(nil), i.Media...)
	}
	if i.LastAttemptAt != nil {
		cp.LastAttemptAt = make(map[Phase]time.Time, len(i.LastAttemptAt))
		for k, v := range i.LastAttemptAt {
			cp.LastAttemptAt[k] = v
		}
	}
	return &cp
}
