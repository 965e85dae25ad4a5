package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/coparent-ritual/internal/domain"
	"github.com/ashureev/coparent-ritual/internal/generation"
	"golang.org/x/sync/errgroup"
)

const defaultMaxParallel = 8

// Source tells where a bundle came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceGenerated Source = "generated"
	SourcePartial   Source = "partial"
	SourceFallback  Source = "fallback"
)

// Outcome describes how Analyze produced its bundle.
type Outcome struct {
	Source Source
	Tasks  int
	Failed int
	// Err is ErrProviderUnavailable when generation is not configured, or
	// the joined task errors when some tasks failed.
	Err error
}

// Orchestrator builds week insight bundles.
type Orchestrator struct {
	provider    generation.Provider
	cache       *Cache
	prompts     *PromptCatalog
	maxParallel int
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator. cache may be nil to disable
// memoization; maxParallel <= 0 uses a default bound.
func NewOrchestrator(provider generation.Provider, cache *Cache, prompts *PromptCatalog, maxParallel int, logger *slog.Logger) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider:    provider,
		cache:       cache,
		prompts:     prompts,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

// plannedTask is a task plus the subject its result is assembled into.
type plannedTask struct {
	task      generation.Task
	conflict  *domain.Conflict
	event     *domain.Event
	renderErr error
}

type taskOutcome struct {
	result generation.Result
	err    error
}

type weekPromptData struct {
	Summary   domain.WeekSummary
	Events    []domain.Event
	Conflicts []domain.Conflict
}

type conflictPromptData struct {
	Conflict domain.Conflict
	Events   []domain.Event
}

type eventPromptData struct {
	Event domain.Event
}

// Analyze returns the insight bundle for a week. It always returns a bundle:
// when generation is unavailable or every task fails the bundle is
// synthesized locally, and when only some tasks fail the failed slots are
// filled from the synthesized bundle. Only fully generated bundles are cached.
func (o *Orchestrator) Analyze(ctx context.Context, events []domain.Event, conflicts []domain.Conflict, summary domain.WeekSummary) (*domain.WeekInsightBundle, Outcome) {
	key := MakeKey(domain.EventIDs(events), domain.ConflictIDs(conflicts))

	if entry, ok := o.cache.Get(ctx, key); ok {
		o.logger.Debug("insight cache hit", "cache_key", key, "age", time.Since(entry.StoredAt))
		return entry.Bundle, Outcome{Source: SourceCache}
	}

	if o.provider == nil || !o.provider.Configured() {
		o.logger.Info("generation not configured, using fallback insights", "week_key", summary.WeekKey)
		return Synthesize(summary, conflicts), Outcome{Source: SourceFallback, Err: generation.ErrProviderUnavailable}
	}

	planned := o.plan(events, conflicts, summary)
	outcomes := o.dispatch(ctx, planned)

	var errs []error
	for _, out := range outcomes {
		if out.err != nil {
			errs = append(errs, out.err)
		}
	}
	outcome := Outcome{Tasks: len(planned), Failed: len(errs), Err: errors.Join(errs...)}

	if len(planned) > 0 && outcome.Failed == len(planned) {
		o.logger.Warn("all generation tasks failed, using fallback insights",
			"week_key", summary.WeekKey,
			"tasks", outcome.Tasks,
			"error", outcome.Err)
		outcome.Source = SourceFallback
		return Synthesize(summary, conflicts), outcome
	}

	bundle := o.assemble(planned, outcomes, summary, conflicts)

	if outcome.Failed > 0 {
		o.logger.Warn("some generation tasks failed, filled from fallback",
			"week_key", summary.WeekKey,
			"tasks", outcome.Tasks,
			"failed", outcome.Failed,
			"error", outcome.Err)
		outcome.Source = SourcePartial
		return bundle, outcome
	}

	o.cache.Put(ctx, key, bundle)
	o.logger.Info("generated week insights", "week_key", summary.WeekKey, "tasks", outcome.Tasks, "cache_key", key)
	outcome.Source = SourceGenerated
	return bundle, outcome
}

// plan creates one task per narrative, affirmation, conflict explanation,
// conflict decision options and event needing prep.
func (o *Orchestrator) plan(events []domain.Event, conflicts []domain.Conflict, summary domain.WeekSummary) []plannedTask {
	var planned []plannedTask
	seen := make(map[string]bool)

	add := func(kind generation.Kind, subject string, data any, p plannedTask) {
		id := string(kind) + ":" + subject
		if seen[id] {
			return
		}
		seen[id] = true

		prompt, maxTokens, err := o.render(string(kind), data)
		p.task = generation.Task{Kind: kind, CorrelationID: id, Prompt: prompt, MaxTokens: maxTokens}
		p.renderErr = err
		planned = append(planned, p)
	}

	week := weekPromptData{Summary: summary, Events: events, Conflicts: conflicts}
	add(generation.KindNarrative, "week", week, plannedTask{})
	add(generation.KindAffirmation, "week", week, plannedTask{})

	for i := range conflicts {
		c := &conflicts[i]
		data := conflictPromptData{Conflict: *c, Events: eventsFor(c, events)}
		add(generation.KindConflictExplanation, c.ID, data, plannedTask{conflict: c})
		add(generation.KindDecisionOptions, c.ID, data, plannedTask{conflict: c})
	}

	for i := range events {
		e := &events[i]
		if !e.NeedsPrep {
			continue
		}
		add(generation.KindPrepSuggestion, e.ID, eventPromptData{Event: *e}, plannedTask{event: e})
	}
	return planned
}

func (o *Orchestrator) render(name string, data any) (string, int, error) {
	if o.prompts == nil {
		return "", 0, errors.New("no prompt catalog")
	}
	return o.prompts.Render(name, data)
}

// dispatch runs every task concurrently and records a per-task outcome.
// A failing task never cancels its siblings.
func (o *Orchestrator) dispatch(ctx context.Context, planned []plannedTask) []taskOutcome {
	outcomes := make([]taskOutcome, len(planned))

	var g errgroup.Group
	g.SetLimit(o.maxParallel)
	for i, p := range planned {
		if p.renderErr != nil {
			outcomes[i] = taskOutcome{err: fmt.Errorf("%s: %w", p.task.CorrelationID, p.renderErr)}
			continue
		}
		g.Go(func() error {
			res, err := o.provider.Generate(ctx, p.task)
			if err == nil && res.CorrelationID != p.task.CorrelationID {
				err = fmt.Errorf("%w: result %q does not match task %q", generation.ErrProvider, res.CorrelationID, p.task.CorrelationID)
			}
			outcomes[i] = taskOutcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait() // errors captured in outcomes

	return outcomes
}

// assemble starts from the synthesized bundle and overwrites every slot whose
// task succeeded and parsed to something usable.
func (o *Orchestrator) assemble(planned []plannedTask, outcomes []taskOutcome, summary domain.WeekSummary, conflicts []domain.Conflict) *domain.WeekInsightBundle {
	bundle := Synthesize(summary, conflicts)

	for i, p := range planned {
		out := outcomes[i]
		if out.err != nil {
			continue
		}
		raw := out.result.RawText

		switch p.task.Kind {
		case generation.KindNarrative:
			if text := strings.TrimSpace(raw); text != "" {
				bundle.Narrative = text
			}
		case generation.KindAffirmation:
			if a, ok := ParseAffirmation(raw); ok {
				bundle.Affirmation = a
			}
		case generation.KindConflictExplanation:
			ci := bundle.ConflictInsights[p.conflict.ID]
			explanation, question := ParseConflictExplanation(raw)
			if explanation != "" {
				ci.Explanation = explanation
			}
			ci.Question = question
			bundle.ConflictInsights[p.conflict.ID] = ci
		case generation.KindDecisionOptions:
			options := ParseList(raw)
			if len(options) == 0 {
				continue
			}
			bundle.DecisionOptions[p.conflict.ID] = options
			ci := bundle.ConflictInsights[p.conflict.ID]
			ci.Suggestions = slices.Clone(options)
			bundle.ConflictInsights[p.conflict.ID] = ci
		case generation.KindPrepSuggestion:
			if items := ParseList(raw); len(items) > 0 {
				bundle.PrepSuggestions[p.event.Title] = items
			}
		}
	}
	return bundle
}

func eventsFor(c *domain.Conflict, events []domain.Event) []domain.Event {
	var out []domain.Event
	for _, e := range events {
		if slices.Contains(c.EventIDs, e.ID) {
			out = append(out, e)
		}
	}
	return out
}
