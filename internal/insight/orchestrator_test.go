package insight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coparent-ritual/internal/domain"
	"github.com/ashureev/coparent-ritual/internal/generation"
)

// fakeProvider answers by correlation id. Unknown ids get a generic reply.
type fakeProvider struct {
	configured bool
	replies    map[string]string
	failures   map[string]error
	delay      time.Duration

	mu       sync.Mutex
	calls    []generation.Task
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Generate(ctx context.Context, task generation.Task) (generation.Result, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, task)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return generation.Result{}, ctx.Err()
		}
	}
	if err, ok := f.failures[task.CorrelationID]; ok {
		return generation.Result{}, err
	}
	text, ok := f.replies[task.CorrelationID]
	if !ok {
		text = "generated " + task.CorrelationID
	}
	return generation.Result{Kind: task.Kind, CorrelationID: task.CorrelationID, RawText: text}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestOrchestrator(t *testing.T, provider generation.Provider, kv KV) *Orchestrator {
	t.Helper()
	prompts, err := DefaultPrompts()
	require.NoError(t, err)
	return NewOrchestrator(provider, NewCache(kv, time.Hour, nil, nil), prompts, 4, nil)
}

var (
	testSummary = domain.WeekSummary{
		WeekKey:     "2026-W10",
		Narrative:   "A steady week with one overlap.",
		Headline:    "Steady",
		Affirmation: "You are on top of it.",
	}
	testEvents = []domain.Event{
		{ID: "e1", Title: "Dentist", NeedsPrep: true},
		{ID: "e2", Title: "Soccer practice"},
		{ID: "e3", Title: "School pickup"},
	}
	testConflicts = []domain.Conflict{
		{ID: "c1", EventIDs: []string{"e2", "e3"}, Description: "Soccer and pickup overlap", ContextualDescription: "Both at 3pm on Tuesday."},
	}
)

func TestAnalyzePrepScenario(t *testing.T) {
	provider := &fakeProvider{
		configured: true,
		replies: map[string]string{
			"prepSuggestion:e1": "Pack forms\nBring insurance card",
		},
	}
	o := newTestOrchestrator(t, provider, NewMemoryKV())

	events := []domain.Event{{ID: "e1", NeedsPrep: true, Title: "Dentist"}}
	bundle, outcome := o.Analyze(context.Background(), events, nil, testSummary)

	assert.Equal(t, SourceGenerated, outcome.Source)
	assert.Equal(t, []string{"Pack forms", "Bring insurance card"}, bundle.PrepSuggestions["Dentist"])
}

func TestAnalyzeFansOutOneTaskPerSlot(t *testing.T) {
	provider := &fakeProvider{
		configured: true,
		replies: map[string]string{
			"narrative:week":         "Tuesday is the busy day.",
			"affirmation:week":       "Headline: Great teamwork\nMessage: You planned it all.",
			"conflictExplanation:c1": "They overlap because of school pickup.\nWho can adjust?",
			"decisionOptions:c1":     "1. Carpool with the Smiths\n2. Skip practice",
			"prepSuggestion:e1":      "- Pack forms",
		},
	}
	o := newTestOrchestrator(t, provider, NewMemoryKV())

	bundle, outcome := o.Analyze(context.Background(), testEvents, testConflicts, testSummary)

	require.NoError(t, outcome.Err)
	assert.Equal(t, SourceGenerated, outcome.Source)
	assert.Equal(t, 5, outcome.Tasks)
	assert.Equal(t, 5, provider.callCount())

	assert.Equal(t, "Tuesday is the busy day.", bundle.Narrative)
	assert.Equal(t, domain.Affirmation{Headline: "Great teamwork", Message: "You planned it all."}, bundle.Affirmation)
	assert.Equal(t, domain.ConflictInsight{
		Explanation: "They overlap because of school pickup.",
		Suggestions: []string{"Carpool with the Smiths", "Skip practice"},
		Question:    "Who can adjust?",
	}, bundle.ConflictInsights["c1"])
	assert.Equal(t, []string{"Carpool with the Smiths", "Skip practice"}, bundle.DecisionOptions["c1"])
	assert.Equal(t, map[string][]string{"Dentist": {"Pack forms"}}, bundle.PrepSuggestions)
}

func TestAnalyzeCacheHitSkipsProvider(t *testing.T) {
	provider := &fakeProvider{configured: true}
	o := newTestOrchestrator(t, provider, NewMemoryKV())
	ctx := context.Background()

	first, outcome := o.Analyze(ctx, testEvents, testConflicts, testSummary)
	require.Equal(t, SourceGenerated, outcome.Source)
	calls := provider.callCount()

	reversed := []domain.Event{testEvents[2], testEvents[1], testEvents[0]}
	second, outcome := o.Analyze(ctx, reversed, testConflicts, testSummary)

	assert.Equal(t, SourceCache, outcome.Source)
	assert.Equal(t, calls, provider.callCount(), "cache hit must not call the provider")
	assert.Equal(t, first, second)
}

func TestAnalyzeUnconfiguredReturnsFallbackUncached(t *testing.T) {
	provider := &fakeProvider{configured: false}
	kv := NewMemoryKV()
	o := newTestOrchestrator(t, provider, kv)

	bundle, outcome := o.Analyze(context.Background(), testEvents, testConflicts, testSummary)

	assert.Equal(t, SourceFallback, outcome.Source)
	assert.ErrorIs(t, outcome.Err, generation.ErrProviderUnavailable)
	assert.Equal(t, Synthesize(testSummary, testConflicts), bundle)
	assert.Equal(t, 0, kv.size())
	assert.Equal(t, 0, provider.callCount())
}

func TestAnalyzeNilProviderReturnsFallback(t *testing.T) {
	o := newTestOrchestrator(t, nil, NewMemoryKV())
	bundle, outcome := o.Analyze(context.Background(), testEvents, testConflicts, testSummary)
	assert.Equal(t, SourceFallback, outcome.Source)
	assert.Equal(t, Synthesize(testSummary, testConflicts), bundle)
}

func TestAnalyzePartialFailureKeepsSucceededSlots(t *testing.T) {
	provider := &fakeProvider{
		configured: true,
		replies: map[string]string{
			"narrative:week":    "Generated narrative.",
			"prepSuggestion:e1": "Pack forms",
		},
		failures: map[string]error{
			"conflictExplanation:c1": errors.New("boom"),
		},
	}
	kv := NewMemoryKV()
	o := newTestOrchestrator(t, provider, kv)

	bundle, outcome := o.Analyze(context.Background(), testEvents, testConflicts, testSummary)

	assert.Equal(t, SourcePartial, outcome.Source)
	assert.Equal(t, 1, outcome.Failed)
	assert.Error(t, outcome.Err)
	assert.Equal(t, "Generated narrative.", bundle.Narrative)
	assert.Equal(t, []string{"Pack forms"}, bundle.PrepSuggestions["Dentist"])

	fallback := Synthesize(testSummary, testConflicts).ConflictInsights["c1"]
	ci := bundle.ConflictInsights["c1"]
	assert.Equal(t, fallback.Explanation, ci.Explanation)
	assert.Equal(t, fallback.Question, ci.Question)
	assert.Equal(t, 0, kv.size(), "partial bundles are not cached")
}

func TestAnalyzeAllTasksFailedReturnsFallback(t *testing.T) {
	boom := errors.New("provider down")
	provider := &fakeProvider{
		configured: true,
		failures: map[string]error{
			"narrative:week":         boom,
			"affirmation:week":       boom,
			"conflictExplanation:c1": boom,
			"decisionOptions:c1":     boom,
			"prepSuggestion:e1":      boom,
		},
	}
	kv := NewMemoryKV()
	o := newTestOrchestrator(t, provider, kv)

	bundle, outcome := o.Analyze(context.Background(), testEvents, testConflicts, testSummary)

	assert.Equal(t, SourceFallback, outcome.Source)
	assert.Equal(t, 5, outcome.Failed)
	assert.ErrorIs(t, outcome.Err, boom)
	assert.Equal(t, Synthesize(testSummary, testConflicts), bundle)
	assert.Equal(t, 0, kv.size())
}

func TestAnalyzeEmptyResponsesKeepFallbackValues(t *testing.T) {
	provider := &fakeProvider{
		configured: true,
		replies: map[string]string{
			"narrative:week":     "   ",
			"affirmation:week":   "",
			"decisionOptions:c1": "\n\n",
			"prepSuggestion:e1":  "",
		},
	}
	o := newTestOrchestrator(t, provider, NewMemoryKV())

	bundle, _ := o.Analyze(context.Background(), testEvents, testConflicts, testSummary)

	assert.Equal(t, testSummary.Narrative, bundle.Narrative)
	assert.Equal(t, domain.Affirmation{Headline: "Steady", Message: "You are on top of it."}, bundle.Affirmation)
	assert.NotContains(t, bundle.DecisionOptions, "c1")
	assert.NotContains(t, bundle.PrepSuggestions, "Dentist")
}

func TestAnalyzeRunsTasksConcurrentlyWithinLimit(t *testing.T) {
	conflicts := make([]domain.Conflict, 0, 6)
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		conflicts = append(conflicts, domain.Conflict{ID: id, Description: "overlap " + id})
	}
	provider := &fakeProvider{configured: true, delay: 20 * time.Millisecond}
	o := newTestOrchestrator(t, provider, NewMemoryKV())

	_, outcome := o.Analyze(context.Background(), nil, conflicts, testSummary)

	assert.Equal(t, 14, outcome.Tasks)
	assert.Greater(t, provider.peak.Load(), int32(1))
	assert.LessOrEqual(t, provider.peak.Load(), int32(4))
}

func TestAnalyzeDeduplicatesRepeatedIDs(t *testing.T) {
	provider := &fakeProvider{configured: true}
	o := newTestOrchestrator(t, provider, NewMemoryKV())

	conflicts := []domain.Conflict{{ID: "c1"}, {ID: "c1"}}
	_, outcome := o.Analyze(context.Background(), nil, conflicts, testSummary)

	assert.Equal(t, 4, outcome.Tasks)
	assert.Equal(t, 4, provider.callCount())
	for _, call := range provider.calls {
		assert.True(t, strings.HasSuffix(call.CorrelationID, ":c1") || strings.HasSuffix(call.CorrelationID, ":week"), call.CorrelationID)
	}
}

func TestAnalyzeIDsWithSeparatorsDoNotShareCache(t *testing.T) {
	provider := &fakeProvider{configured: true}
	o := newTestOrchestrator(t, provider, NewMemoryKV())
	ctx := context.Background()

	first := []domain.Event{{ID: "a", Title: "Dentist", NeedsPrep: true}, {ID: "b", Title: "Soccer", NeedsPrep: true}}
	_, outcome := o.Analyze(ctx, first, nil, testSummary)
	require.Equal(t, SourceGenerated, outcome.Source)

	second := []domain.Event{{ID: "a,b", Title: "Piano", NeedsPrep: true}}
	bundle, outcome := o.Analyze(ctx, second, nil, testSummary)

	assert.Equal(t, SourceGenerated, outcome.Source)
	assert.Contains(t, bundle.PrepSuggestions, "Piano")
	assert.NotContains(t, bundle.PrepSuggestions, "Dentist")
}
