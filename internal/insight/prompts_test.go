package insight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coparent-ritual/internal/domain"
	"github.com/ashureev/coparent-ritual/internal/generation"
)

func TestDefaultPromptsCoverEveryKind(t *testing.T) {
	prompts, err := DefaultPrompts()
	require.NoError(t, err)

	for _, kind := range []generation.Kind{
		generation.KindNarrative,
		generation.KindAffirmation,
		generation.KindConflictExplanation,
		generation.KindPrepSuggestion,
		generation.KindDecisionOptions,
	} {
		assert.NoError(t, prompts.Require(string(kind)), "missing prompt for %s", kind)
	}
	assert.NoError(t, prompts.Require("prep", "decision", "detail"))
}

func TestRequireNamesMissingPrompts(t *testing.T) {
	prompts, err := ParsePrompts([]byte("narrative:\n  max_tokens: 10\n  template: hi\n"))
	require.NoError(t, err)

	assert.NoError(t, prompts.Require("narrative"))
	err = prompts.Require("narrative", "affirmation", "prep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "affirmation, prep")
}

func TestRenderPrepPrompt(t *testing.T) {
	prompts, err := DefaultPrompts()
	require.NoError(t, err)

	text, maxTokens, err := prompts.Render("prepSuggestion", eventPromptData{Event: domain.Event{
		ID:       "e1",
		Title:    "Dentist",
		Type:     "medical",
		Start:    time.Date(2026, 3, 3, 15, 30, 0, 0, time.UTC),
		Location: "Main St Clinic",
	}})
	require.NoError(t, err)
	assert.Equal(t, 150, maxTokens)
	assert.Contains(t, text, `"Dentist" (medical) on Tue Mar 3 3:30pm at Main St Clinic`)
}

func TestRenderStreamPromptIncludesContext(t *testing.T) {
	prompts, err := DefaultPrompts()
	require.NoError(t, err)

	text, _, err := prompts.Render("detail", map[string]any{"Context": map[string]any{"question": "Who drives?"}})
	require.NoError(t, err)
	assert.Contains(t, text, `{"question":"Who drives?"}`)
}

func TestParsePromptsRejectsBadInput(t *testing.T) {
	_, err := ParsePrompts([]byte("narrative: [not, a, map"))
	assert.Error(t, err)

	_, err = ParsePrompts([]byte("narrative:\n  max_tokens: 10\n  template: \"\"\n"))
	assert.Error(t, err)

	_, err = ParsePrompts([]byte("narrative:\n  template: \"{{.Broken\"\n"))
	assert.Error(t, err)
}

func TestRenderUnknownPrompt(t *testing.T) {
	prompts, err := DefaultPrompts()
	require.NoError(t, err)

	_, _, err = prompts.Render("nope", nil)
	assert.Error(t, err)
}
