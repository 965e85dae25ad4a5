package insight

import (
	"github.com/ashureev/coparent-ritual/internal/domain"
)

const (
	DefaultQuestion           = "How would you like to handle this together?"
	DefaultHeadline           = "You've got this week"
	DefaultAffirmationMessage = "Sitting down to plan together is already a win for your family."
)

// Synthesize builds a bundle from precomputed week data alone. It performs no
// I/O and cannot fail. Prep suggestions and decision options are left empty;
// clients show their static checklists instead.
func Synthesize(summary domain.WeekSummary, conflicts []domain.Conflict) *domain.WeekInsightBundle {
	bundle := domain.NewWeekInsightBundle()
	bundle.Narrative = summary.Narrative
	bundle.Affirmation = fallbackAffirmation(summary)
	for _, c := range conflicts {
		bundle.ConflictInsights[c.ID] = fallbackConflictInsight(c)
	}
	return bundle
}

func fallbackAffirmation(summary domain.WeekSummary) domain.Affirmation {
	a := domain.Affirmation{Headline: summary.Headline, Message: summary.Affirmation}
	if a.Headline == "" {
		a.Headline = DefaultHeadline
	}
	if a.Message == "" {
		a.Message = DefaultAffirmationMessage
	}
	return a
}

func fallbackConflictInsight(c domain.Conflict) domain.ConflictInsight {
	explanation := c.ContextualDescription
	if explanation == "" {
		explanation = c.Description
	}
	question := c.Question
	if question == "" {
		question = DefaultQuestion
	}
	return domain.ConflictInsight{
		Explanation: explanation,
		Suggestions: []string{},
		Question:    question,
	}
}
