package domain

// WeekInsightBundle is the full set of generated (or synthesized) insights
// for one week. Callers must treat a returned bundle as read-only.
type WeekInsightBundle struct {
	Narrative        string                     `json:"narrative"`
	ConflictInsights map[string]ConflictInsight `json:"conflictInsights"`
	PrepSuggestions  map[string][]string        `json:"prepSuggestions"`
	DecisionOptions  map[string][]string        `json:"decisionOptions"`
	Affirmation      Affirmation                `json:"affirmation"`
}

// ConflictInsight explains a single conflict.
type ConflictInsight struct {
	Explanation string   `json:"explanation"`
	Suggestions []string `json:"suggestions"`
	Question    string   `json:"question"`
}

// Affirmation is the closing encouragement of a ritual.
type Affirmation struct {
	Headline string `json:"headline"`
	Message  string `json:"message"`
}

// NewWeekInsightBundle returns a bundle with all maps allocated.
func NewWeekInsightBundle() *WeekInsightBundle {
	return &WeekInsightBundle{
		ConflictInsights: make(map[string]ConflictInsight),
		PrepSuggestions:  make(map[string][]string),
		DecisionOptions:  make(map[string][]string),
	}
}
