// Package domain contains core domain types for the weekly ritual service.
package domain

import (
	"time"
)

// Event is a single entry on the merged household calendar.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start,omitzero"`
	End       time.Time `json:"end,omitzero"`
	Type      string    `json:"type,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	Location  string    `json:"location,omitempty"`
	NeedsPrep bool      `json:"needsPrep"`
}

// Conflict is a detected clash between two or more events.
type Conflict struct {
	ID                    string   `json:"id"`
	EventIDs              []string `json:"eventIds,omitempty"`
	Type                  string   `json:"type,omitempty"`
	Severity              string   `json:"severity,omitempty"`
	Description           string   `json:"description,omitempty"`
	ContextualDescription string   `json:"contextualDescription,omitempty"`
	Question              string   `json:"question,omitempty"`
}

// WeekSummary holds the precomputed, non-generated view of a week.
// It is the only input the fallback path reads.
type WeekSummary struct {
	WeekKey       string `json:"weekKey,omitempty"`
	Narrative     string `json:"narrative"`
	Headline      string `json:"headline,omitempty"`
	Affirmation   string `json:"affirmation,omitempty"`
	EventCount    int    `json:"eventCount,omitempty"`
	ConflictCount int    `json:"conflictCount,omitempty"`
	PrepCount     int    `json:"prepCount,omitempty"`
}

// EventIDs returns the ids of the given events in input order.
func EventIDs(events []Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}

// ConflictIDs returns the ids of the given conflicts in input order.
func ConflictIDs(conflicts []Conflict) []string {
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ID)
	}
	return ids
}
