package domain

import (
	"time"
)

// Ritual steps, in the order a user walks through them.
const (
	StepOverview  = 0
	StepConflicts = 1
	StepPrep      = 2
	StepDecisions = 3
	StepReady     = 4
	StepComplete  = 5
)

// RitualProgress tracks one user's progress through one week's ritual.
type RitualProgress struct {
	UserID      string     `json:"userId"`
	WeekKey     string     `json:"weekKey"`
	CurrentStep int        `json:"currentStep"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsComplete reports whether the ritual was finished.
func (p *RitualProgress) IsComplete() bool {
	return p != nil && p.CompletedAt != nil
}

// Step returns the current step, treating a missing record as not started.
func (p *RitualProgress) Step() int {
	if p == nil {
		return StepOverview
	}
	return p.CurrentStep
}
