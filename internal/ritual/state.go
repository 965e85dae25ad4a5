// Package ritual tracks each partner's progress through the weekly ritual
// and derives the shared sync state shown to a user.
package ritual

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/coparent-ritual/internal/domain"
)

// State is the partner sync state. The zero value is not a valid state.
type State int

const (
	NoPartner State = iota + 1
	BothCompleteNeedSync
	PartnerFinishedMyTurn
	WaitingForPartner
	PartnerInProgress
	PartnerNotStarted
)

var stateNames = map[State]string{
	NoPartner:             "no_partner",
	BothCompleteNeedSync:  "both_complete_need_sync",
	PartnerFinishedMyTurn: "partner_finished_my_turn",
	WaitingForPartner:     "waiting_for_partner",
	PartnerInProgress:     "partner_in_progress",
	PartnerNotStarted:     "partner_not_started",
}

// States returns every state in precedence order.
func States() []State {
	return []State{
		NoPartner,
		BothCompleteNeedSync,
		PartnerFinishedMyTurn,
		WaitingForPartner,
		PartnerInProgress,
		PartnerNotStarted,
	}
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal reports whether s only changes when a new week begins.
func (s State) IsTerminal() bool {
	switch s {
	case BothCompleteNeedSync, PartnerFinishedMyTurn, WaitingForPartner:
		return true
	}
	return false
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("marshal invalid state %d", int(s))
	}
	return json.Marshal(name)
}

// snapshot is the part of the input the rules look at.
type snapshot struct {
	hasPartner        bool
	mineComplete      bool
	partnerComplete   bool
	partnerInProgress bool
}

// rules are evaluated in order; the first match wins. The last rule matches
// everything so every input maps to exactly one state.
var rules = []struct {
	state State
	match func(snapshot) bool
}{
	{NoPartner, func(s snapshot) bool { return !s.hasPartner }},
	{BothCompleteNeedSync, func(s snapshot) bool { return s.mineComplete && s.partnerComplete }},
	{PartnerFinishedMyTurn, func(s snapshot) bool { return s.partnerComplete }},
	{WaitingForPartner, func(s snapshot) bool { return s.mineComplete }},
	{PartnerInProgress, func(s snapshot) bool { return s.partnerInProgress }},
	{PartnerNotStarted, func(snapshot) bool { return true }},
}

// DeriveState maps both users' progress for the same week to a sync state.
// A nil progress means that user has not started.
func DeriveState(hasPartner bool, mine, partner *domain.RitualProgress) State {
	s := snapshot{
		hasPartner:        hasPartner,
		mineComplete:      mine.IsComplete(),
		partnerComplete:   partner.IsComplete(),
		partnerInProgress: partner.Step() > domain.StepOverview,
	}
	for _, r := range rules {
		if r.match(s) {
			return r.state
		}
	}
	panic("ritual: no sync rule matched")
}
