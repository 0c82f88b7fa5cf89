package domain

import (
	"strconv"
	"strings"
)

// GamePhase is the on-chain game state that gates user input.
type GamePhase string

const (
	PhaseUserAction  GamePhase = "UserAction"
	PhaseAgentAction GamePhase = "AgentAction"
	PhaseEnded       GamePhase = "Ended"
	// PhaseUnknown marks an on-chain value outside the known table.
	PhaseUnknown GamePhase = "Unknown"
)

// phaseByIndex mirrors the declaration order of the contract enum.
var phaseByIndex = []GamePhase{PhaseUserAction, PhaseAgentAction, PhaseEnded}

// PhaseFromIndex maps the raw enum value read from the contract.
func PhaseFromIndex(i uint64) GamePhase {
	if i >= uint64(len(phaseByIndex)) {
		return PhaseUnknown
	}
	return phaseByIndex[i]
}

// ParsePhase accepts either a phase name (case-insensitive) or its numeric index.
func ParsePhase(s string) GamePhase {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return PhaseFromIndex(n)
	}
	for _, p := range phaseByIndex {
		if strings.EqualFold(string(p), s) {
			return p
		}
	}
	return PhaseUnknown
}

// Index returns the contract enum value, or -1 for PhaseUnknown.
func (p GamePhase) Index() int {
	for i, known := range phaseByIndex {
		if known == p {
			return i
		}
	}
	return -1
}

// AcceptsUserInput reports whether users may send messages in this phase.
func (p GamePhase) AcceptsUserInput() bool {
	return p == PhaseUserAction
}
