package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainMessage is a message as it was observed on chain. It is never mutated.
type ChainMessage struct {
	Sender    string `json:"sender" yaml:"sender"`
	Content   string `json:"content" yaml:"content"`
	Timestamp uint64 `json:"timestamp" yaml:"timestamp"`
}

// SenderAddress parses the sender. The second return is false when the
// sender is not a 20-byte hex address.
func (m ChainMessage) SenderAddress() (common.Address, bool) {
	s := strings.TrimSpace(m.Sender)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// Role attributes a session message to a side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SessionMessage is the chat-ready projection of a ChainMessage.
type SessionMessage struct {
	// ID is the chain timestamp, suffixed with "-<seq>" for later messages
	// sharing the same timestamp.
	ID string `json:"id"`
	// Key is "<sender>:<timestamp>:<seq>", stable across re-derivations.
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStatus is the UI-ready state of the input box and the game counters.
type SessionStatus struct {
	InputEnabled bool      `json:"input_enabled"`
	Loading      bool      `json:"loading"`
	Phase        GamePhase `json:"phase,omitempty"`
	PhaseKnown   bool      `json:"phase_known"`

	DisplayPrice  string `json:"display_price"`
	PriceWei      string `json:"price_wei,omitempty"`
	PriceResolved bool   `json:"price_resolved"`

	DisplayPrizePool  string `json:"display_prize_pool"`
	PrizePoolWei      string `json:"prize_pool_wei,omitempty"`
	PrizePoolResolved bool   `json:"prize_pool_resolved"`

	ReadError string `json:"read_error,omitempty"`

	// Submitting is true while the viewer has a send intent that has not
	// yet been observed on chain.
	Submitting bool `json:"submitting"`
}
