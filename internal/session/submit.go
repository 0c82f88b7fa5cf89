package session

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/promptpot/promptpot/internal/domain"
)

// OutcomeKind is the result class of a send attempt.
type OutcomeKind string

const (
	Dispatched OutcomeKind = "dispatched"
	Gated      OutcomeKind = "gated"
	Rejected   OutcomeKind = "rejected"
)

// Reason explains a gated or rejected send.
type Reason string

const (
	ReasonConnectRequired  Reason = "connect_required"
	ReasonPriceUnavailable Reason = "price_unavailable"
	ReasonEmptyMessage     Reason = "empty_message"
	ReasonInputDisabled    Reason = "input_disabled"
	ReasonDispatchFailed   Reason = "dispatch_failed"
	ReasonRateLimited      Reason = "rate_limited"
)

// Outcome is what a send attempt produced.
type Outcome struct {
	Kind   OutcomeKind    `json:"outcome"`
	Reason Reason         `json:"reason,omitempty"`
	Intent *domain.Intent `json:"intent,omitempty"`
}

// Wallet is the entry gate's view of the sender.
type Wallet struct {
	Connected bool
	Address   common.Address
}

// Request is a user's intent to send a paid message.
type Request struct {
	Text  string
	Quote *big.Int
	// UserID is carried through to the dispatched call for bookkeeping.
	UserID string
	Wallet Wallet
}

// Call is the paid write handed to the chain write path.
type Call struct {
	UserID   string
	Wallet   common.Address
	Text     string
	Price    string
	PriceWei *big.Int
}

// Dispatcher performs the write call.
type Dispatcher interface {
	SendMessage(ctx context.Context, call Call) (domain.Intent, error)
}

// ConnectPrompt triggers the wallet-connect UI.
type ConnectPrompt func()

// Submit gates and dispatches one send. The checks run in a fixed order:
// wallet first, so an unconnected user is always prompted; then price; then
// text. The dispatcher is called at most once and never retried.
func Submit(ctx context.Context, req Request, d Dispatcher, prompt ConnectPrompt) (Outcome, error) {
	if !req.Wallet.Connected {
		if prompt != nil {
			prompt()
		}
		return Outcome{Kind: Gated, Reason: ReasonConnectRequired}, nil
	}
	if req.Quote == nil {
		return Outcome{Kind: Rejected, Reason: ReasonPriceUnavailable}, nil
	}
	if strings.TrimSpace(req.Text) == "" {
		return Outcome{Kind: Rejected, Reason: ReasonEmptyMessage}, nil
	}

	intent, err := d.SendMessage(ctx, Call{
		UserID:   req.UserID,
		Wallet:   req.Wallet.Address,
		Text:     req.Text,
		Price:    domain.FormatEther(req.Quote),
		PriceWei: new(big.Int).Set(req.Quote),
	})
	if err != nil {
		return Outcome{Kind: Rejected, Reason: ReasonDispatchFailed}, fmt.Errorf("dispatch send message: %w", err)
	}
	return Outcome{Kind: Dispatched, Intent: &intent}, nil
}
