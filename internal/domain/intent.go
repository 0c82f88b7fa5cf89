package domain

import "time"

// IntentStatus tracks a paid send through the outbox.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
	IntentFailed    IntentStatus = "failed"
)

// Intent is a send-message write call handed to the chain relayer.
type Intent struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Wallet     string       `json:"wallet"`
	Content    string       `json:"content"`
	PriceEther string       `json:"price"`
	PriceWei   string       `json:"price_wei"`
	Status     IntentStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// IsPending returns true until the intent is confirmed, expired or failed.
func (i *Intent) IsPending() bool {
	return i.Status == IntentPending
}
