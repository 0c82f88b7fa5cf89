// Package wallet binds an Ethereum wallet to an anonymous identity by
// verifying a signed personal_sign challenge.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/promptpot/promptpot/internal/domain"
	"github.com/promptpot/promptpot/internal/store"
)

var (
	ErrChallengeMissing = errors.New("no pending wallet challenge")
	ErrChallengeExpired = errors.New("wallet challenge expired")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrAddressMismatch  = errors.New("signature does not match address")
	ErrInvalidAddress   = errors.New("invalid wallet address")
)

// Gate issues and redeems sign-in challenges.
type Gate struct {
	repo   store.Repository
	ttl    time.Duration
	domain string
	now    func() time.Time
}

// NewGate creates a wallet gate. domainName is shown in the signed message.
func NewGate(repo store.Repository, ttl time.Duration, domainName string) *Gate {
	return &Gate{
		repo:   repo,
		ttl:    ttl,
		domain: domainName,
		now:    time.Now,
	}
}

// Issue creates a fresh challenge for the user, replacing any pending one.
func (g *Gate) Issue(ctx context.Context, userID string) (*domain.WalletChallenge, error) {
	nonce := uuid.NewString()
	now := g.now()
	c := &domain.WalletChallenge{
		UserID:    userID,
		Nonce:     nonce,
		Message:   challengeMessage(g.domain, nonce, now),
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.repo.SaveChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}
	return c, nil
}

// Verify checks that signature was produced by address over the user's
// pending challenge and binds the wallet. The challenge is consumed whether
// or not verification succeeds.
func (g *Gate) Verify(ctx context.Context, userID, address, signature string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	claimed := common.HexToAddress(address)

	c, err := g.repo.GetChallenge(ctx, userID)
	if err != nil {
		return common.Address{}, fmt.Errorf("load challenge: %w", err)
	}
	if c == nil {
		return common.Address{}, ErrChallengeMissing
	}
	if err := g.repo.DeleteChallenge(ctx, userID); err != nil {
		slog.Warn("failed to consume wallet challenge", "user_id", userID, "error", err)
	}
	if c.Expired(g.now()) {
		return common.Address{}, ErrChallengeExpired
	}

	signer, err := RecoverSigner(c.Message, signature)
	if err != nil {
		return common.Address{}, err
	}
	if signer != claimed {
		return common.Address{}, ErrAddressMismatch
	}

	if err := g.repo.BindWallet(ctx, userID, signer.Hex()); err != nil {
		return common.Address{}, fmt.Errorf("bind wallet: %w", err)
	}
	slog.Info("wallet bound", "user_id", userID, "wallet", signer.Hex())
	return signer, nil
}

// Disconnect removes the user's wallet binding.
func (g *Gate) Disconnect(ctx context.Context, userID string) error {
	if err := g.repo.ClearWallet(ctx, userID); err != nil {
		return fmt.Errorf("clear wallet: %w", err)
	}
	slog.Info("wallet disconnected", "user_id", userID)
	return nil
}

// RecoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message. Both 0/1 and 27/28 recovery ids are accepted.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrSignatureInvalid, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func challengeMessage(domainName, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("%s wants you to sign in with your wallet.\n\nNonce: %s\nIssued At: %s",
		domainName, nonce, issuedAt.UTC().Format(time.RFC3339))
}
