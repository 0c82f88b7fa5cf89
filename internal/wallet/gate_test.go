package wallet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/promptpot/promptpot/internal/domain"
	"github.com/promptpot/promptpot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGate(t *testing.T) (*Gate, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Now()
	require.NoError(t, repo.UpsertUser(context.Background(), &domain.User{
		UserID: "u1", Username: "anon", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	return NewGate(repo, time.Minute, "promptpot.test"), repo
}

// personalSign mimics a wallet's personal_sign, returning a 27/28 v value.
func personalSign(t *testing.T, message string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestVerifyBindsWallet(t *testing.T) {
	ctx := context.Background()
	gate, repo := newGate(t)

	c, err := gate.Issue(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, c.Message, c.Nonce)
	assert.Contains(t, c.Message, "promptpot.test")

	addr, sig := personalSign(t, c.Message)
	got, err := gate.Verify(ctx, "u1", addr, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got.Hex())

	user, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, addr, user.WalletAddress)

	// The challenge is single use.
	_, err = gate.Verify(ctx, "u1", addr, sig)
	assert.ErrorIs(t, err, ErrChallengeMissing)

	require.NoError(t, gate.Disconnect(ctx, "u1"))
	user, err = repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, user.HasWallet())
}

func TestVerifyRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("address mismatch", func(t *testing.T) {
		gate, _ := newGate(t)
		c, err := gate.Issue(ctx, "u1")
		require.NoError(t, err)
		_, sig := personalSign(t, c.Message)
		other, _ := personalSign(t, "unrelated")

		_, err = gate.Verify(ctx, "u1", other, sig)
		assert.ErrorIs(t, err, ErrAddressMismatch)
	})

	t.Run("signature over another message", func(t *testing.T) {
		gate, _ := newGate(t)
		_, err := gate.Issue(ctx, "u1")
		require.NoError(t, err)
		addr, sig := personalSign(t, "not the challenge")

		_, err = gate.Verify(ctx, "u1", addr, sig)
		assert.ErrorIs(t, err, ErrAddressMismatch)
	})

	t.Run("expired", func(t *testing.T) {
		gate, _ := newGate(t)
		c, err := gate.Issue(ctx, "u1")
		require.NoError(t, err)
		gate.now = func() time.Time { return c.ExpiresAt.Add(time.Second) }
		addr, sig := personalSign(t, c.Message)

		_, err = gate.Verify(ctx, "u1", addr, sig)
		assert.ErrorIs(t, err, ErrChallengeExpired)
	})

	t.Run("no challenge", func(t *testing.T) {
		gate, _ := newGate(t)
		addr, sig := personalSign(t, "x")
		_, err := gate.Verify(ctx, "u1", addr, sig)
		assert.ErrorIs(t, err, ErrChallengeMissing)
	})

	t.Run("bad address", func(t *testing.T) {
		gate, _ := newGate(t)
		_, err := gate.Verify(ctx, "u1", "nope", "0x00")
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})
}

func TestRecoverSigner(t *testing.T) {
	addr, sig := personalSign(t, "hello")
	got, err := RecoverSigner("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got.Hex())

	_, err = RecoverSigner("hello", "0x1234")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = RecoverSigner("hello", "not-hex")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}
