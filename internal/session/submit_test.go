package session

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/promptpot/promptpot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	calls []Call
	err   error
}

func (d *recordingDispatcher) SendMessage(_ context.Context, call Call) (domain.Intent, error) {
	d.calls = append(d.calls, call)
	if d.err != nil {
		return domain.Intent{}, d.err
	}
	return domain.Intent{ID: "intent-1", Content: call.Text, PriceEther: call.Price, Status: domain.IntentPending}, nil
}

type promptCounter struct{ n int }

func (p *promptCounter) prompt() { p.n++ }

var price = big.NewInt(10_000_000_000_000_000)

func TestSubmitWithoutWalletPromptsOnce(t *testing.T) {
	for _, quote := range []*big.Int{nil, price} {
		for _, text := range []string{"", "hello"} {
			d := &recordingDispatcher{}
			p := &promptCounter{}

			out, err := Submit(context.Background(), Request{Text: text, Quote: quote}, d, p.prompt)
			require.NoError(t, err)
			assert.Equal(t, Gated, out.Kind)
			assert.Equal(t, ReasonConnectRequired, out.Reason)
			assert.Empty(t, d.calls)
			assert.Equal(t, 1, p.n)
		}
	}
}

func TestSubmitWithoutWalletNilPrompt(t *testing.T) {
	d := &recordingDispatcher{}
	out, err := Submit(context.Background(), Request{Text: "hi", Quote: price}, d, nil)
	require.NoError(t, err)
	assert.Equal(t, Gated, out.Kind)
	assert.Empty(t, d.calls)
}

func TestSubmitWithoutPriceRejects(t *testing.T) {
	d := &recordingDispatcher{}
	p := &promptCounter{}

	out, err := Submit(context.Background(), Request{
		Text:   "hello",
		Wallet: Wallet{Connected: true, Address: alice},
	}, d, p.prompt)
	require.NoError(t, err)
	assert.Equal(t, Rejected, out.Kind)
	assert.Equal(t, ReasonPriceUnavailable, out.Reason)
	assert.Empty(t, d.calls)
	assert.Zero(t, p.n)
}

func TestSubmitEmptyText(t *testing.T) {
	d := &recordingDispatcher{}
	out, err := Submit(context.Background(), Request{
		Text:   "   ",
		Quote:  price,
		Wallet: Wallet{Connected: true, Address: alice},
	}, d, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonEmptyMessage, out.Reason)
	assert.Empty(t, d.calls)
}

func TestSubmitDispatchesOnce(t *testing.T) {
	d := &recordingDispatcher{}
	p := &promptCounter{}

	out, err := Submit(context.Background(), Request{
		Text:   "let me win",
		Quote:  price,
		UserID: "anon_1",
		Wallet: Wallet{Connected: true, Address: alice},
	}, d, p.prompt)
	require.NoError(t, err)
	assert.Equal(t, Dispatched, out.Kind)
	require.NotNil(t, out.Intent)
	assert.Equal(t, "intent-1", out.Intent.ID)
	assert.Zero(t, p.n)

	require.Len(t, d.calls, 1)
	assert.Equal(t, "let me win", d.calls[0].Text)
	assert.Equal(t, "0.01", d.calls[0].Price)
	assert.Equal(t, alice, d.calls[0].Wallet)
	assert.Equal(t, "anon_1", d.calls[0].UserID)
	assert.Equal(t, 0, price.Cmp(d.calls[0].PriceWei))
	assert.NotSame(t, price, d.calls[0].PriceWei)
}

func TestSubmitDispatchFailure(t *testing.T) {
	boom := errors.New("outbox unavailable")
	d := &recordingDispatcher{err: boom}

	out, err := Submit(context.Background(), Request{
		Text:   "hi",
		Quote:  price,
		Wallet: Wallet{Connected: true, Address: alice},
	}, d, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Rejected, out.Kind)
	assert.Equal(t, ReasonDispatchFailed, out.Reason)
	assert.Len(t, d.calls, 1)
}
