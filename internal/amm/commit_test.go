package amm_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

func newTrader(t *testing.T, h *harness) *crypto.Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSignerFromKey(key, h.verifier)
}

func intent(nonce uint64) domain.TradeIntent {
	return domain.TradeIntent{
		Outcome:        0,
		Amount:         fixed.Units(10),
		MaxSlippageBps: 500,
		IsBuy:          true,
		MinTime:        t0,
		MaxTime:        t0.Add(time.Hour),
		Nonce:          uint256.NewInt(nonce),
	}
}

// committed signs in and records its commitment at t0+1m.
func committed(t *testing.T, h *harness, s *crypto.Signer, in domain.TradeIntent) (common.Hash, []byte) {
	t.Helper()
	hash, sig, err := s.SignIntent("mkt-1", in)
	require.NoError(t, err)
	require.NoError(t, h.m.CommitTrade(context.Background(), at(s.Address(), time.Minute), hash))
	return hash, sig
}

func TestCommitReveal_Success(t *testing.T) {
	h := funded(t, 1_000)
	trader := newTrader(t, h)
	in := intent(1)
	hash, sig := committed(t, h, trader, in)

	res, err := h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), in, sig)
	require.NoError(t, err)
	assert.True(t, res.IsBuy)
	assert.True(t, res.AmountOut.Gt(fixed.Zero()))

	holder, ok := h.m.Holder(trader.Address())
	require.True(t, ok)
	assert.Equal(t, res.AmountOut, holder.Shares[0])

	c := h.m.Snapshot().Commitments[hash]
	require.NotNil(t, c)
	assert.True(t, c.Revealed)
	assert.Equal(t, t0.Add(3*time.Minute), c.RevealedAt)
}

func TestCommitReveal_SecondRevealIsReplay(t *testing.T) {
	h := funded(t, 1_000)
	trader := newTrader(t, h)
	in := intent(1)
	_, sig := committed(t, h, trader, in)

	_, err := h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), in, sig)
	require.NoError(t, err)

	_, err = h.m.RevealTrade(context.Background(), at(trader.Address(), 4*time.Minute), in, sig)
	require.ErrorIs(t, err, domain.ErrReplay)
	assert.ErrorIs(t, err, domain.ErrAlreadyRevealed)
}

func TestCommitReveal_DuplicateCommitment(t *testing.T) {
	h := funded(t, 1_000)
	trader := newTrader(t, h)
	hash, _ := committed(t, h, trader, intent(1))

	err := h.m.CommitTrade(context.Background(), at(trader.Address(), 2*time.Minute), hash)
	require.ErrorIs(t, err, domain.ErrReplay)
	assert.ErrorIs(t, err, domain.ErrCommitmentExists)
}

func TestCommitReveal_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		reveal func(t *testing.T, h *harness, trader *crypto.Signer) error
		kind   error
		reason error
	}{
		{
			name: "unknown commitment",
			reveal: func(t *testing.T, h *harness, trader *crypto.Signer) error {
				committed(t, h, trader, intent(1))
				other := intent(2)
				_, sig, err := trader.SignIntent("mkt-1", other)
				require.NoError(t, err)
				_, err = h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), other, sig)
				return err
			},
			kind:   domain.ErrValidation,
			reason: domain.ErrUnknownCommitment,
		},
		{
			name: "different caller",
			reveal: func(t *testing.T, h *harness, trader *crypto.Signer) error {
				in := intent(1)
				_, sig := committed(t, h, trader, in)
				_, err := h.m.RevealTrade(context.Background(), at(bob, 3*time.Minute), in, sig)
				return err
			},
			kind:   domain.ErrAuthorization,
			reason: domain.ErrNotCommitter,
		},
		{
			name: "before reveal delay",
			reveal: func(t *testing.T, h *harness, trader *crypto.Signer) error {
				in := intent(1)
				_, sig := committed(t, h, trader, in)
				_, err := h.m.RevealTrade(context.Background(), at(trader.Address(), 90*time.Second), in, sig)
				return err
			},
			kind:   domain.ErrValidation,
			reason: domain.ErrRevealTooEarly,
		},
		{
			name: "after intent window",
			reveal: func(t *testing.T, h *harness, trader *crypto.Signer) error {
				in := intent(1)
				in.MaxTime = t0.Add(2 * time.Minute)
				_, sig := committed(t, h, trader, in)
				_, err := h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), in, sig)
				return err
			},
			kind:   domain.ErrValidation,
			reason: domain.ErrOutsideTimeWindow,
		},
		{
			name: "signature from another key",
			reveal: func(t *testing.T, h *harness, trader *crypto.Signer) error {
				in := intent(1)
				committed(t, h, trader, in)
				_, forged, err := newTrader(t, h).SignIntent("mkt-1", in)
				require.NoError(t, err)
				_, err = h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), in, forged)
				return err
			},
			kind:   domain.ErrAuthorization,
			reason: domain.ErrBadSignature,
		},
		{
			name: "truncated signature",
			reveal: func(t *testing.T, h *harness, trader *crypto.Signer) error {
				in := intent(1)
				_, sig := committed(t, h, trader, in)
				_, err := h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), in, sig[:40])
				return err
			},
			kind:   domain.ErrAuthorization,
			reason: domain.ErrBadSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := funded(t, 1_000)
			err := tt.reveal(t, h, newTrader(t, h))
			require.ErrorIs(t, err, tt.kind)
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestCommitReveal_FailedTradeKeepsCommitmentOpen(t *testing.T) {
	h := funded(t, 1_000)
	trader := newTrader(t, h)
	in := intent(1)
	in.MaxSlippageBps = 10
	hash, sig := committed(t, h, trader, in)

	_, err := h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), in, sig)
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)

	c := h.m.Snapshot().Commitments[hash]
	require.NotNil(t, c)
	assert.False(t, c.Revealed)
}

func TestCommitReveal_QuoteMatchesReveal(t *testing.T) {
	h := funded(t, 1_000)
	trader := newTrader(t, h)
	in := intent(7)
	_, sig := committed(t, h, trader, in)

	q, err := h.m.QuoteTrade(at(trader.Address(), 3*time.Minute), amm.TradeRequest{
		Outcome: in.Outcome, Amount: in.Amount, MaxSlippageBps: in.MaxSlippageBps, IsBuy: in.IsBuy,
	})
	require.NoError(t, err)
	res, err := h.m.RevealTrade(context.Background(), at(trader.Address(), 3*time.Minute), in, sig)
	require.NoError(t, err)
	assert.Equal(t, q.AmountOut, res.AmountOut)
}
