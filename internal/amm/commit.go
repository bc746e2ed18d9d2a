package amm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// IntentVerifier binds trade intents to commitment hashes and recovers
// the signer of a revealed intent.
type IntentVerifier interface {
	Digest(marketID string, intent domain.TradeIntent) (common.Hash, error)
	Recover(digest common.Hash, sig []byte) (common.Address, error)
}

// Commitment is a recorded commitment. Commitments are never deleted, so a
// hash can be revealed at most once.
type Commitment struct {
	Committer   common.Address `json:"committer"`
	CommittedAt time.Time      `json:"committedAt"`
	Revealed    bool           `json:"revealed"`
	RevealedAt  time.Time      `json:"revealedAt,omitempty"`
}

// CommitTrade records the hash of a future trade.
func (m *Market) CommitTrade(ctx context.Context, call Call, hash common.Hash) error {
	return m.apply(ctx, call, "commit", func(tx *txn) error {
		st := tx.st
		if err := st.requirePhase(domain.PhaseActive); err != nil {
			return err
		}
		if hash == (common.Hash{}) {
			return fmt.Errorf("%w: empty commitment hash", domain.ErrValidation)
		}
		if _, ok := st.Commitments[hash]; ok {
			return fmt.Errorf("%w: %w: %s", domain.ErrReplay, domain.ErrCommitmentExists, hash.Hex())
		}
		st.Commitments[hash] = &Commitment{Committer: tx.call.Sender, CommittedAt: tx.call.Now}
		return nil
	})
}

// RevealTrade executes a previously committed trade. The intent must hash
// to a commitment made by the caller at least MinRevealDelay ago, the
// current time must fall inside the intent's window, and sig must be the
// committer's signature over the same digest.
func (m *Market) RevealTrade(ctx context.Context, call Call, intent domain.TradeIntent, sig []byte) (TradeResult, error) {
	var res TradeResult
	err := m.apply(ctx, call, "reveal", func(tx *txn) error {
		st := tx.st
		if err := st.requirePhase(domain.PhaseActive); err != nil {
			return err
		}
		digest, err := m.verifier.Digest(st.ID, intent)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		c, err := m.checkReveal(st, tx.call, digest, intent, sig)
		if err != nil {
			return err
		}
		c.Revealed = true
		c.RevealedAt = tx.call.Now

		res, err = m.execute(tx, TradeRequest{
			Outcome:        intent.Outcome,
			Amount:         intent.Amount,
			MaxSlippageBps: intent.MaxSlippageBps,
			IsBuy:          intent.IsBuy,
		}, true)
		if err != nil {
			return err
		}
		m.logger.Debug("amm: commitment revealed", slog.String("hash", digest.Hex()))
		return nil
	})
	return res, err
}

func (m *Market) checkReveal(st *State, call Call, digest common.Hash, intent domain.TradeIntent, sig []byte) (*Commitment, error) {
	c, ok := st.Commitments[digest]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrValidation, domain.ErrUnknownCommitment, digest.Hex())
	case c.Committer != call.Sender:
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthorization, domain.ErrNotCommitter)
	case c.Revealed:
		return nil, fmt.Errorf("%w: %w", domain.ErrReplay, domain.ErrAlreadyRevealed)
	case call.Now.Before(c.CommittedAt.Add(m.params.MinRevealDelay)):
		return nil, fmt.Errorf("%w: %w: wait until %s", domain.ErrValidation, domain.ErrRevealTooEarly,
			c.CommittedAt.Add(m.params.MinRevealDelay).Format(time.RFC3339))
	case call.Now.Before(intent.MinTime) || call.Now.After(intent.MaxTime):
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrOutsideTimeWindow)
	}

	signer, err := m.verifier.Recover(digest, sig)
	if err != nil || signer != c.Committer {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthorization, domain.ErrBadSignature)
	}
	return c, nil
}
