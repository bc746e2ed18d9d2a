package amm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// LockMarket stops trading. It is only allowed within LockWindow of the
// end time.
func (m *Market) LockMarket(ctx context.Context, call Call) error {
	return m.apply(ctx, call, "lock", func(tx *txn) error {
		st := tx.st
		if err := m.requireRole(tx.call, m.roles.Admin, "admin"); err != nil {
			return err
		}
		if err := st.requirePhase(domain.PhaseActive); err != nil {
			return err
		}
		opens := st.EndTime.Add(-m.params.LockWindow)
		if tx.call.Now.Before(opens) {
			return fmt.Errorf("%w: %w: opens at %s", domain.ErrPhaseViolation, domain.ErrOutsideLockWindow,
				opens.Format(time.RFC3339))
		}
		st.Phase = domain.PhaseLocked
		m.logger.Info("amm: market locked")
		return nil
	})
}

// StartResolution moves a locked market into resolution once it has ended.
func (m *Market) StartResolution(ctx context.Context, call Call) error {
	return m.apply(ctx, call, "start resolution", func(tx *txn) error {
		st := tx.st
		if err := m.requireRole(tx.call, m.roles.Admin, "admin"); err != nil {
			return err
		}
		if err := st.requirePhase(domain.PhaseLocked); err != nil {
			return err
		}
		if tx.call.Now.Before(st.EndTime) {
			return fmt.Errorf("%w: %w: ends at %s", domain.ErrPhaseViolation, domain.ErrMarketNotEnded,
				st.EndTime.Format(time.RFC3339))
		}
		st.Phase = domain.PhaseResolution
		m.logger.Info("amm: resolution started")
		return nil
	})
}

// RequestResolution asks the oracle for the outcome. Only one request may
// be pending at a time, and a request whose commit was rolled back is
// reused rather than sent again.
func (m *Market) RequestResolution(ctx context.Context, call Call) (string, error) {
	var requestID string
	err := m.apply(ctx, call, "request resolution", func(tx *txn) error {
		st := tx.st
		if err := m.requireRole(tx.call, m.roles.Admin, "admin"); err != nil {
			return err
		}
		if err := st.requirePhase(domain.PhaseResolution); err != nil {
			return err
		}
		if st.Resolution.Pending {
			return fmt.Errorf("%w: %w: %s", domain.ErrReplay, domain.ErrRequestPending, st.Resolution.RequestID)
		}
		if m.collab.Oracle == nil {
			return fmt.Errorf("%w: no outcome oracle configured", domain.ErrValidation)
		}
		id := m.sentRequest
		if id == "" {
			var err error
			if id, err = m.collab.Oracle.RequestOutcome(tx.ctx, st.ID); err != nil {
				return fmt.Errorf("request outcome: %w", err)
			}
			if id == "" {
				return fmt.Errorf("%w: oracle returned an empty request id", domain.ErrValidation)
			}
			m.sentRequest = id
		}
		st.Resolution.RequestID = id
		st.Resolution.Pending = true
		st.Resolution.RequestedAt = tx.call.Now
		requestID = id
		m.logger.Info("amm: resolution requested", slog.String("request_id", id))
		return nil
	})
	return requestID, err
}

// FulfillResolution settles the market with the oracle's answer to the
// pending request.
func (m *Market) FulfillResolution(ctx context.Context, call Call, requestID string, outcome int) error {
	return m.apply(ctx, call, "fulfill resolution", func(tx *txn) error {
		st := tx.st
		if err := m.requireRole(tx.call, m.roles.Oracle, "oracle"); err != nil {
			return err
		}
		if err := st.requirePhase(domain.PhaseResolution); err != nil {
			return err
		}
		if !st.Resolution.Pending || requestID != st.Resolution.RequestID {
			return fmt.Errorf("%w: %w: %q", domain.ErrReplay, domain.ErrUnknownRequest, requestID)
		}
		if err := st.checkOutcome(outcome); err != nil {
			return err
		}

		winner := outcome
		st.Resolution.Pending = false
		st.Resolution.Winner = &winner
		st.Resolution.SettledAt = tx.call.Now
		st.Phase = domain.PhaseSettled

		if err := m.settlePredictors(tx, winner); err != nil {
			return err
		}
		m.logger.Info("amm: market settled",
			slog.String("request_id", requestID),
			slog.Int("winner", winner),
			slog.String("outcome", st.Outcomes[winner]),
		)
		return nil
	})
}

// settlePredictors credits predictor rewards and reports accuracy to the
// reputation system, in address order.
func (m *Market) settlePredictors(tx *txn, winner int) error {
	st := tx.st
	addrs := make([]common.Address, 0, len(st.Holders))
	for a := range st.Holders {
		addrs = append(addrs, a)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return a.Cmp(b) })

	var calc fixed.Calc
	for _, a := range addrs {
		h := st.Holders[a]
		var picks uint64
		for _, n := range h.Picks {
			picks += n
		}
		if picks == 0 {
			continue
		}
		stats := st.predictor(a)
		correct := h.Picks[winner]
		stats.CorrectPredictions += correct

		// only stake still backed by winning shares is rewarded
		if correct > 0 && !h.Shares[winner].IsZero() {
			reward, err := PredictorReward(h.Staked[winner], *stats, m.params)
			if err != nil {
				return err
			}
			if !reward.IsZero() {
				h.Claimable = calc.Add(h.Claimable, reward)
				st.Minted.PredictorRewards = calc.Add(st.Minted.PredictorRewards, reward)
			}
		}
		if err := calc.Err(); err != nil {
			return err
		}
		if err := m.updateReputation(tx, a, domain.ReputationUpdate{
			AccuracyDelta: int64(correct) - int64(picks-correct),
			Participation: picks,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Winnings reports a claim on a settled market. FromPool is the part of
// the share redemption paid out of pool collateral; the rest is minted.
type Winnings struct {
	Shares   *uint256.Int `json:"shares"`
	Reward   *uint256.Int `json:"reward"`
	Payout   *uint256.Int `json:"payout"`
	FromPool *uint256.Int `json:"fromPool"`
}

// ClaimWinnings redeems the caller's winning shares one for one and pays
// the predictor reward credited at settlement. Redemptions draw down the
// pool first; any shortfall is recorded in Minted.Redemptions.
func (m *Market) ClaimWinnings(ctx context.Context, call Call) (Winnings, error) {
	var out Winnings
	err := m.apply(ctx, call, "claim winnings", func(tx *txn) error {
		st := tx.st
		if err := st.requirePhase(domain.PhaseSettled); err != nil {
			return err
		}
		h, ok := st.Holders[tx.call.Sender]
		if !ok {
			return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrNothingToClaim)
		}
		w := *st.Resolution.Winner
		shares, reward := h.Shares[w], h.Claimable
		if shares.IsZero() && reward.IsZero() {
			return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrNothingToClaim)
		}
		h.Shares[w] = fixed.Zero()
		h.Claimable = fixed.Zero()

		var calc fixed.Calc
		fromPool := fixed.Min(shares, st.Pool)
		st.Pool = calc.Sub(st.Pool, fromPool)
		st.Redeemed = calc.Add(st.Redeemed, shares)
		st.Minted.Redemptions = calc.Add(st.Minted.Redemptions, calc.Sub(shares, fromPool))
		out = Winnings{
			Shares:   shares,
			Reward:   reward,
			Payout:   calc.Add(shares, reward),
			FromPool: fromPool,
		}
		return calc.Err()
	})
	return out, err
}
