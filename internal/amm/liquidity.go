package amm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// Position is a liquidity provider's stake in a market.
type Position struct {
	Liquidity  *uint256.Int `json:"liquidity"`
	Shares     *uint256.Int `json:"shares"`
	EntryPrice *uint256.Int `json:"entryPrice"`
	// LastUpdate is the reward checkpoint; every add, remove and claim
	// moves it.
	LastUpdate time.Time `json:"lastUpdate"`
	// VestingStart starts IL protection vesting. Only deposits and
	// withdrawals move it, so claiming rewards does not restart vesting.
	VestingStart time.Time    `json:"vestingStart,omitempty"`
	Unclaimed    *uint256.Int `json:"unclaimed"`
	Tier         int          `json:"tier"`
}

func newPosition() *Position {
	return &Position{
		Liquidity:  fixed.Zero(),
		Shares:     fixed.Zero(),
		EntryPrice: fixed.Zero(),
		Unclaimed:  fixed.Zero(),
	}
}

// TierFor returns the index of the highest tier whose threshold
// liquidity reaches.
func TierFor(tiers []Tier, liquidity *uint256.Int) int {
	idx := 0
	for i, t := range tiers {
		if !liquidity.Lt(t.MinLiquidity) {
			idx = i
		}
	}
	return idx
}

// AccruedReward returns the reward earned by pos between its last update
// and until at the given per-second rate.
func AccruedReward(pos Position, rate *uint256.Int, until time.Time, tiers []Tier) (*uint256.Int, error) {
	if rate == nil || rate.IsZero() || pos.Liquidity.IsZero() || pos.LastUpdate.IsZero() {
		return fixed.Zero(), nil
	}
	elapsed := until.Sub(pos.LastUpdate)
	if elapsed <= 0 {
		return fixed.Zero(), nil
	}
	mult := tiers[TierFor(tiers, pos.Liquidity)].MultiplierBps

	var calc fixed.Calc
	weighted := calc.Mul(uint256.NewInt(uint64(elapsed/time.Second)), uint256.NewInt(mult))
	denom := calc.Mul(fixed.WAD, uint256.NewInt(fixed.BPS))
	reward := calc.MulDiv(calc.Mul(pos.Liquidity, rate), weighted, denom)
	return reward, calc.Err()
}

// ImpermanentLoss returns |2*sqrt(r)/(1+r) - 1| for r = current/entry,
// as a 1e18-scaled fraction.
func ImpermanentLoss(entry, current *uint256.Int) (*uint256.Int, error) {
	if entry.IsZero() {
		return fixed.Zero(), nil
	}
	var calc fixed.Calc
	r := calc.DivWad(current, entry)
	sqrtR := new(uint256.Int).Sqrt(calc.Mul(r, fixed.WAD))
	factor := calc.MulDiv(calc.Mul(sqrtR, uint256.NewInt(2)), fixed.WAD, calc.Add(fixed.WAD, r))
	return calc.SatSub(fixed.WAD, factor), calc.Err()
}

// vestingSince returns when IL protection started vesting. Snapshots
// written before VestingStart existed fall back to LastUpdate.
func (p Position) vestingSince() time.Time {
	if p.VestingStart.IsZero() {
		return p.LastUpdate
	}
	return p.VestingStart
}

// ILProtection returns the compensation for removing liquidity whose
// reference price moved from entry to current. The loss vests linearly
// over period since the position's entry and is capped at capBps of the
// removed amount.
func ILProtection(removed, entry, current *uint256.Int, elapsed, period time.Duration, capBps uint64) (*uint256.Int, error) {
	il, err := ImpermanentLoss(entry, current)
	if err != nil || il.IsZero() || elapsed <= 0 {
		return fixed.Zero(), err
	}
	if elapsed > period {
		elapsed = period
	}
	var calc fixed.Calc
	loss := calc.MulWad(removed, il)
	vested := calc.MulDiv(loss, uint256.NewInt(uint64(elapsed/time.Second)), uint256.NewInt(uint64(period/time.Second)))
	capped := fixed.Min(vested, calc.Bps(removed, capBps))
	return capped, calc.Err()
}

// Removal reports the proceeds of removing liquidity.
type Removal struct {
	SharesBurned  *uint256.Int   `json:"sharesBurned"`
	Liquidity     *uint256.Int   `json:"liquidity"`
	Principal     *uint256.Int   `json:"principal"`
	ILProtection  *uint256.Int   `json:"ilProtection"`
	Reward        *uint256.Int   `json:"reward"`
	Payout        *uint256.Int   `json:"payout"`
	OutcomeShares []*uint256.Int `json:"outcomeShares"`
}

func (m *Market) incentiveRate(ctx context.Context, id string) (*uint256.Int, error) {
	if m.collab.Incentives == nil {
		return fixed.Zero(), nil
	}
	rate, err := m.collab.Incentives.LiquidityIncentiveRate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("liquidity incentive rate: %w", err)
	}
	return rate, nil
}

// settleReward moves the reward accrued since the last update into the
// position's unclaimed balance.
func (m *Market) settleReward(tx *txn, pos *Position) error {
	rate, err := m.incentiveRate(tx.ctx, tx.st.ID)
	if err != nil {
		return err
	}
	reward, err := AccruedReward(*pos, rate, tx.st.rewardHorizon(tx.call.Now), m.params.Tiers)
	if err != nil {
		return err
	}
	var calc fixed.Calc
	pos.Unclaimed = calc.Add(pos.Unclaimed, reward)
	return calc.Err()
}

func (m *Market) updateReputation(tx *txn, user common.Address, update domain.ReputationUpdate) error {
	if m.collab.Reputation == nil {
		return nil
	}
	if err := m.collab.Reputation.UpdateReputation(tx.ctx, user, update); err != nil {
		return fmt.Errorf("update reputation: %w", err)
	}
	return nil
}

// AddLiquidity deposits amount collateral and mints pool shares. The
// first deposit seeds every outcome reserve with amount and mints shares
// one to one; later deposits scale reserves and shares proportionally so
// prices do not move.
func (m *Market) AddLiquidity(ctx context.Context, call Call, amount *uint256.Int) (Position, error) {
	var out Position
	err := m.apply(ctx, call, "add liquidity", func(tx *txn) error {
		st := tx.st
		if err := st.requirePhase(domain.PhaseActive); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrZeroAmount)
		}

		pos, ok := st.Positions[tx.call.Sender]
		if !ok {
			pos = newPosition()
			st.Positions[tx.call.Sender] = pos
		}
		if err := m.settleReward(tx, pos); err != nil {
			return err
		}

		var calc fixed.Calc
		var shares *uint256.Int
		if st.TotalShares.IsZero() || st.Pool.IsZero() {
			shares = amount
			for i := range st.Reserves {
				st.Reserves[i] = calc.Add(st.Reserves[i], amount)
			}
		} else {
			shares = calc.MulDiv(amount, st.TotalShares, st.Pool)
			for i, r := range st.Reserves {
				st.Reserves[i] = calc.Add(r, calc.MulDiv(amount, r, st.Pool))
			}
		}
		if shares.IsZero() && calc.Err() == nil {
			return fmt.Errorf("%w: %w: deposit mints no shares", domain.ErrValidation, domain.ErrZeroAmount)
		}
		st.Pool = calc.Add(st.Pool, amount)
		st.TotalShares = calc.Add(st.TotalShares, shares)

		pos.Liquidity = calc.Add(pos.Liquidity, amount)
		pos.Shares = calc.Add(pos.Shares, shares)
		pos.LastUpdate = tx.call.Now
		pos.VestingStart = tx.call.Now
		pos.Tier = TierFor(m.params.Tiers, pos.Liquidity)
		if err := calc.Err(); err != nil {
			return err
		}
		entry, err := m.curve.Spot(st.Pool, st.Reserves[0])
		if err != nil {
			return err
		}
		pos.EntryPrice = entry

		if err := m.updateReputation(tx, tx.call.Sender, domain.ReputationUpdate{
			LiquidityAdded: amount,
			Participation:  1,
		}); err != nil {
			return err
		}
		out = *pos
		m.logger.Info("amm: liquidity added",
			slog.String("provider", tx.call.Sender.Hex()),
			slog.String("amount", fixed.Format(amount)),
			slog.String("shares", fixed.Format(shares)),
			slog.Int("tier", pos.Tier),
		)
		return nil
	})
	return out, err
}

// RemoveLiquidity burns shares and releases the matching fraction of the
// pool and of every outcome reserve. Released outcome shares are credited
// to the provider's balances. The payout adds vested IL protection and
// the unclaimed reward, which is reset.
func (m *Market) RemoveLiquidity(ctx context.Context, call Call, shares *uint256.Int) (Removal, error) {
	var out Removal
	err := m.apply(ctx, call, "remove liquidity", func(tx *txn) error {
		st := tx.st
		if err := st.requirePhase(domain.PhaseActive); err != nil {
			return err
		}
		if shares == nil || shares.IsZero() {
			return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrZeroAmount)
		}
		pos, ok := st.Positions[tx.call.Sender]
		if !ok || pos.Shares.Lt(shares) {
			return fmt.Errorf("%w: %w", domain.ErrArithmetic, domain.ErrInsufficientShares)
		}
		if err := m.settleReward(tx, pos); err != nil {
			return err
		}

		current, err := m.curve.Spot(st.Pool, st.Reserves[0])
		if err != nil {
			return err
		}

		var calc fixed.Calc
		principal := calc.MulDiv(st.Pool, shares, st.TotalShares)
		removed := calc.MulDiv(pos.Liquidity, shares, pos.Shares)
		if err := calc.Err(); err != nil {
			return err
		}
		il, err := ILProtection(removed, pos.EntryPrice, current,
			tx.call.Now.Sub(pos.vestingSince()), m.params.ILProtectionPeriod, m.params.MaxILCoverageBps)
		if err != nil {
			return err
		}

		h := st.holder(tx.call.Sender)
		released := make([]*uint256.Int, len(st.Reserves))
		for i, r := range st.Reserves {
			released[i] = calc.MulDiv(r, shares, st.TotalShares)
			st.Reserves[i] = calc.Sub(r, released[i])
			h.Shares[i] = calc.Add(h.Shares[i], released[i])
		}
		st.Pool = calc.Sub(st.Pool, principal)
		st.TotalShares = calc.Sub(st.TotalShares, shares)

		reward := pos.Unclaimed
		pos.Liquidity = calc.Sub(pos.Liquidity, removed)
		pos.Shares = calc.Sub(pos.Shares, shares)
		pos.Unclaimed = fixed.Zero()
		pos.LastUpdate = tx.call.Now
		pos.VestingStart = tx.call.Now
		pos.Tier = TierFor(m.params.Tiers, pos.Liquidity)

		st.Minted.ILProtection = calc.Add(st.Minted.ILProtection, il)
		st.Minted.LPRewards = calc.Add(st.Minted.LPRewards, reward)
		payout := calc.Add(calc.Add(principal, il), reward)
		if err := calc.Err(); err != nil {
			return err
		}

		if err := m.updateReputation(tx, tx.call.Sender, domain.ReputationUpdate{
			LiquidityRemoved: removed,
			Participation:    1,
		}); err != nil {
			return err
		}
		out = Removal{
			SharesBurned:  shares,
			Liquidity:     removed,
			Principal:     principal,
			ILProtection:  il,
			Reward:        reward,
			Payout:        payout,
			OutcomeShares: released,
		}
		m.logger.Info("amm: liquidity removed",
			slog.String("provider", tx.call.Sender.Hex()),
			slog.String("principal", fixed.Format(principal)),
			slog.String("il_protection", fixed.Format(il)),
			slog.String("reward", fixed.Format(reward)),
		)
		return nil
	})
	return out, err
}

// ClaimRewards pays out the provider's accrued liquidity reward.
func (m *Market) ClaimRewards(ctx context.Context, call Call) (*uint256.Int, error) {
	var claimed *uint256.Int
	err := m.apply(ctx, call, "claim rewards", func(tx *txn) error {
		st := tx.st
		pos, ok := st.Positions[tx.call.Sender]
		if !ok {
			return fmt.Errorf("%w: %w: no liquidity position", domain.ErrValidation, domain.ErrNothingToClaim)
		}
		if err := m.settleReward(tx, pos); err != nil {
			return err
		}
		if pos.Unclaimed.IsZero() {
			return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrNothingToClaim)
		}
		claimed = pos.Unclaimed
		pos.Unclaimed = fixed.Zero()
		pos.LastUpdate = tx.call.Now

		var calc fixed.Calc
		st.Minted.LPRewards = calc.Add(st.Minted.LPRewards, claimed)
		return calc.Err()
	})
	return claimed, err
}
