package amm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// TradeRequest describes a buy (collateral in, shares out) or a sell
// (shares in, collateral out) of one outcome.
type TradeRequest struct {
	Outcome        int          `json:"outcome"`
	Amount         *uint256.Int `json:"amount"`
	MaxSlippageBps uint64       `json:"maxSlippageBps"`
	IsBuy          bool         `json:"isBuy"`
}

// TradeResult reports an executed (or quoted) trade.
type TradeResult struct {
	Outcome        int          `json:"outcome"`
	IsBuy          bool         `json:"isBuy"`
	AmountIn       *uint256.Int `json:"amountIn"`
	AmountOut      *uint256.Int `json:"amountOut"`
	FeeBps         uint64       `json:"feeBps"`
	Fee            *uint256.Int `json:"fee"`
	ProtocolFee    *uint256.Int `json:"protocolFee"`
	Withheld       *uint256.Int `json:"withheld"`
	WithheldBps    uint64       `json:"withheldBps"`
	PriceBefore    *uint256.Int `json:"priceBefore"`
	ExecutionPrice *uint256.Int `json:"executionPrice"`
	PriceAfter     *uint256.Int `json:"priceAfter"`
	GuardReport
}

// Trade executes a trade immediately.
func (m *Market) Trade(ctx context.Context, call Call, req TradeRequest) (TradeResult, error) {
	var res TradeResult
	err := m.apply(ctx, call, "trade", func(tx *txn) error {
		var err error
		res, err = m.execute(tx, req, true)
		return err
	})
	return res, err
}

// QuoteTrade prices a trade as if it were executed at call.Now without
// changing any state or contacting collaborators.
func (m *Market) QuoteTrade(call Call, req TradeRequest) (TradeResult, error) {
	tx := &txn{ctx: context.Background(), call: call, st: m.read().Clone()}
	res, err := m.execute(tx, req, false)
	if err != nil {
		return res, fmt.Errorf("amm: quote: %w", err)
	}
	return res, nil
}

func validateTrade(st *State, req TradeRequest) error {
	if err := st.checkOutcome(req.Outcome); err != nil {
		return err
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrZeroAmount)
	}
	if req.MaxSlippageBps > fixed.BPS {
		return fmt.Errorf("%w: %w: %d", domain.ErrValidation, domain.ErrInvalidSlippage, req.MaxSlippageBps)
	}
	return nil
}

// execute runs the trade pipeline against tx.st. With live unset the
// incentive manager, treasury and referral program are not contacted.
func (m *Market) execute(tx *txn, req TradeRequest, live bool) (TradeResult, error) {
	st := tx.st
	if err := st.requirePhase(domain.PhaseActive); err != nil {
		return TradeResult{}, err
	}
	if err := validateTrade(st, req); err != nil {
		return TradeResult{}, err
	}

	i := req.Outcome
	pool, reserve := st.Pool, st.Reserves[i]
	k := new(uint256.Int).Mul(pool, reserve)

	spotBefore, err := m.curve.Spot(pool, reserve)
	if err != nil {
		return TradeResult{}, err
	}
	feeBps := m.fees.Current(st.Volatility, tx.call.Now)

	res := TradeResult{
		Outcome:     i,
		IsBuy:       req.IsBuy,
		AmountIn:    req.Amount,
		FeeBps:      feeBps,
		PriceBefore: spotBefore,
	}

	var calc fixed.Calc
	var volume *uint256.Int
	if req.IsBuy {
		fee := calc.Bps(req.Amount, feeBps)
		net := calc.Sub(req.Amount, fee)
		if err := calc.Err(); err != nil {
			return res, err
		}
		q, err := m.curve.Buy(pool, reserve, net)
		if err != nil {
			return res, err
		}
		if q.Out.IsZero() {
			return res, fmt.Errorf("%w: %w: output rounds to zero", domain.ErrValidation, domain.ErrZeroAmount)
		}
		if res.GuardReport, err = m.guard.Check(spotBefore, q, req.MaxSlippageBps, &st.Impact[i]); err != nil {
			return res, err
		}
		withheld, wbps, err := m.guard.Withhold(spotBefore, calc.DivWad(net, q.Out), q.Out)
		if err != nil {
			return res, err
		}
		received := calc.Sub(q.Out, withheld)
		protocolFee := calc.Bps(fee, m.params.ProtocolFeeShareBps)
		lpFee := calc.Sub(fee, protocolFee)

		st.Pool = calc.Add(calc.Add(pool, net), lpFee)
		st.Reserves[i] = calc.Sub(calc.Add(reserve, net), received)

		h := st.holder(tx.call.Sender)
		h.Shares[i] = calc.Add(h.Shares[i], received)
		h.Staked[i] = calc.Add(h.Staked[i], req.Amount)
		h.Picks[i]++
		st.predictor(tx.call.Sender).record(req.Amount, tx.call.Now, st.CreatedAt, m.params)

		res.AmountOut, res.Fee, res.ProtocolFee = received, fee, protocolFee
		res.Withheld, res.WithheldBps, res.ExecutionPrice = withheld, wbps, q.Price
		volume = req.Amount
	} else {
		h, ok := st.Holders[tx.call.Sender]
		if !ok || h.Shares[i].Lt(req.Amount) {
			return res, fmt.Errorf("%w: %w: outcome %d shares", domain.ErrArithmetic, domain.ErrInsufficientBalance, i)
		}
		q, err := m.curve.Sell(pool, reserve, req.Amount)
		if err != nil {
			return res, err
		}
		if q.Out.IsZero() {
			return res, fmt.Errorf("%w: %w: output rounds to zero", domain.ErrValidation, domain.ErrZeroAmount)
		}
		if res.GuardReport, err = m.guard.Check(spotBefore, q, req.MaxSlippageBps, &st.Impact[i]); err != nil {
			return res, err
		}
		withheld, wbps, err := m.guard.Withhold(spotBefore, calc.DivWad(q.Out, req.Amount), q.Out)
		if err != nil {
			return res, err
		}
		gross := calc.Sub(q.Out, withheld)
		fee := calc.Bps(gross, feeBps)
		protocolFee := calc.Bps(fee, m.params.ProtocolFeeShareBps)
		lpFee := calc.Sub(fee, protocolFee)

		st.Pool = calc.Add(calc.Sub(pool, q.Out), calc.Add(withheld, lpFee))
		st.Reserves[i] = calc.Sub(calc.Add(reserve, req.Amount), q.Out)
		// the stake behind the sold shares no longer earns a settlement reward
		h.Staked[i] = calc.Sub(h.Staked[i], calc.MulDiv(h.Staked[i], req.Amount, h.Shares[i]))
		h.Shares[i] = calc.Sub(h.Shares[i], req.Amount)

		res.AmountOut, res.Fee, res.ProtocolFee = calc.Sub(gross, fee), fee, protocolFee
		res.Withheld, res.WithheldBps, res.ExecutionPrice = withheld, wbps, q.Price
		volume = q.Out
	}
	if err := calc.Err(); err != nil {
		return res, err
	}

	// pool*reserve never decreases
	if calc.Mul(st.Pool, st.Reserves[i]).Lt(k) {
		return res, fmt.Errorf("%w: constant product decreased", domain.ErrArithmetic)
	}

	st.ProtocolFees = calc.Add(st.ProtocolFees, res.ProtocolFee)
	st.Volume = calc.Add(st.Volume, volume)
	spotAfter, err := m.curve.Spot(st.Pool, st.Reserves[i])
	if err != nil {
		return res, err
	}
	move := calc.RatioBps(fixed.AbsDiff(spotAfter, spotBefore), spotBefore)
	if err := calc.Err(); err != nil {
		return res, err
	}
	st.Volatility = m.fees.Observe(st.Volatility, tx.call.Now, move)
	st.TWAP[i].Record(spotAfter, tx.call.Now)
	res.PriceAfter = spotAfter

	if !live {
		return res, nil
	}
	if inc := m.collab.Incentives; inc != nil {
		if err := inc.NotifyMetricHistory(tx.ctx, st.ID, st.Volume, st.Volatility.Cumulative); err != nil {
			return res, fmt.Errorf("notify metric history: %w", err)
		}
	}
	m.forwardFees(tx, res, volume)

	m.logger.Debug("amm: trade executed",
		slog.String("trader", tx.call.Sender.Hex()),
		slog.Int("outcome", i),
		slog.Bool("buy", req.IsBuy),
		slog.String("in", fixed.Format(res.AmountIn)),
		slog.String("out", fixed.Format(res.AmountOut)),
		slog.Uint64("slippage_bps", res.SlippageBps),
		slog.Uint64("impact_bps", res.ImpactBps),
	)
	return res, nil
}

// forwardFees notifies the treasury and referral program after commit.
// Their failures are logged and never undo the trade.
func (m *Market) forwardFees(tx *txn, res TradeResult, volume *uint256.Int) {
	ctx, id, trader := tx.ctx, tx.st.ID, tx.call.Sender
	if t := m.collab.Treasury; t != nil && !res.ProtocolFee.IsZero() {
		tx.onCommit(func() {
			if err := t.CollectFees(ctx, id, res.ProtocolFee); err != nil {
				m.logger.Warn("amm: treasury fee transfer failed", slog.String("error", err.Error()))
			}
		})
	}
	if r := m.collab.Referral; r != nil {
		tx.onCommit(func() {
			if err := r.RecordVolume(ctx, id, trader, volume); err != nil {
				m.logger.Warn("amm: referral volume update failed", slog.String("error", err.Error()))
			}
		})
	}
}
