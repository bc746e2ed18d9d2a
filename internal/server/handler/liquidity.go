package handler

import (
	"log/slog"
	"net/http"

	"github.com/holiman/uint256"
)

// LiquidityHandler serves liquidity provision endpoints.
type LiquidityHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler.
func NewLiquidityHandler(markets MarketService, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{markets: markets, logger: logger}
}

type addLiquidityRequest struct {
	Amount *uint256.Int `json:"amount"`
}

type removeLiquidityRequest struct {
	Shares *uint256.Int `json:"shares"`
}

// AddLiquidity deposits collateral and mints LP shares.
// POST /api/markets/{id}/liquidity
func (h *LiquidityHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req addLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	pos, err := h.markets.AddLiquidity(r.Context(), pathParam(r, "id"), from, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "add liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// RemoveLiquidity burns LP shares and returns collateral plus rewards.
// POST /api/markets/{id}/liquidity/remove
func (h *LiquidityHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req removeLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Shares == nil {
		writeError(w, http.StatusBadRequest, "shares is required")
		return
	}
	out, err := h.markets.RemoveLiquidity(r.Context(), pathParam(r, "id"), from, req.Shares)
	if err != nil {
		writeServiceError(w, r, h.logger, "remove liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ClaimRewards pays out accrued incentive rewards.
// POST /api/markets/{id}/rewards/claim
func (h *LiquidityHandler) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.markets.ClaimRewards(r.Context(), pathParam(r, "id"), from)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claimed": amount})
}
