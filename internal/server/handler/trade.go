package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// TradeHandler serves trading endpoints. Every route acts as the wallet
// named by the X-Wallet-Address header.
type TradeHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(markets MarketService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{markets: markets, logger: logger}
}

// tradeRequest amounts are base-10 integers in 1e18 units.
type tradeRequest struct {
	Outcome        int          `json:"outcome"`
	Amount         *uint256.Int `json:"amount"`
	MaxSlippageBps uint64       `json:"maxSlippageBps"`
	IsBuy          bool         `json:"isBuy"`
}

func (t tradeRequest) engine() amm.TradeRequest {
	return amm.TradeRequest{
		Outcome:        t.Outcome,
		Amount:         t.Amount,
		MaxSlippageBps: t.MaxSlippageBps,
		IsBuy:          t.IsBuy,
	}
}

// Quote prices a trade without executing it.
// POST /api/markets/{id}/quote
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	from, req, ok := h.tradeInput(w, r)
	if !ok {
		return
	}
	res, err := h.markets.Quote(pathParam(r, "id"), from, req.engine())
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Trade executes a trade immediately.
// POST /api/markets/{id}/trades
func (h *TradeHandler) Trade(w http.ResponseWriter, r *http.Request) {
	from, req, ok := h.tradeInput(w, r)
	if !ok {
		return
	}
	res, err := h.markets.Trade(r.Context(), pathParam(r, "id"), from, req.engine())
	if err != nil {
		writeServiceError(w, r, h.logger, "trade", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type commitRequest struct {
	Hash string `json:"hash"`
}

// Commit records the hash of a future trade.
// POST /api/markets/{id}/commitments
func (h *TradeHandler) Commit(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req commitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h0 := req.Hash
	if !strings.HasPrefix(h0, "0x") {
		h0 = "0x" + h0
	}
	b, err := hexutil.Decode(h0)
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, "hash must be 32 hex-encoded bytes")
		return
	}
	hash := common.BytesToHash(b)
	if err := h.markets.Commit(r.Context(), pathParam(r, "id"), from, hash); err != nil {
		writeServiceError(w, r, h.logger, "commit", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash.Hex()})
}

type revealRequest struct {
	Intent    domain.TradeIntent `json:"intent"`
	Signature string             `json:"signature"`
}

// Reveal executes a committed trade.
// POST /api/markets/{id}/reveals
func (h *TradeHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req revealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := crypto.DecodeSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.markets.Reveal(r.Context(), pathParam(r, "id"), from, req.Intent, sig)
	if err != nil {
		writeServiceError(w, r, h.logger, "reveal", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClaimWinnings redeems winning shares on a settled market.
// POST /api/markets/{id}/winnings/claim
func (h *TradeHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.markets.ClaimWinnings(r.Context(), pathParam(r, "id"), from)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TradeHandler) tradeInput(w http.ResponseWriter, r *http.Request) (common.Address, tradeRequest, bool) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, tradeRequest{}, false
	}
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, tradeRequest{}, false
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return common.Address{}, tradeRequest{}, false
	}
	return from, req, true
}
