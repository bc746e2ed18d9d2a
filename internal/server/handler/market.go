package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/service"
)

// MarketService is what the handlers need from the service layer. It is
// declared here so handlers can be tested against fakes.
type MarketService interface {
	CreateMarket(ctx context.Context, sender common.Address, draft domain.MarketDraft, liquidity *uint256.Int) (amm.Summary, error)
	Market(id string) (amm.PriceReader, error)
	Summaries() []amm.Summary
	Summary(id string) (amm.Summary, error)
	Account(id string, user common.Address) (service.Account, error)
	Prices(ctx context.Context, id string) ([]string, time.Time, error)
	Trades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error)
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)

	Quote(id string, sender common.Address, req amm.TradeRequest) (amm.TradeResult, error)
	Trade(ctx context.Context, id string, sender common.Address, req amm.TradeRequest) (amm.TradeResult, error)
	Commit(ctx context.Context, id string, sender common.Address, hash common.Hash) error
	Reveal(ctx context.Context, id string, sender common.Address, intent domain.TradeIntent, sig []byte) (amm.TradeResult, error)
	ClaimWinnings(ctx context.Context, id string, sender common.Address) (amm.Winnings, error)

	AddLiquidity(ctx context.Context, id string, sender common.Address, amount *uint256.Int) (amm.Position, error)
	RemoveLiquidity(ctx context.Context, id string, sender common.Address, shares *uint256.Int) (amm.Removal, error)
	ClaimRewards(ctx context.Context, id string, sender common.Address) (*uint256.Int, error)

	LockMarket(ctx context.Context, id string, sender common.Address) error
	StartResolution(ctx context.Context, id string, sender common.Address) error
	RequestResolution(ctx context.Context, id string, sender common.Address) (string, error)
	FulfillResolution(ctx context.Context, id string, sender common.Address, requestID string, outcome int) error
}

var _ MarketService = (*service.MarketService)(nil)

// MarketHandler serves market discovery and read endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListMarkets returns every registered market, optionally filtered by
// phase.
// GET /api/markets?phase=active
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	all := h.markets.Summaries()
	phase := domain.Phase(strings.ToLower(r.URL.Query().Get("phase")))
	out := make([]amm.Summary, 0, len(all))
	for _, s := range all {
		if phase == "" || s.Phase == phase {
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out, "total": len(out)})
}

type createMarketRequest struct {
	Name      string       `json:"name"`
	Outcomes  []string     `json:"outcomes"`
	EndTime   time.Time    `json:"endTime"`
	Liquidity *uint256.Int `json:"liquidity"`
}

// CreateMarket registers a new market. Admin only.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := h.markets.CreateMarket(r.Context(), from, domain.MarketDraft{
		Name:     req.Name,
		Outcomes: req.Outcomes,
		EndTime:  req.EndTime,
	}, req.Liquidity)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// GetMarket returns a single market summary.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	sum, err := h.markets.Summary(pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetPrices returns the latest spot price of every outcome.
// GET /api/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	prices, ts, err := h.markets.Prices(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices, "updatedAt": ts})
}

// GetTWAP returns the time-weighted average price of one outcome.
// GET /api/markets/{id}/twap/{outcome}
func (h *MarketHandler) GetTWAP(w http.ResponseWriter, r *http.Request) {
	outcome, err := strconv.Atoi(pathParam(r, "outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "outcome must be an integer")
		return
	}
	m, err := h.markets.Market(pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get twap", err)
		return
	}
	now := time.Now()
	twap, err := m.TWAP(outcome, now)
	if err != nil {
		writeServiceError(w, r, h.logger, "get twap", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome, "twap": twap, "at": now.UTC()})
}

// ListTrades returns the trade log of a market, newest first.
// GET /api/markets/{id}/trades?limit=50&offset=0
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades, err := h.markets.Trades(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetAccount returns one address's balances, liquidity and prediction
// record in a market.
// GET /api/markets/{id}/accounts/{address}
func (h *MarketHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	acct, err := h.markets.Account(pathParam(r, "id"), common.HexToAddress(addr))
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ListEvents replays the market event stream.
// GET /api/events?after=0&count=100
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}
	msgs, err := h.markets.Events(r.Context(), after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	type event struct {
		ID    string          `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	out := make([]event, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, event{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
