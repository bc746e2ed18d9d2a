package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcome-amm/internal/collab"
	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// PendingLister reports resolution requests an operator still has to
// answer. Only the manual oracle implements it.
type PendingLister interface {
	Pending() []collab.PendingRequest
}

// LifecycleHandler serves the admin and oracle transitions of a market.
type LifecycleHandler struct {
	markets   MarketService
	oracle    common.Address
	auth      *crypto.HMACAuth
	tolerance time.Duration
	pending   PendingLister
	logger    *slog.Logger
}

// LifecycleConfig configures the oracle callback route. Auth verifies
// fulfillment requests; when it is disabled the route is refused.
type LifecycleConfig struct {
	Oracle    common.Address
	Auth      *crypto.HMACAuth
	Tolerance time.Duration
	Pending   PendingLister
}

// NewLifecycleHandler creates a LifecycleHandler.
func NewLifecycleHandler(markets MarketService, cfg LifecycleConfig, logger *slog.Logger) *LifecycleHandler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 30 * time.Second
	}
	return &LifecycleHandler{
		markets:   markets,
		oracle:    cfg.Oracle,
		auth:      cfg.Auth,
		tolerance: cfg.Tolerance,
		pending:   cfg.Pending,
		logger:    logger,
	}
}

// Lock closes trading ahead of the end time.
// POST /api/markets/{id}/lock
func (h *LifecycleHandler) Lock(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.markets.LockMarket(r.Context(), pathParam(r, "id"), from); err != nil {
		writeServiceError(w, r, h.logger, "lock market", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": string(domain.PhaseLocked)})
}

// StartResolution moves a locked market into resolution.
// POST /api/markets/{id}/resolution/start
func (h *LifecycleHandler) StartResolution(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.markets.StartResolution(r.Context(), pathParam(r, "id"), from); err != nil {
		writeServiceError(w, r, h.logger, "start resolution", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": string(domain.PhaseResolution)})
}

// RequestResolution asks the oracle for the winning outcome.
// POST /api/markets/{id}/resolution/request
func (h *LifecycleHandler) RequestResolution(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.markets.RequestResolution(r.Context(), pathParam(r, "id"), from)
	if err != nil {
		writeServiceError(w, r, h.logger, "request resolution", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"requestId": id})
}

// Fulfill is the oracle callback. It bypasses API-key auth and is instead
// verified with the oracle's HMAC credentials over the raw body.
// POST /api/oracle/fulfill
func (h *LifecycleHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil || !h.auth.Enabled() {
		writeError(w, http.StatusForbidden, "oracle callback disabled")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.auth.Verify(r.Header, r.Method, r.URL.Path, string(body), time.Now(), h.tolerance); err != nil {
		h.logger.WarnContext(r.Context(), "handler: oracle signature rejected",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var msg domain.OracleFulfillment
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if msg.MarketID == "" || msg.RequestID == "" {
		writeError(w, http.StatusBadRequest, "marketId and requestId are required")
		return
	}
	if err := h.markets.FulfillResolution(r.Context(), msg.MarketID, h.oracle, msg.RequestID, msg.Outcome); err != nil {
		writeServiceError(w, r, h.logger, "fulfill resolution", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": string(domain.PhaseSettled)})
}

// PendingRequests lists unanswered oracle requests.
// GET /api/oracle/requests
func (h *LifecycleHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	if h.pending == nil {
		writeJSON(w, http.StatusOK, map[string]any{"requests": []collab.PendingRequest{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": h.pending.Pending()})
}
