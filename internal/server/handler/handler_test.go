package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/server/handler"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	oracle = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeMarkets overrides the methods a test needs. Calling any other method
// panics on the nil embedded interface.
type fakeMarkets struct {
	handler.MarketService

	summaries []amm.Summary
	tradeErr  error
	gotSender common.Address
	gotReq    amm.TradeRequest
	gotHash   common.Hash

	fulfilled struct {
		id, requestID string
		sender        common.Address
		outcome       int
	}
}

func (f *fakeMarkets) Summaries() []amm.Summary { return f.summaries }

func (f *fakeMarkets) Trade(_ context.Context, _ string, sender common.Address, req amm.TradeRequest) (amm.TradeResult, error) {
	f.gotSender, f.gotReq = sender, req
	if f.tradeErr != nil {
		return amm.TradeResult{}, f.tradeErr
	}
	return amm.TradeResult{Outcome: req.Outcome, IsBuy: req.IsBuy, AmountIn: req.Amount, AmountOut: uint256.NewInt(7)}, nil
}

func (f *fakeMarkets) Commit(_ context.Context, _ string, sender common.Address, hash common.Hash) error {
	f.gotSender, f.gotHash = sender, hash
	return nil
}

func (f *fakeMarkets) FulfillResolution(_ context.Context, id string, sender common.Address, requestID string, outcome int) error {
	f.fulfilled.id, f.fulfilled.sender, f.fulfilled.requestID, f.fulfilled.outcome = id, sender, requestID, outcome
	return nil
}

func tradeMux(f *fakeMarkets) *http.ServeMux {
	h := handler.NewTradeHandler(f, discard())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets/{id}/trades", h.Trade)
	mux.HandleFunc("POST /api/markets/{id}/commitments", h.Commit)
	return mux
}

func post(mux http.Handler, path, body string, wallet *common.Address) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if wallet != nil {
		req.Header.Set(handler.WalletHeader, wallet.Hex())
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatusFor_Kinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrPhaseViolation), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrReplay), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrStaleVersion), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrValidation), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", domain.ErrArithmetic), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", domain.ErrAuthorization), http.StatusForbidden},
		{fmt.Errorf("x: %w", domain.ErrReentrantCall), http.StatusLocked},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrLockHeld), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, handler.StatusFor(tc.err), tc.err.Error())
	}
}

func TestTrade_Executes(t *testing.T) {
	f := &fakeMarkets{}
	rec := post(tradeMux(f), "/api/markets/m1/trades",
		`{"outcome":1,"amount":"1000","maxSlippageBps":50,"isBuy":true}`, &alice)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, alice, f.gotSender)
	assert.Equal(t, 1, f.gotReq.Outcome)
	assert.Equal(t, uint64(1000), f.gotReq.Amount.Uint64())
	assert.Equal(t, uint64(50), f.gotReq.MaxSlippageBps)

	var res amm.TradeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, uint64(7), res.AmountOut.Uint64())
}

func TestTrade_RequiresWallet(t *testing.T) {
	rec := post(tradeMux(&fakeMarkets{}), "/api/markets/m1/trades", `{"outcome":0,"amount":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), handler.WalletHeader)
}

func TestTrade_RejectsUnknownFields(t *testing.T) {
	rec := post(tradeMux(&fakeMarkets{}), "/api/markets/m1/trades", `{"amount":"1","price":"2"}`, &alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrade_ErrorKinds(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		f := &fakeMarkets{tradeErr: fmt.Errorf("amm: trade: %w: %w", domain.ErrValidation, domain.ErrSlippageExceeded)}
		rec := post(tradeMux(f), "/api/markets/m1/trades", `{"amount":"1"}`, &alice)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kind":"validation"`)
	})
	t.Run("busy", func(t *testing.T) {
		f := &fakeMarkets{tradeErr: fmt.Errorf("service: %w", domain.ErrLockHeld)}
		rec := post(tradeMux(f), "/api/markets/m1/trades", `{"amount":"1"}`, &alice)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})
	t.Run("internal hidden", func(t *testing.T) {
		f := &fakeMarkets{tradeErr: errors.New("pq: connection refused")}
		rec := post(tradeMux(f), "/api/markets/m1/trades", `{"amount":"1"}`, &alice)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}

func TestCommit_ParsesHash(t *testing.T) {
	f := &fakeMarkets{}
	hash := common.HexToHash("0xabcdef")

	rec := post(tradeMux(f), "/api/markets/m1/commitments", `{"hash":"`+hash.Hex()+`"}`, &alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, hash, f.gotHash)

	rec = post(tradeMux(f), "/api/markets/m1/commitments", `{"hash":"0x1234"}`, &alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFulfill_VerifiesSignature(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "oracle", Secret: "s3cret", Passphrase: "pp"}
	f := &fakeMarkets{}
	h := handler.NewLifecycleHandler(f, handler.LifecycleConfig{Oracle: oracle, Auth: auth}, discard())

	body := `{"marketId":"m1","requestId":"req-1","outcome":2}`
	send := func(headers map[string]string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/oracle/fulfill", strings.NewReader(body))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.Fulfill(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send(nil))

	forged := (&crypto.HMACAuth{Key: "oracle", Secret: "wrong", Passphrase: "pp"}).Headers(http.MethodPost, "/api/oracle/fulfill", body)
	assert.Equal(t, http.StatusUnauthorized, send(forged))
	assert.Empty(t, f.fulfilled.id)

	assert.Equal(t, http.StatusOK, send(auth.Headers(http.MethodPost, "/api/oracle/fulfill", body)))
	assert.Equal(t, "m1", f.fulfilled.id)
	assert.Equal(t, "req-1", f.fulfilled.requestID)
	assert.Equal(t, 2, f.fulfilled.outcome)
	assert.Equal(t, oracle, f.fulfilled.sender)
}

func TestFulfill_DisabledWithoutCredentials(t *testing.T) {
	h := handler.NewLifecycleHandler(&fakeMarkets{}, handler.LifecycleConfig{Oracle: oracle}, discard())
	rec := httptest.NewRecorder()
	h.Fulfill(rec, httptest.NewRequest(http.MethodPost, "/api/oracle/fulfill", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatus_CountsPhases(t *testing.T) {
	f := &fakeMarkets{summaries: []amm.Summary{
		{ID: "a", Phase: domain.PhaseActive},
		{ID: "b", Phase: domain.PhaseActive},
		{ID: "c", Phase: domain.PhaseSettled},
	}}
	h := handler.NewStatusHandler("full", time.Now().Add(-time.Minute), f)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Mode    string         `json:"mode"`
		Uptime  int64          `json:"uptime_seconds"`
		Markets map[string]int `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "full", body.Mode)
	assert.GreaterOrEqual(t, body.Uptime, int64(59))
	assert.Equal(t, 2, body.Markets["active"])
	assert.Equal(t, 0, body.Markets["locked"])
	assert.Equal(t, 1, body.Markets["settled"])
}

func TestHealth_Degraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	}, discard())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
}
