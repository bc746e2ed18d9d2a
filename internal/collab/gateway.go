// Package collab implements the engine's external collaborators: an HTTP
// gateway client for deployments where incentives, reputation, the outcome
// oracle, the treasury and referrals live in another service, and static
// in-process stand-ins for everything else.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

const (
	defaultRatePerSec = 20
	defaultBurst      = 10

	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
)

// Compile-time interface checks.
var (
	_ domain.IncentiveManager = (*Gateway)(nil)
	_ domain.ReputationSystem = (*Gateway)(nil)
	_ domain.OutcomeOracle    = (*Gateway)(nil)
	_ domain.Treasury         = (*Gateway)(nil)
	_ domain.ReferralProgram  = (*Gateway)(nil)
)

// ErrGateway is returned for non-retryable gateway responses.
var ErrGateway = errors.New("collab: gateway error")

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	BaseURL    string
	Auth       crypto.HMACAuth
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

// Gateway is the REST client for the collaborator gateway. Every request is
// throttled client-side, signed with HMAC headers and retried with
// exponential backoff on transport errors, 429 and 5xx responses.
type Gateway struct {
	baseURL    string
	auth       crypto.HMACAuth
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewGateway creates a gateway client.
func NewGateway(cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		auth:       cfg.Auth,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		logger:     logger.With(slog.String("component", "collab_gateway")),
	}
}

type rateResponse struct {
	Rate string `json:"rate"`
}

type metricRequest struct {
	Volume        string `json:"volume"`
	VolatilityBps uint64 `json:"volatilityBps"`
}

type reputationRequest struct {
	LiquidityAdded   string `json:"liquidityAdded,omitempty"`
	LiquidityRemoved string `json:"liquidityRemoved,omitempty"`
	AccuracyDelta    int64  `json:"accuracyDelta"`
	Participation    uint64 `json:"participation"`
}

type outcomeRequest struct {
	MarketID string `json:"marketId"`
}

type outcomeResponse struct {
	RequestID string `json:"requestId"`
}

type feeRequest struct {
	MarketID string `json:"marketId"`
	Amount   string `json:"amount"`
}

type volumeRequest struct {
	MarketID string `json:"marketId"`
	Trader   string `json:"trader"`
	Volume   string `json:"volume"`
}

// LiquidityIncentiveRate fetches the reward rate for a market.
func (g *Gateway) LiquidityIncentiveRate(ctx context.Context, marketID string) (*uint256.Int, error) {
	var resp rateResponse
	if err := g.do(ctx, http.MethodGet, "/v1/incentives/"+url.PathEscape(marketID)+"/rate", nil, &resp); err != nil {
		return nil, fmt.Errorf("collab: incentive rate %s: %w", marketID, err)
	}
	r, err := uint256.FromDecimal(resp.Rate)
	if err != nil {
		return nil, fmt.Errorf("collab: incentive rate %s: decode %q: %w", marketID, resp.Rate, err)
	}
	return r, nil
}

// NotifyMetricHistory reports one trade's volume and volatility.
func (g *Gateway) NotifyMetricHistory(ctx context.Context, marketID string, volume *uint256.Int, volatilityBps uint64) error {
	body := metricRequest{Volume: dec(volume), VolatilityBps: volatilityBps}
	if err := g.do(ctx, http.MethodPost, "/v1/incentives/"+url.PathEscape(marketID)+"/metrics", body, nil); err != nil {
		return fmt.Errorf("collab: metric history %s: %w", marketID, err)
	}
	return nil
}

// UpdateReputation posts a reputation delta for user.
func (g *Gateway) UpdateReputation(ctx context.Context, user common.Address, update domain.ReputationUpdate) error {
	body := reputationRequest{
		AccuracyDelta: update.AccuracyDelta,
		Participation: update.Participation,
	}
	if update.LiquidityAdded != nil {
		body.LiquidityAdded = update.LiquidityAdded.Dec()
	}
	if update.LiquidityRemoved != nil {
		body.LiquidityRemoved = update.LiquidityRemoved.Dec()
	}
	if err := g.do(ctx, http.MethodPost, "/v1/reputation/"+user.Hex(), body, nil); err != nil {
		return fmt.Errorf("collab: reputation %s: %w", user.Hex(), err)
	}
	return nil
}

// RequestOutcome opens a resolution request with the oracle.
func (g *Gateway) RequestOutcome(ctx context.Context, marketID string) (string, error) {
	var resp outcomeResponse
	if err := g.do(ctx, http.MethodPost, "/v1/oracle/requests", outcomeRequest{MarketID: marketID}, &resp); err != nil {
		return "", fmt.Errorf("collab: request outcome %s: %w", marketID, err)
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("collab: request outcome %s: %w: empty request id", marketID, ErrGateway)
	}
	return resp.RequestID, nil
}

// CollectFees forwards accrued protocol fees.
func (g *Gateway) CollectFees(ctx context.Context, marketID string, amount *uint256.Int) error {
	if err := g.do(ctx, http.MethodPost, "/v1/treasury/fees", feeRequest{MarketID: marketID, Amount: dec(amount)}, nil); err != nil {
		return fmt.Errorf("collab: collect fees %s: %w", marketID, err)
	}
	return nil
}

// RecordVolume attributes trade volume to a trader.
func (g *Gateway) RecordVolume(ctx context.Context, marketID string, trader common.Address, volume *uint256.Int) error {
	body := volumeRequest{MarketID: marketID, Trader: trader.Hex(), Volume: dec(volume)}
	if err := g.do(ctx, http.MethodPost, "/v1/referrals/volume", body, nil); err != nil {
		return fmt.Errorf("collab: record volume %s: %w", marketID, err)
	}
	return nil
}

// do sends a signed JSON request and decodes the response into out when out
// is non-nil.
func (g *Gateway) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if g.auth.Enabled() {
			for k, v := range g.auth.Headers(method, path, string(payload)) {
				req.Header.Set(k, v)
			}
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
			g.logger.Warn("collab: retrying gateway request",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
			)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		err = decodeBody(resp, out)
		resp.Body.Close()
		return err
	}
	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

func decodeBody(resp *http.Response, out any) error {
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sleep waits with exponential backoff, respecting the context.
func (g *Gateway) sleep(ctx context.Context, attempt int) error {
	wait := baseRetryWait << attempt
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
