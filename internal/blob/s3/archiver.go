package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// multipartThreshold is the trade-log size above which the upload is split
// into parts.
const multipartThreshold = 8 * 1024 * 1024

// TradeArchiveStore provides read access to a market's trade log.
type TradeArchiveStore interface {
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// MarketArchiver implements domain.Archiver. Each settled market is written
// once, as
//
//	markets/<id>/snapshot.json   engine state at settlement
//	markets/<id>/trades.jsonl    full trade log, oldest first
//	markets/<id>/manifest.json   written last; its presence marks completion
type MarketArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeArchiveStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates a MarketArchiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeArchiveStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketArchiver {
	return &MarketArchiver{
		writer: writer,
		reader: reader,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*MarketArchiver)(nil)

// Manifest summarises an archived market.
type Manifest struct {
	MarketID   string    `json:"marketId"`
	Name       string    `json:"name"`
	Outcomes   []string  `json:"outcomes"`
	Winner     *int      `json:"winner,omitempty"`
	Version    int64     `json:"version"`
	Trades     int       `json:"trades"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// SnapshotPath returns the object path of a market's archived snapshot.
func SnapshotPath(marketID string) string { return "markets/" + marketID + "/snapshot.json" }

func manifestPath(marketID string) string { return "markets/" + marketID + "/manifest.json" }
func tradesPath(marketID string) string   { return "markets/" + marketID + "/trades.jsonl" }

// ArchiveMarket uploads a settled market. It returns false without writing
// when the market is already archived.
func (a *MarketArchiver) ArchiveMarket(ctx context.Context, m domain.Market) (bool, error) {
	if m.Phase != domain.PhaseSettled {
		return false, fmt.Errorf("s3blob: archive market %s: %w: market is %s", m.ID, domain.ErrWrongPhase, m.Phase)
	}
	done, err := a.reader.Exists(ctx, manifestPath(m.ID))
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %s: %w", m.ID, err)
	}
	if done {
		return false, nil
	}

	if err := a.writer.Put(ctx, SnapshotPath(m.ID), bytes.NewReader(m.State), "application/json"); err != nil {
		return false, fmt.Errorf("s3blob: archive market %s snapshot: %w", m.ID, err)
	}

	trades, err := a.trades.ListByMarket(ctx, m.ID, domain.ListOpts{})
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %s trades query: %w", m.ID, err)
	}
	// newest first from the store
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	buf, err := marshalJSONL(trades)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %s trades marshal: %w", m.ID, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, tradesPath(m.ID), bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, tradesPath(m.ID), bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %s trades upload: %w", m.ID, err)
	}

	manifest, err := json.Marshal(Manifest{
		MarketID:   m.ID,
		Name:       m.Name,
		Outcomes:   m.Outcomes,
		Winner:     m.Winner,
		Version:    m.Version,
		Trades:     len(trades),
		ArchivedAt: time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %s manifest: %w", m.ID, err)
	}
	if err := a.writer.Put(ctx, manifestPath(m.ID), bytes.NewReader(manifest), "application/json"); err != nil {
		return false, fmt.Errorf("s3blob: archive market %s manifest upload: %w", m.ID, err)
	}

	if err := a.audit.Log(ctx, "archive.market", map[string]any{
		"market_id": m.ID,
		"trades":    len(trades),
		"version":   m.Version,
	}); err != nil {
		a.logger.Warn("archiver: audit log failed", slog.String("error", err.Error()))
	}
	a.logger.Info("archiver: market archived",
		slog.String("market_id", m.ID),
		slog.Int("trades", len(trades)),
	)
	return true, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
