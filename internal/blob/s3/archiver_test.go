package s3blob_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/outcome-amm/internal/blob/s3"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type tradeList []domain.Trade

func (t tradeList) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return append([]domain.Trade(nil), t...), nil
}

type auditLog struct{ events []string }

func (a *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestMarketArchiver_ArchivesOnce(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	audit := &auditLog{}
	at := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	trades := tradeList{
		{ID: "t2", MarketID: "mkt-1", Timestamp: at.Add(time.Minute)},
		{ID: "t1", MarketID: "mkt-1", Timestamp: at},
	}
	a := s3blob.NewArchiver(blobs, blobs, trades, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	winner := 0
	m := domain.Market{
		ID:       "mkt-1",
		Name:     "rain",
		Outcomes: []string{"Yes", "No"},
		Phase:    domain.PhaseSettled,
		Winner:   &winner,
		Version:  9,
		State:    []byte(`{"version":1}`),
	}

	done, err := a.ArchiveMarket(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, done)

	assert.JSONEq(t, `{"version":1}`, string(blobs.objects[s3blob.SnapshotPath("mkt-1")]))

	lines := strings.Split(strings.TrimSpace(string(blobs.objects["markets/mkt-1/trades.jsonl"])), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"t1"`)

	var manifest s3blob.Manifest
	require.NoError(t, json.Unmarshal(blobs.objects["markets/mkt-1/manifest.json"], &manifest))
	assert.Equal(t, 2, manifest.Trades)
	assert.Equal(t, int64(9), manifest.Version)
	assert.Equal(t, []string{"archive.market"}, audit.events)

	done, err = a.ArchiveMarket(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, audit.events, 1)
}

func TestMarketArchiver_RejectsUnsettled(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	a := s3blob.NewArchiver(blobs, blobs, tradeList{}, &auditLog{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := a.ArchiveMarket(context.Background(), domain.Market{ID: "mkt-2", Phase: domain.PhaseLocked})
	assert.ErrorIs(t, err, domain.ErrWrongPhase)
	assert.Empty(t, blobs.objects)
}
