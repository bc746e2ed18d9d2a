package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/collab"
	"github.com/alanyoungcy/outcome-amm/internal/config"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

func TestWireCollaborators_StaticFallback(t *testing.T) {
	cfg := config.Defaults()
	cfg.Collaborators.IncentiveRate = "0.000001"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, pending, err := wireCollaborators(&cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.IsType(t, &collab.ManualOracle{}, c.Oracle)
	assert.IsType(t, collab.Noop{}, c.Treasury)

	rate, err := c.Incentives.LiquidityIncentiveRate(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.000001"), rate)

	id, err := c.Oracle.RequestOutcome(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, pending.Pending(), 1)
	assert.Equal(t, id, pending.Pending()[0].RequestID)
}

func TestWireCollaborators_Gateway(t *testing.T) {
	cfg := config.Defaults()
	cfg.Collaborators.GatewayURL = "http://gateway.internal"
	cfg.Collaborators.APIKey = "k"
	cfg.Collaborators.APISecret = "s"

	c, pending, err := wireCollaborators(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.IsType(t, &collab.Gateway{}, c.Incentives)
	assert.Same(t, c.Incentives, c.Referral)
}

func TestWireCollaborators_BadRate(t *testing.T) {
	cfg := config.Defaults()
	cfg.Collaborators.IncentiveRate = "fast"

	_, _, err := wireCollaborators(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(fmt.Errorf("keeper: %w", context.Canceled)))
	assert.Error(t, ignoreCanceled(fmt.Errorf("listen: address in use")))
}
