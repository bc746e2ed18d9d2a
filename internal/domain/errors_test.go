package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

func TestKindOf_Kinds(t *testing.T) {
	cases := map[string]error{
		"phase_violation": fmt.Errorf("amm: trade: %w: %w", domain.ErrPhaseViolation, domain.ErrWrongPhase),
		"validation":      fmt.Errorf("amm: trade: %w: %w", domain.ErrValidation, domain.ErrSlippageExceeded),
		"authorization":   fmt.Errorf("amm: lock: %w: %w", domain.ErrAuthorization, domain.ErrMissingRole),
		"replay":          fmt.Errorf("amm: commit: %w: %w", domain.ErrReplay, domain.ErrCommitmentExists),
		"arithmetic":      fmt.Errorf("fixed: mul: %w: %w", domain.ErrArithmetic, domain.ErrOverflow),
		"not_found":       fmt.Errorf("service: %w", domain.ErrNotFound),
		"busy":            fmt.Errorf("redis: lock: %w", domain.ErrLockHeld),
		"conflict":        fmt.Errorf("postgres: save: %w", domain.ErrStaleVersion),
		"internal":        errors.New("dial tcp: connection refused"),
	}
	for want, err := range cases {
		assert.Equal(t, want, domain.KindOf(err), err.Error())
	}
	assert.Empty(t, domain.KindOf(nil))
}

func TestKindOf_ReentrantWins(t *testing.T) {
	err := fmt.Errorf("%w: %w", domain.ErrReentrantCall, domain.ErrValidation)
	assert.Equal(t, "reentrant_call", domain.KindOf(err))
}
