package domain

import "errors"

// Failure kinds. Every error returned by the engine wraps exactly one of
// these together with a more specific reason below.
var (
	ErrPhaseViolation = errors.New("phase violation")
	ErrValidation     = errors.New("validation failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrReplay         = errors.New("replay")
	ErrArithmetic     = errors.New("arithmetic failure")
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrReentrantCall = errors.New("operation already in flight")
	ErrStaleVersion  = errors.New("stale version")
)

// Trade and liquidity rejection reasons.
var (
	ErrInvalidOutcome        = errors.New("invalid outcome index")
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrInvalidSlippage       = errors.New("max slippage out of range")
	ErrSlippageExceeded      = errors.New("slippage exceeds limit")
	ErrPriceImpactExceeded   = errors.New("price impact exceeds limit")
	ErrRollingImpactExceeded = errors.New("rolling price impact exceeds limit")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientShares    = errors.New("insufficient liquidity shares")
	ErrEmptyPool             = errors.New("pool has no liquidity")
	ErrOverflow              = errors.New("overflow")
	ErrNoObservations        = errors.New("no price observations")
	ErrNothingToClaim        = errors.New("nothing to claim")
)

// Commit-reveal and lifecycle reasons.
var (
	ErrUnknownCommitment = errors.New("unknown commitment")
	ErrCommitmentExists  = errors.New("commitment already exists")
	ErrNotCommitter      = errors.New("caller is not the committer")
	ErrAlreadyRevealed   = errors.New("commitment already revealed")
	ErrRevealTooEarly    = errors.New("reveal before minimum delay")
	ErrOutsideTimeWindow = errors.New("outside trade time window")
	ErrBadSignature      = errors.New("signature does not match committer")
	ErrMissingRole       = errors.New("caller lacks required role")
	ErrOutsideLockWindow = errors.New("outside lock window")
	ErrMarketNotEnded    = errors.New("market has not ended")
	ErrRequestPending    = errors.New("resolution request already pending")
	ErrUnknownRequest    = errors.New("unknown resolution request")
	ErrWrongPhase        = errors.New("operation not allowed in current phase")
)

// KindOf returns the failure kind name of err, or "internal" when err
// carries none of the kinds above.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, ErrPhaseViolation):
		return "phase_violation"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLockHeld):
		return "busy"
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrStaleVersion):
		return "conflict"
	default:
		return "internal"
	}
}
