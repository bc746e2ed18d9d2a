package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// maxSignedBody bounds the body read for signature checks. Handlers apply
// the same limit when decoding.
const maxSignedBody = 1 << 20

// WalletAuth admits a request that names a wallet only if that wallet
// signed it (crypto.VerifyRequest) within tolerance of now. Requests
// without the wallet header pass through; handlers that act for a caller
// reject them. When replay is non-nil every accepted signature is leased
// for twice the tolerance, so a captured request cannot be resent.
func WalletAuth(tolerance time.Duration, replay domain.LockManager, now func() time.Time, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(crypto.HeaderWallet) == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			wallet, err := crypto.VerifyRequest(r.Header, r.Method, r.URL.Path, body, now(), tolerance)
			if err != nil {
				logger.DebugContext(r.Context(), "wallet: rejected request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid wallet signature")
				return
			}

			if replay != nil {
				key := "sig:" + r.Header.Get(crypto.HeaderWalletSignature)
				if _, err := replay.Acquire(r.Context(), key, 2*tolerance); err != nil {
					if errors.Is(err, domain.ErrLockHeld) {
						writeJSONError(w, http.StatusConflict, "request already submitted")
						return
					}
					logger.WarnContext(r.Context(), "wallet: replay guard unavailable",
						slog.String("wallet", wallet.Hex()),
						slog.String("error", err.Error()),
					)
					w.Header().Set("Retry-After", "1")
					writeJSONError(w, http.StatusServiceUnavailable, "replay guard unavailable")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
