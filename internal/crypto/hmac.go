package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by HMAC-authenticated requests.
const (
	HeaderKey        = "X-Outcome-Key"
	HeaderTimestamp  = "X-Outcome-Timestamp"
	HeaderPassphrase = "X-Outcome-Passphrase"
	HeaderSignature  = "X-Outcome-Signature"
)

var (
	ErrMissingAuth  = errors.New("crypto/hmac: missing authentication headers")
	ErrStaleRequest = errors.New("crypto/hmac: request timestamp outside tolerance")
	ErrBadMAC       = errors.New("crypto/hmac: signature mismatch")
)

// HMACAuth holds the shared credentials used between this service and the
// collaborator gateway.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// Enabled reports whether credentials are configured.
func (h *HMACAuth) Enabled() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// Headers returns the authentication headers for a request at the current
// time. The signature is HMAC-SHA256(secret, timestamp+method+path+body),
// base64 encoded.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with an explicit Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:        h.Key,
		HeaderTimestamp:  ts,
		HeaderPassphrase: h.Passphrase,
		HeaderSignature:  hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks inbound headers produced by HeadersAt with the same
// credentials, allowing tolerance of clock skew.
func (h *HMACAuth) Verify(hdr http.Header, method, path, body string, now time.Time, tolerance time.Duration) error {
	key, ts, sig := hdr.Get(HeaderKey), hdr.Get(HeaderTimestamp), hdr.Get(HeaderSignature)
	if key == "" || ts == "" || sig == "" {
		return ErrMissingAuth
	}
	if !hmac.Equal([]byte(key), []byte(h.Key)) || !hmac.Equal([]byte(hdr.Get(HeaderPassphrase)), []byte(h.Passphrase)) {
		return ErrBadMAC
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMissingAuth, err)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > tolerance || d < -tolerance {
		return ErrStaleRequest
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return ErrBadMAC
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
