package crypto

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Header names carried by wallet-signed API requests.
const (
	HeaderWallet          = "X-Wallet-Address"
	HeaderWalletTimestamp = "X-Wallet-Timestamp"
	HeaderWalletSignature = "X-Wallet-Signature"
)

var (
	ErrUnsignedRequest = errors.New("crypto/wallet: request is not signed")
	ErrWalletMismatch  = errors.New("crypto/wallet: signature does not match wallet")
)

// RequestDigest is the EIP-191 personal-message hash a wallet signs to act
// on one API request. The message binds method, path, timestamp and the
// keccak256 of the body, one per line.
func RequestDigest(method, path string, unixTS int64, body []byte) common.Hash {
	msg := strings.Join([]string{
		"outcome-amm request",
		strings.ToUpper(method),
		path,
		strconv.FormatInt(unixTS, 10),
		ethcrypto.Keccak256Hash(body).Hex(),
	}, "\n")
	return ethcrypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
}

// SignRequest returns the wallet headers for a request at unixTS.
func (s *Signer) SignRequest(method, path string, body []byte, unixTS int64) (map[string]string, error) {
	sig, err := s.signDigest(RequestDigest(method, path, unixTS, body).Bytes())
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderWallet:          s.address.Hex(),
		HeaderWalletTimestamp: strconv.FormatInt(unixTS, 10),
		HeaderWalletSignature: EncodeSignature(sig),
	}, nil
}

// VerifyRequest checks that the claimed wallet signed this exact request
// within tolerance of now, and returns the wallet.
func VerifyRequest(hdr http.Header, method, path string, body []byte, now time.Time, tolerance time.Duration) (common.Address, error) {
	wallet, ts, sigHex := hdr.Get(HeaderWallet), hdr.Get(HeaderWalletTimestamp), hdr.Get(HeaderWalletSignature)
	if ts == "" || sigHex == "" {
		return common.Address{}, ErrUnsignedRequest
	}
	if !common.IsHexAddress(wallet) {
		return common.Address{}, fmt.Errorf("%w: bad address %q", ErrUnsignedRequest, wallet)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrUnsignedRequest, err)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > tolerance || d < -tolerance {
		return common.Address{}, ErrStaleRequest
	}
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	got, err := recoverSigner(RequestDigest(method, path, unix, body), sig)
	if err != nil {
		return common.Address{}, err
	}
	if got != common.HexToAddress(wallet) {
		return common.Address{}, ErrWalletMismatch
	}
	return got, nil
}
