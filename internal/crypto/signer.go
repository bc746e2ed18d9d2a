// Package crypto provides EIP-712 trade-intent hashing and signing,
// wallet-signed API requests, encrypted key files, and HMAC request
// authentication.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Trade(bytes32 market,uint256 outcome,uint256 amount,uint256 maxSlippage,bool isBuy,uint256 minTimestamp,uint256 maxTimestamp,uint256 nonce)
	tradeTypeHash = ethcrypto.Keccak256(
		[]byte("Trade(bytes32 market,uint256 outcome,uint256 amount,uint256 maxSlippage,bool isBuy,uint256 minTimestamp,uint256 maxTimestamp,uint256 nonce)"),
	)
)

// SignatureLength is the length of an r || s || v signature.
const SignatureLength = 65

var errMalformedSignature = errors.New("crypto: malformed signature")

// IntentVerifier hashes trade intents under a fixed EIP-712 domain and
// recovers their signers. The digest of an intent doubles as its
// commitment hash.
type IntentVerifier struct {
	domainSep []byte // cached EIP-712 domain separator hash
}

// NewIntentVerifier creates a verifier for the given domain name, version
// and chain id.
func NewIntentVerifier(name, version string, chainID int64) *IntentVerifier {
	return &IntentVerifier{domainSep: buildDomainSeparator(name, version, chainID)}
}

// Digest returns the EIP-712 digest of intent for marketID.
func (v *IntentVerifier) Digest(marketID string, intent domain.TradeIntent) (common.Hash, error) {
	structHash, err := tradeStructHash(marketID, intent)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(eip712Hash(v.domainSep, structHash)), nil
}

// Recover returns the address that produced sig over digest. Both the
// {0,1} and {27,28} recovery id conventions are accepted.
func (v *IntentVerifier) Recover(digest common.Hash, sig []byte) (common.Address, error) {
	return recoverSigner(digest, sig)
}

func recoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", errMalformedSignature, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Signer signs trade intents with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	verifier   *IntentVerifier
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string, verifier *IntentVerifier) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, verifier), nil
}

// NewSignerFromKey creates a Signer from a parsed private key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, verifier *IntentVerifier) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		verifier:   verifier,
	}
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignIntent returns the commitment hash of intent and the signature
// that reveals it.
func (s *Signer) SignIntent(marketID string, intent domain.TradeIntent) (common.Hash, []byte, error) {
	digest, err := s.verifier.Digest(marketID, intent)
	if err != nil {
		return common.Hash{}, nil, err
	}
	sig, err := s.signDigest(digest.Bytes())
	if err != nil {
		return common.Hash{}, nil, err
	}
	return digest, sig, nil
}

// EncodeSignature renders sig as 0x-prefixed hex.
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

// DecodeSignature parses a 0x-prefixed hex signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedSignature, err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d", errMalformedSignature, len(sig))
	}
	return sig, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest and returns r || s || v with v in
// {27,28}.
func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// tradeStructHash encodes and hashes a trade intent according to EIP-712.
func tradeStructHash(marketID string, in domain.TradeIntent) ([]byte, error) {
	if marketID == "" {
		return nil, errors.New("crypto/signer: empty market id")
	}
	if in.Outcome < 0 {
		return nil, fmt.Errorf("crypto/signer: invalid outcome %d", in.Outcome)
	}
	if in.Amount == nil {
		return nil, errors.New("crypto/signer: missing amount")
	}
	minTS, err := unixSeconds(in.MinTime)
	if err != nil {
		return nil, err
	}
	maxTS, err := unixSeconds(in.MaxTime)
	if err != nil {
		return nil, err
	}
	nonce := in.Nonce
	if nonce == nil {
		nonce = new(uint256.Int)
	}

	return ethcrypto.Keccak256(
		concatBytes(
			tradeTypeHash,
			ethcrypto.Keccak256([]byte(marketID)),
			word(uint256.NewInt(uint64(in.Outcome))),
			word(in.Amount),
			word(uint256.NewInt(in.MaxSlippageBps)),
			word(boolWord(in.IsBuy)),
			word(uint256.NewInt(minTS)),
			word(uint256.NewInt(maxTS)),
			word(nonce),
		),
	), nil
}

func unixSeconds(t time.Time) (uint64, error) {
	if t.IsZero() {
		return 0, nil
	}
	if t.Unix() < 0 {
		return 0, fmt.Errorf("crypto/signer: timestamp before epoch: %s", t)
	}
	return uint64(t.Unix()), nil
}

func boolWord(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

// word returns the 32-byte big-endian ABI encoding of v.
func word(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
