package crypto_test

import (
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// Well-known development key (hardhat account #0).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func sampleIntent() domain.TradeIntent {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.TradeIntent{
		Outcome:        1,
		Amount:         uint256.NewInt(5_000_000_000_000_000_000),
		MaxSlippageBps: 250,
		IsBuy:          true,
		MinTime:        start,
		MaxTime:        start.Add(time.Hour),
		Nonce:          uint256.NewInt(42),
	}
}

func TestNewSigner_Address(t *testing.T) {
	s, err := crypto.NewSigner(devKey, crypto.NewIntentVerifier("outcome-amm", "1", 137))
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())
}

func TestNewSigner_InvalidKey(t *testing.T) {
	_, err := crypto.NewSigner("0xnothex", crypto.NewIntentVerifier("outcome-amm", "1", 137))
	assert.Error(t, err)
}

func TestSignIntent_RecoverRoundTrip(t *testing.T) {
	v := crypto.NewIntentVerifier("outcome-amm", "1", 137)
	s, err := crypto.NewSigner(devKey, v)
	require.NoError(t, err)

	hash, sig, err := s.SignIntent("mkt-1", sampleIntent())
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.GreaterOrEqual(t, sig[64], byte(27))

	digest, err := v.Digest("mkt-1", sampleIntent())
	require.NoError(t, err)
	assert.Equal(t, digest, hash)

	got, err := v.Recover(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// the raw {0,1} recovery id is accepted too
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	got, err = v.Recover(hash, raw)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
}

func TestDigest_BindsEveryField(t *testing.T) {
	v := crypto.NewIntentVerifier("outcome-amm", "1", 137)
	base, err := v.Digest("mkt-1", sampleIntent())
	require.NoError(t, err)

	mutations := map[string]func(*domain.TradeIntent){
		"outcome":  func(in *domain.TradeIntent) { in.Outcome = 0 },
		"amount":   func(in *domain.TradeIntent) { in.Amount = uint256.NewInt(1) },
		"slippage": func(in *domain.TradeIntent) { in.MaxSlippageBps = 251 },
		"side":     func(in *domain.TradeIntent) { in.IsBuy = false },
		"min time": func(in *domain.TradeIntent) { in.MinTime = in.MinTime.Add(time.Second) },
		"max time": func(in *domain.TradeIntent) { in.MaxTime = in.MaxTime.Add(time.Second) },
		"nonce":    func(in *domain.TradeIntent) { in.Nonce = uint256.NewInt(43) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := sampleIntent()
			mutate(&in)
			d, err := v.Digest("mkt-1", in)
			require.NoError(t, err)
			assert.NotEqual(t, base, d)
		})
	}

	other, err := v.Digest("mkt-2", sampleIntent())
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	chain, err := crypto.NewIntentVerifier("outcome-amm", "1", 1).Digest("mkt-1", sampleIntent())
	require.NoError(t, err)
	assert.NotEqual(t, base, chain)
}

func TestDigest_RejectsIncompleteIntent(t *testing.T) {
	v := crypto.NewIntentVerifier("outcome-amm", "1", 137)

	_, err := v.Digest("", sampleIntent())
	assert.Error(t, err)

	in := sampleIntent()
	in.Amount = nil
	_, err = v.Digest("mkt-1", in)
	assert.Error(t, err)

	in = sampleIntent()
	in.Outcome = -1
	_, err = v.Digest("mkt-1", in)
	assert.Error(t, err)
}

func TestRecover_WrongKey(t *testing.T) {
	v := crypto.NewIntentVerifier("outcome-amm", "1", 137)
	s, err := crypto.NewSigner(devKey, v)
	require.NoError(t, err)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other := crypto.NewSignerFromKey(key, v)

	hash, _, err := s.SignIntent("mkt-1", sampleIntent())
	require.NoError(t, err)
	_, forged, err := other.SignIntent("mkt-1", sampleIntent())
	require.NoError(t, err)

	got, err := v.Recover(hash, forged)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), got)

	_, err = v.Recover(hash, forged[:64])
	assert.Error(t, err)
}

func TestSignatureEncoding(t *testing.T) {
	s, err := crypto.NewSigner(devKey, crypto.NewIntentVerifier("outcome-amm", "1", 137))
	require.NoError(t, err)
	_, sig, err := s.SignIntent("mkt-1", sampleIntent())
	require.NoError(t, err)

	enc := crypto.EncodeSignature(sig)
	assert.Len(t, enc, 2+2*crypto.SignatureLength)
	dec, err := crypto.DecodeSignature(enc)
	require.NoError(t, err)
	assert.Equal(t, sig, dec)

	_, err = crypto.DecodeSignature("0xdeadbeef")
	assert.Error(t, err)
	_, err = crypto.DecodeSignature("0xzz")
	assert.Error(t, err)
}
