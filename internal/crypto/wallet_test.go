package crypto_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/crypto"
)

// Hardhat account #1.
const otherKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestVerifyRequest_RoundTrip(t *testing.T) {
	s, err := crypto.NewSigner(devKey, nil)
	require.NoError(t, err)
	now := time.Unix(1_772_366_400, 0)
	body := []byte(`{"outcome":0,"amount":"20","isBuy":true}`)

	hdr, err := s.SignRequest(http.MethodPost, "/api/markets/mkt-1/trades", body, now.Unix())
	require.NoError(t, err)

	wallet, err := crypto.VerifyRequest(headerOf(hdr), http.MethodPost, "/api/markets/mkt-1/trades", body, now.Add(5*time.Second), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), wallet)
}

func TestVerifyRequest_BindsRequest(t *testing.T) {
	s, err := crypto.NewSigner(devKey, nil)
	require.NoError(t, err)
	now := time.Unix(1_772_366_400, 0)
	body := []byte(`{"outcome":0}`)
	hdr := headerOf(must(s.SignRequest(http.MethodPost, "/api/markets/mkt-1/trades", body, now.Unix())))

	_, err = crypto.VerifyRequest(hdr, http.MethodPost, "/api/markets/mkt-1/trades", []byte(`{"outcome":1}`), now, time.Minute)
	assert.ErrorIs(t, err, crypto.ErrWalletMismatch)

	_, err = crypto.VerifyRequest(hdr, http.MethodPost, "/api/markets/mkt-2/trades", body, now, time.Minute)
	assert.ErrorIs(t, err, crypto.ErrWalletMismatch)

	_, err = crypto.VerifyRequest(hdr, http.MethodPost, "/api/markets/mkt-1/trades", body, now.Add(2*time.Minute), time.Minute)
	assert.ErrorIs(t, err, crypto.ErrStaleRequest)
}

func TestVerifyRequest_ImpersonationRejected(t *testing.T) {
	victim, err := crypto.NewSigner(devKey, nil)
	require.NoError(t, err)
	attacker, err := crypto.NewSigner(otherKey, nil)
	require.NoError(t, err)
	now := time.Unix(1_772_366_400, 0)

	hdr := headerOf(must(attacker.SignRequest(http.MethodPost, "/api/markets/mkt-1/winnings/claim", nil, now.Unix())))
	hdr.Set(crypto.HeaderWallet, victim.Address().Hex())

	_, err = crypto.VerifyRequest(hdr, http.MethodPost, "/api/markets/mkt-1/winnings/claim", nil, now, time.Minute)
	assert.ErrorIs(t, err, crypto.ErrWalletMismatch)

	bare := http.Header{}
	bare.Set(crypto.HeaderWallet, victim.Address().Hex())
	_, err = crypto.VerifyRequest(bare, http.MethodPost, "/api/markets/mkt-1/winnings/claim", nil, now, time.Minute)
	assert.ErrorIs(t, err, crypto.ErrUnsignedRequest)
}

func must(m map[string]string, err error) map[string]string {
	if err != nil {
		panic(err)
	}
	return m
}
