// Command outcomectl is the operator tool for an outcomed deployment. It
// manages the operator key, signs commit-reveal intents offline, and reads
// market state over the HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/config"
	ocrypto "github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

const usage = `usage: outcomectl <command> [flags]

commands:
  encrypt-key   seal a hex private key into a password-protected key file
  address       print the operator address
  commit        sign a trade intent and print its commitment hash
  show          print a market summary
  quote         price a trade without executing it
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "encrypt-key":
		err = runEncryptKey(args)
	case "address":
		err = runAddress(args)
	case "commit":
		err = runCommit(args)
	case "show":
		err = runShow(args)
	case "quote":
		err = runQuote(args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "outcomectl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the optional config file. Env overrides apply either way.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	return *cfg, nil
}

func keySource(cfg config.Config) ocrypto.KeySource {
	return ocrypto.KeySource{
		RawHex:   cfg.Wallet.PrivateKey,
		Path:     cfg.Wallet.EncryptedKeyPath,
		Password: cfg.Wallet.KeyPassword,
	}
}

func runEncryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex private key (default: "+config.EnvPrefix+"WALLET_PRIVATE_KEY)")
	out := fs.String("out", "operator.key.json", "output key file")
	password := fs.String("password", "", "encryption password (default: "+config.EnvPrefix+"WALLET_KEY_PASSWORD)")
	iterations := fs.Int("iterations", ocrypto.DefaultIterations, "PBKDF2 iterations")
	_ = fs.Parse(args)

	if *keyHex == "" {
		*keyHex = os.Getenv(config.EnvPrefix + "WALLET_PRIVATE_KEY")
	}
	if *password == "" {
		*password = os.Getenv(config.EnvPrefix + "WALLET_KEY_PASSWORD")
	}
	if *keyHex == "" {
		return errors.New("encrypt-key: no private key given")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	f, err := ocrypto.SealKey(key, *password, *iterations)
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if err := ocrypto.WriteKeyFile(*out, f); err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	fmt.Printf("wrote %s for %s\n", *out, f.Address)
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to TOML config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	key, err := keySource(cfg).Load()
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	fmt.Println(crypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}

// signedCommit is printed by commit. The hash goes to the commitments
// endpoint now; intent and signature go to the reveals endpoint later.
type signedCommit struct {
	Market    string             `json:"marketId"`
	Sender    string             `json:"sender"`
	Hash      string             `json:"hash"`
	Signature string             `json:"signature"`
	Intent    domain.TradeIntent `json:"intent"`
}

func runCommit(args []string) error {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to TOML config file")
	market := fs.String("market", "", "market id")
	outcome := fs.Int("outcome", 0, "outcome index")
	amount := fs.String("amount", "", "amount in collateral (buy) or shares (sell), decimal")
	sell := fs.Bool("sell", false, "sell shares instead of buying")
	slippage := fs.Uint64("slippage-bps", 100, "maximum slippage in basis points")
	delay := fs.Duration("delay", 2*time.Minute, "earliest reveal, relative to now")
	window := fs.Duration("window", 10*time.Minute, "reveal window length after the earliest reveal")
	nonce := fs.Uint64("nonce", uint64(time.Now().UnixNano()), "intent nonce")
	_ = fs.Parse(args)

	if *market == "" || *amount == "" {
		return errors.New("commit: -market and -amount are required")
	}
	amt, err := fixed.Parse(*amount)
	if err != nil {
		return fmt.Errorf("commit: amount: %w", err)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	key, err := keySource(cfg).Load()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	verifier := ocrypto.NewIntentVerifier(cfg.Chain.DomainName, cfg.Chain.DomainVersion, cfg.Chain.ChainID)
	signer := ocrypto.NewSignerFromKey(key, verifier)

	now := time.Now().UTC().Truncate(time.Second)
	intent := domain.TradeIntent{
		Outcome:        *outcome,
		Amount:         amt,
		MaxSlippageBps: *slippage,
		IsBuy:          !*sell,
		MinTime:        now.Add(*delay),
		MaxTime:        now.Add(*delay + *window),
		Nonce:          uint256.NewInt(*nonce),
	}
	hash, sig, err := signer.SignIntent(*market, intent)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(signedCommit{
		Market:    *market,
		Sender:    signer.Address().Hex(),
		Hash:      hash.Hex(),
		Signature: ocrypto.EncodeSignature(sig),
		Intent:    intent,
	})
}

// apiClient talks to a running outcomed.
type apiClient struct {
	base    string
	apiKey  string
	cfgPath string
	sign    bool
	http    *http.Client
}

func newAPIClient(fs *flag.FlagSet) func() *apiClient {
	base := fs.String("api", "http://localhost:8000", "outcomed base URL")
	key := fs.String("api-key", os.Getenv(config.EnvPrefix+"SERVER_API_KEY"), "API key")
	cfgPath := fs.String("config", "", "path to TOML config file (operator key for -sign)")
	sign := fs.Bool("sign", false, "sign the request with the operator key and act as its wallet")
	return func() *apiClient {
		return &apiClient{
			base:    strings.TrimRight(*base, "/"),
			apiKey:  *key,
			cfgPath: *cfgPath,
			sign:    *sign,
			http:    &http.Client{Timeout: 15 * time.Second},
		}
	}
}

// walletHeaders signs the request with the operator key.
func (c *apiClient) walletHeaders(method, path string, body []byte) (map[string]string, error) {
	cfg, err := loadConfig(c.cfgPath)
	if err != nil {
		return nil, err
	}
	key, err := keySource(cfg).Load()
	if err != nil {
		return nil, err
	}
	signer := ocrypto.NewSignerFromKey(key, nil)
	return signer.SignRequest(method, path, body, time.Now().Unix())
}

func (c *apiClient) do(method, path string, body, out any) error {
	var buf []byte
	if body != nil {
		var err error
		if buf, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.sign {
		hdr, err := c.walletHeaders(method, path, buf)
		if err != nil {
			return fmt.Errorf("%s %s: sign: %w", method, path, err)
		}
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	client := newAPIClient(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("show: expected exactly one market id")
	}

	var s amm.Summary
	if err := client().do(http.MethodGet, "/api/markets/"+fs.Arg(0), nil, &s); err != nil {
		return fmt.Errorf("show: %w", err)
	}

	fmt.Printf("%s  %q\n", s.ID, s.Name)
	fmt.Printf("phase %s  fee %d bps  ends %s\n", s.Phase, s.FeeBps, s.EndTime.Format(time.RFC3339))
	fmt.Printf("pool %s  shares %s  volume %s\n", fixed.Format(s.Pool), fixed.Format(s.TotalShares), fixed.Format(s.Volume))
	if s.Winner != nil {
		fmt.Printf("winner %d (%s)\n", *s.Winner, s.Outcomes[*s.Winner])
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Outcome", "Reserve", "Price")
	for i, name := range s.Outcomes {
		price := "-"
		if i < len(s.Prices) {
			price = fixed.Format(s.Prices[i])
		}
		reserve := "-"
		if i < len(s.Reserves) {
			reserve = fixed.Format(s.Reserves[i])
		}
		table.Append(strconv.Itoa(i), name, reserve, price)
	}
	table.Render()
	return nil
}

func runQuote(args []string) error {
	fs := flag.NewFlagSet("quote", flag.ExitOnError)
	client := newAPIClient(fs)
	market := fs.String("market", "", "market id")
	outcome := fs.Int("outcome", 0, "outcome index")
	amount := fs.String("amount", "", "amount, decimal")
	sell := fs.Bool("sell", false, "quote a sell")
	slippage := fs.Uint64("slippage-bps", 0, "maximum slippage in basis points (0 disables the check)")
	_ = fs.Parse(args)

	if *market == "" || *amount == "" {
		return errors.New("quote: -market and -amount are required")
	}
	amt, err := fixed.Parse(*amount)
	if err != nil {
		return fmt.Errorf("quote: amount: %w", err)
	}

	body := map[string]any{
		"outcome":        *outcome,
		"amount":         amt,
		"maxSlippageBps": *slippage,
		"isBuy":          !*sell,
	}
	var res amm.TradeResult
	if err := client().do(http.MethodPost, "/api/markets/"+*market+"/quote", body, &res); err != nil {
		return fmt.Errorf("quote: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("side", side(res.IsBuy))
	table.Append("in", fixed.Format(res.AmountIn))
	table.Append("out", fixed.Format(res.AmountOut))
	table.Append("fee", fmt.Sprintf("%s (%d bps)", fixed.Format(res.Fee), res.FeeBps))
	table.Append("withheld", fmt.Sprintf("%s (%d bps)", fixed.Format(res.Withheld), res.WithheldBps))
	table.Append("price before", fixed.Format(res.PriceBefore))
	table.Append("execution price", fixed.Format(res.ExecutionPrice))
	table.Append("price after", fixed.Format(res.PriceAfter))
	table.Render()
	return nil
}

func side(buy bool) string {
	if buy {
		return "buy"
	}
	return "sell"
}
