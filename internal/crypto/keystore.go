package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2-HMAC-SHA256 work factor for new files.
	DefaultIterations = 480_000
	keyFileVersion    = 1
	saltLen           = 16
	aesKeyLen         = 32
)

// KeyFile is the on-disk form of a password-protected operator key. The
// address is stored in clear so a file can be identified without the
// password.
type KeyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func gcmFor(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealKey encrypts key with password using PBKDF2 key derivation and
// AES-256-GCM.
func SealKey(key *ecdsa.PrivateKey, password string, iterations int) (KeyFile, error) {
	if password == "" {
		return KeyFile{}, errors.New("crypto/keystore: password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return KeyFile{}, fmt.Errorf("crypto/keystore: salt: %w", err)
	}
	gcm, err := gcmFor(password, salt, iterations)
	if err != nil {
		return KeyFile{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return KeyFile{}, fmt.Errorf("crypto/keystore: nonce: %w", err)
	}
	return KeyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}, nil
}

// OpenKey decrypts f and checks the result against the stored address.
func OpenKey(f KeyFile, password string) (*ecdsa.PrivateKey, error) {
	if f.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto/keystore: unsupported version %d", f.Version)
	}
	fields := map[string]string{"salt": f.Salt, "nonce": f.Nonce, "ciphertext": f.Ciphertext}
	decoded := make(map[string][]byte, len(fields))
	for name, v := range fields {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("crypto/keystore: decoding %s: %w", name, err)
		}
		decoded[name] = b
	}

	gcm, err := gcmFor(password, decoded["salt"], f.Iterations)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, decoded["nonce"], decoded["ciphertext"], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: decryption failed (wrong password?): %w", err)
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(key.PublicKey).Hex(); !strings.EqualFold(got, f.Address) {
		return nil, fmt.Errorf("crypto/keystore: key address %s does not match file address %s", got, f.Address)
	}
	return key, nil
}

// WriteKeyFile stores f at path with owner-only permissions.
func WriteKeyFile(path string, f KeyFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto/keystore: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("crypto/keystore: write %s: %w", path, err)
	}
	return nil
}

// ReadKeyFile loads a key file from path.
func ReadKeyFile(path string) (KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyFile{}, fmt.Errorf("crypto/keystore: read %s: %w", path, err)
	}
	var f KeyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return KeyFile{}, fmt.Errorf("crypto/keystore: parse %s: %w", path, err)
	}
	return f, nil
}

// KeySource says where an operator key comes from. A raw hex key takes
// precedence over an encrypted file.
type KeySource struct {
	RawHex   string
	Path     string
	Password string
}

// Load resolves the private key.
func (s KeySource) Load() (*ecdsa.PrivateKey, error) {
	if s.RawHex != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(s.RawHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto/keystore: raw key: %w", err)
		}
		return key, nil
	}
	if s.Path != "" {
		f, err := ReadKeyFile(s.Path)
		if err != nil {
			return nil, err
		}
		return OpenKey(f, s.Password)
	}
	return nil, errors.New("crypto/keystore: no key source configured")
}
