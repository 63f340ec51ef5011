// Package crypto provides API secret storage at rest and HMAC request
// signing for the exchange REST API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfName = "pbkdf2-sha256"
	// defaultIterations follows the OWASP floor for PBKDF2-HMAC-SHA256.
	defaultIterations = 600_000
	saltLen           = 16
	keyLen            = 32
	sealedVersion     = 2
)

var (
	// ErrWrongPassword is returned when the secret file does not open with
	// the given password.
	ErrWrongPassword = errors.New("crypto: wrong password or corrupted secret")
	// ErrNoSecretSource is returned by LoadSecret when neither a raw secret
	// nor an encrypted file is configured.
	ErrNoSecretSource = errors.New("crypto: no API secret configured")
)

// sealedSecret is the JSON written by EncryptSecret. Binary fields are
// standard base64.
type sealedSecret struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SecretConfig says where LoadSecret finds the exchange API secret.
type SecretConfig struct {
	RawSecret           string
	EncryptedSecretPath string
	Password            string
}

// EncryptSecret seals secret under a key derived from password with
// AES-256-GCM and returns the JSON to store on disk.
func EncryptSecret(secret, password string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	switch {
	case password == "":
		return nil, errors.New("crypto: password must not be empty")
	case secret == "":
		return nil, errors.New("crypto: secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt, defaultIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(sealedSecret{
		Version:    sealedVersion,
		KDF:        kdfName,
		Iterations: defaultIterations,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, []byte(secret), nil)),
	}, "", "  ")
}

// DecryptSecret opens JSON produced by EncryptSecret.
func DecryptSecret(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var s sealedSecret
	if err := json.Unmarshal(sealed, &s); err != nil {
		return "", fmt.Errorf("crypto: parse sealed secret: %w", err)
	}
	if s.Version != sealedVersion || s.KDF != kdfName {
		return "", fmt.Errorf("crypto: unsupported sealed secret (version %d, kdf %q)", s.Version, s.KDF)
	}
	if s.Iterations <= 0 {
		return "", fmt.Errorf("crypto: invalid iteration count %d", s.Iterations)
	}

	fields := make([][]byte, 3)
	for i, v := range []string{s.Salt, s.Nonce, s.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return "", fmt.Errorf("crypto: decode field %d: %w", i, err)
		}
		fields[i] = b
	}
	salt, nonce, ciphertext := fields[0], fields[1], fields[2]

	gcm, err := newGCM(password, salt, s.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	return string(plain), nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// LoadSecret returns the raw secret when configured, otherwise decrypts the
// sealed file. The file must not be readable by group or others.
func LoadSecret(cfg SecretConfig) (string, error) {
	if raw := strings.TrimSpace(cfg.RawSecret); raw != "" {
		return raw, nil
	}
	if cfg.EncryptedSecretPath == "" {
		return "", ErrNoSecretSource
	}

	info, err := os.Stat(cfg.EncryptedSecretPath)
	if err != nil {
		return "", fmt.Errorf("crypto: stat secret file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("crypto: secret file %s has mode %o, want 0600", cfg.EncryptedSecretPath, perm)
	}
	data, err := os.ReadFile(cfg.EncryptedSecretPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read secret file: %w", err)
	}
	return DecryptSecret(data, cfg.Password)
}
