// Package crypto loads the trading key and signs exchange actions with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keystoreVersion  = 1
)

// keystoreFile is the on-disk format of an encrypted key. Binary fields are
// base64 standard encoded.
type keystoreFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig lists where LoadKey may find the signing key.
type KeyConfig struct {
	// RawPrivateKey is a hex key, with or without 0x. It wins when set.
	RawPrivateKey string
	// KeystorePath points at a file written by EncryptKey.
	KeystorePath string
	// KeystorePassword decrypts KeystorePath.
	KeystorePassword string
}

// EncryptKey seals a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM and returns the keystore JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto/keystore: password must not be empty")
	}
	keyBytes, err := decodeKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keystore: generating salt: %w", err)
	}
	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keystore: generating nonce: %w", err)
	}

	var address string
	if s, err := NewSigner(hex.EncodeToString(keyBytes), true); err == nil {
		address = s.Address().Hex()
	}

	return json.MarshalIndent(keystoreFile{
		Version:    keystoreVersion,
		Address:    address,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens keystore JSON and returns the hex key without 0x.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto/keystore: password must not be empty")
	}
	var f keystoreFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("crypto/keystore: parse: %w", err)
	}
	if f.Version != keystoreVersion {
		return "", fmt.Errorf("crypto/keystore: unsupported version %d", f.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, field := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", f.Salt, &salt},
		{"nonce", f.Nonce, &nonce},
		{"ciphertext", f.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(field.in)
		if err != nil {
			return "", fmt.Errorf("crypto/keystore: decode %s: %w", field.name, err)
		}
		*field.out = b
	}

	gcm, err := gcmFor(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto/keystore: nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto/keystore: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the signing key: the raw key if set, otherwise the
// decrypted keystore file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		b, err := decodeKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(b), nil
	}
	if cfg.KeystorePath != "" {
		data, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return "", fmt.Errorf("crypto/keystore: read %s: %w", cfg.KeystorePath, err)
		}
		return DecryptKey(data, cfg.KeystorePassword)
	}
	return "", errors.New("crypto/keystore: no private key configured")
}

func decodeKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: private key is not hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto/keystore: expected 32-byte key, got %d bytes", len(b))
	}
	return b, nil
}

func gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: gcm: %w", err)
	}
	return gcm, nil
}
