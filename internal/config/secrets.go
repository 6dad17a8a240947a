package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// encPrefix marks a config value that must be decrypted at load time.
const encPrefix = "enc:"

const configKeyEnv = "HUBLINK_CONFIG_KEY"

const (
	secretSalt   = "hub-link-config-salt"
	secretIter   = 100000
	secretKeyLen = 32
)

// decryptSecrets walks the fields that may carry an enc:-prefixed
// ciphertext and decrypts each in place, deriving the AES-GCM key from
// the HUBLINK_CONFIG_KEY environment variable. Fields without the
// prefix are left untouched, so plaintext secrets still work in
// development.
func decryptSecrets(cfg *Config) error {
	var err error
	if cfg.Auth.Secret, err = maybeDecrypt(cfg.Auth.Secret); err != nil {
		return &Error{Code: "CONFIG_DECRYPT_FAILED", Message: "failed to decrypt auth.secret", Err: err}
	}
	if cfg.Auth.Key, err = maybeDecrypt(cfg.Auth.Key); err != nil {
		return &Error{Code: "CONFIG_DECRYPT_FAILED", Message: "failed to decrypt auth.key", Err: err}
	}
	return nil
}

func maybeDecrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	passphrase := os.Getenv(configKeyEnv)
	if passphrase == "" {
		return "", &Error{Code: "CONFIG_KEY_MISSING", Message: configKeyEnv + " must be set to decrypt config secrets"}
	}
	return DecryptSecret(passphrase, strings.TrimPrefix(value, encPrefix))
}

func deriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(secretSalt), secretIter, secretKeyLen, sha256.New)
}

// EncryptSecret encrypts plaintext with a key derived from passphrase,
// returning a base64 ciphertext suitable for the enc: config prefix.
func EncryptSecret(passphrase, plaintext string) (string, error) {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSecret reverses EncryptSecret.
func DecryptSecret(passphrase, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", &Error{Code: "CONFIG_DECRYPT_FAILED", Message: "ciphertext too short"}
	}
	nonce, body := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
