package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedExtension is appended to archive names when encryption is on
const EncryptedExtension = ".enc"

// pbkdf2Iterations is the PBKDF2-SHA256 work factor for passphrase-derived keys
const pbkdf2Iterations = 100000

// saltSize is the PBKDF2 salt length written at the head of sealed archives
const saltSize = 32

// EncryptionConfig controls optional at-rest encryption of backup archives
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// KeySource is "env", "file" or "passphrase"
	KeySource string `mapstructure:"key_source" yaml:"key_source"`
	// KeyEnvVar names the environment variable holding a hex-encoded key
	KeyEnvVar string `mapstructure:"key_env_var" yaml:"key_env_var"`
	// KeyPath points at a file holding a raw 32-byte key
	KeyPath string `mapstructure:"key_path" yaml:"key_path"`
	// Passphrase holds the passphrase when KeySource is "passphrase";
	// it is set programmatically (terminal prompt), never from config files
	Passphrase string `mapstructure:"-" yaml:"-"`
}

// Validate checks the encryption configuration
func (c *EncryptionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.KeySource {
	case "env":
		if c.KeyEnvVar == "" {
			return NewConfigurationError("encryption key_env_var is required when key_source is env", nil)
		}
	case "file":
		if c.KeyPath == "" {
			return NewConfigurationError("encryption key_path is required when key_source is file", nil)
		}
	case "passphrase":
	default:
		return NewConfigurationError(fmt.Sprintf("invalid encryption key source: %s", c.KeySource), nil)
	}
	return nil
}

// EncryptionManager seals and opens backup archives with AES-256-GCM.
// Sealed artifacts carry salt || nonce || ciphertext; the salt is all-zero
// filler when the key is not passphrase-derived.
type EncryptionManager struct {
	config *EncryptionConfig
}

// NewEncryptionManager creates an encryption manager
func NewEncryptionManager(config *EncryptionConfig) *EncryptionManager {
	return &EncryptionManager{config: config}
}

// IsEnabled returns whether encryption is enabled
func (em *EncryptionManager) IsEnabled() bool {
	return em.config.Enabled
}

// Algorithm returns the encryption algorithm in use
func (em *EncryptionManager) Algorithm() string {
	if !em.config.Enabled {
		return "NONE"
	}
	return "AES-256-GCM"
}

// Seal encrypts an archive's bytes. No-op when encryption is disabled.
func (em *EncryptionManager) Seal(data []byte) ([]byte, error) {
	if !em.config.Enabled {
		return data, nil
	}

	salt := make([]byte, saltSize)
	if em.config.KeySource == "passphrase" {
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, NewEncryptionError("failed to generate salt", err)
		}
	}

	key, err := em.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	sealed := make([]byte, 0, saltSize+len(nonce)+len(data)+gcm.Overhead())
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	sealed = gcm.Seal(sealed, nonce, data, nil)

	return sealed, nil
}

// Open decrypts a sealed archive's bytes. No-op when encryption is disabled.
func (em *EncryptionManager) Open(sealed []byte) ([]byte, error) {
	if !em.config.Enabled {
		return sealed, nil
	}

	if len(sealed) < saltSize {
		return nil, NewEncryptionError("encrypted archive too short", nil)
	}
	salt, rest := sealed[:saltSize], sealed[saltSize:]

	key, err := em.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(rest) < gcm.NonceSize() {
		return nil, NewEncryptionError("encrypted archive too short", nil)
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt archive", err)
	}

	return plaintext, nil
}

func (em *EncryptionManager) deriveKey(salt []byte) ([]byte, error) {
	switch em.config.KeySource {
	case "passphrase":
		if em.config.Passphrase == "" {
			return nil, NewEncryptionError("passphrase is empty", nil)
		}
		return pbkdf2.Key([]byte(em.config.Passphrase), salt, pbkdf2Iterations, 32, sha256.New), nil
	case "env":
		hexKey := os.Getenv(em.config.KeyEnvVar)
		if hexKey == "" {
			return nil, NewEncryptionError(fmt.Sprintf("environment variable %s not set", em.config.KeyEnvVar), nil)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, NewEncryptionError("failed to decode hex key from environment variable", err)
		}
		if len(key) != 32 {
			return nil, NewEncryptionError("key from environment variable must be 32 bytes for AES-256", nil)
		}
		return key, nil
	case "file":
		key, err := os.ReadFile(em.config.KeyPath)
		if err != nil {
			return nil, NewEncryptionError("failed to read key file", err)
		}
		if len(key) != 32 {
			return nil, NewEncryptionError("key file must contain 32 bytes for AES-256", nil)
		}
		return key, nil
	default:
		return nil, NewEncryptionError(fmt.Sprintf("invalid key source: %s", em.config.KeySource), nil)
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// GenerateKey generates a random 256-bit encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// SaveKeyToFile writes a key to disk with owner-only permissions
func SaveKeyToFile(key []byte, path string) error {
	if len(key) != 32 {
		return NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}
	return nil
}
