package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// EncryptionConfig defines key derivation and AES-GCM parameters
type EncryptionConfig struct {
	SCryptN      int // CPU/memory cost parameter
	SCryptR      int // Block size parameter
	SCryptP      int // Parallelization parameter
	SCryptKeyLen int // 32 selects AES-256
	SaltSize     int
}

// ErrDecryptionFailed is returned when a payload cannot be authenticated
var ErrDecryptionFailed = errors.New("decryption failed: wrong secret or corrupted data")

// DefaultEncryptionConfig returns OWASP recommended scrypt parameters
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		SaltSize:     32,
	}
}

// ValidateEncryptionConfig checks the parameters scrypt and AES accept
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config is nil")
	}
	if config.SCryptN < 2 || config.SCryptN&(config.SCryptN-1) != 0 {
		return fmt.Errorf("scrypt N must be a power of two greater than 1, got %d", config.SCryptN)
	}
	if config.SCryptR <= 0 || config.SCryptP <= 0 {
		return errors.New("scrypt r and p must be positive")
	}
	switch config.SCryptKeyLen {
	case 16, 24, 32:
	default:
		return fmt.Errorf("invalid key length %d", config.SCryptKeyLen)
	}
	if config.SaltSize < 16 {
		return fmt.Errorf("salt size must be at least 16 bytes, got %d", config.SaltSize)
	}
	return nil
}

// NewSalt returns SaltSize cryptographically random bytes
func NewSalt(config *EncryptionConfig) ([]byte, error) {
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	salt := make([]byte, config.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Sealer encrypts and decrypts payloads with a key derived once from a
// secret and salt. Every Seal uses a fresh random nonce.
type Sealer struct {
	aead cipher.AEAD
	salt []byte
}

// NewSealer derives an AES-GCM key from secret and salt using scrypt
func NewSealer(secret, salt []byte, config *EncryptionConfig) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret cannot be empty")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if err := ValidateEncryptionConfig(config); err != nil {
		return nil, err
	}
	if len(salt) < 16 {
		return nil, errors.New("salt must be at least 16 bytes")
	}

	key, err := scrypt.Key(secret, salt, config.SCryptN, config.SCryptR, config.SCryptP, config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: aead, salt: append([]byte(nil), salt...)}, nil
}

// Salt returns a copy of the salt the key was derived from
func (s *Sealer) Salt() []byte {
	return append([]byte(nil), s.salt...)
}

// Seal encrypts plaintext, binding it to additionalData
func (s *Sealer) Seal(plaintext, additionalData []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, s.aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// Open authenticates and decrypts ciphertext
func (s *Sealer) Open(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != s.aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
