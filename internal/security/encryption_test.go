package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *EncryptionConfig {
	cfg := DefaultEncryptionConfig()
	cfg.SCryptN = 1024
	return cfg
}

func TestSealer_RoundTrip(t *testing.T) {
	cfg := fastConfig()
	salt, err := NewSalt(cfg)
	require.NoError(t, err)
	assert.Len(t, salt, 32)

	sealer, err := NewSealer([]byte("correct horse"), salt, cfg)
	require.NoError(t, err)

	plaintext := []byte(`{"license_key":"ABCD-1234"}`)
	nonce, ciphertext, err := sealer.Seal(plaintext, []byte("v1"))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ciphertext, []byte("ABCD")))

	got, err := sealer.Open(nonce, ciphertext, []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = sealer.Open(nonce, ciphertext, []byte("v2"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	nonce2, _, err := sealer.Seal(plaintext, nil)
	require.NoError(t, err)
	assert.NotEqual(t, nonce, nonce2, "nonces are never reused")
}

func TestSealer_WrongSecret(t *testing.T) {
	cfg := fastConfig()
	salt, err := NewSalt(cfg)
	require.NoError(t, err)

	a, err := NewSealer([]byte("secret-a"), salt, cfg)
	require.NoError(t, err)
	b, err := NewSealer([]byte("secret-b"), salt, cfg)
	require.NoError(t, err)

	nonce, ciphertext, err := a.Seal([]byte("data"), nil)
	require.NoError(t, err)

	_, err = b.Open(nonce, ciphertext, nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = a.Open(nonce[:4], ciphertext, nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	assert.Equal(t, salt, a.Salt())
}

func TestNewSealer_Errors(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, 32)

	tests := []struct {
		name   string
		secret []byte
		salt   []byte
		config *EncryptionConfig
	}{
		{"empty secret", nil, salt, fastConfig()},
		{"short salt", []byte("s"), []byte("short"), fastConfig()},
		{"bad N", []byte("s"), salt, &EncryptionConfig{SCryptN: 1000, SCryptR: 8, SCryptP: 1, SCryptKeyLen: 32, SaltSize: 32}},
		{"bad key length", []byte("s"), salt, &EncryptionConfig{SCryptN: 1024, SCryptR: 8, SCryptP: 1, SCryptKeyLen: 20, SaltSize: 32}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSealer(tt.secret, tt.salt, tt.config)
			assert.Error(t, err)
		})
	}
}

func TestValidateEncryptionConfig(t *testing.T) {
	assert.NoError(t, ValidateEncryptionConfig(DefaultEncryptionConfig()))
	assert.Error(t, ValidateEncryptionConfig(nil))
	assert.Error(t, ValidateEncryptionConfig(&EncryptionConfig{SCryptN: 1024, SCryptR: 0, SCryptP: 1, SCryptKeyLen: 32, SaltSize: 32}))
	assert.Error(t, ValidateEncryptionConfig(&EncryptionConfig{SCryptN: 1024, SCryptR: 8, SCryptP: 1, SCryptKeyLen: 32, SaltSize: 8}))
}
