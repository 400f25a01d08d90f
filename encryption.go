package switchpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures encryption at rest for archived analyses.
type EncryptionConfig struct {
	// Enabled turns on encryption for archive blobs
	Enabled bool `yaml:"enabled"`
	// Key is the encryption key (must be 32 bytes for AES-256).
	// If empty, KeyPassword is used to derive a key.
	Key []byte `yaml:"-"`
	// KeyPassword is used to derive the encryption key via PBKDF2
	KeyPassword string `yaml:"key_password"`
}

// Encryptor provides authenticated encryption for archive blobs.
type Encryptor struct {
	gcm  cipher.AEAD
	salt []byte
}

// NewEncryptor creates an encryptor from a key or password. Returns
// (nil, nil) when the config is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var key, salt []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
		salt = make([]byte, EncryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	case cfg.KeyPassword != "":
		salt = make([]byte, EncryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		key = pbkdf2.Key([]byte(cfg.KeyPassword), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt}, nil
}

// NewEncryptorWithSalt derives the key from a password and an existing
// salt, for decrypting blobs written by another process.
func NewEncryptorWithSalt(password string, salt []byte) (*Encryptor, error) {
	if len(salt) != EncryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}
	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Salt returns the salt used for key derivation.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Encrypt seals plaintext and returns ciphertext with a prepended random
// nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext with a prepended nonce.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionNonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:EncryptionNonceSize]
	return e.gcm.Open(nil, nonce, ciphertext[EncryptionNonceSize:], nil)
}
