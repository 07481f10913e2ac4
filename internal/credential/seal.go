package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for the at-rest sealing key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
	saltLen      = 16
	nonceLen     = 12
)

// ErrWrongPassphrase is returned when a sealed credential cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase for sealed credential")

// sealer encrypts the stored credential under a passphrase-derived key.
type sealer struct {
	passphrase string
}

func (s sealer) enabled() bool {
	return s.passphrase != ""
}

// seal returns salt and nonce||ciphertext+tag for plaintext.
func (s sealer) seal(plaintext []byte) (salt, sealed []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(s.passphrase, salt)
	defer zeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return salt, gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal. Any authentication failure is reported as
// ErrWrongPassphrase; a tampered row looks the same as a wrong passphrase.
func (s sealer) open(salt, data []byte) ([]byte, error) {
	if len(data) < nonceLen {
		return nil, errors.New("sealed credential too short")
	}
	key := deriveKey(s.passphrase, salt)
	defer zeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, data[:nonceLen], data[nonceLen:], nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
