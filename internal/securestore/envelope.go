package securestore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	kdfName         = "argon2id"
)

var filePrefix = []byte("WSSENC1\n")

var (
	ErrAuthFailed    = errors.New("securestore authentication failed")
	ErrInvalid       = errors.New("securestore envelope is invalid")
	ErrPlaintextData = errors.New("securestore data is not encrypted")
	ErrNoSecret      = errors.New("securestore secret is required")
)

// KDFParams are the argon2id cost parameters recorded in every envelope.
type KDFParams struct {
	Time     uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads  uint8  `json:"threads"`
}

// DefaultKDF is used for new envelopes.
var DefaultKDF = KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

// MaxKDF bounds the cost a stored envelope may ask for on Decrypt.
var MaxKDF = KDFParams{Time: 16, MemoryKB: 1024 * 1024, Threads: 16}

func (p KDFParams) valid() bool {
	return p.Time > 0 && p.Time <= MaxKDF.Time &&
		p.MemoryKB > 0 && p.MemoryKB <= MaxKDF.MemoryKB &&
		p.Threads > 0 && p.Threads <= MaxKDF.Threads
}

type envelope struct {
	Version    uint32    `json:"version"`
	KDF        string    `json:"kdf"`
	Params     KDFParams `json:"params"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// Encrypt seals plaintext under a key stretched from secret. aad is bound to
// the ciphertext and must be presented again on Decrypt.
func Encrypt(secret string, plaintext, aad []byte) ([]byte, error) {
	return encryptWith(DefaultKDF, secret, plaintext, aad)
}

func encryptWith(params KDFParams, secret string, plaintext, aad []byte) ([]byte, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if !params.valid() {
		return nil, ErrInvalid
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(params, secret, salt)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		KDF:        kdfName,
		Params:     params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, aad),
	})
	if err != nil {
		return nil, err
	}
	return append(bytes.Clone(filePrefix), raw...), nil
}

func Decrypt(secret string, data, aad []byte) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, ErrPlaintextData
	}
	if secret == "" {
		return nil, ErrNoSecret
	}
	var env envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	if env.Version != envelopeVersion || env.KDF != kdfName || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	if !env.Params.valid() || len(env.Salt) != saltSize {
		return nil, ErrInvalid
	}
	key := deriveKey(env.Params, secret, env.Salt)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// IsEncrypted reports whether data carries the envelope prefix.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, filePrefix)
}

func deriveKey(p KDFParams, secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
}
