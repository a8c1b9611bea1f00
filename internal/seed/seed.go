package seed

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// Size is the length in bytes of an account seed.
const Size = 32

const (
	hkdfInfoAccount = "walletsnap/account/v1/"
	hkdfInfoSigning = "walletsnap/account/signing/v1"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrInvalidSeed      = errors.New("invalid seed")
	ErrInvalidIndex     = errors.New("account index must be non-negative")
)

// Seed is the key material of one account. It never prints its bytes.
type Seed []byte

func (s Seed) Validate() error {
	if len(s) != Size {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSeed, Size, len(s))
	}
	return nil
}

func (s Seed) String() string {
	return "[REDACTED]"
}

func (s Seed) Equal(other Seed) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Parse decodes a hex encoded seed, with or without 0x prefix.
func Parse(raw string) (Seed, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	s := Seed(b)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// SigningPublicKey derives the account signing key for s. Address calculation
// uses it as salt and constructor argument.
func SigningPublicKey(s Seed) (ed25519.PublicKey, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	signingSeed, err := hkdfExpand(s, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(signingSeed)
	return priv.Public().(ed25519.PublicKey), nil
}

// Keychain derives per-index account seeds from one mnemonic.
type Keychain struct {
	master []byte
}

func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}

func NewKeychain(mnemonic, passphrase string) (*Keychain, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return &Keychain{master: bip39.NewSeed(mnemonic, passphrase)}, nil
}

// At returns the seed of the account at index.
func (k *Keychain) At(index int) (Seed, error) {
	if index < 0 {
		return nil, ErrInvalidIndex
	}
	out, err := hkdfExpand(k.master, fmt.Sprintf("%s%d", hkdfInfoAccount, index), Size)
	if err != nil {
		return nil, err
	}
	return Seed(out), nil
}

func hkdfExpand(secret []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
