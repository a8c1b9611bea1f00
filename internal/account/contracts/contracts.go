// Package contracts holds the account-contract versions a wallet can resolve
// to. Cairo1 is the current implementation; Cairo0 is the legacy proxy
// deployment still found on older accounts.
package contracts

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"walletsnap/go-backend/internal/account"
	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/seed"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	ClassHashCairo1      = "0x29927c8af6bccf3f6fda035981e765a7bdbf18a2dc0d630494f8758aa908e2b"
	ClassHashCairo0      = "0x033434ad846cdd5f23eb73ff09fe6fddd568284a0fb7d1be20ee482f044dabe2"
	ClassHashCairo0Proxy = "0x25ec026985a3bf9d0cc1fe17326b245dfdc3ff89b8fde106542a3ea56c5a918"

	guardianNone   = "0x0"
	initializeName = "initialize"
)

// Descriptor is one account-contract version. The zero value is not usable;
// build descriptors with Cairo1 or Cairo0.
type Descriptor struct {
	version   int
	name      string
	classHash string
	calldata  func(publicKey []byte) [][]byte
}

var _ account.Descriptor = (*Descriptor)(nil)

func Cairo1() *Descriptor {
	return &Descriptor{
		version:   1,
		name:      "cairo1",
		classHash: ClassHashCairo1,
		calldata: func(pub []byte) [][]byte {
			return [][]byte{pub, mustFelt(guardianNone)}
		},
	}
}

func Cairo0() *Descriptor {
	return &Descriptor{
		version:   0,
		name:      "cairo0",
		classHash: ClassHashCairo0Proxy,
		calldata: func(pub []byte) [][]byte {
			selector := blake2b.Sum256([]byte(initializeName))
			return [][]byte{mustFelt(ClassHashCairo0), selector[:], pub, mustFelt(guardianNone)}
		},
	}
}

// Default returns the descriptor order used by wallets: latest first.
func Default() []account.Descriptor {
	return []account.Descriptor{Cairo1(), Cairo0()}
}

func (d *Descriptor) Version() int      { return d.version }
func (d *Descriptor) Name() string      { return d.name }
func (d *Descriptor) ClassHash() string { return d.classHash }

func (d *Descriptor) FromSeed(s seed.Seed, chain account.ChainStateProvider) (account.Handle, error) {
	if chain == nil {
		return nil, apperr.New(apperr.KindConstruction, "chain state provider is required")
	}
	pub, err := seed.SigningPublicKey(s)
	if err != nil {
		return nil, apperr.Construction(d.name+" signing key", err)
	}
	return &handle{
		version:   d.version,
		address:   d.Address(pub),
		publicKey: base58.Encode(pub),
		seed:      append(seed.Seed(nil), s...),
		chain:     chain,
	}, nil
}

func (d *Descriptor) FromExistingHandle(h account.Handle) (account.Handle, error) {
	if h == nil {
		return nil, apperr.New(apperr.KindConstruction, "handle is nil")
	}
	out := &handle{
		version:   d.version,
		address:   h.Address(),
		publicKey: h.PublicKey(),
		seed:      h.Seed(),
	}
	if src, ok := h.(*handle); ok {
		out.chain = src.chain
		out.deployed, out.upgraded = src.snapshot()
		return out, nil
	}
	out.chain = handleChain{h: h}
	return out, nil
}

// addressMask keeps addresses below 2^251 so they are valid felts.
var addressMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(1))

// Address computes the counterfactual account address for a signing key as
// a 0x-prefixed lowercase felt without leading zeros.
func (d *Descriptor) Address(publicKey []byte) string {
	hasher, _ := blake2b.New256(nil)
	hasher.Write(mustFelt(d.classHash))
	hasher.Write(publicKey)
	for _, arg := range d.calldata(publicKey) {
		hasher.Write(arg)
	}
	v := new(big.Int).SetBytes(hasher.Sum(nil))
	return "0x" + v.And(v, addressMask).Text(16)
}

// handleChain answers chain questions for a foreign handle re-cast into a
// version here, by asking the handle itself.
type handleChain struct {
	h account.Handle
}

func (c handleChain) IsDeployed(ctx context.Context, address string) (bool, error) {
	if address != c.h.Address() {
		return false, fmt.Errorf("address %s is not bound to this handle", address)
	}
	return c.h.IsDeployed(ctx, false)
}

func (c handleChain) IsUpgraded(ctx context.Context, address string, target int, refresh bool) (bool, error) {
	if address != c.h.Address() {
		return false, fmt.Errorf("address %s is not bound to this handle", address)
	}
	return c.h.IsUpgraded(ctx, target, refresh)
}

func mustFelt(raw string) []byte {
	raw = strings.TrimPrefix(raw, "0x")
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid felt %q: %v", raw, err))
	}
	return b
}
