package contracts

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"walletsnap/go-backend/internal/account"
	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/seed"
)

type chainState struct {
	deployed bool
	minor    int
}

type fakeChain struct {
	mu        sync.Mutex
	state     map[string]chainState
	deployQs  map[string]int
	refreshes map[string]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{state: map[string]chainState{}, deployQs: map[string]int{}, refreshes: map[string]int{}}
}

func (c *fakeChain) set(address string, st chainState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[address] = st
}

func (c *fakeChain) IsDeployed(_ context.Context, address string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployQs[address]++
	return c.state[address].deployed, nil
}

func (c *fakeChain) IsUpgraded(_ context.Context, address string, target int, _ bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[address]
	if !ok || !st.deployed {
		return false, apperr.ContractNotDeployed(address)
	}
	return st.minor >= target, nil
}

func (c *fakeChain) Refresh(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes[address]++
}

func (c *fakeChain) refreshCount(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes[address]
}

func (c *fakeChain) deployQueries(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deployQs[address]
}

func testSeed(b byte) seed.Seed {
	return seed.Seed([]byte(strings.Repeat(string(rune(b)), seed.Size)))
}

func TestFromSeedDerivesDistinctAddressesPerVersion(t *testing.T) {
	chain := newFakeChain()
	s := testSeed('a')

	h1, err := Cairo1().FromSeed(s, chain)
	if err != nil {
		t.Fatalf("cairo1 from seed: %v", err)
	}
	h0, err := Cairo0().FromSeed(s, chain)
	if err != nil {
		t.Fatalf("cairo0 from seed: %v", err)
	}
	if h1.Address() == h0.Address() {
		t.Fatal("versions must derive different addresses")
	}
	if h1.PublicKey() != h0.PublicKey() {
		t.Fatal("versions share the signing key")
	}
	for _, h := range []account.Handle{h0, h1} {
		addr := h.Address()
		if !strings.HasPrefix(addr, "0x") {
			t.Fatalf("address %s is not a 0x felt", addr)
		}
		v, ok := new(big.Int).SetString(addr[2:], 16)
		if !ok || v.BitLen() > 251 {
			t.Fatalf("address %s does not fit in a felt", addr)
		}
		if v.Text(16) != addr[2:] {
			t.Fatalf("address %s is not in canonical form", addr)
		}
	}
	again, _ := Cairo1().FromSeed(s, chain)
	if again.Address() != h1.Address() {
		t.Fatal("address derivation must be deterministic")
	}
	other, _ := Cairo1().FromSeed(testSeed('b'), chain)
	if other.Address() == h1.Address() {
		t.Fatal("different seeds must derive different addresses")
	}
}

func TestFromSeedRejectsInvalidSeed(t *testing.T) {
	_, err := Cairo1().FromSeed(seed.Seed{1, 2}, newFakeChain())
	if apperr.KindOf(err) != apperr.KindConstruction {
		t.Fatalf("expected construction error, got %v", err)
	}
}

func TestHandleMemoizesAndRefreshes(t *testing.T) {
	chain := newFakeChain()
	h, _ := Cairo1().FromSeed(testSeed('c'), chain)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.IsDeployed(ctx, false); err != nil {
			t.Fatalf("is deployed: %v", err)
		}
	}
	if got := chain.deployQueries(h.Address()); got != 1 {
		t.Fatalf("expected one chain query, got %d", got)
	}

	chain.set(h.Address(), chainState{deployed: true, minor: 3})
	if deployed, _ := h.IsDeployed(ctx, false); deployed {
		t.Fatal("memoized answer expected without refresh")
	}
	if deployed, _ := h.IsDeployed(ctx, true); !deployed {
		t.Fatal("refresh must see the new state")
	}
	if got := chain.refreshCount(h.Address()); got != 1 {
		t.Fatalf("refresh must clear provider answers once, got %d", got)
	}
}

// foreignHandle is an account.Handle built outside this package. It answers
// from a fixed value unless asked to refresh.
type foreignHandle struct {
	account.Handle
	cached, live bool
	refreshed    []bool
}

func (f *foreignHandle) IsDeployed(_ context.Context, refresh bool) (bool, error) {
	f.refreshed = append(f.refreshed, refresh)
	if refresh {
		return f.live, nil
	}
	return f.cached, nil
}

func TestFromExistingForeignHandlePassesRefresh(t *testing.T) {
	base, _ := Cairo0().FromSeed(testSeed('f'), newFakeChain())
	src := &foreignHandle{Handle: base, cached: false, live: true}

	latest, err := Cairo1().FromExistingHandle(src)
	if err != nil {
		t.Fatalf("from existing: %v", err)
	}
	ctx := context.Background()
	if ok, _ := latest.IsDeployed(ctx, false); ok {
		t.Fatal("expected the source's cached answer")
	}
	if ok, _ := latest.IsDeployed(ctx, true); !ok {
		t.Fatal("refresh on the re-cast handle must reach the source")
	}
	if len(src.refreshed) != 2 || src.refreshed[0] || !src.refreshed[1] {
		t.Fatalf("unexpected refresh flags seen by source: %v", src.refreshed)
	}
}

func TestFromExistingHandleKeepsAddressAndAnswers(t *testing.T) {
	chain := newFakeChain()
	ctx := context.Background()
	legacy, _ := Cairo0().FromSeed(testSeed('d'), chain)
	chain.set(legacy.Address(), chainState{deployed: true, minor: 3})

	if ok, _ := legacy.IsDeployed(ctx, false); !ok {
		t.Fatal("expected deployed legacy account")
	}
	if ok, _ := legacy.IsUpgraded(ctx, account.MinUpgradedVersion, false); !ok {
		t.Fatal("expected upgraded legacy account")
	}

	latest, err := Cairo1().FromExistingHandle(legacy)
	if err != nil {
		t.Fatalf("from existing: %v", err)
	}
	if latest.Address() != legacy.Address() || latest.ContractVersion() != 1 {
		t.Fatalf("unexpected re-cast handle: %s v%d", latest.Address(), latest.ContractVersion())
	}
	if !latest.Seed().Equal(legacy.Seed()) {
		t.Fatal("re-cast must keep the seed")
	}
	if ok, _ := latest.IsDeployed(ctx, false); !ok {
		t.Fatal("re-cast must inherit deployment answer")
	}
	if got := chain.deployQueries(legacy.Address()); got != 1 {
		t.Fatalf("re-cast must not repeat chain queries, got %d", got)
	}
}

func TestResolverWithContractVersions(t *testing.T) {
	chain := newFakeChain()
	ctx := context.Background()
	s := testSeed('e')
	r, err := account.NewResolver(Default(), chain)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	got, err := r.Resolve(ctx, s)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ContractVersion() != 1 {
		t.Fatalf("expected latest default for undeployed account, got v%d", got.ContractVersion())
	}

	legacy, _ := Cairo0().FromSeed(s, chain)
	chain.set(legacy.Address(), chainState{deployed: true, minor: 2})
	got, err = r.Resolve(ctx, s)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ContractVersion() != 0 || got.Address() != legacy.Address() {
		t.Fatalf("expected legacy handle, got %s v%d", got.Address(), got.ContractVersion())
	}
	required, err := r.IsUpgradeRequired(ctx, got, false)
	if err != nil || !required {
		t.Fatalf("expected upgrade required, got %t %v", required, err)
	}

	chain.set(legacy.Address(), chainState{deployed: true, minor: 3})
	got, err = r.Resolve(ctx, s)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ContractVersion() != 1 || got.Address() != legacy.Address() {
		t.Fatalf("expected legacy address under latest interface, got %s v%d", got.Address(), got.ContractVersion())
	}
}
