package contracts

import (
	"context"
	"sync"

	"walletsnap/go-backend/internal/account"
	"walletsnap/go-backend/internal/seed"
)

// handle is the account.Handle shared by every contract version. It
// remembers the last chain answers until asked to refresh.
type handle struct {
	version   int
	address   string
	publicKey string
	seed      seed.Seed
	chain     account.ChainStateProvider

	mu       sync.Mutex
	deployed *bool
	upgraded map[int]bool
}

var _ account.Handle = (*handle)(nil)

func (h *handle) Address() string      { return h.address }
func (h *handle) PublicKey() string    { return h.publicKey }
func (h *handle) Seed() seed.Seed      { return h.seed }
func (h *handle) ContractVersion() int { return h.version }

func (h *handle) IsDeployed(ctx context.Context, refresh bool) (bool, error) {
	h.mu.Lock()
	if !refresh && h.deployed != nil {
		v := *h.deployed
		h.mu.Unlock()
		return v, nil
	}
	h.mu.Unlock()

	v, err := h.queryDeployed(ctx, refresh)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	h.deployed = &v
	h.mu.Unlock()
	return v, nil
}

func (h *handle) IsUpgraded(ctx context.Context, target int, refresh bool) (bool, error) {
	h.mu.Lock()
	if v, ok := h.upgraded[target]; ok && !refresh {
		h.mu.Unlock()
		return v, nil
	}
	h.mu.Unlock()

	v, err := h.chain.IsUpgraded(ctx, h.address, target, refresh)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	if h.upgraded == nil {
		h.upgraded = make(map[int]bool)
	}
	h.upgraded[target] = v
	h.mu.Unlock()
	return v, nil
}

func (h *handle) queryDeployed(ctx context.Context, refresh bool) (bool, error) {
	if src, ok := h.chain.(handleChain); ok {
		return src.h.IsDeployed(ctx, refresh)
	}
	if refresh {
		if r, ok := h.chain.(account.Refresher); ok {
			r.Refresh(h.address)
		}
	}
	return h.chain.IsDeployed(ctx, h.address)
}

// snapshot copies the memoized answers so a re-cast handle does not repeat
// chain calls already made by its source.
func (h *handle) snapshot() (*bool, map[int]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var deployed *bool
	if h.deployed != nil {
		v := *h.deployed
		deployed = &v
	}
	var upgraded map[int]bool
	if len(h.upgraded) > 0 {
		upgraded = make(map[int]bool, len(h.upgraded))
		for k, v := range h.upgraded {
			upgraded[k] = v
		}
	}
	return deployed, upgraded
}
