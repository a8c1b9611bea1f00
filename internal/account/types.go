package account

import (
	"context"

	"walletsnap/go-backend/internal/seed"
)

// MinUpgradedVersion is the contract minor version from which a deployed
// account counts as upgraded.
const MinUpgradedVersion = 3

// ChainStateProvider answers deployment questions about account addresses.
// Implementations own any caching; the resolver never caches across calls.
type ChainStateProvider interface {
	IsDeployed(ctx context.Context, address string) (bool, error)
	IsUpgraded(ctx context.Context, address string, target int, refresh bool) (bool, error)
}

// Refresher is implemented by providers that keep answers between calls.
// Handles call Refresh before a query made with refresh set.
type Refresher interface {
	Refresh(address string)
}

// Handle is an account bound to exactly one (seed, contract version) pair.
type Handle interface {
	Address() string
	PublicKey() string
	Seed() seed.Seed
	// ContractVersion is the version number of the descriptor whose
	// interface this handle exposes.
	ContractVersion() int
	IsDeployed(ctx context.Context, refresh bool) (bool, error)
	IsUpgraded(ctx context.Context, target int, refresh bool) (bool, error)
}

// Descriptor is one deployable account-contract implementation.
type Descriptor interface {
	Version() int
	Name() string
	// FromSeed derives a handle for this version from seed material.
	FromSeed(s seed.Seed, chain ChainStateProvider) (Handle, error)
	// FromExistingHandle re-casts h into this version's interface. The
	// address, key material and any answers h already holds are kept.
	FromExistingHandle(h Handle) (Handle, error)
}

// Observer receives resolution outcomes. internal/metrics implements it.
type Observer interface {
	ObserveResolution(outcome string, version int)
	ObserveProviderFailure(op string)
}

const (
	OutcomeUpgraded = "upgraded"
	OutcomeLegacy   = "legacy"
	OutcomeDefault  = "default"
)

type nopObserver struct{}

func (nopObserver) ObserveResolution(string, int) {}
func (nopObserver) ObserveProviderFailure(string) {}
