// Package keyring derives indexed accounts from one mnemonic, resolves each to
// its contract version and keeps the result in the account state store.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"walletsnap/go-backend/internal/account"
	"walletsnap/go-backend/internal/accountstate"
	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/platform/batch"
	"walletsnap/go-backend/internal/seed"
	"walletsnap/go-backend/pkg/models"
)

const (
	DefaultPerPage = 10
	// MaxAddressScan bounds FindByAddress when the address is not stored.
	MaxAddressScan = 20
)

var ErrInvalidRange = errors.New("invalid account index range")

type Option func(*Keyring)

func WithLogger(logger *slog.Logger) Option {
	return func(k *Keyring) {
		if logger != nil {
			k.logger = logger
		}
	}
}

func WithPerPage(n int) Option {
	return func(k *Keyring) {
		if n > 0 {
			k.perPage = n
		}
	}
}

// WithBatchLimit caps how many indices AddAccounts resolves at once.
func WithBatchLimit(n int) Option {
	return func(k *Keyring) {
		if n > 0 {
			k.batchLimit = n
		}
	}
}

type Keyring struct {
	keychain   *seed.Keychain
	resolver   *account.Resolver
	store      *accountstate.Store
	chainID    string
	logger     *slog.Logger
	perPage    int
	batchLimit int

	pageMu  sync.Mutex
	curPage int
}

func New(keychain *seed.Keychain, resolver *account.Resolver, store *accountstate.Store, chainID string, opts ...Option) (*Keyring, error) {
	if keychain == nil || resolver == nil || store == nil {
		return nil, errors.New("keyring requires keychain, resolver and store")
	}
	if chainID == "" {
		return nil, errors.New("keyring requires a chain id")
	}
	k := &Keyring{
		keychain:   keychain,
		resolver:   resolver,
		store:      store,
		chainID:    chainID,
		logger:     slog.Default(),
		perPage:    DefaultPerPage,
		batchLimit: batch.DefaultLimit,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func (k *Keyring) ChainID() string { return k.chainID }
func (k *Keyring) PerPage() int    { return k.perPage }

func (k *Keyring) SeedAt(index int) (seed.Seed, error) {
	return k.keychain.At(index)
}

// Unlock resolves the account at index to its current contract version.
func (k *Keyring) Unlock(ctx context.Context, index int) (account.Handle, error) {
	s, err := k.SeedAt(index)
	if err != nil {
		return nil, err
	}
	return k.resolver.Resolve(ctx, s)
}

// AddAccounts resolves indices in [from, to), stores the records and returns
// them in index order.
func (k *Keyring) AddAccounts(ctx context.Context, from, to int) ([]models.AccountRecord, error) {
	if from < 0 || to <= from {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, from, to)
	}
	indices := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		indices = append(indices, i)
	}
	records, err := batch.Map(ctx, indices, k.recordAt, k.batchLimit)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b models.AccountRecord) int { return a.AddressIndex - b.AddressIndex })
	if err := k.store.UpsertMany(ctx, records); err != nil {
		return nil, err
	}
	k.logger.Debug("accounts added", "chain_id", k.chainID, "from", from, "to", to)
	return records, nil
}

// Accounts returns every stored record for the keyring's chain.
func (k *Keyring) Accounts() []models.AccountRecord {
	return k.store.List(k.chainID)
}

func (k *Keyring) FirstPage(ctx context.Context) (models.AccountPage, error) {
	k.pageMu.Lock()
	k.curPage = 0
	k.pageMu.Unlock()
	return k.page(ctx, 1)
}

func (k *Keyring) NextPage(ctx context.Context) (models.AccountPage, error) {
	return k.page(ctx, 1)
}

func (k *Keyring) PreviousPage(ctx context.Context) (models.AccountPage, error) {
	return k.page(ctx, -1)
}

func (k *Keyring) page(ctx context.Context, step int) (models.AccountPage, error) {
	k.pageMu.Lock()
	k.curPage += step
	if k.curPage <= 0 {
		k.curPage = 1
	}
	from := (k.curPage - 1) * k.perPage
	k.pageMu.Unlock()

	to := from + k.perPage
	records, err := k.AddAccounts(ctx, from, to)
	if err != nil {
		return models.AccountPage{}, err
	}
	return models.AccountPage{Accounts: records, From: from, To: to}, nil
}

// FindByAddress returns the handle whose address matches. A stored record
// pins the index; otherwise the first MaxAddressScan indices are searched.
// Deployed and upgraded contracts come back in the latest interface.
func (k *Keyring) FindByAddress(ctx context.Context, address string, refresh bool) (account.Handle, error) {
	address = models.NormalizeAddress(address)
	if address == "" {
		return nil, apperr.AccountDiscovery("address is required")
	}

	var (
		h   account.Handle
		err error
	)
	if rec, ok := k.store.Get(k.chainID, address); ok {
		h, err = k.handleAt(address, rec.AddressIndex)
	} else {
		for i := 0; i < MaxAddressScan && h == nil && err == nil; i++ {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			h, err = k.handleAt(address, i)
		}
	}
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperr.AccountDiscovery(fmt.Sprintf("account with address %s not found", address))
	}

	deployed, err := h.IsDeployed(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return h, nil
	}
	upgraded, err := h.IsUpgraded(ctx, account.MinUpgradedVersion, refresh)
	if err != nil {
		return nil, err
	}
	if upgraded {
		return k.resolver.ToLatestInterface(h)
	}
	return h, nil
}

// Recover scans indices from start, storing every scanned account, and stops
// after maxScanned indices or maxMissed consecutive undeployed ones. The
// whole scan commits or rolls back as one transaction.
func (k *Keyring) Recover(ctx context.Context, start, maxScanned, maxMissed int) (models.RecoverResult, error) {
	start = max(start, 0)
	maxScanned = max(maxScanned, 1)
	maxMissed = max(maxMissed, 1)

	result := models.RecoverResult{LastDeployed: -1}
	err := k.store.WithTransaction(ctx, func(ctx context.Context, st *accountstate.State) error {
		missed := 0
		for i := start; i < start+maxScanned && missed < maxMissed; i++ {
			rec, err := k.recordAt(ctx, i)
			if err != nil {
				return err
			}
			if rec.Deployed {
				missed = 0
				result.LastDeployed = i
			} else {
				missed++
			}
			st.Put(rec)
			k.logger.Debug("account recovered", "index", i, "address", rec.Address, "deployed", rec.Deployed, "upgrade_required", rec.UpgradeRequired)
			result.Accounts = append(result.Accounts, rec)
			result.Scanned++
		}
		return nil
	})
	if err != nil {
		return models.RecoverResult{}, err
	}
	// Re-read so UpdatedAt reflects what was committed.
	for i, rec := range result.Accounts {
		if stored, ok := k.store.Get(k.chainID, rec.Address); ok {
			result.Accounts[i] = stored
		}
	}
	return result, nil
}

func (k *Keyring) handleAt(address string, index int) (account.Handle, error) {
	s, err := k.SeedAt(index)
	if err != nil {
		return nil, err
	}
	candidates, err := k.resolver.ResolveAll(s)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Address() == address {
			return c, nil
		}
	}
	return nil, nil
}

func (k *Keyring) recordAt(ctx context.Context, index int) (models.AccountRecord, error) {
	h, err := k.Unlock(ctx, index)
	if err != nil {
		return models.AccountRecord{}, err
	}
	deployed, err := h.IsDeployed(ctx, false)
	if err != nil {
		return models.AccountRecord{}, err
	}
	upgradeRequired := false
	if deployed {
		if upgradeRequired, err = k.resolver.IsUpgradeRequired(ctx, h, false); err != nil {
			return models.AccountRecord{}, err
		}
	}
	return models.AccountRecord{
		Address:         h.Address(),
		PublicKey:       h.PublicKey(),
		AddressIndex:    index,
		ChainID:         k.chainID,
		ContractVersion: h.ContractVersion(),
		ContractName:    k.contractName(h.ContractVersion()),
		Deployed:        deployed,
		UpgradeRequired: upgradeRequired,
		DeployRequired:  !deployed,
	}, nil
}

func (k *Keyring) contractName(version int) string {
	for _, d := range k.resolver.Descriptors() {
		if d.Version() == version {
			return d.Name()
		}
	}
	return ""
}
