package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/platform/batch"
	"walletsnap/go-backend/internal/seed"
)

// Resolver picks, for a seed, the account handle a wallet should operate on.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	descriptors []Descriptor
	chain       ChainStateProvider
	logger      *slog.Logger
	observer    Observer
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewResolver copies descriptors; index 0 is the preferred interface and the
// fallback for undeployed accounts.
func NewResolver(descriptors []Descriptor, chain ChainStateProvider, opts ...Option) (*Resolver, error) {
	if len(descriptors) == 0 {
		return nil, apperr.New(apperr.KindConstruction, "at least one account descriptor is required")
	}
	for i, d := range descriptors {
		if d == nil {
			return nil, apperr.New(apperr.KindConstruction, fmt.Sprintf("descriptor %d is nil", i))
		}
	}
	if chain == nil {
		return nil, apperr.New(apperr.KindConstruction, "chain state provider is required")
	}
	r := &Resolver{
		descriptors: append([]Descriptor(nil), descriptors...),
		chain:       chain,
		logger:      slog.Default(),
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Descriptors returns a copy of the configured descriptor list.
func (r *Resolver) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

// Resolve walks descriptors in order. The first deployed and upgraded
// candidate wins outright, re-cast to the latest interface. Otherwise the
// last deployed candidate seen wins. With nothing deployed the index 0
// handle is returned. Chain query failures count as "not deployed".
// A legacy deployment at a higher index overrides one at a lower index.
func (r *Resolver) Resolve(ctx context.Context, s seed.Seed) (Handle, error) {
	var (
		defaultHandle Handle
		result        Handle
		firstErr      error
	)

	for i, d := range r.descriptors {
		candidate, err := d.FromSeed(s, r.chain)
		if err != nil {
			if firstErr == nil {
				firstErr = constructionErr(d, err)
			}
			r.logger.Warn("account candidate construction failed", "descriptor", d.Name(), "error", err)
			continue
		}
		if i == 0 {
			defaultHandle = candidate
		}

		deployed, err := candidate.IsDeployed(ctx, false)
		if err != nil {
			r.observer.ObserveProviderFailure("is_deployed")
			r.logger.Warn("account deployment query failed", "descriptor", d.Name(), "address", candidate.Address(), "error", err)
			continue
		}
		if !deployed {
			continue
		}

		upgraded, err := candidate.IsUpgraded(ctx, MinUpgradedVersion, false)
		if err != nil {
			r.observer.ObserveProviderFailure("is_upgraded")
			r.logger.Warn("account upgrade query failed", "descriptor", d.Name(), "address", candidate.Address(), "error", err)
			continue
		}
		if upgraded {
			latest, err := r.descriptors[0].FromExistingHandle(candidate)
			if err != nil {
				return nil, constructionErr(r.descriptors[0], err)
			}
			r.observer.ObserveResolution(OutcomeUpgraded, latest.ContractVersion())
			r.logger.Debug("account resolved", "outcome", OutcomeUpgraded, "descriptor", d.Name(), "address", latest.Address())
			return latest, nil
		}
		result = candidate
	}

	if result != nil {
		r.observer.ObserveResolution(OutcomeLegacy, result.ContractVersion())
		r.logger.Debug("account resolved", "outcome", OutcomeLegacy, "address", result.Address(), "version", result.ContractVersion())
		return result, nil
	}
	if defaultHandle != nil {
		r.observer.ObserveResolution(OutcomeDefault, defaultHandle.ContractVersion())
		r.logger.Debug("account resolved", "outcome", OutcomeDefault, "address", defaultHandle.Address())
		return defaultHandle, nil
	}
	if firstErr == nil {
		firstErr = apperr.New(apperr.KindConstruction, "no account handle could be derived")
	}
	return nil, firstErr
}

// ResolveAll derives one handle per descriptor without querying the chain.
func (r *Resolver) ResolveAll(s seed.Seed) ([]Handle, error) {
	out := make([]Handle, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		h, err := d.FromSeed(s, r.chain)
		if err != nil {
			return nil, constructionErr(d, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// ToLatestInterface re-casts h into the index 0 interface without chain
// queries.
func (r *Resolver) ToLatestInterface(h Handle) (Handle, error) {
	if h == nil {
		return nil, apperr.New(apperr.KindConstruction, "handle is nil")
	}
	latest, err := r.descriptors[0].FromExistingHandle(h)
	if err != nil {
		return nil, constructionErr(r.descriptors[0], err)
	}
	return latest, nil
}

// ResolveMany resolves seeds through the batch executor. Result i belongs to
// seeds[i].
func (r *Resolver) ResolveMany(ctx context.Context, seeds []seed.Seed, limit int) ([]Handle, error) {
	return batch.Map(ctx, seeds, r.Resolve, limit)
}

// IsUpgradeRequired reports whether h is deployed on a contract older than
// MinUpgradedVersion. Undeployed accounts never require an upgrade.
func (r *Resolver) IsUpgradeRequired(ctx context.Context, h Handle, refresh bool) (bool, error) {
	deployed, err := h.IsDeployed(ctx, refresh)
	if err != nil {
		return false, err
	}
	if !deployed {
		return false, nil
	}
	upgraded, err := h.IsUpgraded(ctx, MinUpgradedVersion, refresh)
	if err != nil {
		return false, err
	}
	return !upgraded, nil
}

func constructionErr(d Descriptor, err error) error {
	var tagged *apperr.Error
	if errors.As(err, &tagged) && tagged.Kind == apperr.KindConstruction {
		return err
	}
	return apperr.Construction(fmt.Sprintf("derive %s handle", d.Name()), err)
}
