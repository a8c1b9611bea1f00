// Package daemonserver wires configuration into a runnable account daemon.
package daemonserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"walletsnap/go-backend/internal/account"
	"walletsnap/go-backend/internal/account/contracts"
	"walletsnap/go-backend/internal/accountstate"
	"walletsnap/go-backend/internal/adapters/rpc"
	"walletsnap/go-backend/internal/chain"
	"walletsnap/go-backend/internal/config"
	"walletsnap/go-backend/internal/keyring"
	"walletsnap/go-backend/internal/metrics"
	"walletsnap/go-backend/internal/platform/gate"
	"walletsnap/go-backend/internal/platform/privacylog"
	"walletsnap/go-backend/internal/platform/ratelimiter"
	"walletsnap/go-backend/internal/seed"
)

const (
	endpointLimiterKey = "chain-endpoint"

	// Per-client budget on the RPC surface.
	rpcClientRPS   = 10
	rpcClientBurst = 20
)

// Daemon bundles the wired components. Tests reach into it; main only runs
// Server.
type Daemon struct {
	Server   *rpc.Server
	Keyring  *keyring.Keyring
	Store    *accountstate.Store
	Resolver *account.Resolver
	Metrics  *metrics.Metrics
	Reader   chain.VersionReader
}

// NewLogger builds the process logger: JSON or text output, wrapped so key
// material and addresses never reach the sink in plain.
func NewLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var base slog.Handler
	if cfg.Log.Format == "text" {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}
	return slog.New(privacylog.WrapHandler(base)), nil
}

// New builds the daemon graph: reader chain, provider, descriptors,
// resolver, store, keyring and RPC server. The state file is loaded here.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := metrics.New()

	reader, err := newReader(cfg.Chain)
	if err != nil {
		return nil, err
	}
	resolver, err := account.NewResolver(
		contracts.Default(),
		chain.NewProvider(reader),
		account.WithLogger(logger.With("component", "resolver")),
		account.WithObserver(m),
	)
	if err != nil {
		return nil, err
	}

	store := accountstate.New(cfg.State.Path, cfg.State.Secret,
		accountstate.WithGate(gate.Acquire(cfg.Accounts.SharedGate)),
		accountstate.WithLogger(logger.With("component", "accountstate")),
		accountstate.WithCountObserver(m),
	)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}

	keychain, err := seed.NewKeychain(cfg.Accounts.Mnemonic, cfg.Accounts.Passphrase)
	if err != nil {
		return nil, err
	}
	kr, err := keyring.New(keychain, resolver, store, cfg.Chain.ID,
		keyring.WithLogger(logger.With("component", "keyring")),
		keyring.WithPerPage(cfg.Accounts.PerPage),
		keyring.WithBatchLimit(cfg.Accounts.BatchLimit),
	)
	if err != nil {
		return nil, err
	}

	srv, err := rpc.NewServer(cfg.RPC.Addr, kr,
		rpc.WithToken(cfg.RPC.Token),
		rpc.WithLogger(logger.With("component", "rpc")),
		rpc.WithObserver(m),
		rpc.WithMetricsHandler(m.Handler()),
		rpc.WithTransport(cfg.Chain.Transport),
		rpc.WithRateLimiter(ratelimiter.New(rpcClientRPS, rpcClientBurst, 0)),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("account daemon wired",
		"chain_id", cfg.Chain.ID,
		"transport", cfg.Chain.Transport,
		"persistent_state", store.Persistent(),
		"stored_accounts", store.Count(),
	)
	return &Daemon{
		Server:   srv,
		Keyring:  kr,
		Store:    store,
		Resolver: resolver,
		Metrics:  m,
		Reader:   reader,
	}, nil
}

// newReader stacks cache over throttle over the transport so cache hits
// never spend rate budget.
func newReader(cfg config.ChainConfig) (chain.VersionReader, error) {
	var base chain.VersionReader
	switch cfg.Transport {
	case config.TransportRPC:
		client, err := chain.NewRPCClient(cfg.Endpoint, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		base = client
	default:
		base = chain.NewStaticReader(cfg.MockVersions)
	}
	if limiter := ratelimiter.New(cfg.RateRPS, cfg.RateBurst, 10*time.Minute); limiter != nil {
		base = chain.NewThrottledReader(base, limiter, endpointLimiterKey)
	}
	return chain.NewCachingReader(base, cfg.CacheSize, cfg.CacheTTL), nil
}
