package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"walletsnap/go-backend/internal/account"
	"walletsnap/go-backend/internal/platform/ratelimiter"
	"walletsnap/go-backend/pkg/models"
)

const (
	DefaultRPCAddr = "127.0.0.1:8787"
	tokenHeader    = "X-Accountd-Token"
)

// AccountService is the account surface the server exposes. keyring.Keyring
// satisfies it.
type AccountService interface {
	ChainID() string
	Unlock(ctx context.Context, index int) (account.Handle, error)
	AddAccounts(ctx context.Context, from, to int) ([]models.AccountRecord, error)
	Recover(ctx context.Context, start, maxScanned, maxMissed int) (models.RecoverResult, error)
	FindByAddress(ctx context.Context, address string, refresh bool) (account.Handle, error)
	Accounts() []models.AccountRecord
}

// Observer records per-request outcomes; code is 0 on success.
type Observer interface {
	ObserveRPC(method string, code int, elapsed time.Duration)
}

type Option func(*Server)

func WithToken(token string) Option {
	return func(s *Server) { s.rpcToken = strings.TrimSpace(token) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithRateLimiter bounds requests per client key. A nil limiter disables it.
func WithRateLimiter(l *ratelimiter.MapLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTransport names the chain transport reported by health_check.
func WithTransport(name string) Option {
	return func(s *Server) { s.transport = name }
}

type Server struct {
	httpServer *http.Server
	service    AccountService
	logger     *slog.Logger
	observer   Observer
	limiter    *ratelimiter.MapLimiter
	metrics    http.Handler
	rpcToken   string
	transport  string
	now        func() time.Time
}

func NewServer(rpcAddr string, svc AccountService, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("rpc server requires an account service")
	}
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddr
	}
	s := &Server{
		service: svc,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rpcToken == "" {
		s.logger.Warn("rpc token is not set; RPC auth disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	s.httpServer = &http.Server{
		Addr:              rpcAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.logger.Info("rpc server listening", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.health())
}

func (s *Server) health() models.HealthStatus {
	return models.HealthStatus{
		Status:    "ok",
		ChainID:   s.service.ChainID(),
		Transport: s.transport,
		Accounts:  len(s.service.Accounts()),
		CheckedAt: s.now().UTC(),
	}
}

func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.rpcToken == "" {
		return true
	}
	token := extractRPCToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.rpcToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func extractRPCToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get(tokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}
