// Package accountstate persists derived account records and serialises every
// read-modify-write through a gate.
package accountstate

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/platform/gate"
	"walletsnap/go-backend/internal/securestore"
	"walletsnap/go-backend/pkg/models"
)

const stateVersion = 1

var ErrNotLoaded = errors.New("account state is not loaded")

// CountObserver is told the record count after every committed change.
type CountObserver interface {
	SetStoredAccounts(n int)
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGate makes the store share g with other writers.
func WithGate(g *gate.Gate) Option {
	return func(s *Store) {
		if g != nil {
			s.gate = g
		}
	}
}

func WithCountObserver(o CountObserver) Option {
	return func(s *Store) {
		s.observer = o
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store holds account records keyed by chain and address. With an empty
// path it lives in memory only.
type Store struct {
	file     *securestore.File
	gate     *gate.Gate
	logger   *slog.Logger
	observer CountObserver
	now      func() time.Time

	mu      sync.RWMutex
	records map[string]models.AccountRecord
	loaded  bool
}

func New(path, secret string, opts ...Option) *Store {
	s := &Store{
		gate:    gate.New(),
		logger:  slog.Default(),
		now:     time.Now,
		records: make(map[string]models.AccountRecord),
	}
	if path = strings.TrimSpace(path); path != "" {
		s.file = &securestore.File{Path: path, Secret: strings.TrimSpace(secret)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type persistedState struct {
	Version  int                    `json:"version"`
	Accounts []models.AccountRecord `json:"accounts"`
}

// Load reads the backing file. A missing file yields an empty store.
func (s *Store) Load(ctx context.Context) error {
	return s.gate.RunExclusive(ctx, func(context.Context) error {
		records := make(map[string]models.AccountRecord)
		if s.file != nil {
			raw, err := s.file.Read()
			switch {
			case errors.Is(err, fs.ErrNotExist):
			case err != nil:
				return apperr.Wrap(apperr.KindStatePersistence, "load account state", err)
			default:
				var st persistedState
				if err := json.Unmarshal(raw, &st); err != nil {
					return apperr.Wrap(apperr.KindStatePersistence, "decode account state", err)
				}
				if st.Version != stateVersion {
					return apperr.New(apperr.KindStatePersistence, fmt.Sprintf("unsupported account state version %d", st.Version))
				}
				for _, r := range st.Accounts {
					r = models.NormalizeAccountRecord(r)
					records[r.Key()] = r
				}
			}
		}
		s.mu.Lock()
		s.records = records
		s.loaded = true
		s.mu.Unlock()
		s.notify(len(records))
		return nil
	})
}

// State is a mutable view of the records handed to Update and
// WithTransaction callbacks.
type State struct {
	records map[string]models.AccountRecord
	now     func() time.Time
	lock    func() func()
}

func (st *State) Get(chainID, address string) (models.AccountRecord, bool) {
	defer st.lock()()
	r, ok := st.records[models.AccountKey(chainID, address)]
	return r, ok
}

// Put inserts or replaces r and stamps UpdatedAt.
func (st *State) Put(r models.AccountRecord) {
	r = models.NormalizeAccountRecord(r)
	r.UpdatedAt = st.now().UTC()
	defer st.lock()()
	st.records[r.Key()] = r
}

func (st *State) Delete(chainID, address string) {
	defer st.lock()()
	delete(st.records, models.AccountKey(chainID, address))
}

func (st *State) List(chainID string) []models.AccountRecord {
	defer st.lock()()
	return listRecords(st.records, chainID)
}

// Update runs fn against a private copy of the records and commits the copy
// only when fn and the write to disk both succeed.
func (s *Store) Update(ctx context.Context, fn func(st *State) error) error {
	return s.gate.RunExclusive(ctx, func(ctx context.Context) error {
		if err := s.ensureLoaded(); err != nil {
			return err
		}
		s.mu.RLock()
		work := maps.Clone(s.records)
		s.mu.RUnlock()

		st := &State{records: work, now: s.now, lock: noLock}
		if err := fn(st); err != nil {
			return err
		}
		if err := s.persist(work); err != nil {
			return err
		}
		s.mu.Lock()
		s.records = work
		s.mu.Unlock()
		s.notify(len(work))
		return nil
	})
}

// WithTransaction applies fn to the live records. Readers may observe the
// changes before commit. If fn or the write fails the records are restored
// to the snapshot taken before fn ran.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, st *State) error) error {
	return s.gate.RunExclusive(ctx, func(ctx context.Context) error {
		if err := s.ensureLoaded(); err != nil {
			return err
		}
		txID := uuid.NewString()
		s.mu.RLock()
		snapshot := maps.Clone(s.records)
		s.mu.RUnlock()

		st := &State{records: s.records, now: s.now, lock: s.writeLock}
		err := fn(ctx, st)
		if err == nil {
			s.mu.RLock()
			current := maps.Clone(s.records)
			s.mu.RUnlock()
			err = s.persist(current)
		}
		if err != nil {
			s.mu.Lock()
			s.records = snapshot
			s.mu.Unlock()
			s.logger.Warn("account state transaction rolled back", "tx_id", txID, "error", err)
			return err
		}
		s.logger.Debug("account state transaction committed", "tx_id", txID)
		s.notify(s.Count())
		return nil
	})
}

// UpsertMany stores records in one write.
func (s *Store) UpsertMany(ctx context.Context, records []models.AccountRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.Update(ctx, func(st *State) error {
		for _, r := range records {
			if strings.TrimSpace(r.Address) == "" {
				return apperr.New(apperr.KindStatePersistence, "account record without address")
			}
			st.Put(r)
		}
		return nil
	})
}

func (s *Store) Get(chainID, address string) (models.AccountRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[models.AccountKey(chainID, address)]
	return r, ok
}

// List returns the chain's records ordered by address index.
func (s *Store) List(chainID string) []models.AccountRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRecords(s.records, chainID)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Persistent() bool {
	return s.file != nil
}

func (s *Store) ensureLoaded() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file != nil && !s.loaded {
		return apperr.Wrap(apperr.KindStatePersistence, "", ErrNotLoaded)
	}
	return nil
}

func (s *Store) persist(records map[string]models.AccountRecord) error {
	if s.file == nil {
		return nil
	}
	all := slices.Collect(maps.Values(records))
	slices.SortFunc(all, compareRecords)
	payload, err := json.Marshal(persistedState{Version: stateVersion, Accounts: all})
	if err != nil {
		return apperr.Wrap(apperr.KindStatePersistence, "encode account state", err)
	}
	if err := s.file.Write(payload); err != nil {
		return apperr.Wrap(apperr.KindStatePersistence, "write account state", err)
	}
	return nil
}

func (s *Store) writeLock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) notify(n int) {
	if s.observer != nil {
		s.observer.SetStoredAccounts(n)
	}
}

func noLock() func() { return func() {} }

func listRecords(records map[string]models.AccountRecord, chainID string) []models.AccountRecord {
	chainID = strings.TrimSpace(chainID)
	out := make([]models.AccountRecord, 0, len(records))
	for _, r := range records {
		if chainID == "" || r.ChainID == chainID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, compareRecords)
	return out
}

func compareRecords(a, b models.AccountRecord) int {
	return cmp.Or(
		cmp.Compare(a.ChainID, b.ChainID),
		cmp.Compare(a.AddressIndex, b.AddressIndex),
		cmp.Compare(a.Address, b.Address),
	)
}
