package account

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/seed"
)

type fakeStatus struct {
	deployed    bool
	upgraded    bool
	deployErr   error
	upgradeErr  error
	buildErr    error
	deployCalls atomic.Int32
	upgradeArgs atomic.Int32
	log         *queryLog
}

// queryLog records chain queries across handles and notes any overlap.
type queryLog struct {
	inFlight atomic.Int32
	overlap  atomic.Bool

	mu    sync.Mutex
	order []string
}

func (l *queryLog) enter(op, address string) func() {
	if l == nil {
		return func() {}
	}
	if l.inFlight.Add(1) > 1 {
		l.overlap.Store(true)
	}
	l.mu.Lock()
	l.order = append(l.order, op+":"+address)
	l.mu.Unlock()
	time.Sleep(time.Millisecond)
	return func() { l.inFlight.Add(-1) }
}

type fakeDescriptor struct {
	version int
	status  *fakeStatus
	recasts atomic.Int32
}

type fakeHandle struct {
	version int
	address string
	seed    seed.Seed
	status  *fakeStatus
	// recastFrom is set when the handle came from FromExistingHandle.
	recastFrom Handle
}

func (h *fakeHandle) Address() string      { return h.address }
func (h *fakeHandle) PublicKey() string    { return "pk-" + h.address }
func (h *fakeHandle) Seed() seed.Seed      { return h.seed }
func (h *fakeHandle) ContractVersion() int { return h.version }

func (h *fakeHandle) IsDeployed(context.Context, bool) (bool, error) {
	defer h.status.log.enter("deployed", h.address)()
	h.status.deployCalls.Add(1)
	if h.status.deployErr != nil {
		return false, h.status.deployErr
	}
	return h.status.deployed, nil
}

func (h *fakeHandle) IsUpgraded(_ context.Context, target int, refresh bool) (bool, error) {
	if target != MinUpgradedVersion || refresh {
		return false, fmt.Errorf("unexpected upgrade query target=%d refresh=%t", target, refresh)
	}
	defer h.status.log.enter("upgraded", h.address)()
	h.status.upgradeArgs.Add(1)
	if h.status.upgradeErr != nil {
		return false, h.status.upgradeErr
	}
	return h.status.upgraded, nil
}

func (d *fakeDescriptor) Version() int { return d.version }
func (d *fakeDescriptor) Name() string { return fmt.Sprintf("v%d", d.version) }

func (d *fakeDescriptor) FromSeed(s seed.Seed, _ ChainStateProvider) (Handle, error) {
	if d.status.buildErr != nil {
		return nil, d.status.buildErr
	}
	return &fakeHandle{version: d.version, address: fmt.Sprintf("addr-v%d", d.version), seed: s, status: d.status}, nil
}

func (d *fakeDescriptor) FromExistingHandle(h Handle) (Handle, error) {
	d.recasts.Add(1)
	src := h.(*fakeHandle)
	return &fakeHandle{version: d.version, address: src.address, seed: src.seed, status: src.status, recastFrom: h}, nil
}

type nopChain struct{}

func (nopChain) IsDeployed(context.Context, string) (bool, error)             { return false, nil }
func (nopChain) IsUpgraded(context.Context, string, int, bool) (bool, error) { return false, nil }

type countingObserver struct {
	outcomes []string
	failures []string
}

func (o *countingObserver) ObserveResolution(outcome string, _ int) {
	o.outcomes = append(o.outcomes, outcome)
}
func (o *countingObserver) ObserveProviderFailure(op string) { o.failures = append(o.failures, op) }

func newDescriptors(statuses ...*fakeStatus) ([]Descriptor, []*fakeDescriptor) {
	out := make([]Descriptor, 0, len(statuses))
	fakes := make([]*fakeDescriptor, 0, len(statuses))
	for i, st := range statuses {
		d := &fakeDescriptor{version: len(statuses) - 1 - i, status: st}
		out = append(out, d)
		fakes = append(fakes, d)
	}
	return out, fakes
}

func testSeed() seed.Seed {
	s := make(seed.Seed, seed.Size)
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func mustResolver(t *testing.T, descriptors []Descriptor, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(descriptors, nopChain{}, opts...)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestResolveBreaksOnFirstUpgradedCandidate(t *testing.T) {
	v2 := &fakeStatus{}
	v1 := &fakeStatus{deployed: true, upgraded: true}
	v0 := &fakeStatus{deployed: true}
	descriptors, fakes := newDescriptors(v2, v1, v0)
	r := mustResolver(t, descriptors)

	got, err := r.Resolve(context.Background(), testSeed())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h := got.(*fakeHandle)
	if h.version != 2 || h.address != "addr-v1" {
		t.Fatalf("expected V1 handle re-cast to V2, got version=%d address=%s", h.version, h.address)
	}
	if h.recastFrom == nil || h.recastFrom.ContractVersion() != 1 {
		t.Fatal("expected handle built by FromExistingHandle from the V1 candidate")
	}
	if fakes[0].recasts.Load() != 1 {
		t.Fatalf("expected one re-cast on V2, got %d", fakes[0].recasts.Load())
	}
	if calls := v0.deployCalls.Load(); calls != 0 {
		t.Fatalf("V0 must not be queried after an upgraded match, got %d calls", calls)
	}
}

func TestResolveLastDeployedNonUpgradedWins(t *testing.T) {
	v2 := &fakeStatus{}
	v1 := &fakeStatus{deployed: true}
	v0 := &fakeStatus{deployed: true}
	descriptors, _ := newDescriptors(v2, v1, v0)
	obs := &countingObserver{}
	r := mustResolver(t, descriptors, WithObserver(obs))

	got, err := r.Resolve(context.Background(), testSeed())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ContractVersion() != 0 || got.Address() != "addr-v0" {
		t.Fatalf("expected V0 handle, got version=%d address=%s", got.ContractVersion(), got.Address())
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != OutcomeLegacy {
		t.Fatalf("unexpected outcomes: %v", obs.outcomes)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	descriptors, _ := newDescriptors(&fakeStatus{}, &fakeStatus{}, &fakeStatus{})
	r := mustResolver(t, descriptors)
	s := testSeed()

	got, err := r.Resolve(context.Background(), s)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ContractVersion() != 2 || got.Address() != "addr-v2" {
		t.Fatalf("expected default V2 handle, got version=%d address=%s", got.ContractVersion(), got.Address())
	}
	if !got.Seed().Equal(s) {
		t.Fatal("resolved handle must derive from the given seed")
	}
	deployed, err := got.IsDeployed(context.Background(), false)
	if err != nil || deployed {
		t.Fatalf("default handle must report undeployed, got %t %v", deployed, err)
	}
}

func TestResolveToleratesProviderFailures(t *testing.T) {
	v2 := &fakeStatus{}
	v1 := &fakeStatus{deployErr: apperr.ProviderQuery("get version", errors.New("timeout"))}
	v0 := &fakeStatus{deployed: true, upgradeErr: errors.New("rpc unavailable")}
	descriptors, _ := newDescriptors(v2, v1, v0)
	obs := &countingObserver{}
	r := mustResolver(t, descriptors, WithObserver(obs))

	got, err := r.Resolve(context.Background(), testSeed())
	if err != nil {
		t.Fatalf("resolve must not fail on provider errors: %v", err)
	}
	if got.ContractVersion() != 2 || got.Address() != "addr-v2" {
		t.Fatalf("expected default handle, got version=%d address=%s", got.ContractVersion(), got.Address())
	}
	if len(obs.failures) != 2 || obs.failures[0] != "is_deployed" || obs.failures[1] != "is_upgraded" {
		t.Fatalf("unexpected provider failures: %v", obs.failures)
	}
}

func TestResolveSkipsUnbuildableCandidate(t *testing.T) {
	v1 := &fakeStatus{}
	v0 := &fakeStatus{buildErr: errors.New("unsupported key")}
	descriptors, _ := newDescriptors(v1, v0)
	r := mustResolver(t, descriptors)

	got, err := r.Resolve(context.Background(), testSeed())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ContractVersion() != 1 {
		t.Fatalf("expected default handle, got version %d", got.ContractVersion())
	}
}

func TestResolvePropagatesConstructionFailure(t *testing.T) {
	buildErr := errors.New("malformed seed")
	descriptors, _ := newDescriptors(&fakeStatus{buildErr: buildErr}, &fakeStatus{buildErr: buildErr})
	r := mustResolver(t, descriptors)

	_, err := r.Resolve(context.Background(), testSeed())
	if !errors.Is(err, buildErr) {
		t.Fatalf("expected construction cause, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindConstruction {
		t.Fatalf("expected construction kind, got %q", apperr.KindOf(err))
	}
}

func TestResolveAllAndToLatest(t *testing.T) {
	v1 := &fakeStatus{deployed: true}
	v0 := &fakeStatus{deployed: true}
	descriptors, _ := newDescriptors(v1, v0)
	r := mustResolver(t, descriptors)

	all, err := r.ResolveAll(testSeed())
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if len(all) != 2 || all[0].ContractVersion() != 1 || all[1].ContractVersion() != 0 {
		t.Fatalf("unexpected handles: %+v", all)
	}
	if v1.deployCalls.Load() != 0 || v0.deployCalls.Load() != 0 {
		t.Fatal("resolve all must not query the chain")
	}

	latest, err := r.ToLatestInterface(all[1])
	if err != nil {
		t.Fatalf("to latest: %v", err)
	}
	if latest.ContractVersion() != 1 || latest.Address() != "addr-v0" {
		t.Fatalf("unexpected latest handle: version=%d address=%s", latest.ContractVersion(), latest.Address())
	}
	if v0.deployCalls.Load() != 0 {
		t.Fatal("re-cast must not query the chain")
	}
}

func TestResolveManyKeepsSeedOrder(t *testing.T) {
	descriptors, _ := newDescriptors(&fakeStatus{}, &fakeStatus{})
	r := mustResolver(t, descriptors)

	seeds := make([]seed.Seed, 5)
	for i := range seeds {
		s := make(seed.Seed, seed.Size)
		s[0] = byte(i)
		seeds[i] = s
	}
	out, err := r.ResolveMany(context.Background(), seeds, 2)
	if err != nil {
		t.Fatalf("resolve many: %v", err)
	}
	for i, h := range out {
		if !h.Seed().Equal(seeds[i]) {
			t.Fatalf("result %d does not belong to seed %d", i, i)
		}
	}
}

func TestIsUpgradeRequired(t *testing.T) {
	descriptors, _ := newDescriptors(&fakeStatus{})
	r := mustResolver(t, descriptors)
	cases := []struct {
		name   string
		status *fakeStatus
		want   bool
	}{
		{"undeployed", &fakeStatus{}, false},
		{"legacy", &fakeStatus{deployed: true}, true},
		{"upgraded", &fakeStatus{deployed: true, upgraded: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &fakeHandle{status: tc.status}
			got, err := r.IsUpgradeRequired(context.Background(), h, false)
			if err != nil {
				t.Fatalf("is upgrade required: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %t want %t", got, tc.want)
			}
		})
	}
}

func TestNewResolverValidatesInputs(t *testing.T) {
	if _, err := NewResolver(nil, nopChain{}); apperr.KindOf(err) != apperr.KindConstruction {
		t.Fatalf("expected construction error for empty descriptors, got %v", err)
	}
	descriptors, _ := newDescriptors(&fakeStatus{})
	if _, err := NewResolver(descriptors, nil); apperr.KindOf(err) != apperr.KindConstruction {
		t.Fatalf("expected construction error for nil chain, got %v", err)
	}
}

func TestResolveQueriesCandidatesOneAtATimeInOrder(t *testing.T) {
	log := &queryLog{}
	descriptors, _ := newDescriptors(
		&fakeStatus{deployed: true, log: log},
		&fakeStatus{deployed: true, log: log},
		&fakeStatus{deployed: true, log: log},
	)
	r := mustResolver(t, descriptors)

	got, err := r.Resolve(context.Background(), testSeed())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Address() != "addr-v0" {
		t.Fatalf("expected last deployed candidate, got %s", got.Address())
	}
	if log.overlap.Load() {
		t.Fatal("candidate queries overlapped")
	}
	want := []string{
		"deployed:addr-v2", "upgraded:addr-v2",
		"deployed:addr-v1", "upgraded:addr-v1",
		"deployed:addr-v0", "upgraded:addr-v0",
	}
	if !slices.Equal(log.order, want) {
		t.Fatalf("unexpected query order: %v", log.order)
	}
}
