package chain

import (
	"context"
	"strings"
	"sync"
)

// StaticReader serves versions from memory. It backs the mock transport and
// tests; unknown addresses report ErrContractNotFound.
type StaticReader struct {
	mu       sync.RWMutex
	versions map[string]string
	failures map[string]error
	calls    map[string]int
}

func NewStaticReader(versions map[string]string) *StaticReader {
	r := &StaticReader{
		versions: make(map[string]string, len(versions)),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	for addr, v := range versions {
		r.versions[strings.TrimSpace(addr)] = v
	}
	return r
}

func (r *StaticReader) Set(address, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[address] = version
	delete(r.failures, address)
}

// Fail makes every read of address return err until Set is called.
func (r *StaticReader) Fail(address string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[address] = err
}

func (r *StaticReader) Calls(address string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[address]
}

func (r *StaticReader) GetVersion(ctx context.Context, address string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[address]++
	if err, ok := r.failures[address]; ok {
		return "", err
	}
	v, ok := r.versions[address]
	if !ok {
		return "", ErrContractNotFound
	}
	return v, nil
}
