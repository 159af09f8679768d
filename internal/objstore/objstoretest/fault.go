// Package objstoretest provides fault-injecting store wrappers for tests.
package objstoretest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/studiovault/internal/objstore"
)

// Fault decides whether a call fails. Returning nil lets it through.
type Fault func(op, key string) error

// FaultStore wraps a Store, counts calls, and injects errors.
type FaultStore struct {
	objstore.Store

	mu     sync.Mutex
	faults []Fault
	calls  map[string]int
	probe  error
}

// Wrap returns a FaultStore around s.
func Wrap(s objstore.Store) *FaultStore {
	return &FaultStore{Store: s, calls: make(map[string]int)}
}

// Inject adds a fault.
func (f *FaultStore) Inject(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault)
}

// FailOn fails every op call whose key has prefix with err.
func (f *FaultStore) FailOn(op, prefix string, err error) {
	f.Inject(func(o, key string) error {
		if o == op && strings.HasPrefix(key, prefix) {
			return err
		}
		return nil
	})
}

// FailTimes fails the first n calls of op with err.
func (f *FaultStore) FailTimes(op string, n int, err error) {
	remaining := n
	f.Inject(func(o, _ string) error {
		if o == op && remaining > 0 {
			remaining--
			return err
		}
		return nil
	})
}

// Reset removes every injected fault. Call counts are kept.
func (f *FaultStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
}

// SetProbeError makes Probe return err.
func (f *FaultStore) SetProbeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probe = err
}

// Calls returns how many times op was invoked.
func (f *FaultStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultStore) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for _, fault := range f.faults {
		if err := fault(op, key); err != nil {
			return err
		}
	}
	return nil
}

func (f *FaultStore) Probe(ctx context.Context) error {
	f.mu.Lock()
	err := f.probe
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if p, ok := f.Store.(objstore.Prober); ok {
		return p.Probe(ctx)
	}
	return nil
}

func (f *FaultStore) Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error) {
	if err := f.check("put", key); err != nil {
		return "", err
	}
	return f.Store.Put(ctx, key, body, contentType, metadata)
}

func (f *FaultStore) Get(ctx context.Context, key string) (*objstore.Object, error) {
	if err := f.check("get", key); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *FaultStore) Delete(ctx context.Context, key string) error {
	if err := f.check("delete", key); err != nil {
		return err
	}
	return f.Store.Delete(ctx, key)
}

func (f *FaultStore) Head(ctx context.Context, key string) (bool, error) {
	if err := f.check("head", key); err != nil {
		return false, err
	}
	return f.Store.Head(ctx, key)
}

func (f *FaultStore) List(ctx context.Context, prefix string) ([]objstore.ObjectSummary, error) {
	if err := f.check("list", prefix); err != nil {
		return nil, err
	}
	return f.Store.List(ctx, prefix)
}

func (f *FaultStore) Presign(ctx context.Context, key string, ttl time.Duration, opts objstore.PresignOptions) (string, error) {
	if err := f.check("presign", key); err != nil {
		return "", err
	}
	return f.Store.Presign(ctx, key, ttl, opts)
}
