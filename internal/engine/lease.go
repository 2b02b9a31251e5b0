package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// ErrBusy reports that another batch operation already holds the lease for
// a model directory.
var ErrBusy = errors.New("model directory is locked by another operation")

var activeLeases sync.Map

// Lease is exclusive ownership of one model directory for the duration of a
// batch operation (parse, resolve, plan, apply). Exactly one lease per
// directory may be held at a time.
type Lease struct {
	key      string
	released sync.Once
}

// AcquireLease takes the lease for a model directory, failing immediately
// with ErrBusy when it is already held.
func AcquireLease(root string) (*Lease, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, loaded := activeLeases.LoadOrStore(abs, struct{}{}); loaded {
		return nil, fmt.Errorf("%s: %w", abs, ErrBusy)
	}
	return &Lease{key: abs}, nil
}

// Release gives the lease back. Safe to call more than once.
func (l *Lease) Release() {
	l.released.Do(func() {
		activeLeases.Delete(l.key)
	})
}
