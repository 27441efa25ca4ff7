package position

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/observability"
)

// Tracker is the in-memory open-position set.
type Tracker struct {
	mu   sync.RWMutex
	open map[common.Address]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{open: make(map[common.Address]struct{})}
}

func (t *Tracker) Open(adapter common.Address) {
	t.mu.Lock()
	t.open[adapter] = struct{}{}
	n := len(t.open)
	t.mu.Unlock()
	observability.PositionMetrics().SetOpenPositions(n)
}

func (t *Tracker) Close(adapter common.Address) {
	t.mu.Lock()
	delete(t.open, adapter)
	n := len(t.open)
	t.mu.Unlock()
	observability.PositionMetrics().SetOpenPositions(n)
}

func (t *Tracker) IsOpen(adapter common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.open[adapter]
	return ok
}

// List returns the open adapters sorted by address.
func (t *Tracker) List() []common.Address {
	t.mu.RLock()
	out := make([]common.Address, 0, len(t.open))
	for addr := range t.open {
		out = append(out, addr)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
