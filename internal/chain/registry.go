package chain

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps chain IDs to their readers. Registration happens during
// startup; lookups are concurrent afterwards.
type Registry struct {
	mu      sync.RWMutex
	readers map[int64]Reader
}

func NewRegistry() *Registry {
	return &Registry{readers: make(map[int64]Reader)}
}

func (r *Registry) Register(reader Reader) {
	if r == nil || reader == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[reader.ChainID()] = reader
}

func (r *Registry) Reader(chainID int64) (Reader, error) {
	if r == nil {
		return nil, fmt.Errorf("chain registry not initialized")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	reader, ok := r.readers[chainID]
	if !ok {
		return nil, fmt.Errorf("no reader registered for chain %d", chainID)
	}
	return reader, nil
}

// ChainIDs returns registered chain IDs in ascending order.
func (r *Registry) ChainIDs() []int64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.readers))
	for id := range r.readers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
