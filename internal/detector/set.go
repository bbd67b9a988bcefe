package detector

import (
	"context"
	"fmt"
	"sort"
)

// Set groups the per-chain detectors behind one lifecycle.
type Set struct {
	detectors map[int64]*Detector
}

func NewSet() *Set {
	return &Set{detectors: make(map[int64]*Detector)}
}

func (s *Set) Add(d *Detector) {
	if s == nil || d == nil {
		return
	}
	s.detectors[d.reader.ChainID()] = d
}

func (s *Set) Get(chainID int64) (*Detector, error) {
	if s == nil {
		return nil, fmt.Errorf("detector set not initialized")
	}
	d, ok := s.detectors[chainID]
	if !ok {
		return nil, fmt.Errorf("no detector for chain %d", chainID)
	}
	return d, nil
}

func (s *Set) OnPool(cb PoolCallback) {
	for _, d := range s.detectors {
		d.OnPool(cb)
	}
}

// StartAll starts every detector; the first failure stops the ones already
// started and is returned.
func (s *Set) StartAll(ctx context.Context) error {
	started := make([]*Detector, 0, len(s.detectors))
	for _, id := range s.chainIDs() {
		d := s.detectors[id]
		if err := d.Start(ctx); err != nil {
			for _, prev := range started {
				prev.Stop()
			}
			return fmt.Errorf("start detector for chain %d: %w", id, err)
		}
		started = append(started, d)
	}
	return nil
}

func (s *Set) StopAll() {
	for _, d := range s.detectors {
		d.Stop()
	}
}

func (s *Set) StatsAll() []Stats {
	out := make([]Stats, 0, len(s.detectors))
	for _, id := range s.chainIDs() {
		out = append(out, s.detectors[id].Stats())
	}
	return out
}

func (s *Set) chainIDs() []int64 {
	ids := make([]int64, 0, len(s.detectors))
	for id := range s.detectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
