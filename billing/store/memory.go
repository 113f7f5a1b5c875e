// Package store provides RunStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	runs []billing.Run
	ids  map[string]int
}

func NewMemory() *Memory {
	return &Memory{ids: make(map[string]int)}
}

// AppendRun stores a finished run. Append-only.
func (m *Memory) AppendRun(_ context.Context, run billing.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[run.ID]; ok {
		return fmt.Errorf("run %s already recorded", run.ID)
	}
	run.Outcomes = append([]billing.Outcome(nil), run.Outcomes...)

	// keep runs ordered by start time so listing is a reverse walk
	i := sort.Search(len(m.runs), func(i int) bool {
		return m.runs[i].StartedAt.After(run.StartedAt)
	})
	m.runs = append(m.runs, billing.Run{})
	copy(m.runs[i+1:], m.runs[i:])
	m.runs[i] = run
	m.reindexLocked()
	return nil
}

func (m *Memory) reindexLocked() {
	for i, r := range m.runs {
		m.ids[r.ID] = i
	}
}

func (m *Memory) LoadRun(_ context.Context, id string) (billing.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.ids[id]
	if !ok {
		return billing.Run{}, fmt.Errorf("%w: %s", billing.ErrRunNotFound, id)
	}
	return m.runs[i], nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]billing.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) RunsByFingerprint(_ context.Context, fingerprint string) ([]billing.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Fingerprint == fingerprint {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}
