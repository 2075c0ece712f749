package synctest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/go-digitaltwin/graphsync"
)

// MemoryTwins is a concurrency-safe in-memory implementation of
// [graphsync.TwinClient].
//
// Edge creation times are stamped with the wall clock unless the written
// edge already carries one, which lets tests seed edges with a specific
// history.
type MemoryTwins struct {
	mu    sync.Mutex
	twins map[string]graphsync.Twin
	rels  map[string]graphsync.TwinRelationship
}

// NewMemoryTwins returns an empty twin graph.
func NewMemoryTwins() *MemoryTwins {
	return &MemoryTwins{
		twins: make(map[string]graphsync.Twin),
		rels:  make(map[string]graphsync.TwinRelationship),
	}
}

func (m *MemoryTwins) Twin(ctx context.Context, twinID string) (graphsync.Twin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.twins[twinID]
	if !ok {
		return graphsync.Twin{}, fmt.Errorf("twin %q: %w", twinID, graphsync.ErrNotFound)
	}
	return cloneTwin(t), nil
}

func (m *MemoryTwins) TwinsByID(ctx context.Context, twinIDs []string) ([]graphsync.Twin, error) {
	return graphsync.Batched(ctx, twinIDs, func(ctx context.Context, chunk []string) ([]graphsync.Twin, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		var out []graphsync.Twin
		for _, id := range chunk {
			if t, ok := m.twins[id]; ok {
				out = append(out, cloneTwin(t))
			}
		}
		return out, nil
	})
}

func (m *MemoryTwins) UpsertTwin(ctx context.Context, t graphsync.Twin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.twins[t.ID] = cloneTwin(t)
	return nil
}

func (m *MemoryTwins) DeleteTwin(ctx context.Context, twinID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.twins[twinID]; !ok {
		return fmt.Errorf("twin %q: %w", twinID, graphsync.ErrNotFound)
	}
	delete(m.twins, twinID)
	for id, r := range m.rels {
		if r.SourceID == twinID || r.TargetID == twinID {
			delete(m.rels, id)
		}
	}
	return nil
}

func (m *MemoryTwins) Relationships(ctx context.Context, twinID string) ([]graphsync.TwinRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []graphsync.TwinRelationship
	for _, r := range m.rels {
		if r.SourceID == twinID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryTwins) IncomingRelationships(ctx context.Context, twinID string) ([]graphsync.TwinRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []graphsync.TwinRelationship
	for _, r := range m.rels {
		if r.TargetID == twinID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryTwins) RelationshipsFrom(ctx context.Context, twinIDs []string) ([]graphsync.TwinRelationship, error) {
	return graphsync.Batched(ctx, twinIDs, func(ctx context.Context, chunk []string) ([]graphsync.TwinRelationship, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		sources := make(map[string]bool, len(chunk))
		for _, id := range chunk {
			sources[id] = true
		}
		var out []graphsync.TwinRelationship
		for _, r := range m.rels {
			if sources[r.SourceID] {
				out = append(out, r)
			}
		}
		return out, nil
	})
}

func (m *MemoryTwins) UpsertRelationship(ctx context.Context, r graphsync.TwinRelationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if have, ok := m.rels[r.ID]; ok && have.SourceID == r.SourceID && have.TargetID == r.TargetID {
		have.Labels = r.Labels
		have.Name = r.Name
		m.rels[r.ID] = have
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.rels[r.ID] = r
	return nil
}

func (m *MemoryTwins) DeleteRelationship(ctx context.Context, r graphsync.TwinRelationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rels[r.ID]; !ok {
		return fmt.Errorf("relationship %q: %w", r.ID, graphsync.ErrNotFound)
	}
	delete(m.rels, r.ID)
	return nil
}

func (m *MemoryTwins) ProjectedSubtree(ctx context.Context, rootTwinID string) (graphsync.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := graphsync.NewState()
	root, ok := m.twins[rootTwinID]
	if !ok {
		// A missing root means the mirror was never built; the differ
		// starts from an empty state.
		return state, nil
	}
	state.Twins[root.ID] = cloneTwin(root)

	// Children point at their parent, so the walk follows incoming parent
	// edges from the root downwards.
	children := make(map[string][]string)
	contained := make(map[string][]string)
	for _, r := range m.rels {
		switch r.Name {
		case graphsync.RelationshipParent:
			children[r.TargetID] = append(children[r.TargetID], r.SourceID)
		case graphsync.RelationshipContains:
			contained[r.SourceID] = append(contained[r.SourceID], r.TargetID)
		}
	}

	queue := []string{rootTwinID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, childID := range children[id] {
			if _, seen := state.Twins[childID]; seen {
				continue
			}
			if child, ok := m.twins[childID]; ok {
				state.Twins[childID] = cloneTwin(child)
				queue = append(queue, childID)
			}
		}
		for _, tsID := range contained[id] {
			if ts, ok := m.twins[tsID]; ok {
				state.Twins[tsID] = cloneTwin(ts)
			}
		}
	}

	for id, r := range m.rels {
		_, src := state.Twins[r.SourceID]
		_, tgt := state.Twins[r.TargetID]
		if src && tgt {
			state.Relationships[id] = r
		}
	}
	return state, nil
}

// Query is unsupported; MemoryTwins does not interpret the twin query
// language.
func (m *MemoryTwins) Query(ctx context.Context, query string) ([]graphsync.QueryRecord, error) {
	return nil, fmt.Errorf("query %q: %w", query, errors.ErrUnsupported)
}

func cloneTwin(t graphsync.Twin) graphsync.Twin {
	t.Tags = maps.Clone(t.Tags)
	return t
}
