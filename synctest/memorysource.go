package synctest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/go-digitaltwin/graphsync"
)

// MemorySource is a concurrency-safe in-memory implementation of
// [graphsync.SourceClient]. It behaves like the source platform where the
// engine can observe the difference: duplicate creates fail, lookups of
// missing entities wrap [graphsync.ErrNotFound], and deleting an asset does
// not cascade to its children or timeseries.
type MemorySource struct {
	mu         sync.Mutex
	nextID     int64
	assets     map[string]graphsync.Asset
	series     map[string]graphsync.Timeseries
	rels       map[string]graphsync.Relationship
	labels     map[string]bool
	datapoints map[string][]graphsync.Datapoint
}

// NewMemorySource returns an empty source graph.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		nextID:     1,
		assets:     make(map[string]graphsync.Asset),
		series:     make(map[string]graphsync.Timeseries),
		rels:       make(map[string]graphsync.Relationship),
		labels:     make(map[string]bool),
		datapoints: make(map[string][]graphsync.Datapoint),
	}
}

func (s *MemorySource) Asset(ctx context.Context, externalID string) (graphsync.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[externalID]
	if !ok {
		return graphsync.Asset{}, fmt.Errorf("asset %q: %w", externalID, graphsync.ErrNotFound)
	}
	return cloneAsset(a), nil
}

func (s *MemorySource) AssetSubtree(ctx context.Context, rootExternalID string) ([]graphsync.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.assets[rootExternalID]
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", rootExternalID, graphsync.ErrNotFound)
	}

	children := make(map[string][]string)
	for id, a := range s.assets {
		if a.ParentExternalID != "" {
			children[a.ParentExternalID] = append(children[a.ParentExternalID], id)
		}
	}
	for _, c := range children {
		slices.Sort(c)
	}

	var subtree []graphsync.Asset
	queue := []string{root.ExternalID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		subtree = append(subtree, cloneAsset(s.assets[id]))
		queue = append(queue, children[id]...)
	}
	return subtree, nil
}

func (s *MemorySource) CreateAsset(ctx context.Context, a graphsync.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[a.ExternalID]; ok {
		return fmt.Errorf("asset %q already exists", a.ExternalID)
	}
	if a.ID == 0 {
		a.ID = s.nextID
		s.nextID++
	}
	s.assets[a.ExternalID] = cloneAsset(a)
	return nil
}

func (s *MemorySource) UpdateAsset(ctx context.Context, a graphsync.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	have, ok := s.assets[a.ExternalID]
	if !ok {
		return fmt.Errorf("asset %q: %w", a.ExternalID, graphsync.ErrNotFound)
	}
	a.ID = have.ID
	s.assets[a.ExternalID] = cloneAsset(a)
	return nil
}

func (s *MemorySource) SetAssetParent(ctx context.Context, externalID, parentExternalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[externalID]
	if !ok {
		return fmt.Errorf("asset %q: %w", externalID, graphsync.ErrNotFound)
	}
	if _, ok := s.assets[parentExternalID]; !ok {
		return fmt.Errorf("parent asset %q: %w", parentExternalID, graphsync.ErrNotFound)
	}
	a.ParentExternalID = parentExternalID
	s.assets[externalID] = a
	return nil
}

func (s *MemorySource) DeleteAsset(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[externalID]; !ok {
		return fmt.Errorf("asset %q: %w", externalID, graphsync.ErrNotFound)
	}
	delete(s.assets, externalID)
	return nil
}

func (s *MemorySource) RelationshipsBetween(ctx context.Context, assetExternalIDs []string) ([]graphsync.Relationship, error) {
	inSet := make(map[string]bool, len(assetExternalIDs))
	for _, id := range assetExternalIDs {
		inSet[id] = true
	}
	return graphsync.Batched(ctx, assetExternalIDs, func(ctx context.Context, chunk []string) ([]graphsync.Relationship, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		sources := make(map[string]bool, len(chunk))
		for _, id := range chunk {
			sources[id] = true
		}
		var out []graphsync.Relationship
		for _, r := range s.rels {
			if sources[r.SourceExternalID] && inSet[r.TargetExternalID] {
				out = append(out, cloneRelationship(r))
			}
		}
		return out, nil
	})
}

func (s *MemorySource) Relationship(ctx context.Context, externalID string) (graphsync.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rels[externalID]
	if !ok {
		return graphsync.Relationship{}, fmt.Errorf("relationship %q: %w", externalID, graphsync.ErrNotFound)
	}
	return cloneRelationship(r), nil
}

func (s *MemorySource) CreateRelationship(ctx context.Context, r graphsync.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rels[r.ExternalID]; ok {
		return fmt.Errorf("relationship %q already exists", r.ExternalID)
	}
	s.rels[r.ExternalID] = cloneRelationship(r)
	return nil
}

func (s *MemorySource) UpdateRelationshipLabels(ctx context.Context, externalID string, labels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rels[externalID]
	if !ok {
		return fmt.Errorf("relationship %q: %w", externalID, graphsync.ErrNotFound)
	}
	r.Labels = slices.Clone(labels)
	s.rels[externalID] = r
	return nil
}

func (s *MemorySource) DeleteRelationship(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rels[externalID]; !ok {
		return fmt.Errorf("relationship %q: %w", externalID, graphsync.ErrNotFound)
	}
	delete(s.rels, externalID)
	return nil
}

func (s *MemorySource) HasLabel(ctx context.Context, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labels[label], nil
}

func (s *MemorySource) CreateLabel(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[label] = true
	return nil
}

func (s *MemorySource) Timeseries(ctx context.Context, externalID string) (graphsync.Timeseries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.series[externalID]
	if !ok {
		return graphsync.Timeseries{}, fmt.Errorf("timeseries %q: %w", externalID, graphsync.ErrNotFound)
	}
	return cloneTimeseries(ts), nil
}

func (s *MemorySource) TimeseriesByAssets(ctx context.Context, assetExternalIDs []string) ([]graphsync.Timeseries, error) {
	return graphsync.Batched(ctx, assetExternalIDs, func(ctx context.Context, chunk []string) ([]graphsync.Timeseries, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		owners := make(map[string]bool, len(chunk))
		for _, id := range chunk {
			owners[id] = true
		}
		var out []graphsync.Timeseries
		for _, ts := range s.series {
			if owners[ts.AssetExternalID] {
				out = append(out, cloneTimeseries(ts))
			}
		}
		return out, nil
	})
}

func (s *MemorySource) CreateTimeseries(ctx context.Context, ts graphsync.Timeseries) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[ts.ExternalID]; ok {
		return fmt.Errorf("timeseries %q already exists", ts.ExternalID)
	}
	if ts.ID == 0 {
		ts.ID = s.nextID
		s.nextID++
	}
	s.series[ts.ExternalID] = cloneTimeseries(ts)
	return nil
}

func (s *MemorySource) UpdateTimeseries(ctx context.Context, ts graphsync.Timeseries) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	have, ok := s.series[ts.ExternalID]
	if !ok {
		return fmt.Errorf("timeseries %q: %w", ts.ExternalID, graphsync.ErrNotFound)
	}
	ts.ID = have.ID
	ts.IsString = have.IsString
	s.series[ts.ExternalID] = cloneTimeseries(ts)
	return nil
}

func (s *MemorySource) SetTimeseriesAsset(ctx context.Context, externalID, assetExternalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.series[externalID]
	if !ok {
		return fmt.Errorf("timeseries %q: %w", externalID, graphsync.ErrNotFound)
	}
	if _, ok := s.assets[assetExternalID]; !ok {
		return fmt.Errorf("asset %q: %w", assetExternalID, graphsync.ErrNotFound)
	}
	ts.AssetExternalID = assetExternalID
	s.series[externalID] = ts
	return nil
}

func (s *MemorySource) DeleteTimeseries(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[externalID]; !ok {
		return fmt.Errorf("timeseries %q: %w", externalID, graphsync.ErrNotFound)
	}
	delete(s.series, externalID)
	delete(s.datapoints, externalID)
	return nil
}

func (s *MemorySource) LatestDatapoint(ctx context.Context, externalID string) (graphsync.Datapoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := s.datapoints[externalID]
	if len(points) == 0 {
		return graphsync.Datapoint{}, fmt.Errorf("datapoints of %q: %w", externalID, graphsync.ErrNotFound)
	}
	latest := points[0]
	for _, p := range points[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return latest, nil
}

func (s *MemorySource) InsertDatapoint(ctx context.Context, externalID string, dp graphsync.Datapoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[externalID]; !ok {
		return fmt.Errorf("timeseries %q: %w", externalID, graphsync.ErrNotFound)
	}
	s.datapoints[externalID] = append(s.datapoints[externalID], dp)
	return nil
}

func cloneAsset(a graphsync.Asset) graphsync.Asset {
	a.Metadata = maps.Clone(a.Metadata)
	return a
}

func cloneTimeseries(ts graphsync.Timeseries) graphsync.Timeseries {
	ts.Metadata = maps.Clone(ts.Metadata)
	return ts
}

func cloneRelationship(r graphsync.Relationship) graphsync.Relationship {
	r.Labels = slices.Clone(r.Labels)
	return r
}
