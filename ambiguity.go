package graphsync

// Ambiguity reports a cardinality violation in the twin graph: a set of
// edges of the same name where at most one is allowed.
type Ambiguity struct {
	// TwinID is the twin whose cardinality is violated: the child of
	// competing parent edges, or the timeseries of competing contains edges.
	TwinID string
	Name   RelationshipName
	Edges  []TwinRelationship
}

// DetectAmbiguities scans a set of twin-graph edges for cardinality
// violations. An asset twin may have at most one outgoing parent edge and a
// timeseries twin at most one incoming contains edge; every group that
// exceeds its bound yields one Ambiguity. Results are in no particular
// order.
func DetectAmbiguities(relationships []TwinRelationship) []Ambiguity {
	parents := make(map[string][]TwinRelationship)
	contains := make(map[string][]TwinRelationship)
	for _, r := range relationships {
		switch r.Name {
		case RelationshipParent:
			parents[r.SourceID] = append(parents[r.SourceID], r)
		case RelationshipContains:
			contains[r.TargetID] = append(contains[r.TargetID], r)
		}
	}

	var ambiguities []Ambiguity
	for twinID, edges := range parents {
		if len(edges) > 1 {
			ambiguities = append(ambiguities, Ambiguity{TwinID: twinID, Name: RelationshipParent, Edges: edges})
		}
	}
	for twinID, edges := range contains {
		if len(edges) > 1 {
			ambiguities = append(ambiguities, Ambiguity{TwinID: twinID, Name: RelationshipContains, Edges: edges})
		}
	}
	return ambiguities
}

// ResolveNewest picks the edge that wins an ambiguity: the most recently
// created one, falling back to the lexicographically greatest relationship
// ID when creation times tie, so that resolution is deterministic. The
// remaining edges are returned as dropped.
func ResolveNewest(edges []TwinRelationship) (winner TwinRelationship, dropped []TwinRelationship) {
	if len(edges) == 0 {
		return TwinRelationship{}, nil
	}
	winner = edges[0]
	for _, e := range edges[1:] {
		if e.CreatedAt.After(winner.CreatedAt) ||
			(e.CreatedAt.Equal(winner.CreatedAt) && e.ID > winner.ID) {
			winner = e
		}
	}
	for _, e := range edges {
		if e.ID != winner.ID {
			dropped = append(dropped, e)
		}
	}
	return winner, dropped
}
