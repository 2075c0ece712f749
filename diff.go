package graphsync

import (
	"maps"
	"sort"
)

// Plan is the ordered set of twin-graph writes that turns one State into
// another. The slices are applied in field order: twins must exist before
// edges reference them, displaced edges must be gone before their
// replacements reuse the identifier, and edges must be gone before their
// endpoints are deleted.
type Plan struct {
	CreateTwins         []Twin
	UpdateTwins         []Twin
	DeleteRelationships []TwinRelationship
	UpsertRelationships []TwinRelationship
	DeleteTwins         []Twin
}

// IsEmpty reports whether applying the plan would perform no writes.
func (p Plan) IsEmpty() bool {
	return len(p.CreateTwins) == 0 &&
		len(p.UpdateTwins) == 0 &&
		len(p.UpsertRelationships) == 0 &&
		len(p.DeleteRelationships) == 0 &&
		len(p.DeleteTwins) == 0
}

// Counts summarises the plan for reporting.
func (p Plan) Counts() (createdTwins, updatedTwins, upsertedRelationships, deletedRelationships, deletedTwins int) {
	return len(p.CreateTwins), len(p.UpdateTwins), len(p.UpsertRelationships), len(p.DeleteRelationships), len(p.DeleteTwins)
}

// Diff computes the plan that turns current into target. Entities are
// matched by identifier; an entity present on both sides but differing in
// any field becomes an update. A relationship whose endpoints moved cannot
// be updated in place and is recreated instead. Output order within each
// slice is deterministic (sorted by identifier) so that repeated runs over
// the same states produce the same plan.
func Diff(current, target State) Plan {
	var plan Plan

	for _, id := range sortedKeys(target.Twins) {
		want := target.Twins[id]
		have, ok := current.Twins[id]
		switch {
		case !ok:
			plan.CreateTwins = append(plan.CreateTwins, want)
		case !twinEqual(have, want):
			plan.UpdateTwins = append(plan.UpdateTwins, want)
		}
	}
	for _, id := range sortedKeys(current.Twins) {
		if _, ok := target.Twins[id]; !ok {
			plan.DeleteTwins = append(plan.DeleteTwins, current.Twins[id])
		}
	}

	for _, id := range sortedKeys(target.Relationships) {
		want := target.Relationships[id]
		have, ok := current.Relationships[id]
		switch {
		case !ok:
			plan.UpsertRelationships = append(plan.UpsertRelationships, want)
		case have.SourceID != want.SourceID || have.TargetID != want.TargetID || have.Name != want.Name:
			// The edge moved. Engines key edges by endpoints, so an
			// in-place update cannot express this.
			plan.DeleteRelationships = append(plan.DeleteRelationships, have)
			plan.UpsertRelationships = append(plan.UpsertRelationships, want)
		case have.Labels != want.Labels:
			plan.UpsertRelationships = append(plan.UpsertRelationships, want)
		}
	}
	for _, id := range sortedKeys(current.Relationships) {
		if _, ok := target.Relationships[id]; !ok {
			plan.DeleteRelationships = append(plan.DeleteRelationships, current.Relationships[id])
		}
	}

	return plan
}

// twinEqual compares the mirrored fields of two twins. CreatedAt-like
// engine bookkeeping does not participate; neither does SourceID when the
// target side has none to offer.
func twinEqual(have, want Twin) bool {
	return have.ID == want.ID &&
		have.Model == want.Model &&
		have.Name == want.Name &&
		have.ExternalID == want.ExternalID &&
		have.SourceID == want.SourceID &&
		have.Description == want.Description &&
		maps.Equal(have.Tags, want.Tags) &&
		have.LatestValue == want.LatestValue &&
		have.LatestTimestamp.Equal(want.LatestTimestamp)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TargetState projects a source-graph snapshot into the State the twin
// graph should converge to. The latest map provides, per timeseries
// external ID, the newest datapoint when one exists.
func TargetState(assets []Asset, relationships []Relationship, series []Timeseries, latest map[string]Datapoint) State {
	state := NewState()

	inSubtree := make(map[string]bool, len(assets))
	for _, a := range assets {
		inSubtree[a.ExternalID] = true
	}

	for _, a := range assets {
		twin := AssetTwin(a)
		state.Twins[twin.ID] = twin
		// The root's parent, if any, lies outside the projection.
		if a.ParentExternalID != "" && inSubtree[a.ParentExternalID] {
			rel := ParentRelationship(twin.ID, ToTwinID(a.ParentExternalID))
			state.Relationships[rel.ID] = rel
		}
	}

	for _, ts := range series {
		var dp *Datapoint
		if d, ok := latest[ts.ExternalID]; ok {
			dp = &d
		}
		twin := TimeseriesTwin(ts, dp)
		state.Twins[twin.ID] = twin
		if ts.AssetExternalID != "" && inSubtree[ts.AssetExternalID] {
			rel := ContainsRelationship(ToTwinID(ts.AssetExternalID), twin.ID)
			state.Relationships[rel.ID] = rel
		}
	}

	for _, r := range relationships {
		if !inSubtree[r.SourceExternalID] || !inSubtree[r.TargetExternalID] {
			continue
		}
		rel := RelationshipTwin(r)
		state.Relationships[rel.ID] = rel
	}

	return state
}
