package graphsync

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/danielorbach/go-component"
)

func (a *Applier) createRelationship(ctx context.Context, e TwinEvent) error {
	if e.Relationship == nil {
		return fmt.Errorf("relationship create %q carries no relationship", e.Subject)
	}
	rel := *e.Relationship
	switch rel.Name {
	case RelationshipParent:
		return a.applyParentEdge(ctx, rel)
	case RelationshipContains:
		return a.applyContainsEdge(ctx, rel)
	case RelationshipRelatesTo:
		return a.createExplicitRelationship(ctx, rel)
	default:
		return fmt.Errorf("unhandled relationship name %q", rel.Name)
	}
}

// applyParentEdge reparents the mirrored child asset. The twin graph admits
// several parent edges per twin while the source graph admits one, so when
// competing edges exist the most recently created one wins and the losers
// are reported.
func (a *Applier) applyParentEdge(ctx context.Context, rel TwinRelationship) error {
	logger := component.Logger(ctx)

	child, err := a.resolveAsset(ctx, rel.SourceID)
	if err != nil {
		return fmt.Errorf("resolve child asset of %q: %w", rel.ID, err)
	}

	winner, err := a.electEdge(ctx, rel, RelationshipParent)
	if err != nil {
		return err
	}

	parent, err := a.resolveAsset(ctx, winner.TargetID)
	if err != nil {
		return fmt.Errorf("resolve parent asset of %q: %w", winner.ID, err)
	}
	if child.ParentExternalID == parent.ExternalID {
		logger.Warn("Parent is already set, skipping", "child", child.ExternalID, "parent", parent.ExternalID)
		return nil
	}
	if err := a.Source.SetAssetParent(ctx, child.ExternalID, parent.ExternalID); err != nil {
		return fmt.Errorf("set parent of %q: %w", child.ExternalID, err)
	}
	return nil
}

// applyContainsEdge reattaches the mirrored timeseries to an asset, with
// the same newest-edge election as applyParentEdge.
func (a *Applier) applyContainsEdge(ctx context.Context, rel TwinRelationship) error {
	logger := component.Logger(ctx)

	series, err := a.resolveTimeseries(ctx, rel.TargetID)
	if err != nil {
		return fmt.Errorf("resolve timeseries of %q: %w", rel.ID, err)
	}

	winner, err := a.electEdge(ctx, rel, RelationshipContains)
	if err != nil {
		return err
	}

	asset, err := a.resolveAsset(ctx, winner.SourceID)
	if err != nil {
		return fmt.Errorf("resolve asset of %q: %w", winner.ID, err)
	}
	if series.AssetExternalID == asset.ExternalID {
		logger.Warn("Timeseries is already attached, skipping", "timeseries", series.ExternalID, "asset", asset.ExternalID)
		return nil
	}
	if err := a.Source.SetTimeseriesAsset(ctx, series.ExternalID, asset.ExternalID); err != nil {
		return fmt.Errorf("attach timeseries %q: %w", series.ExternalID, err)
	}
	return nil
}

// electEdge gathers the twin-graph edges competing with rel for its single
// slot and returns the one that wins. Dropped competitors are logged as
// errors; they remain in the twin graph for an operator to remove.
func (a *Applier) electEdge(ctx context.Context, rel TwinRelationship, name RelationshipName) (TwinRelationship, error) {
	logger := component.Logger(ctx)

	var edges []TwinRelationship
	var err error
	switch name {
	case RelationshipParent:
		edges, err = a.Twins.Relationships(ctx, rel.SourceID)
	default:
		edges, err = a.Twins.IncomingRelationships(ctx, rel.TargetID)
	}
	if err != nil {
		return TwinRelationship{}, fmt.Errorf("fetch competing %s edges of %q: %w", name, rel.ID, err)
	}

	competing := []TwinRelationship{rel}
	for _, e := range edges {
		if e.Name == name && e.ID != rel.ID {
			competing = append(competing, e)
		}
	}
	winner, dropped := ResolveNewest(competing)
	for _, d := range dropped {
		logger.Error("Dropping ambiguous edge, a newer one wins",
			"relationship", name, "dropped", d.ID, "winner", winner.ID)
	}
	return winner, nil
}

// createExplicitRelationship mirrors a relatesTo edge as an explicit source
// relationship. Every label must already be defined in the source label
// registry.
func (a *Applier) createExplicitRelationship(ctx context.Context, rel TwinRelationship) error {
	logger := component.Logger(ctx)
	externalID := FromTwinID(rel.ID)

	if _, err := a.Source.Relationship(ctx, externalID); err == nil {
		logger.Warn("Relationship already exists, skipping create", "externalID", externalID)
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check relationship %q: %w", externalID, err)
	}

	source, err := a.resolveAsset(ctx, rel.SourceID)
	if err != nil {
		return fmt.Errorf("resolve source asset of %q: %w", externalID, err)
	}
	target, err := a.resolveAsset(ctx, rel.TargetID)
	if err != nil {
		return fmt.Errorf("resolve target asset of %q: %w", externalID, err)
	}

	labels := SplitLabels(rel.Labels)
	for _, l := range labels {
		ok, err := a.Source.HasLabel(ctx, l)
		if err != nil {
			return fmt.Errorf("check label %q: %w", l, err)
		}
		if !ok {
			return fmt.Errorf("label %q is not defined in the source label registry", l)
		}
	}

	r := Relationship{
		ExternalID:       externalID,
		SourceExternalID: source.ExternalID,
		TargetExternalID: target.ExternalID,
		Labels:           labels,
	}
	if err := a.Source.CreateRelationship(ctx, r); err != nil {
		return fmt.Errorf("create relationship %q: %w", externalID, err)
	}
	return nil
}

// updateRelationship applies a label change to the mirrored explicit
// relationship. Labels missing from the source registry are defined on the
// fly, unlike on create where their absence aborts, because the edge
// already exists on both sides and must not drift.
func (a *Applier) updateRelationship(ctx context.Context, e TwinEvent) error {
	logger := component.Logger(ctx)
	externalID := FromTwinID(e.Subject)

	var labels []string
	found := false
	for _, op := range e.Patch {
		if op.Path != patchLabels {
			continue
		}
		found = true
		if op.Op != "remove" {
			labels = SplitLabels(stringValue(op.Value))
		}
	}
	if !found {
		return fmt.Errorf("relationship update %q does not patch labels", externalID)
	}

	for _, l := range labels {
		ok, err := a.Source.HasLabel(ctx, l)
		if err != nil {
			return fmt.Errorf("check label %q: %w", l, err)
		}
		if !ok {
			logger.Warn("Label is not defined in the source label registry, defining it now", "label", l)
			if err := a.Source.CreateLabel(ctx, l); err != nil {
				return fmt.Errorf("create label %q: %w", l, err)
			}
		}
	}

	rel, err := a.Source.Relationship(ctx, externalID)
	if err != nil {
		return fmt.Errorf("fetch relationship %q: %w", externalID, err)
	}
	if labelsEqual(rel.Labels, labels) {
		logger.Warn("Nothing to update, relationship labels are already up to date", "externalID", externalID)
		return nil
	}
	if err := a.Source.UpdateRelationshipLabels(ctx, externalID, labels); err != nil {
		return fmt.Errorf("update labels of %q: %w", externalID, err)
	}
	return nil
}

func labelsEqual(a, b []string) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

func (a *Applier) deleteRelationship(ctx context.Context, e TwinEvent) error {
	if e.Relationship == nil {
		return fmt.Errorf("relationship delete %q carries no relationship", e.Subject)
	}
	rel := *e.Relationship
	switch rel.Name {
	case RelationshipParent:
		return a.deleteParentEdge(ctx, rel)
	case RelationshipContains:
		return a.deleteContainsEdge(ctx, rel)
	case RelationshipRelatesTo:
		return a.deleteExplicitRelationship(ctx, rel)
	default:
		return fmt.Errorf("unhandled relationship name %q", rel.Name)
	}
}

// deleteParentEdge handles the removal of a parent edge from the twin
// graph. The source graph cannot hold a parentless asset inside the
// subtree, so the child falls back to a surviving parent edge when one
// exists and to the configured root otherwise.
func (a *Applier) deleteParentEdge(ctx context.Context, rel TwinRelationship) error {
	logger := component.Logger(ctx)

	child, err := a.resolveAsset(ctx, rel.SourceID)
	if err != nil {
		return fmt.Errorf("resolve child asset of %q: %w", rel.ID, err)
	}
	parent, err := a.resolveAsset(ctx, rel.TargetID)
	if err != nil {
		return fmt.Errorf("resolve parent asset of %q: %w", rel.ID, err)
	}
	if child.ParentExternalID != parent.ExternalID {
		logger.Warn("Source parent differs from the deleted edge, leaving it untouched",
			"child", child.ExternalID, "edgeParent", parent.ExternalID, "sourceParent", child.ParentExternalID)
		return nil
	}

	survivor, ok, err := a.survivingEdge(ctx, rel, RelationshipParent)
	if err != nil {
		return err
	}
	newParent := a.Root
	if ok {
		p, err := a.resolveAsset(ctx, survivor.TargetID)
		if err != nil {
			return fmt.Errorf("resolve surviving parent of %q: %w", survivor.ID, err)
		}
		newParent = p.ExternalID
		logger.Warn("Deleted edge had a surviving competitor, switching parent to it",
			"child", child.ExternalID, "parent", newParent)
	}
	if err := a.Source.SetAssetParent(ctx, child.ExternalID, newParent); err != nil {
		return fmt.Errorf("set parent of %q: %w", child.ExternalID, err)
	}
	return nil
}

// deleteContainsEdge is deleteParentEdge for timeseries attachment.
func (a *Applier) deleteContainsEdge(ctx context.Context, rel TwinRelationship) error {
	logger := component.Logger(ctx)

	asset, err := a.resolveAsset(ctx, rel.SourceID)
	if err != nil {
		return fmt.Errorf("resolve asset of %q: %w", rel.ID, err)
	}
	series, err := a.resolveTimeseries(ctx, rel.TargetID)
	if err != nil {
		return fmt.Errorf("resolve timeseries of %q: %w", rel.ID, err)
	}
	if series.AssetExternalID != asset.ExternalID {
		logger.Warn("Source attachment differs from the deleted edge, leaving it untouched",
			"timeseries", series.ExternalID, "edgeAsset", asset.ExternalID, "sourceAsset", series.AssetExternalID)
		return nil
	}

	survivor, ok, err := a.survivingEdge(ctx, rel, RelationshipContains)
	if err != nil {
		return err
	}
	newAsset := a.Root
	if ok {
		s, err := a.resolveAsset(ctx, survivor.SourceID)
		if err != nil {
			return fmt.Errorf("resolve surviving asset of %q: %w", survivor.ID, err)
		}
		newAsset = s.ExternalID
		logger.Warn("Deleted edge had a surviving competitor, switching attachment to it",
			"timeseries", series.ExternalID, "asset", newAsset)
	}
	if err := a.Source.SetTimeseriesAsset(ctx, series.ExternalID, newAsset); err != nil {
		return fmt.Errorf("attach timeseries %q: %w", series.ExternalID, err)
	}
	return nil
}

// survivingEdge finds the edge that takes over the slot freed by the
// deleted one: the newest of the remaining competitors.
func (a *Applier) survivingEdge(ctx context.Context, rel TwinRelationship, name RelationshipName) (TwinRelationship, bool, error) {
	var edges []TwinRelationship
	var err error
	switch name {
	case RelationshipParent:
		edges, err = a.Twins.Relationships(ctx, rel.SourceID)
	default:
		edges, err = a.Twins.IncomingRelationships(ctx, rel.TargetID)
	}
	if err != nil {
		return TwinRelationship{}, false, fmt.Errorf("fetch surviving %s edges of %q: %w", name, rel.ID, err)
	}

	var remaining []TwinRelationship
	for _, e := range edges {
		if e.Name == name && e.ID != rel.ID {
			remaining = append(remaining, e)
		}
	}
	if len(remaining) == 0 {
		return TwinRelationship{}, false, nil
	}
	winner, _ := ResolveNewest(remaining)
	return winner, true, nil
}

// deleteExplicitRelationship removes the mirrored explicit relationship,
// but only when its endpoints still match the deleted edge; a mismatch
// means the source relationship was repointed independently and must
// survive.
func (a *Applier) deleteExplicitRelationship(ctx context.Context, rel TwinRelationship) error {
	logger := component.Logger(ctx)
	externalID := FromTwinID(rel.ID)

	r, err := a.Source.Relationship(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("relationship %q does not exist in the source graph: %w", externalID, err)
	}
	if err != nil {
		return fmt.Errorf("fetch relationship %q: %w", externalID, err)
	}

	if ToTwinID(r.SourceExternalID) != rel.SourceID {
		logger.Warn("Relationship source differs, not deleting", "externalID", externalID,
			"source", r.SourceExternalID, "edgeSource", rel.SourceID)
		return nil
	}
	if ToTwinID(r.TargetExternalID) != rel.TargetID {
		logger.Warn("Relationship target differs, not deleting", "externalID", externalID,
			"target", r.TargetExternalID, "edgeTarget", rel.TargetID)
		return nil
	}
	if err := a.Source.DeleteRelationship(ctx, externalID); err != nil {
		return fmt.Errorf("delete relationship %q: %w", externalID, err)
	}
	return nil
}
