package graphsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// Applier drives the reverse flow: it interprets one twin-change
// notification at a time and writes the corresponding change back onto the
// source graph.
//
// Apply is idempotent per event. Replaying a notification that was already
// applied ends in a logged no-op, so an at-least-once subscription is safe
// to consume.
type Applier struct {
	Source SourceClient
	Twins  TwinClient
	// Root is the external ID of the source asset that adopts entities
	// created on the twin side and orphans left by relationship deletes.
	Root string
}

// Apply processes a single change notification. The returned error covers
// this notification only; callers are expected to log it and move on to the
// next one.
func (a *Applier) Apply(ctx context.Context, e TwinEvent) (err error) {
	ctx, span := tracer.Start(ctx, "Apply")
	defer span.End()
	defer func() { measureApply(ctx, e.Kind, err == nil) }()

	switch e.Kind {
	case TwinCreated, TwinUpdated, TwinDeleted:
		switch e.Model {
		case ModelAsset:
			return a.applyAssetEvent(ctx, e)
		case ModelTimeseries:
			return a.applyTimeseriesEvent(ctx, e)
		default:
			return fmt.Errorf("twin %q has unhandled model %q", e.Subject, e.Model)
		}
	case RelationshipCreated:
		return a.createRelationship(ctx, e)
	case RelationshipUpdated:
		return a.updateRelationship(ctx, e)
	case RelationshipDeleted:
		return a.deleteRelationship(ctx, e)
	default:
		return fmt.Errorf("unhandled notification kind %q", e.Kind)
	}
}

// ApplyLoop returns a component.Proc that feeds the subscription's
// notifications through the applier, one at a time in arrival order.
func ApplyLoop(a *Applier, sub *pubsub.Subscription) component.Proc {
	return NewEventSource(sub).Stream(func(ctx context.Context, e TwinEvent) error {
		return a.Apply(ctx, e)
	})
}

func (a *Applier) applyAssetEvent(ctx context.Context, e TwinEvent) error {
	switch e.Kind {
	case TwinCreated:
		return a.createAsset(ctx, e)
	case TwinUpdated:
		return a.updateAsset(ctx, e)
	default:
		return a.deleteAsset(ctx, e)
	}
}

func (a *Applier) applyTimeseriesEvent(ctx context.Context, e TwinEvent) error {
	switch e.Kind {
	case TwinCreated:
		return a.createTimeseries(ctx, e)
	case TwinUpdated:
		return a.updateTimeseries(ctx, e)
	default:
		return a.deleteTimeseries(ctx, e)
	}
}

// eventExternalID picks the source external ID a twin event refers to: the
// raw identifier the twin carries when it has one, else the decoded subject.
func eventExternalID(e TwinEvent) string {
	if e.Twin != nil && e.Twin.ExternalID != "" {
		return e.Twin.ExternalID
	}
	return FromTwinID(e.Subject)
}

func (a *Applier) createAsset(ctx context.Context, e TwinEvent) error {
	logger := component.Logger(ctx)
	externalID := eventExternalID(e)

	_, err := a.Source.Asset(ctx, externalID)
	if err == nil {
		logger.Warn("Asset already exists, skipping create", "externalID", externalID)
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check asset %q: %w", externalID, err)
	}

	// New twins are adopted by the configured root until a parent edge
	// arrives.
	asset := Asset{
		ExternalID:       externalID,
		Name:             externalID,
		ParentExternalID: a.Root,
	}
	if e.Twin != nil {
		if e.Twin.Name != "" {
			asset.Name = e.Twin.Name
		}
		asset.Description = e.Twin.Description
		asset.Metadata = DenormalizeTags(e.Twin.Tags)
	}
	if err := a.Source.CreateAsset(ctx, asset); err != nil {
		return fmt.Errorf("create asset %q: %w", externalID, err)
	}
	return nil
}

func (a *Applier) updateAsset(ctx context.Context, e TwinEvent) error {
	logger := component.Logger(ctx)

	asset, err := a.resolveAsset(ctx, e.Subject)
	if err != nil {
		return fmt.Errorf("resolve asset for twin %q: %w", e.Subject, err)
	}

	changed, err := applyRecordPatch(ctx, recordFields{
		Name:        &asset.Name,
		Description: &asset.Description,
		Metadata:    &asset.Metadata,
	}, e.Patch)
	if err != nil {
		return fmt.Errorf("patch asset %q: %w", asset.ExternalID, err)
	}
	if !changed {
		logger.Warn("Nothing to update, asset is already up to date", "externalID", asset.ExternalID)
		return nil
	}
	if err := a.Source.UpdateAsset(ctx, asset); err != nil {
		return fmt.Errorf("update asset %q: %w", asset.ExternalID, err)
	}
	return nil
}

func (a *Applier) deleteAsset(ctx context.Context, e TwinEvent) error {
	logger := component.Logger(ctx)
	externalID := eventExternalID(e)

	err := a.Source.DeleteAsset(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("Asset already gone, skipping delete", "externalID", externalID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete asset %q: %w", externalID, err)
	}
	return nil
}

func (a *Applier) createTimeseries(ctx context.Context, e TwinEvent) error {
	logger := component.Logger(ctx)
	externalID := eventExternalID(e)

	_, err := a.Source.Timeseries(ctx, externalID)
	if err == nil {
		logger.Warn("Timeseries already exists, skipping create", "externalID", externalID)
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check timeseries %q: %w", externalID, err)
	}

	ts := Timeseries{
		ExternalID:      externalID,
		Name:            externalID,
		AssetExternalID: a.Root,
	}
	if e.Twin != nil {
		if e.Twin.Name != "" {
			ts.Name = e.Twin.Name
		}
		ts.Description = e.Twin.Description
		ts.Metadata = DenormalizeTags(e.Twin.Tags)
	}
	if err := a.Source.CreateTimeseries(ctx, ts); err != nil {
		return fmt.Errorf("create timeseries %q: %w", externalID, err)
	}

	// A twin born with a reading seeds the series.
	if e.Twin != nil && e.Twin.LatestValue != "" && !e.Twin.LatestTimestamp.IsZero() {
		if _, err := a.insertDatapoint(ctx, externalID, e.Twin.LatestValue, e.Twin.LatestTimestamp); err != nil {
			return fmt.Errorf("seed datapoint of %q: %w", externalID, err)
		}
	}
	return nil
}

func (a *Applier) updateTimeseries(ctx context.Context, e TwinEvent) error {
	logger := component.Logger(ctx)

	ts, err := a.resolveTimeseries(ctx, e.Subject)
	if err != nil {
		return fmt.Errorf("resolve timeseries for twin %q: %w", e.Subject, err)
	}

	changed, err := applyRecordPatch(ctx, recordFields{
		Name:        &ts.Name,
		Description: &ts.Description,
		Metadata:    &ts.Metadata,
	}, e.Patch)
	if err != nil {
		return fmt.Errorf("patch timeseries %q: %w", ts.ExternalID, err)
	}
	if changed {
		if err := a.Source.UpdateTimeseries(ctx, ts); err != nil {
			return fmt.Errorf("update timeseries %q: %w", ts.ExternalID, err)
		}
	}

	inserted, err := a.applyDatapointPatch(ctx, ts.ExternalID, e.Patch)
	if err != nil {
		return err
	}
	if !changed && !inserted {
		logger.Warn("Nothing to update, timeseries and latest value are already up to date", "externalID", ts.ExternalID)
	}
	return nil
}

func (a *Applier) deleteTimeseries(ctx context.Context, e TwinEvent) error {
	logger := component.Logger(ctx)
	externalID := eventExternalID(e)

	err := a.Source.DeleteTimeseries(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("Timeseries already gone, skipping delete", "externalID", externalID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete timeseries %q: %w", externalID, err)
	}
	return nil
}

// resolveAsset finds the source asset a twin mirrors. The decoded twin ID
// is tried first; when normalization was lossy the raw identifier stored on
// the twin is the fallback.
func (a *Applier) resolveAsset(ctx context.Context, twinID string) (Asset, error) {
	asset, err := a.Source.Asset(ctx, FromTwinID(twinID))
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Asset{}, err
	}
	twin, terr := a.Twins.Twin(ctx, twinID)
	if terr != nil || twin.ExternalID == "" {
		return Asset{}, err
	}
	return a.Source.Asset(ctx, twin.ExternalID)
}

// resolveTimeseries is resolveAsset for timeseries twins.
func (a *Applier) resolveTimeseries(ctx context.Context, twinID string) (Timeseries, error) {
	ts, err := a.Source.Timeseries(ctx, FromTwinID(twinID))
	if err == nil {
		return ts, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Timeseries{}, err
	}
	twin, terr := a.Twins.Twin(ctx, twinID)
	if terr != nil || twin.ExternalID == "" {
		return Timeseries{}, err
	}
	return a.Source.Timeseries(ctx, twin.ExternalID)
}
