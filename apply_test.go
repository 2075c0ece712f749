package graphsync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-digitaltwin/graphsync"
	"github.com/go-digitaltwin/graphsync/synctest"
	"github.com/google/go-cmp/cmp"
)

// newApplier returns an applier over fresh in-memory graphs with the root
// asset already present on the source side.
func newApplier(t *testing.T) (*synctest.MemorySource, *synctest.MemoryTwins, *graphsync.Applier) {
	t.Helper()
	source := synctest.NewMemorySource()
	twins := synctest.NewMemoryTwins()
	if err := source.CreateAsset(context.Background(), graphsync.Asset{ExternalID: "plant-1", Name: "Plant 1"}); err != nil {
		t.Fatalf("seed root asset: %v", err)
	}
	return source, twins, &graphsync.Applier{Source: source, Twins: twins, Root: "plant-1"}
}

func TestApplyAssetCreate(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()

	event := graphsync.TwinEvent{
		Kind:    graphsync.TwinCreated,
		Subject: "pump-7",
		Model:   graphsync.ModelAsset,
		Twin: &graphsync.Twin{
			ID:          "pump-7",
			Model:       graphsync.ModelAsset,
			Name:        "Pump 7",
			Description: "feed pump",
			Tags:        map[string]string{"serial_number": "A-113"},
		},
	}
	if err := applier.Apply(ctx, event); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	asset, err := source.Asset(ctx, "pump-7")
	if err != nil {
		t.Fatalf("created asset is missing: %v", err)
	}
	want := graphsync.Asset{
		ExternalID:       "pump-7",
		ID:               asset.ID,
		Name:             "Pump 7",
		Description:      "feed pump",
		Metadata:         map[string]string{"serial number": "A-113"},
		ParentExternalID: "plant-1",
	}
	if diff := cmp.Diff(want, asset); diff != "" {
		t.Errorf("asset mismatch (-want +got):\n%s", diff)
	}

	// Replaying the notification must end in a logged no-op.
	if err := applier.Apply(ctx, event); err != nil {
		t.Errorf("replayed create failed: %v", err)
	}
}

func TestApplyAssetUpdate(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateAsset(ctx, graphsync.Asset{
		ExternalID:       "pump-7",
		Name:             "Pump 7",
		Description:      "feed pump",
		Metadata:         map[string]string{"serial number": "A-113"},
		ParentExternalID: "plant-1",
	}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.TwinUpdated,
		Subject: "pump-7",
		Model:   graphsync.ModelAsset,
		Patch: []graphsync.PatchOp{
			{Op: "replace", Path: "/displayName", Value: "Pump Seven"},
			{Op: "remove", Path: "/description"},
			{Op: "add", Path: "/tags/values/vendor", Value: "acme"},
			{Op: "remove", Path: "/tags/values/serial_number"},
			{Op: "replace", Path: "/externalId", Value: "pump-8"},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	asset, err := source.Asset(ctx, "pump-7")
	if err != nil {
		t.Fatalf("updated asset is missing under its original id: %v", err)
	}
	if asset.Name != "Pump Seven" || asset.Description != "" {
		t.Errorf("asset = %+v, want renamed with a cleared description", asset)
	}
	if diff := cmp.Diff(map[string]string{"vendor": "acme"}, asset.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyAssetDelete(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateAsset(ctx, graphsync.Asset{ExternalID: "pump-7", ParentExternalID: "plant-1"}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	event := graphsync.TwinEvent{Kind: graphsync.TwinDeleted, Subject: "pump-7", Model: graphsync.ModelAsset}
	if err := applier.Apply(ctx, event); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := source.Asset(ctx, "pump-7"); !errors.Is(err, graphsync.ErrNotFound) {
		t.Errorf("asset survived the delete: %v", err)
	}
	if err := applier.Apply(ctx, event); err != nil {
		t.Errorf("replayed delete failed: %v", err)
	}
}

func TestApplyTimeseriesCreateSeedsReading(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.TwinCreated,
		Subject: "pump-7-temp",
		Model:   graphsync.ModelTimeseries,
		Twin: &graphsync.Twin{
			ID:              "pump-7-temp",
			Model:           graphsync.ModelTimeseries,
			Name:            "Pump 7 Temperature",
			LatestValue:     "21.5",
			LatestTimestamp: at,
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	ts, err := source.Timeseries(ctx, "pump-7-temp")
	if err != nil {
		t.Fatalf("created timeseries is missing: %v", err)
	}
	if ts.AssetExternalID != "plant-1" {
		t.Errorf("series attached to %q, want the root", ts.AssetExternalID)
	}
	dp, err := source.LatestDatapoint(ctx, "pump-7-temp")
	if err != nil {
		t.Fatalf("seeded datapoint is missing: %v", err)
	}
	if dp.Value != "21.5" || !dp.Timestamp.Equal(at) {
		t.Errorf("datapoint = %+v", dp)
	}
}

func TestApplyDatapointPairGating(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateTimeseries(ctx, graphsync.Timeseries{
		ExternalID:      "pump-7-temp",
		AssetExternalID: "plant-1",
	}); err != nil {
		t.Fatalf("seed timeseries: %v", err)
	}

	// Half a reading must not produce a datapoint.
	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.TwinUpdated,
		Subject: "pump-7-temp",
		Model:   graphsync.ModelTimeseries,
		Patch:   []graphsync.PatchOp{{Op: "replace", Path: "/latestValue", Value: "21.5"}},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := source.LatestDatapoint(ctx, "pump-7-temp"); !errors.Is(err, graphsync.ErrNotFound) {
		t.Fatalf("half a reading wrote a datapoint: %v", err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err = applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.TwinUpdated,
		Subject: "pump-7-temp",
		Model:   graphsync.ModelTimeseries,
		Patch: []graphsync.PatchOp{
			{Op: "replace", Path: "/latestValue", Value: "21.5"},
			{Op: "replace", Path: "/timestamp", Value: at.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	dp, err := source.LatestDatapoint(ctx, "pump-7-temp")
	if err != nil {
		t.Fatalf("full reading wrote no datapoint: %v", err)
	}
	if dp.Value != "21.5" {
		t.Errorf("datapoint value = %q, want %q", dp.Value, "21.5")
	}

	// A reading at or before the stored latest is stale.
	err = applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.TwinUpdated,
		Subject: "pump-7-temp",
		Model:   graphsync.ModelTimeseries,
		Patch: []graphsync.PatchOp{
			{Op: "replace", Path: "/latestValue", Value: "19.0"},
			{Op: "replace", Path: "/timestamp", Value: at.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	dp, err = source.LatestDatapoint(ctx, "pump-7-temp")
	if err != nil {
		t.Fatalf("LatestDatapoint failed: %v", err)
	}
	if dp.Value != "21.5" {
		t.Errorf("stale reading overwrote the latest datapoint: %+v", dp)
	}
}

func TestApplyFirstReadingRecreatesMistypedSeries(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateTimeseries(ctx, graphsync.Timeseries{
		ExternalID:      "pump-7-state",
		AssetExternalID: "plant-1",
	}); err != nil {
		t.Fatalf("seed timeseries: %v", err)
	}

	// A numeric series with no datapoints receives a string reading; the
	// series type is immutable, so the applier recreates it.
	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.TwinUpdated,
		Subject: "pump-7-state",
		Model:   graphsync.ModelTimeseries,
		Patch: []graphsync.PatchOp{
			{Op: "replace", Path: "/latestValue", Value: "RUNNING"},
			{Op: "replace", Path: "/timestamp", Value: "2024-05-01T12:00:00Z"},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	ts, err := source.Timeseries(ctx, "pump-7-state")
	if err != nil {
		t.Fatalf("recreated timeseries is missing: %v", err)
	}
	if !ts.IsString {
		t.Error("series was not recreated as a string series")
	}
	dp, err := source.LatestDatapoint(ctx, "pump-7-state")
	if err != nil {
		t.Fatalf("reading was not written: %v", err)
	}
	if dp.Value != "RUNNING" {
		t.Errorf("datapoint value = %q, want %q", dp.Value, "RUNNING")
	}
}

func TestApplyTypeConflict(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateTimeseries(ctx, graphsync.Timeseries{
		ExternalID:      "pump-7-temp",
		AssetExternalID: "plant-1",
	}); err != nil {
		t.Fatalf("seed timeseries: %v", err)
	}
	if err := source.InsertDatapoint(ctx, "pump-7-temp", graphsync.Datapoint{
		Timestamp: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		Value:     "20.1",
	}); err != nil {
		t.Fatalf("seed datapoint: %v", err)
	}

	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.TwinUpdated,
		Subject: "pump-7-temp",
		Model:   graphsync.ModelTimeseries,
		Patch: []graphsync.PatchOp{
			{Op: "replace", Path: "/latestValue", Value: "RUNNING"},
			{Op: "replace", Path: "/timestamp", Value: "2024-05-01T12:00:00Z"},
		},
	})
	var conflict *graphsync.TypeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Apply returned %v, want a TypeConflictError", err)
	}
	if conflict.TimeseriesExternalID != "pump-7-temp" || conflict.SeriesIsString {
		t.Errorf("conflict = %+v", conflict)
	}
}

func TestApplyParentEdgeElection(t *testing.T) {
	source, twins, applier := newApplier(t)
	ctx := context.Background()
	for _, id := range []string{"area-1", "area-2"} {
		if err := source.CreateAsset(ctx, graphsync.Asset{ExternalID: id, ParentExternalID: "plant-1"}); err != nil {
			t.Fatalf("seed asset %q: %v", id, err)
		}
	}
	if err := source.CreateAsset(ctx, graphsync.Asset{ExternalID: "pump-7", ParentExternalID: "plant-1"}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	older := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := twins.UpsertRelationship(ctx, graphsync.TwinRelationship{
		ID: "pump-7->area-1", SourceID: "pump-7", TargetID: "area-1",
		Name: graphsync.RelationshipParent, CreatedAt: older,
	}); err != nil {
		t.Fatalf("seed edge: %v", err)
	}

	// The notification carries a newer competing edge; it wins the parent
	// slot.
	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipCreated,
		Subject: "pump-7->area-2",
		Relationship: &graphsync.TwinRelationship{
			ID: "pump-7->area-2", SourceID: "pump-7", TargetID: "area-2",
			Name: graphsync.RelationshipParent, CreatedAt: older.Add(time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	asset, err := source.Asset(ctx, "pump-7")
	if err != nil {
		t.Fatalf("fetch asset: %v", err)
	}
	if asset.ParentExternalID != "area-2" {
		t.Errorf("parent = %q, want the newer edge's target area-2", asset.ParentExternalID)
	}

	// An older edge arriving afterwards loses the election; the parent
	// stays.
	err = applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipCreated,
		Subject: "pump-7->area-1",
		Relationship: &graphsync.TwinRelationship{
			ID: "pump-7->area-1", SourceID: "pump-7", TargetID: "area-1",
			Name: graphsync.RelationshipParent, CreatedAt: older,
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	asset, err = source.Asset(ctx, "pump-7")
	if err != nil {
		t.Fatalf("fetch asset: %v", err)
	}
	if asset.ParentExternalID != "area-2" {
		t.Errorf("losing edge reparented the asset to %q", asset.ParentExternalID)
	}
}

func TestApplyParentEdgeDeleteFallsBack(t *testing.T) {
	source, twins, applier := newApplier(t)
	ctx := context.Background()
	for _, id := range []string{"area-1", "area-2"} {
		if err := source.CreateAsset(ctx, graphsync.Asset{ExternalID: id, ParentExternalID: "plant-1"}); err != nil {
			t.Fatalf("seed asset %q: %v", id, err)
		}
	}
	if err := source.CreateAsset(ctx, graphsync.Asset{ExternalID: "pump-7", ParentExternalID: "area-1"}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	// The twin graph still holds a competitor for the parent slot; it takes
	// over when the current parent edge goes away.
	if err := twins.UpsertRelationship(ctx, graphsync.TwinRelationship{
		ID: "pump-7->area-2", SourceID: "pump-7", TargetID: "area-2",
		Name: graphsync.RelationshipParent, CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed edge: %v", err)
	}

	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipDeleted,
		Subject: "pump-7->area-1",
		Relationship: &graphsync.TwinRelationship{
			ID: "pump-7->area-1", SourceID: "pump-7", TargetID: "area-1",
			Name: graphsync.RelationshipParent,
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	asset, err := source.Asset(ctx, "pump-7")
	if err != nil {
		t.Fatalf("fetch asset: %v", err)
	}
	if asset.ParentExternalID != "area-2" {
		t.Errorf("parent = %q, want the surviving edge's target area-2", asset.ParentExternalID)
	}

	// With the last parent edge gone the child falls back to the root.
	if err := twins.DeleteRelationship(ctx, graphsync.TwinRelationship{ID: "pump-7->area-2"}); err != nil {
		t.Fatalf("remove surviving edge: %v", err)
	}
	err = applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipDeleted,
		Subject: "pump-7->area-2",
		Relationship: &graphsync.TwinRelationship{
			ID: "pump-7->area-2", SourceID: "pump-7", TargetID: "area-2",
			Name: graphsync.RelationshipParent,
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	asset, err = source.Asset(ctx, "pump-7")
	if err != nil {
		t.Fatalf("fetch asset: %v", err)
	}
	if asset.ParentExternalID != "plant-1" {
		t.Errorf("parent = %q, want the root plant-1", asset.ParentExternalID)
	}
}

func TestApplyContainsEdgeDeleteFallsBack(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateAsset(ctx, graphsync.Asset{ExternalID: "pump-7", ParentExternalID: "plant-1"}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if err := source.CreateTimeseries(ctx, graphsync.Timeseries{
		ExternalID:      "pump-7-temp",
		AssetExternalID: "pump-7",
	}); err != nil {
		t.Fatalf("seed timeseries: %v", err)
	}

	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipDeleted,
		Subject: "pump-7->pump-7-temp",
		Relationship: &graphsync.TwinRelationship{
			ID: "pump-7->pump-7-temp", SourceID: "pump-7", TargetID: "pump-7-temp",
			Name: graphsync.RelationshipContains,
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	ts, err := source.Timeseries(ctx, "pump-7-temp")
	if err != nil {
		t.Fatalf("fetch timeseries: %v", err)
	}
	if ts.AssetExternalID != "plant-1" {
		t.Errorf("series attached to %q, want the root plant-1", ts.AssetExternalID)
	}
}

func TestApplyRelatesToCreateChecksLabels(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	for _, id := range []string{"pump-7", "valve-2"} {
		if err := source.CreateAsset(ctx, graphsync.Asset{ExternalID: id, ParentExternalID: "plant-1"}); err != nil {
			t.Fatalf("seed asset %q: %v", id, err)
		}
	}

	event := graphsync.TwinEvent{
		Kind:    graphsync.RelationshipCreated,
		Subject: "r1",
		Relationship: &graphsync.TwinRelationship{
			ID: "r1", SourceID: "pump-7", TargetID: "valve-2",
			Name: graphsync.RelationshipRelatesTo, Labels: "feeds",
		},
	}
	if err := applier.Apply(ctx, event); err == nil {
		t.Fatal("create with an undefined label succeeded")
	}

	if err := source.CreateLabel(ctx, "feeds"); err != nil {
		t.Fatalf("define label: %v", err)
	}
	if err := applier.Apply(ctx, event); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	rel, err := source.Relationship(ctx, "r1")
	if err != nil {
		t.Fatalf("created relationship is missing: %v", err)
	}
	want := graphsync.Relationship{
		ExternalID:       "r1",
		SourceExternalID: "pump-7",
		TargetExternalID: "valve-2",
		Labels:           []string{"feeds"},
	}
	if diff := cmp.Diff(want, rel); diff != "" {
		t.Errorf("relationship mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyRelationshipUpdateDefinesMissingLabels(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateRelationship(ctx, graphsync.Relationship{
		ExternalID:       "r1",
		SourceExternalID: "pump-7",
		TargetExternalID: "valve-2",
		Labels:           []string{"feeds"},
	}); err != nil {
		t.Fatalf("seed relationship: %v", err)
	}

	// Unlike on create, an update defines unknown labels on the fly so the
	// two graphs do not drift.
	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipUpdated,
		Subject: "r1",
		Patch:   []graphsync.PatchOp{{Op: "replace", Path: "/labels", Value: "feeds,flowsTo"}},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	rel, err := source.Relationship(ctx, "r1")
	if err != nil {
		t.Fatalf("fetch relationship: %v", err)
	}
	if diff := cmp.Diff([]string{"feeds", "flowsTo"}, rel.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if ok, _ := source.HasLabel(ctx, "flowsTo"); !ok {
		t.Error("missing label was not defined in the registry")
	}
}

func TestApplyRelatesToDelete(t *testing.T) {
	source, _, applier := newApplier(t)
	ctx := context.Background()
	if err := source.CreateRelationship(ctx, graphsync.Relationship{
		ExternalID:       "r1",
		SourceExternalID: "pump-7",
		TargetExternalID: "valve-2",
	}); err != nil {
		t.Fatalf("seed relationship: %v", err)
	}

	// A repointed source relationship must survive the twin-side delete.
	err := applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipDeleted,
		Subject: "r1",
		Relationship: &graphsync.TwinRelationship{
			ID: "r1", SourceID: "pump-7", TargetID: "tank-9",
			Name: graphsync.RelationshipRelatesTo,
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := source.Relationship(ctx, "r1"); err != nil {
		t.Fatalf("mismatched delete removed the relationship: %v", err)
	}

	err = applier.Apply(ctx, graphsync.TwinEvent{
		Kind:    graphsync.RelationshipDeleted,
		Subject: "r1",
		Relationship: &graphsync.TwinRelationship{
			ID: "r1", SourceID: "pump-7", TargetID: "valve-2",
			Name: graphsync.RelationshipRelatesTo,
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := source.Relationship(ctx, "r1"); !errors.Is(err, graphsync.ErrNotFound) {
		t.Errorf("relationship survived a matching delete: %v", err)
	}
}
