package graphsync

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLabelsRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		labels []string
		joined string
	}{
		{name: "none", labels: nil, joined: ""},
		{name: "single", labels: []string{"flowsTo"}, joined: "flowsTo"},
		{name: "ordered", labels: []string{"contains", "flowsTo"}, joined: "contains,flowsTo"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := JoinLabels(c.labels)
			if got != c.joined {
				t.Errorf("JoinLabels(%v) = %q, want %q", c.labels, got, c.joined)
			}
			if diff := cmp.Diff(c.labels, SplitLabels(got)); diff != "" {
				t.Errorf("SplitLabels(%q) mismatch (-want +got):\n%s", got, diff)
			}
		})
	}
}

func TestAssetTwin(t *testing.T) {
	asset := Asset{
		ExternalID:       "site:north plant",
		ID:               42,
		Name:             "North Plant",
		Description:      "primary site",
		Metadata:         map[string]string{"serial number": "A-113"},
		ParentExternalID: "site:root",
	}
	want := Twin{
		ID:          "site*north_plant",
		Model:       ModelAsset,
		Name:        "North Plant",
		ExternalID:  "site:north plant",
		SourceID:    "42",
		Description: "primary site",
		Tags:        map[string]string{"serial_number": "A-113"},
	}
	got := AssetTwin(asset)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("AssetTwin mismatch (-want +got):\n%s", diff)
	}

	back := TwinAsset(got)
	asset.ParentExternalID = "" // parentage travels on edges, not on the twin
	if diff := cmp.Diff(asset, back); diff != "" {
		t.Errorf("TwinAsset mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeseriesTwin(t *testing.T) {
	ts := Timeseries{
		ExternalID:      "pump-7:temperature",
		ID:              7,
		Name:            "Pump 7 Temperature",
		AssetExternalID: "pump-7",
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := TimeseriesTwin(ts, &Datapoint{Timestamp: at, Value: "21.5"})
	if got.Model != ModelTimeseries {
		t.Errorf("Model = %q, want %q", got.Model, ModelTimeseries)
	}
	if got.LatestValue != "21.5" || !got.LatestTimestamp.Equal(at) {
		t.Errorf("latest = (%q, %v), want (%q, %v)", got.LatestValue, got.LatestTimestamp, "21.5", at)
	}

	bare := TimeseriesTwin(ts, nil)
	if bare.LatestValue != "" || !bare.LatestTimestamp.IsZero() {
		t.Errorf("twin of a series without datapoints carries a reading: (%q, %v)", bare.LatestValue, bare.LatestTimestamp)
	}
}

func TestRelationshipTwin(t *testing.T) {
	rel := Relationship{
		ExternalID:       "pump-7->valve 2",
		SourceExternalID: "pump-7",
		TargetExternalID: "valve 2",
		Labels:           []string{"contains", "flowsTo"},
	}
	got := RelationshipTwin(rel)
	want := TwinRelationship{
		ID:       "pump-7->valve_2",
		SourceID: "pump-7",
		TargetID: "valve_2",
		Name:     RelationshipRelatesTo,
		Labels:   "contains,flowsTo",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("RelationshipTwin mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rel.Labels, TwinRelationshipLabels(got)); diff != "" {
		t.Errorf("TwinRelationshipLabels mismatch (-want +got):\n%s", diff)
	}
}

func TestImplicitRelationships(t *testing.T) {
	parent := ParentRelationship("pump-7", "plant-1")
	if parent.ID != "pump-7->plant-1" || parent.Name != RelationshipParent {
		t.Errorf("ParentRelationship = %+v", parent)
	}
	contains := ContainsRelationship("pump-7", "pump-7-temperature")
	if contains.ID != "pump-7->pump-7-temperature" || contains.Name != RelationshipContains {
		t.Errorf("ContainsRelationship = %+v", contains)
	}
}
