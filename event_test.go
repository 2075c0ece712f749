package graphsync_test

import (
	"testing"
	"time"

	"github.com/go-digitaltwin/graphsync"
	"github.com/google/go-cmp/cmp"
)

func TestEventEncoding(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		event graphsync.TwinEvent
	}{
		{
			name: "twin create",
			event: graphsync.TwinEvent{
				Kind:    graphsync.TwinCreated,
				Subject: "pump-7",
				Model:   graphsync.ModelAsset,
				Time:    at,
				Twin: &graphsync.Twin{
					ID:    "pump-7",
					Model: graphsync.ModelAsset,
					Name:  "Pump 7",
					Tags:  map[string]string{"vendor": "acme"},
				},
			},
		},
		{
			name: "twin update",
			event: graphsync.TwinEvent{
				Kind:    graphsync.TwinUpdated,
				Subject: "pump-7-temp",
				Model:   graphsync.ModelTimeseries,
				Time:    at,
				Patch: []graphsync.PatchOp{
					{Op: "replace", Path: "/displayName", Value: "Pump 7 Temperature"},
					{Op: "replace", Path: "/latestValue", Value: 21.5},
					{Op: "add", Path: "/tags/values", Value: map[string]string{"unit": "celsius"}},
					{Op: "remove", Path: "/description"},
				},
			},
		},
		{
			name: "relationship delete",
			event: graphsync.TwinEvent{
				Kind:    graphsync.RelationshipDeleted,
				Subject: "pump-7->plant-1",
				Time:    at,
				Relationship: &graphsync.TwinRelationship{
					ID:       "pump-7->plant-1",
					SourceID: "pump-7",
					TargetID: "plant-1",
					Name:     graphsync.RelationshipParent,
				},
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := graphsync.EncodeEvent(c.event)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}
			got, err := graphsync.DecodeEvent(p)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			if diff := cmp.Diff(c.event, got); diff != "" {
				t.Errorf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeEventGarbage(t *testing.T) {
	if _, err := graphsync.DecodeEvent([]byte("not a twin event")); err == nil {
		t.Fatal("decoding garbage succeeded")
	}
}
