package neo4jtwins

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/graphsync"
)

func TestParseTwin(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	node := neo4j.Node{Props: map[string]any{
		"_twinId":         "pump-7",
		"model":           string(graphsync.ModelTimeseries),
		"name":            "Pump 7 Temperature",
		"externalId":      "pump-7:temperature",
		"sourceId":        "42",
		"description":     "feed pump probe",
		"tags":            `{"unit":"celsius"}`,
		"latestValue":     "21.5",
		"latestTimestamp": at,
	}}

	got, err := parseTwin(node)
	if err != nil {
		t.Fatalf("parseTwin failed: %v", err)
	}
	want := graphsync.Twin{
		ID:              "pump-7",
		Model:           graphsync.ModelTimeseries,
		Name:            "Pump 7 Temperature",
		ExternalID:      "pump-7:temperature",
		SourceID:        "42",
		Description:     "feed pump probe",
		Tags:            map[string]string{"unit": "celsius"},
		LatestValue:     "21.5",
		LatestTimestamp: at,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("twin mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTwinSparseNode(t *testing.T) {
	got, err := parseTwin(neo4j.Node{Props: map[string]any{"_twinId": "plant-1"}})
	if err != nil {
		t.Fatalf("parseTwin failed: %v", err)
	}
	if diff := cmp.Diff(graphsync.Twin{ID: "plant-1"}, got); diff != "" {
		t.Errorf("twin mismatch (-want +got):\n%s", diff)
	}

	// Tags written by older engine versions may hold a JSON null.
	got, err = parseTwin(neo4j.Node{Props: map[string]any{"_twinId": "plant-1", "tags": "null"}})
	if err != nil {
		t.Fatalf("parseTwin failed: %v", err)
	}
	if got.Tags != nil {
		t.Errorf("tags = %v, want none", got.Tags)
	}
}

func TestParseTwinRejectsMistypedNode(t *testing.T) {
	if _, err := parseTwin(neo4j.Node{Props: map[string]any{}}); err == nil {
		t.Error("node without a twin id parsed successfully")
	}
	if _, err := parseTwin(neo4j.Node{Props: map[string]any{"_twinId": int64(7)}}); err == nil {
		t.Error("node with a non-string twin id parsed successfully")
	}
}

func TestParseRelationship(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	edge := neo4j.Relationship{Props: map[string]any{
		"_relId":      "pump-7->plant-1",
		"name":        string(graphsync.RelationshipParent),
		"labels":      "",
		"_created_at": at,
	}}

	got, err := parseRelationship(edge, "pump-7", "plant-1")
	if err != nil {
		t.Fatalf("parseRelationship failed: %v", err)
	}
	want := graphsync.TwinRelationship{
		ID:        "pump-7->plant-1",
		SourceID:  "pump-7",
		TargetID:  "plant-1",
		Name:      graphsync.RelationshipParent,
		CreatedAt: at,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("relationship mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRecordProperty(t *testing.T) {
	record := &neo4j.Record{
		Keys:   []string{"id", "count"},
		Values: []any{"pump-7", int64(3)},
	}

	id, err := getRecordProperty[string](record, "id")
	if err != nil || id != "pump-7" {
		t.Errorf("getRecordProperty[string] = (%q, %v)", id, err)
	}
	if _, err := getRecordProperty[string](record, "missing"); err == nil {
		t.Error("missing record key produced a value")
	}
	if _, err := getRecordProperty[string](record, "count"); err == nil {
		t.Error("mistyped record value produced a value")
	}
}
