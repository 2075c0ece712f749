package graphsync

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that a requested entity does not exist in the graph
// that was asked for it. Client implementations must return it (possibly
// wrapped) from every lookup of a missing asset, timeseries, relationship,
// twin or datapoint, so that callers can distinguish absence from failure.
var ErrNotFound = errors.New("graphsync: not found")

// ErrReconcileInProgress reports that a forward pass was requested while a
// previous pass on the same Reconciler is still running.
var ErrReconcileInProgress = errors.New("graphsync: reconciliation already in progress")

// Model identifies the kind of entity a twin mirrors.
type Model string

// The two twin models of the mirror. The identifiers follow the DTMI
// convention of the twin platform the mirror was built for.
const (
	ModelAsset      Model = "dtmi:digitaltwins:cognite:cdf:Asset;1"
	ModelTimeseries Model = "dtmi:digitaltwins:cognite:cdf:TimeSeries;1"
)

// RelationshipName is the type discriminator of a twin-graph edge.
type RelationshipName string

// The three edge types of the mirror.
//
// RelationshipParent points from a child asset twin to its parent asset
// twin. RelationshipContains points from an asset twin to a timeseries twin
// attached to it. RelationshipRelatesTo mirrors an explicit source-graph
// relationship and is the only edge type that carries labels.
const (
	RelationshipParent    RelationshipName = "parent"
	RelationshipContains  RelationshipName = "contains"
	RelationshipRelatesTo RelationshipName = "relatesTo"
)

// Asset is a node of the source graph. The ExternalID is the immutable
// identity; ID is an opaque numeric handle assigned by the source platform.
type Asset struct {
	ExternalID       string
	ID               int64
	Name             string
	Description      string
	Metadata         map[string]string
	ParentExternalID string
}

// Relationship is an explicit, labelled edge of the source graph between two
// assets. Labels are ordered and preserved through the mirror.
type Relationship struct {
	ExternalID       string
	SourceExternalID string
	TargetExternalID string
	Labels           []string
}

// Timeseries is a measurement stream of the source graph, attached to at
// most one asset. IsString reports the value type of the series; it is
// fixed once the first datapoint has been written.
type Timeseries struct {
	ExternalID      string
	ID              int64
	Name            string
	Description     string
	Metadata        map[string]string
	AssetExternalID string
	IsString        bool
}

// Datapoint is a single timestamped value of a timeseries. Value always
// carries the textual rendering; for numeric series it parses as a float.
type Datapoint struct {
	Timestamp time.Time
	Value     string
}

// Twin is a node of the twin graph, mirroring one asset or one timeseries.
//
// ID is the normalized twin identifier (see ToTwinID) and ExternalID keeps
// the raw source identifier so that the reverse flow can find the source
// entity even when normalization was lossy. SourceID renders the numeric
// source handle; it is informational and never written back.
type Twin struct {
	ID              string
	Model           Model
	Name            string
	ExternalID      string
	SourceID        string
	Description     string
	Tags            map[string]string
	LatestValue     string
	LatestTimestamp time.Time
}

// TwinRelationship is a typed edge of the twin graph.
//
// Labels is the comma-joined rendering of the mirrored relationship labels
// and is only populated on relatesTo edges. CreatedAt is stamped by the
// twin-graph engine on creation and orders edges when a cardinality
// conflict must be resolved.
type TwinRelationship struct {
	ID        string
	SourceID  string
	TargetID  string
	Name      RelationshipName
	Labels    string
	CreatedAt time.Time
}

// State is a snapshot of one subtree of the twin graph, keyed by twin ID
// and relationship ID respectively.
type State struct {
	Twins         map[string]Twin
	Relationships map[string]TwinRelationship
}

// NewState returns an empty State with both maps allocated.
func NewState() State {
	return State{
		Twins:         make(map[string]Twin),
		Relationships: make(map[string]TwinRelationship),
	}
}

// TypeConflictError reports an attempt to write a datapoint whose value type
// contradicts the established type of the timeseries.
type TypeConflictError struct {
	TimeseriesExternalID string
	// SeriesIsString is the established type of the series.
	SeriesIsString bool
}

func (e *TypeConflictError) Error() string {
	if e.SeriesIsString {
		return fmt.Sprintf("graphsync: numeric datapoint for string timeseries %q", e.TimeseriesExternalID)
	}
	return fmt.Sprintf("graphsync: string datapoint for numeric timeseries %q", e.TimeseriesExternalID)
}
