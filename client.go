package graphsync

import (
	"context"
	"time"
)

// SourceClient is the surface of the source graph the engine depends on.
// Implementations wrap the industrial data platform's API.
//
// Every lookup of a missing entity returns an error wrapping [ErrNotFound].
type SourceClient interface {
	// Asset returns a single asset by external ID.
	Asset(ctx context.Context, externalID string) (Asset, error)
	// AssetSubtree returns the root asset and all of its descendants.
	AssetSubtree(ctx context.Context, rootExternalID string) ([]Asset, error)
	CreateAsset(ctx context.Context, a Asset) error
	UpdateAsset(ctx context.Context, a Asset) error
	// SetAssetParent moves the asset under a new parent without touching
	// its other fields.
	SetAssetParent(ctx context.Context, externalID, parentExternalID string) error
	DeleteAsset(ctx context.Context, externalID string) error

	// RelationshipsBetween returns the explicit relationships whose source
	// and target both belong to the given assets. Implementations must
	// chunk requests larger than [MaxQueryIdentifiers].
	RelationshipsBetween(ctx context.Context, assetExternalIDs []string) ([]Relationship, error)
	Relationship(ctx context.Context, externalID string) (Relationship, error)
	CreateRelationship(ctx context.Context, r Relationship) error
	UpdateRelationshipLabels(ctx context.Context, externalID string, labels []string) error
	DeleteRelationship(ctx context.Context, externalID string) error

	// HasLabel reports whether a label definition exists in the platform's
	// label registry. CreateLabel registers one.
	HasLabel(ctx context.Context, label string) (bool, error)
	CreateLabel(ctx context.Context, label string) error

	Timeseries(ctx context.Context, externalID string) (Timeseries, error)
	// TimeseriesByAssets returns the timeseries attached to the given
	// assets, chunked like RelationshipsBetween.
	TimeseriesByAssets(ctx context.Context, assetExternalIDs []string) ([]Timeseries, error)
	CreateTimeseries(ctx context.Context, ts Timeseries) error
	UpdateTimeseries(ctx context.Context, ts Timeseries) error
	// SetTimeseriesAsset reattaches the timeseries to another asset.
	SetTimeseriesAsset(ctx context.Context, externalID, assetExternalID string) error
	DeleteTimeseries(ctx context.Context, externalID string) error

	// LatestDatapoint returns the newest datapoint of a timeseries, or an
	// error wrapping [ErrNotFound] if the series has none.
	LatestDatapoint(ctx context.Context, externalID string) (Datapoint, error)
	InsertDatapoint(ctx context.Context, externalID string, dp Datapoint) error
}

// QueryRecord is one row of an ad-hoc twin-graph query, keyed by the
// projection names of the query text.
type QueryRecord map[string]any

// TwinClient is the surface of the twin graph the engine depends on.
//
// Deleting a twin detaches its edges; the twin graph cascades where the
// source graph does not, and callers must not rely on dangling edges
// surviving a twin delete.
type TwinClient interface {
	Twin(ctx context.Context, twinID string) (Twin, error)
	// TwinsByID bulk-reads twins, silently skipping identifiers that do not
	// exist. Implementations must chunk requests larger than
	// [MaxQueryIdentifiers].
	TwinsByID(ctx context.Context, twinIDs []string) ([]Twin, error)
	// UpsertTwin creates or replaces a twin by ID.
	UpsertTwin(ctx context.Context, t Twin) error
	DeleteTwin(ctx context.Context, twinID string) error

	// Relationships returns the outgoing edges of a twin;
	// IncomingRelationships the incoming ones.
	Relationships(ctx context.Context, twinID string) ([]TwinRelationship, error)
	IncomingRelationships(ctx context.Context, twinID string) ([]TwinRelationship, error)
	// RelationshipsFrom bulk-reads the outgoing edges of many twins,
	// chunked like TwinsByID.
	RelationshipsFrom(ctx context.Context, twinIDs []string) ([]TwinRelationship, error)
	// UpsertRelationship creates the edge or, when an edge with the same ID
	// and endpoints exists, replaces its labels. CreatedAt is stamped by
	// the engine on creation and preserved on update.
	UpsertRelationship(ctx context.Context, r TwinRelationship) error
	DeleteRelationship(ctx context.Context, r TwinRelationship) error

	// ProjectedSubtree returns the twins reachable from the root by
	// following parent edges upstream (children of children) together with
	// their attached timeseries twins and every edge among the collected
	// twins. It is the mirror-side snapshot the differ consumes.
	ProjectedSubtree(ctx context.Context, rootTwinID string) (State, error)

	// Query runs a caller-rendered query (see [ExpandQuery]) and returns
	// its rows.
	Query(ctx context.Context, query string) ([]QueryRecord, error)
}

// Checkpointer records when a root asset was last reconciled. The forward
// pass consults it for the consistency check and updates it after every
// successful run.
type Checkpointer interface {
	LastRun(ctx context.Context, rootExternalID string) (time.Time, error)
	RecordRun(ctx context.Context, rootExternalID string, at time.Time) error
}
