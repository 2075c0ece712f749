package graphsync

import (
	"strconv"
	"strings"
)

// JoinLabels renders relationship labels as a single comma-joined string
// for storage on a twin-graph edge. Order is preserved. Labels containing a
// comma are not supported by this encoding.
func JoinLabels(labels []string) string {
	return strings.Join(labels, ",")
}

// SplitLabels inverts JoinLabels. An empty string yields no labels.
func SplitLabels(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

// AssetTwin projects an asset onto its twin representation.
func AssetTwin(a Asset) Twin {
	return Twin{
		ID:          ToTwinID(a.ExternalID),
		Model:       ModelAsset,
		Name:        a.Name,
		ExternalID:  a.ExternalID,
		SourceID:    strconv.FormatInt(a.ID, 10),
		Description: a.Description,
		Tags:        NormalizeTags(a.Metadata),
	}
}

// TwinAsset recovers an asset from its twin representation. The numeric
// handle is parsed best-effort; a twin created on the twin side first has
// none yet.
func TwinAsset(t Twin) Asset {
	id, _ := strconv.ParseInt(t.SourceID, 10, 64)
	externalID := t.ExternalID
	if externalID == "" {
		externalID = FromTwinID(t.ID)
	}
	return Asset{
		ExternalID:  externalID,
		ID:          id,
		Name:        t.Name,
		Description: t.Description,
		Metadata:    DenormalizeTags(t.Tags),
	}
}

// TimeseriesTwin projects a timeseries onto its twin representation. The
// latest datapoint, when known, is surfaced on the twin so that dashboards
// reading the mirror see the current value without touching the source.
func TimeseriesTwin(ts Timeseries, latest *Datapoint) Twin {
	t := Twin{
		ID:          ToTwinID(ts.ExternalID),
		Model:       ModelTimeseries,
		Name:        ts.Name,
		ExternalID:  ts.ExternalID,
		SourceID:    strconv.FormatInt(ts.ID, 10),
		Description: ts.Description,
		Tags:        NormalizeTags(ts.Metadata),
	}
	if latest != nil {
		t.LatestValue = latest.Value
		t.LatestTimestamp = latest.Timestamp
	}
	return t
}

// TwinTimeseries recovers a timeseries from its twin representation.
func TwinTimeseries(t Twin) Timeseries {
	id, _ := strconv.ParseInt(t.SourceID, 10, 64)
	externalID := t.ExternalID
	if externalID == "" {
		externalID = FromTwinID(t.ID)
	}
	return Timeseries{
		ExternalID:  externalID,
		ID:          id,
		Name:        t.Name,
		Description: t.Description,
		Metadata:    DenormalizeTags(t.Tags),
	}
}

// RelationshipTwin projects an explicit source relationship onto a relatesTo
// edge. The edge keeps the relationship's own external identifier so that
// reverse-flow deletes can be matched back.
func RelationshipTwin(r Relationship) TwinRelationship {
	return TwinRelationship{
		ID:       ToTwinID(r.ExternalID),
		SourceID: ToTwinID(r.SourceExternalID),
		TargetID: ToTwinID(r.TargetExternalID),
		Name:     RelationshipRelatesTo,
		Labels:   JoinLabels(r.Labels),
	}
}

// TwinRelationshipLabels recovers the label list of a relatesTo edge.
func TwinRelationshipLabels(r TwinRelationship) []string {
	return SplitLabels(r.Labels)
}

// ImplicitRelationshipID derives the identifier of an edge that has no
// explicit source-graph counterpart.
func ImplicitRelationshipID(sourceTwinID, targetTwinID string) string {
	return sourceTwinID + "->" + targetTwinID
}

// ParentRelationship builds the containment edge from a child asset twin to
// its parent asset twin.
func ParentRelationship(childTwinID, parentTwinID string) TwinRelationship {
	return TwinRelationship{
		ID:       ImplicitRelationshipID(childTwinID, parentTwinID),
		SourceID: childTwinID,
		TargetID: parentTwinID,
		Name:     RelationshipParent,
	}
}

// ContainsRelationship builds the attachment edge from an asset twin to a
// timeseries twin.
func ContainsRelationship(assetTwinID, timeseriesTwinID string) TwinRelationship {
	return TwinRelationship{
		ID:       ImplicitRelationshipID(assetTwinID, timeseriesTwinID),
		SourceID: assetTwinID,
		TargetID: timeseriesTwinID,
		Name:     RelationshipContains,
	}
}
