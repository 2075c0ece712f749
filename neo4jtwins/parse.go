package neo4jtwins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/graphsync"
)

// errPropertyNotFound reports a record or node property that a Cypher query
// was expected to produce but did not.
var errPropertyNotFound = errors.New("neo4jtwins: property not found")

type unexpectedPropertyTypeError struct {
	Value any
}

func (e unexpectedPropertyTypeError) Error() string {
	return fmt.Sprintf("neo4jtwins: unexpected property type %v", reflect.TypeOf(e.Value))
}

// The recordProperty interface defines generic constraints for values
// supported by getRecordProperty. This is a subset of all types supported
// by the neo4j package; when a new type is necessary, developers can simply
// add it to the list here.
type recordProperty interface {
	int64 | string | neo4j.Node | neo4j.Relationship | []any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Value: prop}
	}
	return v, nil
}

// safelyParseTwin parses a twin node with a possible panic due to developer
// errors. Developer errors happen when a developer changes a Cypher query
// or the node schema without adjusting the parsing code.
func safelyParseTwin(ctx context.Context, node neo4j.Node) (graphsync.Twin, error) {
	twin, err := parseTwin(node)
	if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		component.Logger(ctx).Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	}
	return twin, err
}

func parseTwin(node neo4j.Node) (graphsync.Twin, error) {
	id, err := stringProp(node.Props, "_twinId")
	if err != nil {
		return graphsync.Twin{}, fmt.Errorf("twin id: %w", err)
	}
	twin := graphsync.Twin{ID: id}
	if model, err := optionalStringProp(node.Props, "model"); err != nil {
		return twin, fmt.Errorf("model: %w", err)
	} else {
		twin.Model = graphsync.Model(model)
	}
	for key, dst := range map[string]*string{
		"name":        &twin.Name,
		"externalId":  &twin.ExternalID,
		"sourceId":    &twin.SourceID,
		"description": &twin.Description,
		"latestValue": &twin.LatestValue,
	} {
		v, err := optionalStringProp(node.Props, key)
		if err != nil {
			return twin, fmt.Errorf("%v: %w", key, err)
		}
		*dst = v
	}

	if tags, err := optionalStringProp(node.Props, "tags"); err != nil {
		return twin, fmt.Errorf("tags: %w", err)
	} else if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &twin.Tags); err != nil {
			return twin, fmt.Errorf("decode tags: %w", err)
		}
	}

	if ts, ok := node.Props["latestTimestamp"]; ok {
		t, err := timeProp(ts)
		if err != nil {
			return twin, fmt.Errorf("latestTimestamp: %w", err)
		}
		twin.LatestTimestamp = t
	}
	return twin, nil
}

func safelyParseRelationshipRecord(ctx context.Context, record *neo4j.Record) (graphsync.TwinRelationship, error) {
	rel, err := parseRelationshipRecord(record)
	if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		component.Logger(ctx).Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	}
	return rel, err
}

func parseRelationshipRecord(record *neo4j.Record) (graphsync.TwinRelationship, error) {
	edge, err := getRecordProperty[neo4j.Relationship](record, "e")
	if err != nil {
		return graphsync.TwinRelationship{}, fmt.Errorf("get edge: %w", err)
	}
	source, err := getRecordProperty[string](record, "source")
	if err != nil {
		return graphsync.TwinRelationship{}, fmt.Errorf("get source: %w", err)
	}
	target, err := getRecordProperty[string](record, "target")
	if err != nil {
		return graphsync.TwinRelationship{}, fmt.Errorf("get target: %w", err)
	}
	return parseRelationship(edge, source, target)
}

func safelyParseRelationshipTuple(ctx context.Context, tuple map[string]any) (graphsync.TwinRelationship, error) {
	rel, err := parseRelationshipTuple(tuple)
	if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		component.Logger(ctx).Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	}
	return rel, err
}

func parseRelationshipTuple(tuple map[string]any) (graphsync.TwinRelationship, error) {
	edge, ok := tuple["edge"].(neo4j.Relationship)
	if !ok {
		return graphsync.TwinRelationship{}, fmt.Errorf("edge: %w", unexpectedPropertyTypeError{Value: tuple["edge"]})
	}
	source, ok := tuple["source"].(string)
	if !ok {
		return graphsync.TwinRelationship{}, fmt.Errorf("source: %w", unexpectedPropertyTypeError{Value: tuple["source"]})
	}
	target, ok := tuple["target"].(string)
	if !ok {
		return graphsync.TwinRelationship{}, fmt.Errorf("target: %w", unexpectedPropertyTypeError{Value: tuple["target"]})
	}
	return parseRelationship(edge, source, target)
}

func parseRelationship(edge neo4j.Relationship, source, target string) (graphsync.TwinRelationship, error) {
	id, err := stringProp(edge.Props, "_relId")
	if err != nil {
		return graphsync.TwinRelationship{}, fmt.Errorf("relationship id: %w", err)
	}
	name, err := stringProp(edge.Props, "name")
	if err != nil {
		return graphsync.TwinRelationship{}, fmt.Errorf("relationship name: %w", err)
	}
	labels, err := optionalStringProp(edge.Props, "labels")
	if err != nil {
		return graphsync.TwinRelationship{}, fmt.Errorf("relationship labels: %w", err)
	}
	rel := graphsync.TwinRelationship{
		ID:       id,
		SourceID: source,
		TargetID: target,
		Name:     graphsync.RelationshipName(name),
		Labels:   labels,
	}
	if created, ok := edge.Props["_created_at"]; ok {
		t, err := timeProp(created)
		if err != nil {
			return rel, fmt.Errorf("relationship creation time: %w", err)
		}
		rel.CreatedAt = t
	}
	return rel, nil
}

func stringProp(props map[string]any, key string) (string, error) {
	v, ok := props[key]
	if !ok {
		return "", fmt.Errorf("%v: %w", key, errPropertyNotFound)
	}
	s, ok := v.(string)
	if !ok {
		return "", unexpectedPropertyTypeError{Value: v}
	}
	return s, nil
}

func optionalStringProp(props map[string]any, key string) (string, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", unexpectedPropertyTypeError{Value: v}
	}
	return s, nil
}

func timeProp(v any) (time.Time, error) {
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, unexpectedPropertyTypeError{Value: v}
	}
	return t, nil
}
