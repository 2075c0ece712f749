// Package neo4jtwins implements the graphsync twin-graph client on a Neo4j
// database.
//
// Twins are stored as nodes with the Twin label, keyed by the _twinId
// property. Every edge uses the single SYNCS relationship type and is
// discriminated by its name property; the edge identifier lives in _relId
// and the engine stamps _created_at on creation. Tags are persisted as a
// JSON document in the tags property because Neo4j properties cannot hold
// nested maps.
package neo4jtwins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/graphsync"
)

// Store implements [graphsync.TwinClient] on a Neo4j database. Every
// operation opens its own session against the configured database.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewStore returns a Store operating on the named database. Call
// [Bootstrap] once before the first use of a database.
func NewStore(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

func (s *Store) Twin(ctx context.Context, twinID string) (graphsync.Twin, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	twin, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (graphsync.Twin, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:Twin {_twinId: $id})
			RETURN t
		`, map[string]any{"id": twinID})
		if err != nil {
			return graphsync.Twin{}, fmt.Errorf("run cypher: %w", err)
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return graphsync.Twin{}, fmt.Errorf("iterate twins: %w", err)
			}
			return graphsync.Twin{}, fmt.Errorf("twin %q: %w", twinID, graphsync.ErrNotFound)
		}
		node, err := getRecordProperty[neo4j.Node](result.Record(), "t")
		if err != nil {
			return graphsync.Twin{}, fmt.Errorf("get twin node: %w", err)
		}
		return safelyParseTwin(ctx, node)
	})
	if err != nil {
		return graphsync.Twin{}, err
	}
	return twin, nil
}

func (s *Store) TwinsByID(ctx context.Context, twinIDs []string) ([]graphsync.Twin, error) {
	return graphsync.Batched(ctx, twinIDs, func(ctx context.Context, chunk []string) ([]graphsync.Twin, error) {
		session := s.session(ctx, neo4j.AccessModeRead)
		defer func() { _ = session.Close(ctx) }()

		return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]graphsync.Twin, error) {
			result, err := tx.Run(ctx, `
				MATCH (t:Twin)
				WHERE t._twinId IN $ids
				RETURN t
			`, map[string]any{"ids": chunk})
			if err != nil {
				return nil, fmt.Errorf("run cypher: %w", err)
			}
			var twins []graphsync.Twin
			for result.Next(ctx) {
				node, err := getRecordProperty[neo4j.Node](result.Record(), "t")
				if err != nil {
					return nil, fmt.Errorf("get twin node: %w", err)
				}
				twin, err := safelyParseTwin(ctx, node)
				if err != nil {
					return nil, err
				}
				twins = append(twins, twin)
			}
			if err := result.Err(); err != nil {
				return nil, fmt.Errorf("iterate twins: %w", err)
			}
			return twins, nil
		})
	})
}

func (s *Store) UpsertTwin(ctx context.Context, t graphsync.Twin) error {
	props, err := formatTwin(t)
	if err != nil {
		return fmt.Errorf("format twin %q: %w", t.ID, err)
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	_, err = neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (t:Twin {_twinId: $id})
			ON CREATE SET t._created_at = datetime()
			SET t += $props, t._last_modified = datetime()
			RETURN count(t) AS nodes
		`, map[string]any{"id": t.ID, "props": props})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		nodes, err := getRecordProperty[int64](record, "nodes")
		if err != nil {
			return nil, fmt.Errorf("get nodes: %w", err)
		}
		// A twin is represented by exactly one node. If the query touched
		// more than one, the graph has lost its integrity and we cannot
		// continue to operate on it.
		if nodes != 1 {
			panicWithCorruptedGraph(ctx, fmt.Sprintf("upsert-twin modified %v nodes instead of 1", nodes))
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert twin %q: %w", t.ID, err)
	}
	return nil
}

func (s *Store) DeleteTwin(ctx context.Context, twinID string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:Twin {_twinId: $id})
			DETACH DELETE t
			RETURN count(t) AS nodes
		`, map[string]any{"id": twinID})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		nodes, err := getRecordProperty[int64](record, "nodes")
		if err != nil {
			return nil, fmt.Errorf("get nodes: %w", err)
		}
		if nodes == 0 {
			return nil, fmt.Errorf("twin %q: %w", twinID, graphsync.ErrNotFound)
		}
		if nodes != 1 {
			panicWithCorruptedGraph(ctx, fmt.Sprintf("delete-twin modified %v nodes instead of 1", nodes))
		}
		return nil, nil
	})
	return err
}

func (s *Store) Relationships(ctx context.Context, twinID string) ([]graphsync.TwinRelationship, error) {
	return s.readRelationships(ctx, `
		MATCH (s:Twin {_twinId: $id})-[e:SYNCS]->(d:Twin)
		RETURN e, s._twinId AS source, d._twinId AS target
	`, map[string]any{"id": twinID})
}

func (s *Store) IncomingRelationships(ctx context.Context, twinID string) ([]graphsync.TwinRelationship, error) {
	return s.readRelationships(ctx, `
		MATCH (s:Twin)-[e:SYNCS]->(d:Twin {_twinId: $id})
		RETURN e, s._twinId AS source, d._twinId AS target
	`, map[string]any{"id": twinID})
}

func (s *Store) RelationshipsFrom(ctx context.Context, twinIDs []string) ([]graphsync.TwinRelationship, error) {
	return graphsync.Batched(ctx, twinIDs, func(ctx context.Context, chunk []string) ([]graphsync.TwinRelationship, error) {
		return s.readRelationships(ctx, `
			MATCH (s:Twin)-[e:SYNCS]->(d:Twin)
			WHERE s._twinId IN $ids
			RETURN e, s._twinId AS source, d._twinId AS target
		`, map[string]any{"ids": chunk})
	})
}

func (s *Store) readRelationships(ctx context.Context, query string, params map[string]any) ([]graphsync.TwinRelationship, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]graphsync.TwinRelationship, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		var rels []graphsync.TwinRelationship
		for result.Next(ctx) {
			rel, err := safelyParseRelationshipRecord(ctx, result.Record())
			if err != nil {
				return nil, err
			}
			rels = append(rels, rel)
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("iterate relationships: %w", err)
		}
		return rels, nil
	})
}

func (s *Store) UpsertRelationship(ctx context.Context, r graphsync.TwinRelationship) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:Twin {_twinId: $source}), (d:Twin {_twinId: $target})
			MERGE (s)-[e:SYNCS {_relId: $id}]->(d)
			ON CREATE SET e._created_at = datetime()
			SET e.name = $name, e.labels = $labels, e._last_modified = datetime()
			RETURN count(e) AS edges
		`, map[string]any{
			"id":     r.ID,
			"source": r.SourceID,
			"target": r.TargetID,
			"name":   string(r.Name),
			"labels": r.Labels,
		})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, fmt.Errorf("iterate edges: %w", err)
			}
			// MATCH produced no rows, so at least one endpoint is gone.
			return nil, fmt.Errorf("endpoints of %q: %w", r.ID, graphsync.ErrNotFound)
		}
		edges, err := getRecordProperty[int64](result.Record(), "edges")
		if err != nil {
			return nil, fmt.Errorf("get edges: %w", err)
		}
		if edges != 1 {
			panicWithCorruptedGraph(ctx, fmt.Sprintf("upsert-relationship modified %v edges instead of 1", edges))
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert relationship %q: %w", r.ID, err)
	}
	return nil
}

func (s *Store) DeleteRelationship(ctx context.Context, r graphsync.TwinRelationship) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH ()-[e:SYNCS {_relId: $id}]->()
			DELETE e
			RETURN count(e) AS edges
		`, map[string]any{"id": r.ID})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		edges, err := getRecordProperty[int64](record, "edges")
		if err != nil {
			return nil, fmt.Errorf("get edges: %w", err)
		}
		if edges == 0 {
			return nil, fmt.Errorf("relationship %q: %w", r.ID, graphsync.ErrNotFound)
		}
		if edges != 1 {
			panicWithCorruptedGraph(ctx, fmt.Sprintf("delete-relationship modified %v edges instead of 1", edges))
		}
		return nil, nil
	})
	return err
}

// ProjectedSubtree walks the containment structure downwards from the root:
// twins connected to the root through chains of parent edges, the
// timeseries twins attached to any of them, and every edge among the
// collected twins.
func (s *Store) ProjectedSubtree(ctx context.Context, rootTwinID string) (graphsync.State, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (graphsync.State, error) {
		state := graphsync.NewState()

		result, err := tx.Run(ctx, `
			MATCH (root:Twin {_twinId: $root})
			MATCH (n:Twin)-[:SYNCS*0.. {name: 'parent'}]->(root)
			WITH collect(DISTINCT n) AS assets
			OPTIONAL MATCH (a)-[:SYNCS {name: 'contains'}]->(ts:Twin)
			WHERE a IN assets
			WITH assets + collect(DISTINCT ts) AS twins
			OPTIONAL MATCH (s)-[e:SYNCS]->(d)
			WHERE s IN twins AND d IN twins
			RETURN twins, collect(DISTINCT {edge: e, source: s._twinId, target: d._twinId}) AS edges
		`, map[string]any{"root": rootTwinID})
		if err != nil {
			return state, fmt.Errorf("run cypher: %w", err)
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return state, fmt.Errorf("iterate subtree: %w", err)
			}
			// No root twin yet; the projection is empty.
			return state, nil
		}
		record := result.Record()

		nodes, err := getRecordProperty[[]any](record, "twins")
		if err != nil {
			return state, fmt.Errorf("get twins: %w", err)
		}
		for _, n := range nodes {
			node, ok := n.(neo4j.Node)
			if !ok {
				return state, fmt.Errorf("twin node: %w", unexpectedPropertyTypeError{Value: n})
			}
			twin, err := safelyParseTwin(ctx, node)
			if err != nil {
				return state, err
			}
			state.Twins[twin.ID] = twin
		}

		edges, err := getRecordProperty[[]any](record, "edges")
		if err != nil {
			return state, fmt.Errorf("get edges: %w", err)
		}
		for _, e := range edges {
			tuple, ok := e.(map[string]any)
			if !ok {
				return state, fmt.Errorf("edge tuple: %w", unexpectedPropertyTypeError{Value: e})
			}
			// Subtrees without any edges collect a single null tuple.
			if tuple["edge"] == nil {
				continue
			}
			rel, err := safelyParseRelationshipTuple(ctx, tuple)
			if err != nil {
				return state, err
			}
			state.Relationships[rel.ID] = rel
		}
		return state, nil
	})
}

// Query runs a caller-rendered Cypher query (see [graphsync.ExpandQuery])
// and returns its rows keyed by the query's projection names.
func (s *Store) Query(ctx context.Context, query string) ([]graphsync.QueryRecord, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]graphsync.QueryRecord, error) {
		result, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		var records []graphsync.QueryRecord
		for result.Next(ctx) {
			record := result.Record()
			row := make(graphsync.QueryRecord, len(record.Keys))
			for _, key := range record.Keys {
				row[key], _ = record.Get(key)
			}
			records = append(records, row)
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("iterate records: %w", err)
		}
		return records, nil
	})
}

// formatTwin renders the flat property map of a twin node. Tags travel as a
// JSON document.
func formatTwin(t graphsync.Twin) (map[string]any, error) {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	props := map[string]any{
		"model":       string(t.Model),
		"name":        t.Name,
		"externalId":  t.ExternalID,
		"sourceId":    t.SourceID,
		"description": t.Description,
		"tags":        string(tags),
		"latestValue": t.LatestValue,
	}
	if !t.LatestTimestamp.IsZero() {
		props["latestTimestamp"] = t.LatestTimestamp
	}
	return props, nil
}

// We modify the underlying neo4j graph database in a way that prompts us
// when the graph violates some of our basic constraints.
//
// When we suspect the graph has lost its integrity, we may no longer
// operate on it. In which case, we must immediately stop all operations.
// This is achieved with a panic preceded by telemetry signals to bring the
// situation to our immediate attention.
func panicWithCorruptedGraph(ctx context.Context, reason string) {
	component.Logger(ctx).ErrorContext(ctx, "Encountered corrupted neo4j graph that violates twin-mirror axioms", "error", reason)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)
	panic(fmt.Errorf("neo4j graph violates twin-mirror axioms: %v", reason))
}
