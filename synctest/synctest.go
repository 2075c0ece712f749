/*
Package synctest provides in-memory implementations of the graphsync client
interfaces and a suite of tests designed to assess twin-graph stores (e.g.
in-memory, neo4j).

The suite operates on the specific store via the [graphsync.TwinClient]
interface to check functional correctness and compliance with the behaviours
defined by that interface.

Call synctest.Run in its own test to invoke the test-suite:

	func TestStore(t *testing.T) {
		store := NewStore(...) // Create the twin-graph store under test.
		synctest.Run(t, store)
	}

The test cases focus on the basic store operations: writing and reading
twins and edges, cascade behaviour of twin deletes, and projecting a
subtree. Specific stores are encouraged to perform additional tests which
are specific to the underlying database.
*/
package synctest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/graphsync"
)

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// step executes a single modification on the tested store.
	step func(ctx context.Context, c graphsync.TwinClient) error
	// check inspects the store after the step succeeded. The state of the
	// store carries over from previous test-cases.
	check func(ctx context.Context, c graphsync.TwinClient) error
}

var cases = []testCase{
	{
		name:     "twin-of-empty-store",
		location: locateSource(),
		step:     func(ctx context.Context, c graphsync.TwinClient) error { return nil },
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			_, err := c.Twin(ctx, "plant-1")
			return wantNotFound(err)
		},
	},
	{
		name:     "upsert-twin",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			return c.UpsertTwin(ctx, twin("plant-1"))
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			got, err := c.Twin(ctx, "plant-1")
			if err != nil {
				return err
			}
			if diff := cmp.Diff(twin("plant-1"), got); diff != "" {
				return fmt.Errorf("twin mismatch (-want +got):\n%s", diff)
			}
			return nil
		},
	},
	{
		name:     "upsert-twin-replaces",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			changed := twin("plant-1")
			changed.Description = "north site"
			return c.UpsertTwin(ctx, changed)
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			got, err := c.Twin(ctx, "plant-1")
			if err != nil {
				return err
			}
			if got.Description != "north site" {
				return fmt.Errorf("description = %q, want %q", got.Description, "north site")
			}
			return nil
		},
	},
	{
		name:     "upsert-relationship-stamps-creation",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			if err := c.UpsertTwin(ctx, twin("pump-7")); err != nil {
				return err
			}
			return c.UpsertRelationship(ctx, graphsync.ParentRelationship("pump-7", "plant-1"))
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			rels, err := c.Relationships(ctx, "pump-7")
			if err != nil {
				return err
			}
			if len(rels) != 1 {
				return fmt.Errorf("got %d outgoing edges, want 1", len(rels))
			}
			if rels[0].CreatedAt.IsZero() {
				return fmt.Errorf("edge %q has no creation time", rels[0].ID)
			}
			return nil
		},
	},
	{
		name:     "upsert-relationship-preserves-creation",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			if err := c.UpsertTwin(ctx, twin("valve-2")); err != nil {
				return err
			}
			rel := graphsync.TwinRelationship{
				ID:       "pump-7-relates-valve-2",
				SourceID: "pump-7",
				TargetID: "valve-2",
				Name:     graphsync.RelationshipRelatesTo,
				Labels:   "flowsTo",
			}
			if err := c.UpsertRelationship(ctx, rel); err != nil {
				return err
			}
			rel.Labels = "flowsTo,feeds"
			return c.UpsertRelationship(ctx, rel)
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			rels, err := c.Relationships(ctx, "pump-7")
			if err != nil {
				return err
			}
			for _, r := range rels {
				if r.ID != "pump-7-relates-valve-2" {
					continue
				}
				if r.Labels != "flowsTo,feeds" {
					return fmt.Errorf("labels = %q, want %q", r.Labels, "flowsTo,feeds")
				}
				if r.CreatedAt.IsZero() {
					return fmt.Errorf("label update lost the creation time")
				}
				return nil
			}
			return fmt.Errorf("edge %q not found", "pump-7-relates-valve-2")
		},
	},
	{
		name:     "incoming-relationships",
		location: locateSource(),
		step:     func(ctx context.Context, c graphsync.TwinClient) error { return nil },
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			rels, err := c.IncomingRelationships(ctx, "plant-1")
			if err != nil {
				return err
			}
			if len(rels) != 1 || rels[0].Name != graphsync.RelationshipParent {
				return fmt.Errorf("incoming edges of plant-1 = %v, want one parent edge", rels)
			}
			return nil
		},
	},
	{
		name:     "bulk-read-skips-missing",
		location: locateSource(),
		step:     func(ctx context.Context, c graphsync.TwinClient) error { return nil },
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			twins, err := c.TwinsByID(ctx, []string{"plant-1", "no-such-twin", "pump-7"})
			if err != nil {
				return err
			}
			if len(twins) != 2 {
				return fmt.Errorf("got %d twins, want 2", len(twins))
			}
			return nil
		},
	},
	{
		name:     "projected-subtree",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			ts := twin("pump-7-temperature")
			ts.Model = graphsync.ModelTimeseries
			if err := c.UpsertTwin(ctx, ts); err != nil {
				return err
			}
			return c.UpsertRelationship(ctx, graphsync.ContainsRelationship("pump-7", "pump-7-temperature"))
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			state, err := c.ProjectedSubtree(ctx, "plant-1")
			if err != nil {
				return err
			}
			wantTwins := []string{"plant-1", "pump-7", "pump-7-temperature"}
			for _, id := range wantTwins {
				if _, ok := state.Twins[id]; !ok {
					return fmt.Errorf("subtree misses twin %q", id)
				}
			}
			// valve-2 hangs off a relatesTo edge only and is not part of the
			// containment subtree.
			if _, ok := state.Twins["valve-2"]; ok {
				return fmt.Errorf("subtree includes twin %q reachable only through relatesTo", "valve-2")
			}
			if len(state.Relationships) != 2 {
				return fmt.Errorf("got %d subtree edges, want 2", len(state.Relationships))
			}
			return nil
		},
	},
	{
		name:     "delete-relationship",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			return c.DeleteRelationship(ctx, graphsync.TwinRelationship{
				ID:       "pump-7-relates-valve-2",
				SourceID: "pump-7",
				TargetID: "valve-2",
				Name:     graphsync.RelationshipRelatesTo,
			})
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			rels, err := c.Relationships(ctx, "pump-7")
			if err != nil {
				return err
			}
			for _, r := range rels {
				if r.ID == "pump-7-relates-valve-2" {
					return fmt.Errorf("edge %q survived its delete", r.ID)
				}
			}
			return nil
		},
	},
	{
		// The differ moves an edge by deleting it and rewriting it with the
		// same identifier and new endpoints; the store must end up with a
		// single edge at the new endpoints.
		name:     "reused-relationship-id-moves-endpoints",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			rel := graphsync.TwinRelationship{
				ID:       "pump-7-relates-valve-2",
				SourceID: "pump-7",
				TargetID: "valve-2",
				Name:     graphsync.RelationshipRelatesTo,
			}
			if err := c.UpsertRelationship(ctx, rel); err != nil {
				return err
			}
			if err := c.DeleteRelationship(ctx, rel); err != nil {
				return err
			}
			rel.TargetID = "plant-1"
			return c.UpsertRelationship(ctx, rel)
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			rels, err := c.Relationships(ctx, "pump-7")
			if err != nil {
				return err
			}
			var moved []graphsync.TwinRelationship
			for _, r := range rels {
				if r.ID == "pump-7-relates-valve-2" {
					moved = append(moved, r)
				}
			}
			if len(moved) != 1 {
				return fmt.Errorf("got %d edges with the reused id, want 1", len(moved))
			}
			if moved[0].TargetID != "plant-1" {
				return fmt.Errorf("reused edge targets %q, want %q", moved[0].TargetID, "plant-1")
			}
			return nil
		},
	},
	{
		name:     "delete-twin-detaches-edges",
		location: locateSource(),
		step: func(ctx context.Context, c graphsync.TwinClient) error {
			return c.DeleteTwin(ctx, "pump-7")
		},
		check: func(ctx context.Context, c graphsync.TwinClient) error {
			if _, err := c.Twin(ctx, "pump-7"); wantNotFound(err) != nil {
				return fmt.Errorf("deleted twin still readable: %w", err)
			}
			rels, err := c.IncomingRelationships(ctx, "plant-1")
			if err != nil {
				return err
			}
			if len(rels) != 0 {
				return fmt.Errorf("edges of a deleted twin survived: %v", rels)
			}
			return nil
		},
	},
}

// Run executes a sequence of test cases on a twin-graph store. The cases
// run in a strict sequence because the state of the store at the end of one
// case is the starting point for the next; a case cannot run if a previous
// step failed.
//
// We deliberately use the background context because this test-suite does
// not check performance, and store implementations should not depend on
// specific context values.
func Run(t *testing.T, client graphsync.TwinClient) {
	t.Helper()

	ctx := context.Background()

	for _, c := range cases {
		t.Logf("Read the source for test-case %v at %v", c.name, c.location)
		if err := c.step(ctx, client); err != nil {
			t.Fatalf("Step of %v failed: %v", c.name, err)
		}
		if err := c.check(ctx, client); err != nil {
			t.Errorf("Check of %v: %v", c.name, err)
		}
	}
}

func twin(id string) graphsync.Twin {
	return graphsync.Twin{
		ID:         id,
		Model:      graphsync.ModelAsset,
		Name:       id,
		ExternalID: graphsync.FromTwinID(id),
	}
}

func wantNotFound(err error) error {
	if err == nil {
		return fmt.Errorf("lookup succeeded, want %v", graphsync.ErrNotFound)
	}
	if !errors.Is(err, graphsync.ErrNotFound) {
		return fmt.Errorf("lookup failed with %v, want %v", err, graphsync.ErrNotFound)
	}
	return nil
}

// Call this function to set the location of every test-case in the source
// file. The returned string is used to guide developers of twin-graph
// stores to the appropriate test-case.
func locateSource() (path string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}
