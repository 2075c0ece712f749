package neo4jtwins

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Bootstrap creates the database and the constraints a twin mirror needs.
//
// The twin identifier is constrained as a node key to prevent duplicate
// twins (caused by concurrent MERGEs), and indexed by the same constraint
// for optimised lookups.
//
// To execute queries against the created database, open a session with the
// database name as the default database, or use [NewStore] which does so
// per operation.
//
// This function is idempotent.
func Bootstrap(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	// we use key constraint instead of uniqueness constraint because we can
	// (it is only available in the enterprise edition).
	_, err := s.Run(ctx, `
		CREATE CONSTRAINT IF NOT EXISTS
		FOR (t:Twin)
		REQUIRE t._twinId IS NODE KEY
	`, nil)
	if err != nil {
		return fmt.Errorf("twin key constraint: %w", err)
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jtwins: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jtwins: database name must not be neo4j: reserved for system database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jtwins: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	// create a new database if it does not exist
	_, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS
		`, map[string]any{
		"name": name,
	})
	return err
}
