// Package graphsync keeps an industrial asset graph and its digital-twin
// mirror consistent in both directions.
//
// The source graph (assets, relationships and timeseries of an industrial
// data platform) is the system of record. The twin graph is a projected
// mirror of one asset subtree: each asset and timeseries becomes a twin,
// each containment or explicit relationship becomes a typed edge between
// twins.
//
// Two flows keep the graphs converged:
//
//   - The [Reconciler] runs a scheduled forward pass. It snapshots the
//     subtree on both sides, diffs the projection against the mirror and
//     applies the difference to the twin graph in dependency order. The
//     pass is idempotent; running it twice in a row produces no writes.
//   - The [Applier] consumes twin-change notifications and applies each
//     one back onto the source graph, creating, updating and deleting
//     assets, timeseries, relationships and datapoints as twins change.
//
// Both flows speak through the [SourceClient] and [TwinClient] interfaces.
// The neo4jtwins subpackage implements TwinClient on a Neo4j database and
// the synctest subpackage provides in-memory implementations of both.
package graphsync
