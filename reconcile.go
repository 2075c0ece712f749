package graphsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"golang.org/x/sync/errgroup"
)

// datapointConcurrency bounds the number of in-flight latest-datapoint
// lookups during the source snapshot.
const datapointConcurrency = 8

// Reconciler drives the forward flow: it projects the configured root's
// subtree from the source graph and converges the twin graph onto that
// projection.
//
// A Reconciler runs at most one pass at a time; a second call while a pass
// is running fails with [ErrReconcileInProgress]. It does not detect writes
// racing with the pass on either graph, so schedule it against the same
// notification stream the [Applier] consumes rather than alongside ad-hoc
// mutations.
type Reconciler struct {
	Source SourceClient
	Twins  TwinClient
	// Checkpoints, when set, records successful passes and backs the
	// mirror consistency check at the start of each pass.
	Checkpoints Checkpointer
	// Root is the external ID of the source asset whose subtree is
	// mirrored.
	Root string

	mu sync.Mutex
}

// Report summarises one forward pass.
type Report struct {
	CreatedTwins          int
	UpdatedTwins          int
	UpsertedRelationships int
	DeletedRelationships  int
	DeletedTwins          int
	// Ambiguities counts the cardinality violations found in the mirror
	// before the pass; they are logged, not repaired, because the pass
	// overwrites the offending edges anyway.
	Ambiguities int
	Duration    time.Duration
}

// Reconcile runs one forward pass and reports what it changed. A pass over
// converged graphs performs no writes, so running it twice in a row is
// safe.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	if !r.mu.TryLock() {
		return Report{}, ErrReconcileInProgress
	}
	defer r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()

	start := time.Now()
	report, err := r.reconcile(ctx)
	report.Duration = time.Since(start)
	measureReconcile(ctx, r.Root, err == nil, report.Duration)
	return report, err
}

func (r *Reconciler) reconcile(ctx context.Context) (Report, error) {
	logger := component.Logger(ctx)

	root, err := r.Source.Asset(ctx, r.Root)
	if err != nil {
		return Report{}, fmt.Errorf("fetch root asset %q: %w", r.Root, err)
	}
	rootTwinID := ToTwinID(root.ExternalID)

	if r.Checkpoints != nil {
		if err := r.checkMirrorConsistency(ctx, rootTwinID); err != nil {
			return Report{}, err
		}
	}

	target, err := r.snapshotSource(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("snapshot source subtree: %w", err)
	}

	current, err := r.Twins.ProjectedSubtree(ctx, rootTwinID)
	if err != nil {
		return Report{}, fmt.Errorf("snapshot twin subtree: %w", err)
	}

	var report Report
	for _, a := range DetectAmbiguities(relationshipValues(current)) {
		report.Ambiguities++
		logger.Warn("Twin graph holds ambiguous relationships",
			"twin", a.TwinID, "relationship", a.Name, "edges", len(a.Edges))
	}

	plan := Diff(current, target)
	if err := r.apply(ctx, plan); err != nil {
		return report, err
	}
	report.CreatedTwins, report.UpdatedTwins, report.UpsertedRelationships,
		report.DeletedRelationships, report.DeletedTwins = plan.Counts()

	if r.Checkpoints != nil {
		if err := r.Checkpoints.RecordRun(ctx, root.ExternalID, time.Now()); err != nil {
			return report, fmt.Errorf("record checkpoint: %w", err)
		}
	}
	return report, nil
}

// checkMirrorConsistency cross-checks the run log against the mirror. A
// recorded pass with no root twin means the mirror was lost since the last
// run and converging onto it would silently rebuild history, so the pass
// aborts. The inverse (a root twin but no recorded pass) merely means the
// run log is younger than the mirror and is worth a warning.
func (r *Reconciler) checkMirrorConsistency(ctx context.Context, rootTwinID string) error {
	logger := component.Logger(ctx)

	last, err := r.Checkpoints.LastRun(ctx, r.Root)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	_, err = r.Twins.Twin(ctx, rootTwinID)
	switch {
	case err == nil && last.IsZero():
		logger.Warn("Root twin exists but no pass was ever recorded", "root", r.Root)
	case errors.Is(err, ErrNotFound) && !last.IsZero():
		return fmt.Errorf("root twin %q missing although a pass was recorded at %v", rootTwinID, last)
	case err != nil && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("fetch root twin: %w", err)
	}
	return nil
}

// snapshotSource collects the root's subtree, the explicit relationships
// and timeseries within it, and the newest datapoint of each series, then
// projects them into the target State.
func (r *Reconciler) snapshotSource(ctx context.Context) (State, error) {
	assets, err := r.Source.AssetSubtree(ctx, r.Root)
	if err != nil {
		return State{}, fmt.Errorf("fetch subtree: %w", err)
	}

	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ExternalID
	}

	var relationships []Relationship
	var series []Timeseries
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		relationships, err = r.Source.RelationshipsBetween(gctx, ids)
		if err != nil {
			return fmt.Errorf("fetch relationships: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		series, err = r.Source.TimeseriesByAssets(gctx, ids)
		if err != nil {
			return fmt.Errorf("fetch timeseries: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}

	latest := make(map[string]Datapoint, len(series))
	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(datapointConcurrency)
	for _, ts := range series {
		g.Go(func() error {
			dp, err := r.Source.LatestDatapoint(gctx, ts.ExternalID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch latest datapoint of %q: %w", ts.ExternalID, err)
			}
			mu.Lock()
			latest[ts.ExternalID] = dp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return State{}, err
	}

	return TargetState(assets, relationships, series, latest), nil
}

// apply executes the plan tier by tier. Twins are written before the edges
// that reference them, stale edges are removed before the upserts so that a
// moved relationship's replacement is not deleted under its reused
// identifier, and edges are removed before the twins they hang on; within a
// tier writes are independent and run concurrently. Each write is retried
// on transient failure.
func (r *Reconciler) apply(ctx context.Context, plan Plan) error {
	upserts := make([]Twin, 0, len(plan.CreateTwins)+len(plan.UpdateTwins))
	upserts = append(upserts, plan.CreateTwins...)
	upserts = append(upserts, plan.UpdateTwins...)

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range upserts {
		g.Go(func() error {
			if err := retry(gctx, func() error { return r.Twins.UpsertTwin(gctx, t) }); err != nil {
				return fmt.Errorf("upsert twin %q: %w", t.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, rel := range plan.DeleteRelationships {
		g.Go(func() error {
			err := retry(gctx, func() error { return r.Twins.DeleteRelationship(gctx, rel) })
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("delete relationship %q: %w", rel.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, rel := range plan.UpsertRelationships {
		g.Go(func() error {
			if err := retry(gctx, func() error { return r.Twins.UpsertRelationship(gctx, rel) }); err != nil {
				return fmt.Errorf("upsert relationship %q: %w", rel.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, t := range plan.DeleteTwins {
		g.Go(func() error {
			err := retry(gctx, func() error { return r.Twins.DeleteTwin(gctx, t.ID) })
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("delete twin %q: %w", t.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func relationshipValues(s State) []TwinRelationship {
	rels := make([]TwinRelationship, 0, len(s.Relationships))
	for _, r := range s.Relationships {
		rels = append(rels, r)
	}
	return rels
}

// ReconcileEvery returns a component.Proc that runs a forward pass
// immediately and then once per interval until the component shuts down. A
// failing pass is logged and the schedule keeps going.
func ReconcileEvery(r *Reconciler, interval time.Duration) component.Proc {
	return func(l *component.L) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for l.Continue() {
			report, err := r.Reconcile(l.Context())
			if err != nil {
				l.Errorf("Reconciliation pass over %q failed: %v", r.Root, err)
			} else {
				l.Logf("Reconciliation pass over %q converged in %v (twins +%d ~%d -%d, relationships ~%d -%d)",
					r.Root, report.Duration,
					report.CreatedTwins, report.UpdatedTwins, report.DeletedTwins,
					report.UpsertedRelationships, report.DeletedRelationships)
			}
			select {
			case <-ticker.C:
			case <-l.Context().Done():
				return
			}
		}
	}
}
