package graphsync_test

import (
	"context"
	"fmt"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/go-digitaltwin/graphsync"
	"github.com/go-digitaltwin/graphsync/synctest"
	"gocloud.dev/pubsub"
)

// The forward pass projects the root's subtree from the source graph and
// converges the twin graph onto it. This example runs it against in-memory
// graphs; a deployment would pass a CDF-backed SourceClient and a
// neo4jtwins.Store instead.
func ExampleReconciler() {
	ctx := context.Background()
	source := synctest.NewMemorySource()
	twins := synctest.NewMemoryTwins()

	_ = source.CreateAsset(ctx, graphsync.Asset{ExternalID: "plant-1", Name: "Plant 1"})
	_ = source.CreateAsset(ctx, graphsync.Asset{ExternalID: "pump-7", Name: "Pump 7", ParentExternalID: "plant-1"})
	_ = source.CreateTimeseries(ctx, graphsync.Timeseries{ExternalID: "pump-7-temp", AssetExternalID: "pump-7"})

	r := &graphsync.Reconciler{Source: source, Twins: twins, Root: "plant-1"}
	report, err := r.Reconcile(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("created %d twins and %d relationships\n", report.CreatedTwins, report.UpsertedRelationships)

	// A second pass over converged graphs performs no writes.
	report, err = r.Reconcile(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("created %d twins and %d relationships\n", report.CreatedTwins, report.UpsertedRelationships)
	// Output:
	// created 3 twins and 2 relationships
	// created 0 twins and 0 relationships
}

// The following example demonstrates how a deployment wires both flows into
// a component: the forward pass on a schedule and the reverse flow on the
// twin-change subscription. This code is for illustration purposes only and
// is not meant to be executed as is.
func ExampleReconcileEvery() {
	// Normally, a component is given a linker that is used to open the
	// clients and the subscription below. For this example, we assume the
	// outcome of that process is stored at the following variables.
	var (
		source  graphsync.SourceClient
		twins   graphsync.TwinClient
		changes *pubsub.Subscription
	)

	r := &graphsync.Reconciler{Source: source, Twins: twins, Root: "plant-1"}
	a := &graphsync.Applier{Source: source, Twins: twins, Root: "plant-1"}

	component.RunProc(func(l *component.L) {
		l.Fork("reconcile", graphsync.ReconcileEvery(r, time.Hour))
		l.Fork("apply", graphsync.ApplyLoop(a, changes))
	})
}
