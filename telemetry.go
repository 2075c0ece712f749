package graphsync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/graphsync")
var meter = otel.Meter("github.com/go-digitaltwin/graphsync")

const (
	// rootAttribute associates each record with the root asset whose subtree
	// was reconciled, allowing both collective examination across all
	// mirrored subtrees and individual analysis per root.
	rootAttribute = "root"
	// eventKindAttribute associates each applied-notification record with
	// the kind of notification it processed.
	eventKindAttribute = "kind"
)

var (
	// reconcileDuration measures the duration of a single forward pass,
	// including both snapshots, the diff and every applied write.
	//
	// Each record is associated with the rootAttribute.
	reconcileDuration metric.Float64Histogram
	// reconcileFailures measures the number of failed forward passes.
	//
	// Each record is associated with the rootAttribute.
	reconcileFailures metric.Int64Counter
	// appliedEvents measures the number of processed change notifications,
	// by kind and outcome.
	appliedEvents metric.Int64Counter
)

func init() {
	var err error
	reconcileDuration, err = meter.Float64Histogram(
		"reconcile.duration",
		metric.WithDescription("The duration of a single forward reconciliation pass, including both graph snapshots, the diff and every applied write."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("graphsync: failed to init 'reconcile.duration' instrument")
	}

	reconcileFailures, err = meter.Int64Counter(
		"reconcile.failures",
		metric.WithDescription("The number of forward reconciliation passes that have failed."),
	)
	if err != nil {
		panic("graphsync: failed to init 'reconcile.failures' instrument")
	}

	appliedEvents, err = meter.Int64Counter(
		"apply.events",
		metric.WithDescription("The number of twin-change notifications processed, by kind and outcome."),
	)
	if err != nil {
		panic("graphsync: failed to init 'apply.events' instrument")
	}
}

// measureReconcile records the outcome of a forward pass. A successful pass
// records its duration; a failed one increments the failure counter.
//
// According to [metric] documentation, [metric.WithAttributeSet] should be
// used instead of [metric.WithAttributes] for performance optimization.
func measureReconcile(ctx context.Context, root string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(rootAttribute, root))
	if succeeded {
		// We use floating-point division here for higher precision (instead
		// of the Millisecond method).
		duration := float64(d) / float64(time.Millisecond)
		reconcileDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
	} else {
		reconcileFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}

// measureApply counts one processed change notification.
func measureApply(ctx context.Context, kind EventKind, succeeded bool) {
	attrs := attribute.NewSet(
		attribute.String(eventKindAttribute, string(kind)),
		attribute.Bool("succeeded", succeeded),
	)
	appliedEvents.Add(ctx, 1, metric.WithAttributeSet(attrs))
}
