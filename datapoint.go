package graphsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danielorbach/go-component"
)

// applyDatapointPatch scans a twin update body for a new reading. A reading
// only counts when the body carries both a latest value and its timestamp;
// a lone half of the pair is skipped so that a partial update cannot write
// a datapoint with a fabricated time or value.
func (a *Applier) applyDatapointPatch(ctx context.Context, externalID string, patch []PatchOp) (bool, error) {
	logger := component.Logger(ctx)

	var value, timestamp *PatchOp
	for i, op := range patch {
		if op.Op == "remove" {
			continue
		}
		switch op.Path {
		case patchLatestValue:
			value = &patch[i]
		case patchTimestamp:
			timestamp = &patch[i]
		}
	}
	if value == nil && timestamp == nil {
		return false, nil
	}
	if value == nil || timestamp == nil {
		logger.Warn("Twin update carries half a reading, skipping datapoint", "externalID", externalID)
		return false, nil
	}

	at, err := parseEventTime(timestamp.Value)
	if err != nil {
		return false, fmt.Errorf("parse reading timestamp of %q: %w", externalID, err)
	}
	return a.insertDatapoint(ctx, externalID, stringValue(value.Value), at)
}

func parseEventTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, stringValue(v))
}

// insertDatapoint writes one reading onto a timeseries, enforcing the type
// and ordering rules of the source graph:
//
//   - A reading older than (or equal to) the stored latest datapoint is
//     stale and skipped.
//   - The value type of a series is fixed by its first datapoint. Before
//     the first one is written, a mismatched reading recreates the series
//     with the inferred type (the type flag is immutable, so delete and
//     recreate is the only way to change it). After the first one, a
//     mismatch is a [TypeConflictError].
func (a *Applier) insertDatapoint(ctx context.Context, externalID, value string, at time.Time) (bool, error) {
	logger := component.Logger(ctx)

	series, err := a.Source.Timeseries(ctx, externalID)
	if err != nil {
		return false, fmt.Errorf("fetch timeseries %q: %w", externalID, err)
	}

	latest, err := a.Source.LatestDatapoint(ctx, externalID)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("fetch latest datapoint of %q: %w", externalID, err)
	}
	if hasPrior && !at.After(latest.Timestamp) {
		logger.Warn("Reading is not newer than the stored latest datapoint, skipping",
			"externalID", externalID, "reading", at, "latest", latest.Timestamp)
		return false, nil
	}

	_, parseErr := strconv.ParseFloat(value, 64)
	isString := parseErr != nil

	if isString != series.IsString {
		if hasPrior {
			return false, &TypeConflictError{TimeseriesExternalID: externalID, SeriesIsString: series.IsString}
		}
		logger.Warn("First reading contradicts the series type, recreating the series",
			"externalID", externalID, "isString", isString)
		if err := a.recreateTimeseries(ctx, series, isString); err != nil {
			return false, err
		}
	}

	if err := a.Source.InsertDatapoint(ctx, externalID, Datapoint{Timestamp: at, Value: value}); err != nil {
		return false, fmt.Errorf("insert datapoint into %q: %w", externalID, err)
	}
	return true, nil
}

// recreateTimeseries replaces a series with an identical one whose value
// type is flipped. The numeric source handle is reassigned by the platform.
func (a *Applier) recreateTimeseries(ctx context.Context, series Timeseries, isString bool) error {
	if err := a.Source.DeleteTimeseries(ctx, series.ExternalID); err != nil {
		return fmt.Errorf("delete timeseries %q for recreation: %w", series.ExternalID, err)
	}
	series.ID = 0
	series.IsString = isString
	if err := a.Source.CreateTimeseries(ctx, series); err != nil {
		return fmt.Errorf("recreate timeseries %q: %w", series.ExternalID, err)
	}
	return nil
}
