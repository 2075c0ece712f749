package graphsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// DefaultCheckpointKey is the blob key CheckpointStore writes unless
// configured otherwise. The path matches the document the original
// deployment of this engine kept its run log under.
const DefaultCheckpointKey = "params/func_runs.json"

// CheckpointStore persists the per-root last-run timestamps of the forward
// pass in a single JSON blob. It implements [Checkpointer].
//
// The document layout is kept stable so that operators can read and edit it
// by hand:
//
//	{"last_executions": [{"root_asset_ext_id": "plant-1", "timestamp_UTC": "..."}]}
type CheckpointStore struct {
	Bucket *blob.Bucket
	// Key overrides DefaultCheckpointKey when non-empty.
	Key string
}

type checkpointDocument struct {
	LastExecutions []checkpointEntry `json:"last_executions"`
}

type checkpointEntry struct {
	RootAssetExternalID string    `json:"root_asset_ext_id"`
	TimestampUTC        time.Time `json:"timestamp_UTC"`
}

func (s *CheckpointStore) key() string {
	if s.Key != "" {
		return s.Key
	}
	return DefaultCheckpointKey
}

// LastRun returns the recorded time of the last successful pass over the
// root, or the zero time when no pass was ever recorded.
func (s *CheckpointStore) LastRun(ctx context.Context, rootExternalID string) (time.Time, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range doc.LastExecutions {
		if e.RootAssetExternalID == rootExternalID {
			return e.TimestampUTC, nil
		}
	}
	return time.Time{}, nil
}

// RecordRun upserts the entry for the root and writes the document back.
func (s *CheckpointStore) RecordRun(ctx context.Context, rootExternalID string, at time.Time) error {
	doc, err := s.load(ctx)
	if err != nil {
		return err
	}

	at = at.UTC()
	updated := false
	for i, e := range doc.LastExecutions {
		if e.RootAssetExternalID == rootExternalID {
			doc.LastExecutions[i].TimestampUTC = at
			updated = true
			break
		}
	}
	if !updated {
		doc.LastExecutions = append(doc.LastExecutions, checkpointEntry{
			RootAssetExternalID: rootExternalID,
			TimestampUTC:        at,
		})
	}

	p, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}
	if err := s.Bucket.WriteAll(ctx, s.key(), p, nil); err != nil {
		return fmt.Errorf("write checkpoints: %w", err)
	}
	return nil
}

// load reads the document, treating a missing blob as an empty one so that
// the very first pass does not need a seeded file.
func (s *CheckpointStore) load(ctx context.Context) (checkpointDocument, error) {
	var doc checkpointDocument
	p, err := s.Bucket.ReadAll(ctx, s.key())
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return doc, nil
		}
		return doc, fmt.Errorf("read checkpoints: %w", err)
	}
	if err := json.Unmarshal(p, &doc); err != nil {
		return doc, fmt.Errorf("decode checkpoints: %w", err)
	}
	return doc, nil
}
