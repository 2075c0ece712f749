package graphsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielorbach/go-component"
)

// Patch paths of the twin update bodies.
const (
	patchDisplayName = "/displayName"
	patchDescription = "/description"
	patchExternalID  = "/externalId"
	patchSourceID    = "/id"
	patchTags        = "/tags/values"
	patchTagPrefix   = "/tags/values/"
	patchLatestValue = "/latestValue"
	patchTimestamp   = "/timestamp"
	patchLabels      = "/labels"
)

// recordFields points at the mutable fields an asset and a timeseries have
// in common, so one patch interpreter serves both.
type recordFields struct {
	Name        *string
	Description *string
	Metadata    *map[string]string
}

// applyRecordPatch folds a twin update body onto a source record and
// reports whether any field actually changed. Identity fields are immutable
// on the source side; a patch touching them is logged and skipped so the
// rest of the body still lands. Datapoint paths are handled separately and
// ignored here.
func applyRecordPatch(ctx context.Context, fields recordFields, patch []PatchOp) (bool, error) {
	logger := component.Logger(ctx)

	// Tag keys arrive normalized while the record holds raw metadata keys.
	rawKeys := make(map[string]string, len(*fields.Metadata))
	for k := range *fields.Metadata {
		rawKeys[ToTagKey(k)] = k
	}

	changed := false
	for _, op := range patch {
		switch {
		case op.Path == patchDisplayName:
			if op.Op == "remove" {
				continue
			}
			if v := stringValue(op.Value); *fields.Name != v {
				*fields.Name = v
				changed = true
			}
		case op.Path == patchDescription:
			if op.Op == "remove" {
				if *fields.Description != "" {
					*fields.Description = ""
					changed = true
				}
				continue
			}
			if v := stringValue(op.Value); *fields.Description != v {
				*fields.Description = v
				changed = true
			}
		case op.Path == patchExternalID, op.Path == patchSourceID:
			logger.Error("Identity fields must not be modified on the twin side", "path", op.Path, "op", op.Op)
		case op.Path == patchTags:
			switch op.Op {
			case "add":
				if len(*fields.Metadata) > 0 {
					logger.Warn("Twin added tags but the record already carries metadata, keeping the existing metadata")
					continue
				}
				*fields.Metadata = DenormalizeTags(mapValue(op.Value))
				changed = true
			case "remove":
				if len(*fields.Metadata) > 0 {
					*fields.Metadata = map[string]string{}
					changed = true
				}
			}
		case strings.HasPrefix(op.Path, patchTagPrefix):
			key := strings.TrimPrefix(op.Path, patchTagPrefix)
			raw, known := rawKeys[key]
			switch op.Op {
			case "add", "replace":
				v := stringValue(op.Value)
				if !known {
					raw = FromTagKey(key)
				}
				if !known || (*fields.Metadata)[raw] != v {
					if *fields.Metadata == nil {
						*fields.Metadata = map[string]string{}
					}
					(*fields.Metadata)[raw] = v
					changed = true
				}
			case "remove":
				if known {
					delete(*fields.Metadata, raw)
					changed = true
				}
			}
		case op.Path == patchLatestValue, op.Path == patchTimestamp:
			// handled by the datapoint interpreter
		default:
			return changed, fmt.Errorf("unhandled patch path %q", op.Path)
		}
	}
	return changed, nil
}

// stringValue renders a patch value as the string the source record stores.
func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// mapValue coerces a whole-tags patch value into a string map.
func mapValue(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = stringValue(val)
		}
		return out
	default:
		return nil
	}
}
