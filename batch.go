package graphsync

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Query limits imposed by the graph backends.
const (
	// MaxQueryIdentifiers is the largest number of identifiers a single bulk
	// query may name. Larger requests must be chunked.
	MaxQueryIdentifiers = 100

	// MaxQueryTextLength is the largest query text the twin-graph backend
	// accepts, in characters. It is documented for query authors but not
	// enforced here; an oversized query surfaces as the backend's own error.
	MaxQueryTextLength = 8000

	// Placeholder marks the position in a query template where ExpandQuery
	// substitutes the rendered identifier list.
	Placeholder = "<_:_>"
)

// Chunks partitions ids into consecutive slices of at most
// MaxQueryIdentifiers, preserving order. The returned slices share the
// backing array of ids.
func Chunks(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+MaxQueryIdentifiers-1)/MaxQueryIdentifiers)
	for len(ids) > MaxQueryIdentifiers {
		chunks = append(chunks, ids[:MaxQueryIdentifiers])
		ids = ids[MaxQueryIdentifiers:]
	}
	return append(chunks, ids)
}

// Batched fans a bulk read out over the chunks of ids, one fetch per chunk,
// and concatenates the results in chunk order. Chunks are fetched
// concurrently; the first failing chunk cancels the rest and its error is
// returned.
func Batched[T any](ctx context.Context, ids []string, fetch func(ctx context.Context, ids []string) ([]T, error)) ([]T, error) {
	chunks := Chunks(ids)
	if len(chunks) == 0 {
		return nil, nil
	}

	results := make([][]T, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			part, err := fetch(ctx, chunk)
			if err != nil {
				return err
			}
			results[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []T
	for _, part := range results {
		all = append(all, part...)
	}
	return all, nil
}

// ExpandQuery substitutes the rendered identifier list into every
// occurrence of Placeholder in the template. Identifiers are single-quoted
// and comma-separated; embedded quotes are escaped by doubling, the string
// literal convention of the twin-graph query language.
func ExpandQuery(template string, ids []string) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		b.WriteString(strings.ReplaceAll(id, "'", "''"))
		b.WriteByte('\'')
	}
	return strings.ReplaceAll(template, Placeholder, b.String())
}
