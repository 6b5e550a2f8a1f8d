package services

import (
	"context"

	"github.com/testrig-ai/testrig/pkg/agent"
)

// snippetLimit bounds how many reference scripts a single lookup returns.
const snippetLimit = 3

// SnippetRetriever serves reference snippets for script generation from
// previously persisted scripts, via full-text search over their content.
type SnippetRetriever struct {
	store *Store
}

var _ agent.SnippetRetriever = (*SnippetRetriever)(nil)

// NewSnippetRetriever builds a retriever over the store. Returns nil for a
// nil store so callers can wire it unconditionally.
func NewSnippetRetriever(store *Store) *SnippetRetriever {
	if store == nil {
		return nil
	}
	return &SnippetRetriever{store: store}
}

// Retrieve returns the content of the best-matching stored scripts.
func (r *SnippetRetriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	scripts, err := r.store.SearchScripts(ctx, query, snippetLimit)
	if err != nil {
		return nil, err
	}
	snippets := make([]string, 0, len(scripts))
	for _, script := range scripts {
		snippets = append(snippets, script.Content)
	}
	return snippets, nil
}
