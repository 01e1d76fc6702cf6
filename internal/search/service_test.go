package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/api/internal/store"
)

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	err     error
	hits    []Hit
	indexed []CardRecord
	deleted []string
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(context.Context, Query) ([]Hit, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.hits, len(f.hits), nil
}

func (f *fakeIndex) IndexCards(cards []CardRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, cards...)
	return nil
}

func (f *fakeIndex) DeleteCard(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) snapshot() ([]CardRecord, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CardRecord(nil), f.indexed...), append([]string(nil), f.deleted...)
}

type fakeFinder struct {
	cards []store.Card
}

func (f fakeFinder) SearchCards(_ context.Context, boardID, query string, limit int) ([]store.Card, error) {
	var out []store.Card
	for _, c := range f.cards {
		if c.BoardID == boardID && strings.Contains(strings.ToLower(c.Title), strings.ToLower(query)) {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestSearchPrefersHealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: true, hits: []Hit{{ID: "crd_1", Title: "<mark>Fix</mark> login"}}}
	svc := NewService(idx, NewStoreSearcher(fakeFinder{}))

	resp, err := svc.Search(context.Background(), Query{BoardID: "brd_1", Text: "fix"})
	require.NoError(t, err)
	assert.Equal(t, "index", resp.Source)
	assert.Len(t, resp.Results, 1)
}

func TestSearchFallsBackToStore(t *testing.T) {
	desc := strings.Repeat("x", snippetLength+20)
	finder := fakeFinder{cards: []store.Card{
		{ID: "crd_1", BoardID: "brd_1", ColumnID: "col_1", Title: "Fix login", Description: &desc},
		{ID: "crd_2", BoardID: "brd_2", Title: "Fix other board"},
	}}
	for name, idx := range map[string]Index{
		"no index":        nil,
		"unhealthy index": &fakeIndex{healthy: false},
		"index error":     &fakeIndex{healthy: true, err: errors.New("down")},
	} {
		t.Run(name, func(t *testing.T) {
			svc := NewService(idx, NewStoreSearcher(finder))
			resp, err := svc.Search(context.Background(), Query{BoardID: "brd_1", Text: "fix"})
			require.NoError(t, err)
			assert.Equal(t, "store", resp.Source)
			require.Len(t, resp.Results, 1)
			assert.Equal(t, "crd_1", resp.Results[0].ID)
			assert.True(t, strings.HasSuffix(resp.Results[0].Snippet, "…"))
		})
	}
}

func TestSearchReturnsEmptySliceNotNil(t *testing.T) {
	svc := NewService(nil, NewStoreSearcher(fakeFinder{}))
	resp, err := svc.Search(context.Background(), Query{BoardID: "brd_1", Text: "nothing"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexingIsAsyncAndSkippedWhenUnhealthy(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := NewService(idx, NewStoreSearcher(fakeFinder{}))
	svc.IndexCard(RecordFromCard(store.Card{ID: "crd_1", BoardID: "brd_1", Title: "a"}))
	svc.DeleteCards("crd_2", "crd_3")

	assert.Eventually(t, func() bool {
		indexed, deleted := idx.snapshot()
		return len(indexed) == 1 && len(deleted) == 2
	}, time.Second, 10*time.Millisecond)

	down := &fakeIndex{healthy: false}
	svc = NewService(down, NewStoreSearcher(fakeFinder{}))
	svc.IndexCard(CardRecord{ID: "crd_1"})
	require.NoError(t, svc.Reindex([]CardRecord{{ID: "crd_1"}}))
	indexed, _ := down.snapshot()
	assert.Empty(t, indexed)
}
