package ordering

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/api/internal/keyspace"
)

// scopeStore is an in-memory scope with a unique sort-key constraint.
type scopeStore struct {
	mu    sync.Mutex
	items map[string]Item
	calls int
}

func newScopeStore(items ...Item) *scopeStore {
	s := &scopeStore{items: map[string]Item{}}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func (s *scopeStore) snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	slices.SortFunc(out, Compare)
	return out
}

func (s *scopeStore) persist(id string) Persist {
	return func(_ context.Context, key string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		for other, it := range s.items {
			if other != id && it.SortKey == key {
				return fmt.Errorf("insert %s: %w", id, ErrKeyTaken)
			}
		}
		s.items[id] = Item{ID: id, SortKey: key, CreatedAt: time.Now()}
		return nil
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestResolve(t *testing.T) {
	scope := []Item{
		{ID: "c", SortKey: "q"},
		{ID: "a", SortKey: "8"},
		{ID: "b", SortKey: "h"},
	}
	tests := []struct {
		name    string
		self    string
		anchors Anchors
		want    Bounds
		wantErr error
	}{
		{name: "append", want: Bounds{Left: "q"}},
		{name: "between", anchors: Anchors{After: "a", Before: "b"}, want: Bounds{Left: "8", Right: "h"}},
		{name: "after only uses next neighbour", anchors: Anchors{After: "a"}, want: Bounds{Left: "8", Right: "h"}},
		{name: "after tail", anchors: Anchors{After: "c"}, want: Bounds{Left: "q"}},
		{name: "before only uses previous neighbour", anchors: Anchors{Before: "c"}, want: Bounds{Left: "h", Right: "q"}},
		{name: "before head", anchors: Anchors{Before: "a"}, want: Bounds{Right: "8"}},
		{name: "move skips self", self: "c", want: Bounds{Left: "h"}},
		{name: "unknown anchor", anchors: Anchors{After: "zz"}, wantErr: ErrInvalidAnchor},
		{name: "reversed anchors", anchors: Anchors{After: "c", Before: "a"}, wantErr: ErrInvalidAnchor},
		{name: "same anchor twice", anchors: Anchors{After: "b", Before: "b"}, wantErr: ErrInvalidAnchor},
		{name: "self anchor", self: "b", anchors: Anchors{After: "b"}, wantErr: ErrInvalidAnchor},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(scope, tc.self, tc.anchors)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveEmptyScope(t *testing.T) {
	b, err := Resolve(nil, "", Anchors{})
	require.NoError(t, err)
	assert.Equal(t, Bounds{}, b)
}

func TestCompareBreaksTiesByCreatedAtThenID(t *testing.T) {
	now := time.Now()
	items := []Item{
		{ID: "z", SortKey: "h", CreatedAt: now},
		{ID: "y", SortKey: "h", CreatedAt: now.Add(-time.Second)},
		{ID: "x", SortKey: "h", CreatedAt: now},
		{ID: "w", SortKey: "a", CreatedAt: now.Add(time.Hour)},
	}
	slices.SortFunc(items, Compare)
	assert.Equal(t, []string{"w", "y", "x", "z"}, ids(items))
}

func TestInsertFollowsAnchorChain(t *testing.T) {
	ctx := context.Background()
	m := NewManager(keyspace.Base36(), DefaultRetries)
	s := newScopeStore()

	steps := []struct {
		id      string
		anchors Anchors
	}{
		{"c1", Anchors{}},
		{"c2", Anchors{After: "c1"}},
		{"c0", Anchors{Before: "c1"}},
		{"c15", Anchors{After: "c1", Before: "c2"}},
		{"c3", Anchors{}},
		{"c16", Anchors{After: "c15"}},
	}
	for _, step := range steps {
		_, err := m.Insert(ctx, s.snapshot(), step.anchors, s.persist(step.id))
		require.NoError(t, err, step.id)
	}
	assert.Equal(t, []string{"c0", "c1", "c15", "c16", "c2", "c3"}, ids(s.snapshot()))
}

func TestMoveRepositionsWithinScope(t *testing.T) {
	ctx := context.Background()
	m := NewManager(keyspace.Base36(), DefaultRetries)
	s := newScopeStore()
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Insert(ctx, s.snapshot(), Anchors{}, s.persist(id))
		require.NoError(t, err)
	}

	_, err := m.Move(ctx, s.snapshot(), "c", Anchors{Before: "a"}, s.persist("c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(s.snapshot()))

	_, err = m.Move(ctx, s.snapshot(), "c", Anchors{}, s.persist("c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.snapshot()))
}

func TestConcurrentInsertsOnSameAnchorsRefine(t *testing.T) {
	ctx := context.Background()
	m := NewManager(keyspace.Base36(), DefaultRetries)
	s := newScopeStore(Item{ID: "left", SortKey: "8"}, Item{ID: "right", SortKey: "h"})
	anchors := Anchors{After: "left", Before: "right"}

	// Both callers read the scope before either writes.
	snapA := s.snapshot()
	snapB := s.snapshot()

	keyA, err := m.Insert(ctx, snapA, anchors, s.persist("A"))
	require.NoError(t, err)
	keyB, err := m.Insert(ctx, snapB, anchors, s.persist("B"))
	require.NoError(t, err)

	raw, err := keyspace.Base36().Midpoint("8", "h")
	require.NoError(t, err)
	assert.Equal(t, raw, keyA)
	assert.NotEqual(t, keyA, keyB)
	assert.Greater(t, keyB, "8")
	assert.Less(t, keyB, "h")
	assert.Equal(t, 3, s.calls)
}

func TestPlaceGivesUpWithConflict(t *testing.T) {
	m := NewManager(keyspace.Base36(), 3)
	attempts := 0
	var keys []string
	_, err := m.Place(context.Background(), Bounds{Left: "a", Right: "b"}, func(_ context.Context, key string) error {
		attempts++
		keys = append(keys, key)
		return ErrKeyTaken
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 4, attempts)
	for i := 1; i < len(keys); i++ {
		assert.Greater(t, keys[i], keys[i-1])
		assert.Less(t, keys[i], "b")
	}
}

func TestPlacePassesThroughOtherErrors(t *testing.T) {
	m := NewManager(keyspace.Base36(), 3)
	boom := errors.New("boom")
	_, err := m.Place(context.Background(), Bounds{}, func(context.Context, string) error { return boom })
	assert.ErrorIs(t, err, boom)
}
