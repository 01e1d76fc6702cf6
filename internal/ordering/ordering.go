// Package ordering places items inside an ordered scope (the columns of a
// board, the cards of a column) relative to neighbouring anchors.
package ordering

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"taskboard/api/internal/keyspace"
)

// DefaultRetries is how many refined keys are tried after the first
// candidate collides.
const DefaultRetries = 3

var (
	ErrInvalidAnchor = errors.New("invalid anchor")
	ErrConflict      = errors.New("ordering key conflict")
	// ErrKeyTaken is returned by persist callbacks when another item in the
	// scope already holds the candidate key.
	ErrKeyTaken = errors.New("ordering key already taken")
)

// Item is the ordering view of a scope member.
type Item struct {
	ID        string
	SortKey   string
	CreatedAt time.Time
}

// Compare orders by sort key, then creation time, then id.
func Compare(a, b Item) int {
	if c := cmp.Compare(a.SortKey, b.SortKey); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Anchors name the neighbours of the requested position. After is the item
// that should end up immediately before the placed one, Before the item
// immediately after it. Empty means absent.
type Anchors struct {
	Before string
	After  string
}

// Bounds are the exclusive sort-key limits for a new key. Empty is unbounded.
type Bounds struct {
	Left  string
	Right string
}

// Resolve converts anchors into bounds against a snapshot of the scope. self
// is the id of the item being moved, or empty for inserts; it is excluded
// from the snapshot and cannot be used as an anchor.
//
// With a single anchor the opposite bound is that anchor's neighbour, and
// with none the left bound is the current tail so the item is appended.
func Resolve(scope []Item, self string, a Anchors) (Bounds, error) {
	if self != "" && (a.Before == self || a.After == self) {
		return Bounds{}, fmt.Errorf("%w: %s cannot be positioned relative to itself", ErrInvalidAnchor, self)
	}
	if a.Before != "" && a.Before == a.After {
		return Bounds{}, fmt.Errorf("%w: before and after name the same item %s", ErrInvalidAnchor, a.Before)
	}

	items := make([]Item, 0, len(scope))
	for _, it := range scope {
		if it.ID != self {
			items = append(items, it)
		}
	}
	slices.SortFunc(items, Compare)

	after, err := indexOf(items, a.After)
	if err != nil {
		return Bounds{}, err
	}
	before, err := indexOf(items, a.Before)
	if err != nil {
		return Bounds{}, err
	}

	switch {
	case after >= 0 && before >= 0:
		b := Bounds{Left: items[after].SortKey, Right: items[before].SortKey}
		if b.Left >= b.Right {
			return Bounds{}, fmt.Errorf("%w: %s does not sort before %s", ErrInvalidAnchor, a.After, a.Before)
		}
		return b, nil
	case after >= 0:
		b := Bounds{Left: items[after].SortKey}
		for _, it := range items[after+1:] {
			if it.SortKey > b.Left {
				b.Right = it.SortKey
				break
			}
		}
		return b, nil
	case before >= 0:
		b := Bounds{Right: items[before].SortKey}
		for i := before - 1; i >= 0; i-- {
			if items[i].SortKey < b.Right {
				b.Left = items[i].SortKey
				break
			}
		}
		return b, nil
	default:
		if len(items) == 0 {
			return Bounds{}, nil
		}
		return Bounds{Left: items[len(items)-1].SortKey}, nil
	}
}

func indexOf(items []Item, id string) (int, error) {
	if id == "" {
		return -1, nil
	}
	for i, it := range items {
		if it.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s is not in this scope", ErrInvalidAnchor, id)
}

// Persist writes the item under key. It must return an error wrapping
// ErrKeyTaken when the scope already holds key, and leave no state behind.
type Persist func(ctx context.Context, key string) error

// Manager derives keys and retries on collisions.
type Manager struct {
	keys    *keyspace.Space
	retries int
}

func NewManager(keys *keyspace.Space, retries int) *Manager {
	if retries < 0 {
		retries = DefaultRetries
	}
	return &Manager{keys: keys, retries: retries}
}

func (m *Manager) Keys() *keyspace.Space { return m.keys }

// Insert places a new item in scope.
func (m *Manager) Insert(ctx context.Context, scope []Item, a Anchors, persist Persist) (string, error) {
	b, err := Resolve(scope, "", a)
	if err != nil {
		return "", err
	}
	return m.Place(ctx, b, persist)
}

// Move places the existing item self in scope, which may be a different
// scope from the one it currently lives in.
func (m *Manager) Move(ctx context.Context, scope []Item, self string, a Anchors, persist Persist) (string, error) {
	b, err := Resolve(scope, self, a)
	if err != nil {
		return "", err
	}
	return m.Place(ctx, b, persist)
}

// Place persists a key strictly inside b. When the candidate is taken the
// next one is derived between the failed candidate and the original right
// bound, so every attempt stays inside b and differs from all earlier ones.
func (m *Manager) Place(ctx context.Context, b Bounds, persist Persist) (string, error) {
	key, err := m.keys.Midpoint(b.Left, b.Right)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAnchor, err)
	}
	for attempt := 0; ; attempt++ {
		err := persist(ctx, key)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrKeyTaken) {
			return "", err
		}
		if attempt >= m.retries {
			return "", fmt.Errorf("%w: no free key between %q and %q after %d attempts", ErrConflict, b.Left, b.Right, attempt+1)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if key, err = m.keys.Midpoint(key, b.Right); err != nil {
			return "", fmt.Errorf("refine ordering key: %w", err)
		}
	}
}
