// Package idempotency records the outcome of mutating requests that carry an
// Idempotency-Key so retries replay the first response instead of repeating
// the mutation.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInProgress means another request holding the same key has not
	// finished yet.
	ErrInProgress = errors.New("idempotent request in progress")
)

// Response is the recorded outcome replayed to retries.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	ETag        string `json:"etag,omitempty"`
	Body        []byte `json:"body,omitempty"`
	// Fingerprint identifies the request that produced the response so a
	// key reused for a different request can be told apart.
	Fingerprint string `json:"fingerprint"`
}

type Store interface {
	// Reserve claims key. It returns (nil, nil) when the caller now owns the
	// key, the recorded response when the key already completed, or
	// ErrInProgress.
	Reserve(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}

// Key scopes a client supplied key to the calling user and route.
func Key(userID, route, clientKey string) string {
	return userID + ":" + route + ":" + clientKey
}

type memoryEntry struct {
	resp      *Response
	expiresAt time.Time
}

// MemoryStore keeps records in process. Expired records are purged lazily.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Reserve(_ context.Context, key string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		if e.resp == nil {
			return nil, ErrInProgress
		}
		resp := *e.resp
		return &resp, nil
	}
	m.entries[key] = memoryEntry{expiresAt: now.Add(m.ttl)}
	return nil, nil
}

func (m *MemoryStore) Complete(_ context.Context, key string, resp Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{resp: &resp, expiresAt: m.now().Add(m.ttl)}
	m.purge()
	return nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) purge() {
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}
