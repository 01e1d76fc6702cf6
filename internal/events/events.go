// Package events fans out board change notifications to live subscribers.
package events

import (
	"context"
	"sync"
	"time"
)

type Type string

const (
	BoardUpdated       Type = "board.updated"
	BoardDeleted       Type = "board.deleted"
	OwnershipChanged   Type = "board.ownership_transferred"
	ColumnCreated      Type = "column.created"
	ColumnUpdated      Type = "column.updated"
	ColumnMoved        Type = "column.moved"
	ColumnDeleted      Type = "column.deleted"
	CardCreated        Type = "card.created"
	CardUpdated        Type = "card.updated"
	CardMoved          Type = "card.moved"
	CardDeleted        Type = "card.deleted"
	MemberAdded        Type = "member.added"
	MemberUpdated      Type = "member.updated"
	MemberRemoved      Type = "member.removed"
	InvitationCreated  Type = "invitation.created"
	InvitationAccepted Type = "invitation.accepted"
	InvitationRevoked  Type = "invitation.revoked"
)

type Event struct {
	Type     Type      `json:"type"`
	BoardID  string    `json:"boardId"`
	EntityID string    `json:"entityId"`
	Version  int64     `json:"version,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`
}

// Broker delivers events published for a board to every subscriber of that
// board. Delivery is best effort: slow subscribers miss events rather than
// block publishers.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events for boardID and a function that
	// releases the subscription. The channel is closed once released or when
	// ctx ends.
	Subscribe(ctx context.Context, boardID string) (<-chan Event, func(), error)
}

const subscriberBuffer = 16

// LocalBroker is an in-process Broker for single instance deployments.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[chan Event]struct{})}
}

func (b *LocalBroker) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.BoardID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, boardID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan Event]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[boardID], ch)
			if len(b.subs[boardID]) == 0 {
				delete(b.subs, boardID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		release()
	}()
	return ch, release, nil
}

// Subscribers reports how many live subscriptions boardID has.
func (b *LocalBroker) Subscribers(boardID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[boardID])
}
