package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"taskboard/api/internal/occ"
	"taskboard/api/internal/ordering"
)

// MemoryStore keeps everything in process memory behind one mutex, which
// makes each method trivially atomic.
type MemoryStore struct {
	mu          sync.Mutex
	boards      map[string]Board
	columns     map[string]Column
	cards       map[string]Card
	memberships map[string]map[string]Membership
	invitations map[string]Invitation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boards:      map[string]Board{},
		columns:     map[string]Column{},
		cards:       map[string]Card{},
		memberships: map[string]map[string]Membership{},
		invitations: map[string]Invitation{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateBoard(_ context.Context, b Board, owner Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[b.ID]; ok {
		return fmt.Errorf("board %s: %w", b.ID, ErrDuplicate)
	}
	s.boards[b.ID] = b
	s.memberships[b.ID] = map[string]Membership{owner.UserID: owner}
	return nil
}

func (s *MemoryStore) board(id string) (Board, error) {
	b, ok := s.boards[id]
	if !ok {
		return Board{}, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *MemoryStore) GetBoard(_ context.Context, id string) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board(id)
}

func (s *MemoryStore) ListBoardsForUser(_ context.Context, userID string, limit int, after *BoardCursor) ([]Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Board
	for _, b := range s.boards {
		if b.OwnerID != userID {
			m, ok := s.memberships[b.ID][userID]
			if !ok || !m.Active() {
				continue
			}
		}
		if after != nil && !after.after(b) {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Board) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateBoard(_ context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Board) error) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.board(id)
	if err != nil {
		return Board{}, err
	}
	if err := pre.Check(cur.Version); err != nil {
		return Board{}, err
	}
	next := cur
	if err := apply(&next); err != nil {
		return Board{}, err
	}
	next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	s.boards[id] = next
	return next, nil
}

func (s *MemoryStore) TransferOwnership(_ context.Context, id, newOwner string, pre occ.Precondition, now time.Time) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.board(id)
	if err != nil {
		return Board{}, err
	}
	if err := pre.Check(cur.Version); err != nil {
		return Board{}, err
	}
	if m, ok := s.memberships[id][newOwner]; !ok || !m.Active() {
		return Board{}, fmt.Errorf("transfer board %s to %s: %w", id, newOwner, ErrNotMember)
	}
	cur.OwnerID = newOwner
	cur.Version++
	cur.UpdatedAt = now
	s.boards[id] = cur
	return cur, nil
}

func (s *MemoryStore) DeleteBoard(_ context.Context, id string, pre occ.Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.board(id)
	if err != nil {
		return err
	}
	if err := pre.Check(cur.Version); err != nil {
		return err
	}
	for cid, c := range s.cards {
		if c.BoardID == id {
			delete(s.cards, cid)
		}
	}
	for cid, c := range s.columns {
		if c.BoardID == id {
			delete(s.columns, cid)
		}
	}
	for iid, inv := range s.invitations {
		if inv.BoardID == id {
			delete(s.invitations, iid)
		}
	}
	delete(s.memberships, id)
	delete(s.boards, id)
	return nil
}

func (s *MemoryStore) ListColumns(_ context.Context, boardID string) ([]Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Column
	for _, c := range s.columns {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Column) int { return ordering.Compare(a.Item(), b.Item()) })
	return out, nil
}

func (s *MemoryStore) column(id string) (Column, error) {
	c, ok := s.columns[id]
	if !ok {
		return Column{}, fmt.Errorf("column %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) GetColumn(_ context.Context, id string) (Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.column(id)
}

func (s *MemoryStore) columnKeyTaken(boardID, key, except string) bool {
	for id, c := range s.columns {
		if id != except && c.BoardID == boardID && c.SortKey == key {
			return true
		}
	}
	return false
}

func (s *MemoryStore) InsertColumn(_ context.Context, c Column) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.board(c.BoardID); err != nil {
		return err
	}
	if _, ok := s.columns[c.ID]; ok {
		return fmt.Errorf("column %s: %w", c.ID, ErrDuplicate)
	}
	if s.columnKeyTaken(c.BoardID, c.SortKey, "") {
		return fmt.Errorf("insert column %s at %q: %w", c.ID, c.SortKey, ordering.ErrKeyTaken)
	}
	s.columns[c.ID] = c
	return nil
}

func (s *MemoryStore) UpdateColumn(_ context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Column) error) (Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.column(id)
	if err != nil {
		return Column{}, err
	}
	if err := pre.Check(cur.Version); err != nil {
		return Column{}, err
	}
	next := cur
	if err := apply(&next); err != nil {
		return Column{}, err
	}
	next.ID, next.BoardID, next.CreatedAt = cur.ID, cur.BoardID, cur.CreatedAt
	if next.SortKey != cur.SortKey && s.columnKeyTaken(next.BoardID, next.SortKey, id) {
		return Column{}, fmt.Errorf("move column %s to %q: %w", id, next.SortKey, ordering.ErrKeyTaken)
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	s.columns[id] = next
	return next, nil
}

func (s *MemoryStore) DeleteColumn(_ context.Context, id string, pre occ.Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.column(id)
	if err != nil {
		return err
	}
	if err := pre.Check(cur.Version); err != nil {
		return err
	}
	for cid, c := range s.cards {
		if c.ColumnID == id {
			delete(s.cards, cid)
		}
	}
	delete(s.columns, id)
	return nil
}

func sortCards(cards []Card) {
	slices.SortFunc(cards, func(a, b Card) int { return ordering.Compare(a.Item(), b.Item()) })
}

func (s *MemoryStore) ListCards(_ context.Context, columnID string) ([]Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Card
	for _, c := range s.cards {
		if c.ColumnID == columnID {
			out = append(out, c)
		}
	}
	sortCards(out)
	return out, nil
}

func (s *MemoryStore) ListBoardCards(_ context.Context, boardID string) ([]Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Card
	for _, c := range s.cards {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	sortCards(out)
	return out, nil
}

func (s *MemoryStore) card(id string) (Card, error) {
	c, ok := s.cards[id]
	if !ok {
		return Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) GetCard(_ context.Context, id string) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.card(id)
}

func (s *MemoryStore) cardKeyTaken(columnID, key, except string) bool {
	for id, c := range s.cards {
		if id != except && c.ColumnID == columnID && c.SortKey == key {
			return true
		}
	}
	return false
}

func (s *MemoryStore) requireColumnOnBoard(columnID, boardID string) error {
	col, ok := s.columns[columnID]
	if !ok || col.BoardID != boardID {
		return fmt.Errorf("column %s on board %s: %w", columnID, boardID, ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) InsertCard(_ context.Context, c Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireColumnOnBoard(c.ColumnID, c.BoardID); err != nil {
		return err
	}
	if _, ok := s.cards[c.ID]; ok {
		return fmt.Errorf("card %s: %w", c.ID, ErrDuplicate)
	}
	if s.cardKeyTaken(c.ColumnID, c.SortKey, "") {
		return fmt.Errorf("insert card %s at %q: %w", c.ID, c.SortKey, ordering.ErrKeyTaken)
	}
	s.cards[c.ID] = c
	return nil
}

func (s *MemoryStore) UpdateCard(_ context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Card) error) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.card(id)
	if err != nil {
		return Card{}, err
	}
	if err := pre.Check(cur.Version); err != nil {
		return Card{}, err
	}
	next := cur
	if err := apply(&next); err != nil {
		return Card{}, err
	}
	next.ID, next.BoardID, next.CreatedAt = cur.ID, cur.BoardID, cur.CreatedAt
	if next.ColumnID != cur.ColumnID {
		if err := s.requireColumnOnBoard(next.ColumnID, next.BoardID); err != nil {
			return Card{}, err
		}
	}
	if (next.ColumnID != cur.ColumnID || next.SortKey != cur.SortKey) && s.cardKeyTaken(next.ColumnID, next.SortKey, id) {
		return Card{}, fmt.Errorf("move card %s to %q: %w", id, next.SortKey, ordering.ErrKeyTaken)
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	s.cards[id] = next
	return next, nil
}

func (s *MemoryStore) DeleteCard(_ context.Context, id string, pre occ.Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.card(id)
	if err != nil {
		return err
	}
	if err := pre.Check(cur.Version); err != nil {
		return err
	}
	delete(s.cards, id)
	return nil
}

func (s *MemoryStore) SearchCards(_ context.Context, boardID, query string, limit int) ([]Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Card
	for _, c := range s.cards {
		if c.BoardID != boardID {
			continue
		}
		text := strings.ToLower(c.Title)
		if c.Description != nil {
			text += "\n" + strings.ToLower(*c.Description)
		}
		if strings.Contains(text, q) {
			out = append(out, c)
		}
	}
	sortSearchHits(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortSearchHits orders fallback search results most recently updated first.
func sortSearchHits(cards []Card) {
	slices.SortFunc(cards, func(a, b Card) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (s *MemoryStore) members(boardID string) []Membership {
	out := make([]Membership, 0, len(s.memberships[boardID]))
	for _, m := range s.memberships[boardID] {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Membership) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

func (s *MemoryStore) ListMemberships(_ context.Context, boardID string) ([]Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members(boardID), nil
}

func (s *MemoryStore) membership(boardID, userID string) (Membership, error) {
	m, ok := s.memberships[boardID][userID]
	if !ok {
		return Membership{}, fmt.Errorf("membership %s/%s: %w", boardID, userID, ErrNotFound)
	}
	return m, nil
}

func (s *MemoryStore) GetMembership(_ context.Context, boardID, userID string) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membership(boardID, userID)
}

func (s *MemoryStore) InsertMembership(_ context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.board(m.BoardID); err != nil {
		return err
	}
	if _, ok := s.memberships[m.BoardID][m.UserID]; ok {
		return fmt.Errorf("membership %s/%s: %w", m.BoardID, m.UserID, ErrDuplicate)
	}
	if s.memberships[m.BoardID] == nil {
		s.memberships[m.BoardID] = map[string]Membership{}
	}
	s.memberships[m.BoardID][m.UserID] = m
	return nil
}

func (s *MemoryStore) UpdateMembership(_ context.Context, boardID, userID string, pre occ.Precondition, now time.Time, apply MemberApply) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.board(boardID)
	if err != nil {
		return Membership{}, err
	}
	cur, err := s.membership(boardID, userID)
	if err != nil {
		return Membership{}, err
	}
	if err := pre.Check(cur.Version); err != nil {
		return Membership{}, err
	}
	next := cur
	if err := apply(b, s.members(boardID), &next); err != nil {
		return Membership{}, err
	}
	next.BoardID, next.UserID, next.CreatedAt = cur.BoardID, cur.UserID, cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	s.memberships[boardID][userID] = next
	return next, nil
}

func (s *MemoryStore) DeleteMembership(_ context.Context, boardID, userID string, pre occ.Precondition, check MemberCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.board(boardID)
	if err != nil {
		return err
	}
	cur, err := s.membership(boardID, userID)
	if err != nil {
		return err
	}
	if err := pre.Check(cur.Version); err != nil {
		return err
	}
	if err := check(b, s.members(boardID), cur); err != nil {
		return err
	}
	delete(s.memberships[boardID], userID)
	return nil
}

func (s *MemoryStore) CreateInvitation(_ context.Context, inv Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.board(inv.BoardID); err != nil {
		return err
	}
	for _, other := range s.invitations {
		if other.ID == inv.ID || other.TokenHash == inv.TokenHash {
			return fmt.Errorf("invitation %s: %w", inv.ID, ErrDuplicate)
		}
	}
	s.invitations[inv.ID] = inv
	return nil
}

func (s *MemoryStore) ListInvitations(_ context.Context, boardID string) ([]Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Invitation
	for _, inv := range s.invitations {
		if inv.BoardID == boardID {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b Invitation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) AcceptInvitation(_ context.Context, tokenHash, userID string, now time.Time) (Invitation, Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inv Invitation
	found := false
	for _, candidate := range s.invitations {
		if candidate.TokenHash == tokenHash {
			inv, found = candidate, true
			break
		}
	}
	if !found {
		return Invitation{}, Membership{}, fmt.Errorf("invitation: %w", ErrNotFound)
	}
	if inv.Status != InvitationPending {
		return inv, Membership{}, fmt.Errorf("invitation %s is %s: %w", inv.ID, inv.Status, ErrInvitationClosed)
	}
	if !now.Before(inv.ExpiresAt) {
		inv.Status = InvitationExpired
		inv.UpdatedAt = now
		s.invitations[inv.ID] = inv
		return inv, Membership{}, fmt.Errorf("invitation %s: %w", inv.ID, ErrInvitationExpired)
	}

	m, ok := s.memberships[inv.BoardID][userID]
	if ok {
		grant(&m, inv, now)
	} else {
		m = Membership{
			BoardID:   inv.BoardID,
			UserID:    userID,
			Role:      inv.Role,
			Status:    MembershipActive,
			InvitedBy: inv.InvitedBy,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if s.memberships[inv.BoardID] == nil {
		s.memberships[inv.BoardID] = map[string]Membership{}
	}
	s.memberships[inv.BoardID][userID] = m

	inv.Status = InvitationAccepted
	inv.AcceptedBy = userID
	inv.UpdatedAt = now
	s.invitations[inv.ID] = inv
	return inv, m, nil
}

func (s *MemoryStore) RevokeInvitation(_ context.Context, boardID, id string, now time.Time) (Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok || inv.BoardID != boardID {
		return Invitation{}, fmt.Errorf("invitation %s: %w", id, ErrNotFound)
	}
	if inv.Status != InvitationPending {
		return inv, fmt.Errorf("invitation %s is %s: %w", id, inv.Status, ErrInvitationClosed)
	}
	inv.Status = InvitationRevoked
	inv.UpdatedAt = now
	s.invitations[id] = inv
	return inv, nil
}

var _ Store = (*MemoryStore)(nil)
