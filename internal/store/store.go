package store

import (
	"context"
	"time"

	"taskboard/api/internal/occ"
	"taskboard/api/internal/rbac"
)

// MemberApply mutates m after the board row and its memberships have been
// read inside the store's atomic section. Returning an error aborts the
// change.
type MemberApply func(board Board, members []Membership, m *Membership) error

// MemberCheck vets the removal of m the same way MemberApply vets a change.
type MemberCheck func(board Board, members []Membership, m Membership) error

// Store is the persistence surface of the board service. Every method is a
// single atomic step: preconditions, uniqueness and membership checks are
// evaluated together with the write they guard. Update methods hand apply a
// copy of the current row, then bump Version by one and set UpdatedAt to now.
type Store interface {
	Ping(ctx context.Context) error

	CreateBoard(ctx context.Context, b Board, owner Membership) error
	GetBoard(ctx context.Context, id string) (Board, error)
	ListBoardsForUser(ctx context.Context, userID string, limit int, after *BoardCursor) ([]Board, error)
	UpdateBoard(ctx context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Board) error) (Board, error)
	// TransferOwnership fails with ErrNotMember unless newOwner holds an
	// active membership on the board.
	TransferOwnership(ctx context.Context, id, newOwner string, pre occ.Precondition, now time.Time) (Board, error)
	DeleteBoard(ctx context.Context, id string, pre occ.Precondition) error

	ListColumns(ctx context.Context, boardID string) ([]Column, error)
	GetColumn(ctx context.Context, id string) (Column, error)
	InsertColumn(ctx context.Context, c Column) error
	UpdateColumn(ctx context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Column) error) (Column, error)
	DeleteColumn(ctx context.Context, id string, pre occ.Precondition) error

	ListCards(ctx context.Context, columnID string) ([]Card, error)
	ListBoardCards(ctx context.Context, boardID string) ([]Card, error)
	GetCard(ctx context.Context, id string) (Card, error)
	InsertCard(ctx context.Context, c Card) error
	UpdateCard(ctx context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Card) error) (Card, error)
	DeleteCard(ctx context.Context, id string, pre occ.Precondition) error
	SearchCards(ctx context.Context, boardID, query string, limit int) ([]Card, error)

	ListMemberships(ctx context.Context, boardID string) ([]Membership, error)
	GetMembership(ctx context.Context, boardID, userID string) (Membership, error)
	InsertMembership(ctx context.Context, m Membership) error
	UpdateMembership(ctx context.Context, boardID, userID string, pre occ.Precondition, now time.Time, apply MemberApply) (Membership, error)
	DeleteMembership(ctx context.Context, boardID, userID string, pre occ.Precondition, check MemberCheck) error

	CreateInvitation(ctx context.Context, inv Invitation) error
	ListInvitations(ctx context.Context, boardID string) ([]Invitation, error)
	// AcceptInvitation consumes a pending invitation and grants its role.
	// An expired invitation is marked expired and ErrInvitationExpired is
	// returned.
	AcceptInvitation(ctx context.Context, tokenHash, userID string, now time.Time) (Invitation, Membership, error)
	RevokeInvitation(ctx context.Context, boardID, id string, now time.Time) (Invitation, error)
}

// grant merges an accepted invitation into an existing membership row. The
// role is only ever raised. It reports whether m changed.
func grant(m *Membership, inv Invitation, now time.Time) bool {
	changed := false
	if !rbac.AtLeast(m.Role, inv.Role) {
		m.Role = inv.Role
		changed = true
	}
	if m.Status != MembershipActive {
		m.Status = MembershipActive
		changed = true
	}
	if changed {
		m.Version++
		m.UpdatedAt = now
	}
	return changed
}
