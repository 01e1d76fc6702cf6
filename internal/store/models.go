package store

import (
	"time"

	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
)

type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	OwnerID     string    `json:"ownerId"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Column struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Name      string    `json:"name"`
	SortKey   string    `json:"sortKey"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Column) Item() ordering.Item {
	return ordering.Item{ID: c.ID, SortKey: c.SortKey, CreatedAt: c.CreatedAt}
}

type Card struct {
	ID          string    `json:"id"`
	BoardID     string    `json:"boardId"`
	ColumnID    string    `json:"columnId"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	SortKey     string    `json:"sortKey"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (c Card) Item() ordering.Item {
	return ordering.Item{ID: c.ID, SortKey: c.SortKey, CreatedAt: c.CreatedAt}
}

type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipPending MembershipStatus = "pending"
)

type Membership struct {
	BoardID   string           `json:"boardId"`
	UserID    string           `json:"userId"`
	Role      rbac.Role        `json:"role"`
	Status    MembershipStatus `json:"status"`
	InvitedBy string           `json:"invitedBy,omitempty"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (m Membership) Active() bool { return m.Status == MembershipActive }

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

type Invitation struct {
	ID         string           `json:"id"`
	BoardID    string           `json:"boardId"`
	Email      string           `json:"email"`
	Role       rbac.Role        `json:"role"`
	Status     InvitationStatus `json:"status"`
	TokenHash  string           `json:"-"`
	InvitedBy  string           `json:"invitedBy"`
	AcceptedBy string           `json:"acceptedBy,omitempty"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// BoardCursor marks the last board of a listing page.
type BoardCursor struct {
	CreatedAt time.Time
	ID        string
}

// after reports whether b sorts after c in newest-first order.
func (c BoardCursor) after(b Board) bool {
	if b.CreatedAt.Equal(c.CreatedAt) {
		return b.ID < c.ID
	}
	return b.CreatedAt.Before(c.CreatedAt)
}
