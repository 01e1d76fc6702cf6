package app

import (
	"context"
	"errors"
	"strings"

	"taskboard/api/internal/events"
	"taskboard/api/internal/membership"
	"taskboard/api/internal/occ"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
)

type AddMemberInput struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	// Pending rows grant nothing until the user accepts them.
	Pending bool `json:"pending"`
}

func parseRole(raw string) (rbac.Role, error) {
	role, ok := rbac.Parse(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return rbac.RoleNone, validationError("role must be one of reader, writer, admin", map[string]any{"field": "role"})
	}
	return role, nil
}

// guardRemoval runs inside the store's atomic section for removals and
// departures. The last admin check comes first, so an owner who is also the
// only admin gets LastAdminRequired rather than the transfer hint.
func (s *Service) guardRemoval(board store.Board, members []store.Membership, m store.Membership) error {
	if err := membership.Guard(board.OwnerID, toGuardMembers(members), m.UserID, rbac.RoleNone); err != nil {
		return err
	}
	if m.UserID == board.OwnerID {
		return validationError("The board owner cannot be removed; transfer ownership first", nil)
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, caller, boardID string) ([]store.Membership, error) {
	acc, err := s.authorize(ctx, caller, boardID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if acc.members == nil {
		return []store.Membership{}, nil
	}
	return acc.members, nil
}

func (s *Service) AddMember(ctx context.Context, caller, boardID string, in AddMemberInput) (store.Membership, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManage); err != nil {
		return store.Membership{}, err
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return store.Membership{}, validationError("userId is required", map[string]any{"field": "userId"})
	}
	role, err := parseRole(in.Role)
	if err != nil {
		return store.Membership{}, err
	}
	now := s.now()
	m := store.Membership{
		BoardID:   boardID,
		UserID:    userID,
		Role:      role,
		Status:    store.MembershipActive,
		InvitedBy: caller,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Pending {
		m.Status = store.MembershipPending
	}
	if err := s.store.InsertMembership(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Membership{}, validationError("User is already a member of this board", map[string]any{"userId": userID})
		}
		return store.Membership{}, translate(err)
	}
	s.publish(ctx, events.MemberAdded, boardID, userID, caller, m.Version)
	return m, nil
}

// AcceptMembership activates the caller's own pending membership.
func (s *Service) AcceptMembership(ctx context.Context, caller, boardID string) (store.Membership, error) {
	m, err := s.store.UpdateMembership(ctx, boardID, caller, occ.Any(), s.now(), func(_ store.Board, _ []store.Membership, m *store.Membership) error {
		if m.Active() {
			return validationError("Membership is already active", nil)
		}
		m.Status = store.MembershipActive
		return nil
	})
	if err != nil {
		return store.Membership{}, translate(err)
	}
	s.publish(ctx, events.MemberUpdated, boardID, caller, caller, m.Version)
	return m, nil
}

func (s *Service) ChangeMemberRole(ctx context.Context, caller, boardID, userID, rawRole string, pre occ.Precondition) (store.Membership, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManage); err != nil {
		return store.Membership{}, err
	}
	role, err := parseRole(rawRole)
	if err != nil {
		return store.Membership{}, err
	}
	m, err := s.store.UpdateMembership(ctx, boardID, userID, pre, s.now(), func(board store.Board, members []store.Membership, m *store.Membership) error {
		if err := membership.Guard(board.OwnerID, toGuardMembers(members), m.UserID, role); err != nil {
			return err
		}
		m.Role = role
		return nil
	})
	if err != nil {
		return store.Membership{}, translate(err)
	}
	s.publish(ctx, events.MemberUpdated, boardID, userID, caller, m.Version)
	return m, nil
}

func (s *Service) RemoveMember(ctx context.Context, caller, boardID, userID string, pre occ.Precondition) error {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.store.DeleteMembership(ctx, boardID, userID, pre, s.guardRemoval); err != nil {
		return translate(err)
	}
	s.publish(ctx, events.MemberRemoved, boardID, userID, caller, 0)
	return nil
}
