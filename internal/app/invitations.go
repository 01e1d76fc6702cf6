package app

import (
	"context"
	"net/mail"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/email"
	"taskboard/api/internal/events"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type InviteInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InvitationCreated carries the raw token. It is only ever returned here;
// the store keeps a digest.
type InvitationCreated struct {
	Invitation store.Invitation `json:"invitation"`
	Token      string           `json:"token"`
	AcceptURL  string           `json:"acceptUrl"`
	Emailed    bool             `json:"emailed"`
}

type InvitationAccepted struct {
	Invitation store.Invitation `json:"invitation"`
	Membership store.Membership `json:"membership"`
}

func (s *Service) acceptURL(token string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	return base + "/invitations/accept?token=" + url.QueryEscape(token)
}

func (s *Service) InviteByEmail(ctx context.Context, caller, boardID string, in InviteInput) (InvitationCreated, error) {
	acc, err := s.authorize(ctx, caller, boardID, rbac.ActionManage)
	if err != nil {
		return InvitationCreated{}, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return InvitationCreated{}, validationError("email is not a valid address", map[string]any{"field": "email"})
	}
	role, err := parseRole(in.Role)
	if err != nil {
		return InvitationCreated{}, err
	}
	token, err := auth.NewInvitationToken()
	if err != nil {
		return InvitationCreated{}, err
	}
	now := s.now()
	inv := store.Invitation{
		ID:        util.NewID("inv"),
		BoardID:   boardID,
		Email:     strings.ToLower(addr.Address),
		Role:      role,
		Status:    store.InvitationPending,
		TokenHash: auth.HashToken(s.tokenKey, token),
		InvitedBy: caller,
		ExpiresAt: now.Add(s.cfg.InvitationTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return InvitationCreated{}, translate(err)
	}

	out := InvitationCreated{Invitation: inv, Token: token, AcceptURL: s.acceptURL(token)}
	if s.mailer != nil && s.mailer.IsConfigured() {
		out.Emailed = true
		data := email.InvitationData{
			BoardName: acc.board.Name,
			Inviter:   caller,
			Role:      string(role),
			AcceptURL: out.AcceptURL,
			ExpiresAt: inv.ExpiresAt,
		}
		go func() {
			if err := s.mailer.SendInvitation(inv.Email, data); err != nil {
				log.WithError(err).WithFields(log.Fields{"invitation_id": inv.ID, "board_id": boardID}).Warn("send invitation email")
			}
		}()
	}
	s.publish(ctx, events.InvitationCreated, boardID, inv.ID, caller, 0)
	return out, nil
}

func (s *Service) ListInvitations(ctx context.Context, caller, boardID string) ([]store.Invitation, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManage); err != nil {
		return nil, err
	}
	invs, err := s.store.ListInvitations(ctx, boardID)
	if err != nil {
		return nil, translate(err)
	}
	if invs == nil {
		invs = []store.Invitation{}
	}
	return invs, nil
}

// AcceptInvitation redeems token for the caller. An existing membership is
// only ever upgraded.
func (s *Service) AcceptInvitation(ctx context.Context, caller, token string) (InvitationAccepted, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return InvitationAccepted{}, validationError("token is required", map[string]any{"field": "token"})
	}
	inv, m, err := s.store.AcceptInvitation(ctx, auth.HashToken(s.tokenKey, token), caller, s.now())
	if err != nil {
		return InvitationAccepted{}, translate(err)
	}
	s.publish(ctx, events.InvitationAccepted, inv.BoardID, inv.ID, caller, 0)
	s.publish(ctx, events.MemberAdded, inv.BoardID, caller, caller, m.Version)
	return InvitationAccepted{Invitation: inv, Membership: m}, nil
}

func (s *Service) RevokeInvitation(ctx context.Context, caller, boardID, invitationID string) (store.Invitation, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManage); err != nil {
		return store.Invitation{}, err
	}
	inv, err := s.store.RevokeInvitation(ctx, boardID, invitationID, s.now())
	if err != nil {
		return store.Invitation{}, translate(err)
	}
	s.publish(ctx, events.InvitationRevoked, boardID, inv.ID, caller, 0)
	return inv, nil
}
