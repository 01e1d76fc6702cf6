package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/archive"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/events"
	"taskboard/api/internal/keyspace"
	"taskboard/api/internal/membership"
	"taskboard/api/internal/occ"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

// Version is reported by /v1/version and set at build time.
var Version = "dev"

const (
	maxBoardName        = 140
	maxBoardDescription = 2000
	maxColumnName       = 80
	maxCardTitle        = 200
	maxCardDescription  = 8000

	defaultPageSize = 50
	maxPageSize     = 200
)

type Mailer interface {
	IsConfigured() bool
	SendInvitation(to string, data email.InvitationData) error
}

// Deps are the collaborators of Service. Only Store is required.
type Deps struct {
	Store    store.Store
	Events   events.Broker
	Search   *search.Service
	Mailer   Mailer
	Exporter *archive.Exporter
}

type Service struct {
	cfg      config.Config
	store    store.Store
	order    *ordering.Manager
	events   events.Broker
	search   *search.Service
	mailer   Mailer
	exporter *archive.Exporter
	tokenKey []byte
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		order:    ordering.NewManager(keyspace.Base36(), cfg.SortKeyRetries),
		events:   deps.Events,
		search:   deps.Search,
		mailer:   deps.Mailer,
		exporter: deps.Exporter,
		tokenKey: []byte(cfg.JWTSecret),

		// The SQL store and board cursors keep microseconds.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	if s.events == nil {
		s.events = events.NewLocalBroker()
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewStoreSearcher(deps.Store))
	}
	if s.exporter == nil {
		s.exporter = archive.NewExporter(nil, 0)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Events() events.Broker { return s.events }

// access is the caller's view of a board at the time of the request.
type access struct {
	board   store.Board
	members []store.Membership
	role    rbac.Role
}

func toGuardMembers(rows []store.Membership) []membership.Member {
	out := make([]membership.Member, len(rows))
	for i, m := range rows {
		out[i] = membership.Member{UserID: m.UserID, Role: m.Role, Active: m.Active()}
	}
	return out
}

// authorize loads boardID and fails with Forbidden unless caller may perform
// action on it. It runs before any version check so callers without access
// learn nothing about the entity state.
func (s *Service) authorize(ctx context.Context, caller, boardID string, action rbac.Action) (access, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return access{}, translate(err)
	}
	members, err := s.store.ListMemberships(ctx, boardID)
	if err != nil {
		return access{}, fmt.Errorf("list memberships: %w", err)
	}
	role := membership.EffectiveRole(board.OwnerID, toGuardMembers(members), caller)
	if !rbac.Can(role, action) {
		log.WithFields(log.Fields{
			"board_id": boardID,
			"user":     caller,
			"role":     role,
			"action":   action,
		}).Debug("access denied")
		return access{}, forbidden()
	}
	return access{board: board, members: members, role: role}, nil
}

// requireToken enforces If-Match on updates and deletes when configured.
func (s *Service) requireToken(pre occ.Precondition) error {
	if s.cfg.RequireIfMatch && !pre.IsSet() {
		return preconditionRequired()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, boardID, entityID, actor string, version int64) {
	ev := events.Event{
		Type:     typ,
		BoardID:  boardID,
		EntityID: entityID,
		Version:  version,
		Actor:    actor,
		At:       s.now(),
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.WithError(err).WithFields(log.Fields{"board_id": boardID, "type": typ}).Warn("publish board event")
	}
}

// requiredText trims value and checks it holds 1..max characters.
func requiredText(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", validationError(field+" is required", map[string]any{"field": field})
	}
	if utf8.RuneCountInString(value) > max {
		return "", validationError(fmt.Sprintf("%s must be at most %d characters", field, max), map[string]any{"field": field, "max": max})
	}
	return value, nil
}

// optionalText trims value; blank clears it.
func optionalText(field string, value *string, max int) (*string, error) {
	if value == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(v) > max {
		return nil, validationError(fmt.Sprintf("%s must be at most %d characters", field, max), map[string]any{"field": field, "max": max})
	}
	return &v, nil
}

func encodeCursor(b store.Board) string {
	raw := strconv.FormatInt(b.CreatedAt.UnixMicro(), 10) + "|" + b.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (*store.BoardCursor, error) {
	if cursor == "" {
		return nil, nil
	}
	invalid := validationError("cursor is malformed", map[string]any{"field": "cursor"})
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, invalid
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, invalid
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, invalid
	}
	return &store.BoardCursor{CreatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}
