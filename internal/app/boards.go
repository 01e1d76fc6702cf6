package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/archive"
	"taskboard/api/internal/events"
	"taskboard/api/internal/occ"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type CreateBoardInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// BoardPatch changes the fields that are set. An empty description clears it.
type BoardPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type BoardPage struct {
	Boards     []store.Board `json:"boards"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type ColumnView struct {
	store.Column
	Cards []store.Card `json:"cards"`
}

type BoardView struct {
	Board   store.Board  `json:"board"`
	Role    rbac.Role    `json:"role"`
	Columns []ColumnView `json:"columns"`
}

func (s *Service) CreateBoard(ctx context.Context, caller string, in CreateBoardInput) (store.Board, error) {
	name, err := requiredText("name", in.Name, maxBoardName)
	if err != nil {
		return store.Board{}, err
	}
	description, err := optionalText("description", in.Description, maxBoardDescription)
	if err != nil {
		return store.Board{}, err
	}
	now := s.now()
	board := store.Board{
		ID:          util.NewID("brd"),
		Name:        name,
		Description: description,
		OwnerID:     caller,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := store.Membership{
		BoardID:   board.ID,
		UserID:    caller,
		Role:      rbac.RoleAdmin,
		Status:    store.MembershipActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBoard(ctx, board, owner); err != nil {
		return store.Board{}, translate(err)
	}
	log.WithFields(log.Fields{"board_id": board.ID, "user": caller}).Info("board created")
	return board, nil
}

func (s *Service) ListBoards(ctx context.Context, caller string, limit int, cursor string) (BoardPage, error) {
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit < 1 || limit > maxPageSize {
		return BoardPage{}, validationError(fmt.Sprintf("limit must be between 1 and %d", maxPageSize), map[string]any{"field": "limit"})
	}
	after, err := decodeCursor(cursor)
	if err != nil {
		return BoardPage{}, err
	}
	// One extra row tells whether another page exists.
	boards, err := s.store.ListBoardsForUser(ctx, caller, limit+1, after)
	if err != nil {
		return BoardPage{}, translate(err)
	}
	page := BoardPage{Boards: boards}
	if len(boards) > limit {
		page.Boards = boards[:limit]
		page.NextCursor = encodeCursor(page.Boards[limit-1])
	}
	if page.Boards == nil {
		page.Boards = []store.Board{}
	}
	return page, nil
}

func (s *Service) GetBoard(ctx context.Context, caller, boardID string) (BoardView, error) {
	acc, err := s.authorize(ctx, caller, boardID, rbac.ActionRead)
	if err != nil {
		return BoardView{}, err
	}
	columns, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return BoardView{}, translate(err)
	}
	cards, err := s.store.ListBoardCards(ctx, boardID)
	if err != nil {
		return BoardView{}, translate(err)
	}
	view := BoardView{Board: acc.board, Role: acc.role, Columns: make([]ColumnView, 0, len(columns))}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.ID] = i
		view.Columns = append(view.Columns, ColumnView{Column: c, Cards: []store.Card{}})
	}
	for _, card := range cards {
		if i, ok := index[card.ColumnID]; ok {
			view.Columns[i].Cards = append(view.Columns[i].Cards, card)
		}
	}
	return view, nil
}

func (s *Service) UpdateBoard(ctx context.Context, caller, boardID string, patch BoardPatch, pre occ.Precondition) (store.Board, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return store.Board{}, err
	}
	var name string
	if patch.Name != nil {
		var err error
		if name, err = requiredText("name", *patch.Name, maxBoardName); err != nil {
			return store.Board{}, err
		}
	}
	description, err := optionalText("description", patch.Description, maxBoardDescription)
	if err != nil {
		return store.Board{}, err
	}
	if err := s.requireToken(pre); err != nil {
		return store.Board{}, err
	}
	board, err := s.store.UpdateBoard(ctx, boardID, pre, s.now(), func(b *store.Board) error {
		if patch.Name != nil {
			b.Name = name
		}
		if patch.Description != nil {
			b.Description = description
		}
		return nil
	})
	if err != nil {
		return store.Board{}, translate(err)
	}
	s.publish(ctx, events.BoardUpdated, boardID, boardID, caller, board.Version)
	return board, nil
}

func (s *Service) DeleteBoard(ctx context.Context, caller, boardID string, pre occ.Precondition) error {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.requireToken(pre); err != nil {
		return err
	}
	cards, err := s.store.ListBoardCards(ctx, boardID)
	if err != nil {
		return translate(err)
	}
	if err := s.store.DeleteBoard(ctx, boardID, pre); err != nil {
		return translate(err)
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	s.search.DeleteCards(ids...)
	s.publish(ctx, events.BoardDeleted, boardID, boardID, caller, 0)
	log.WithFields(log.Fields{"board_id": boardID, "user": caller, "cards": len(cards)}).Info("board deleted")
	return nil
}

// TransferOwnership hands the board to newOwner, who must already be an
// active member. Only the current owner or an admin may do this.
func (s *Service) TransferOwnership(ctx context.Context, caller, boardID, newOwner string, pre occ.Precondition) (store.Board, error) {
	acc, err := s.authorize(ctx, caller, boardID, rbac.ActionRead)
	if err != nil {
		return store.Board{}, err
	}
	if acc.board.OwnerID != caller && acc.role != rbac.RoleAdmin {
		return store.Board{}, forbidden()
	}
	if newOwner == "" {
		return store.Board{}, validationError("newOwnerId is required", map[string]any{"field": "newOwnerId"})
	}
	board, err := s.store.TransferOwnership(ctx, boardID, newOwner, pre, s.now())
	if err != nil {
		return store.Board{}, translate(err)
	}
	s.publish(ctx, events.OwnershipChanged, boardID, newOwner, caller, board.Version)
	return board, nil
}

// LeaveBoard drops the caller's own membership. Owners must hand the board
// over first.
func (s *Service) LeaveBoard(ctx context.Context, caller, boardID string) error {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return translate(err)
	}
	if board.OwnerID == caller {
		// The owner may have no row to delete, so the guard runs here.
		members, err := s.store.ListMemberships(ctx, boardID)
		if err != nil {
			return translate(err)
		}
		if err := s.guardRemoval(board, members, store.Membership{BoardID: boardID, UserID: caller}); err != nil {
			return translate(err)
		}
	}
	err = s.store.DeleteMembership(ctx, boardID, caller, occ.Any(), s.guardRemoval)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return translate(err)
	}
	s.publish(ctx, events.MemberRemoved, boardID, caller, caller, 0)
	return nil
}

func (s *Service) SearchCards(ctx context.Context, caller, boardID, query string, limit int) (search.Response, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	resp, err := s.search.Search(ctx, search.Query{BoardID: boardID, Text: query, Limit: limit})
	if err != nil {
		return search.Response{}, translate(err)
	}
	return resp, nil
}

func (s *Service) ExportBoard(ctx context.Context, caller, boardID string) (archive.Result, error) {
	acc, err := s.authorize(ctx, caller, boardID, rbac.ActionRead)
	if err != nil {
		return archive.Result{}, err
	}
	if !s.exporter.Enabled() {
		return archive.Result{}, translate(archive.ErrDisabled)
	}
	view, err := s.GetBoard(ctx, caller, boardID)
	if err != nil {
		return archive.Result{}, err
	}
	columns := make([]store.Column, len(view.Columns))
	var cards []store.Card
	for i, c := range view.Columns {
		columns[i] = c.Column
		cards = append(cards, c.Cards...)
	}
	snap := archive.BuildSnapshot(view.Board, columns, cards, acc.members, caller, s.now())
	res, err := s.exporter.Export(ctx, snap)
	if err != nil {
		return archive.Result{}, translate(err)
	}
	log.WithFields(log.Fields{"board_id": boardID, "object": res.Object, "bytes": res.Size}).Info("board exported")
	return res, nil
}

// SubscribeBoard streams the events of a board the caller can read.
func (s *Service) SubscribeBoard(ctx context.Context, caller, boardID string) (<-chan events.Event, func(), error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionRead); err != nil {
		return nil, nil, err
	}
	ch, release, err := s.events.Subscribe(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe board %s: %w", boardID, err)
	}
	return ch, release, nil
}
