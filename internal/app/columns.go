package app

import (
	"context"

	"taskboard/api/internal/events"
	"taskboard/api/internal/occ"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// Placement names the neighbours of a requested position. AfterID ends up
// immediately before the placed entity, BeforeID immediately after it.
type Placement struct {
	BeforeID string `json:"beforeId"`
	AfterID  string `json:"afterId"`
}

// with merges the entity specific spellings (beforeColumnId, afterCardId...)
// into p. Both spellings may be sent as long as they agree.
func (p Placement) with(before, after string) (ordering.Anchors, error) {
	b, err := pickAnchor("before", p.BeforeID, before)
	if err != nil {
		return ordering.Anchors{}, err
	}
	a, err := pickAnchor("after", p.AfterID, after)
	if err != nil {
		return ordering.Anchors{}, err
	}
	return ordering.Anchors{Before: b, After: a}, nil
}

func pickAnchor(field, generic, specific string) (string, error) {
	switch {
	case specific == "":
		return generic, nil
	case generic == "" || generic == specific:
		return specific, nil
	}
	return "", validationError("Conflicting "+field+" anchors name two different ids", map[string]any{"field": field})
}

type CreateColumnInput struct {
	Name string `json:"name"`
	Placement
	BeforeColumnID string `json:"beforeColumnId"`
	AfterColumnID  string `json:"afterColumnId"`
}

func (in CreateColumnInput) anchors() (ordering.Anchors, error) {
	return in.with(in.BeforeColumnID, in.AfterColumnID)
}

type MoveColumnInput struct {
	Placement
	BeforeColumnID  string `json:"beforeColumnId"`
	AfterColumnID   string `json:"afterColumnId"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

func (in MoveColumnInput) anchors() (ordering.Anchors, error) {
	return in.with(in.BeforeColumnID, in.AfterColumnID)
}

func columnItems(cols []store.Column) []ordering.Item {
	items := make([]ordering.Item, len(cols))
	for i, c := range cols {
		items[i] = c.Item()
	}
	return items
}

// boardColumn loads a column and hides columns of other boards.
func (s *Service) boardColumn(ctx context.Context, boardID, columnID string) (store.Column, error) {
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return store.Column{}, translate(err)
	}
	if col.BoardID != boardID {
		return store.Column{}, notFound("Column")
	}
	return col, nil
}

func (s *Service) CreateColumn(ctx context.Context, caller, boardID string, in CreateColumnInput) (store.Column, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return store.Column{}, err
	}
	name, err := requiredText("name", in.Name, maxColumnName)
	if err != nil {
		return store.Column{}, err
	}
	scope, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return store.Column{}, translate(err)
	}
	now := s.now()
	col := store.Column{
		ID:        util.NewID("col"),
		BoardID:   boardID,
		Name:      name,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	anchors, err := in.anchors()
	if err != nil {
		return store.Column{}, err
	}
	_, err = s.order.Insert(ctx, columnItems(scope), anchors, func(ctx context.Context, key string) error {
		col.SortKey = key
		return s.store.InsertColumn(ctx, col)
	})
	if err != nil {
		return store.Column{}, translate(err)
	}
	s.publish(ctx, events.ColumnCreated, boardID, col.ID, caller, col.Version)
	return col, nil
}

func (s *Service) UpdateColumn(ctx context.Context, caller, boardID, columnID string, name string, pre occ.Precondition) (store.Column, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return store.Column{}, err
	}
	name, err := requiredText("name", name, maxColumnName)
	if err != nil {
		return store.Column{}, err
	}
	if err := s.requireToken(pre); err != nil {
		return store.Column{}, err
	}
	if _, err := s.boardColumn(ctx, boardID, columnID); err != nil {
		return store.Column{}, err
	}
	col, err := s.store.UpdateColumn(ctx, columnID, pre, s.now(), func(c *store.Column) error {
		c.Name = name
		return nil
	})
	if err != nil {
		return store.Column{}, translate(err)
	}
	s.publish(ctx, events.ColumnUpdated, boardID, col.ID, caller, col.Version)
	return col, nil
}

func (s *Service) MoveColumn(ctx context.Context, caller, boardID, columnID string, in MoveColumnInput) (store.Column, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return store.Column{}, err
	}
	if _, err := s.boardColumn(ctx, boardID, columnID); err != nil {
		return store.Column{}, err
	}
	scope, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return store.Column{}, translate(err)
	}
	pre := occ.FromPtr(in.ExpectedVersion)
	var moved store.Column
	anchors, err := in.anchors()
	if err != nil {
		return store.Column{}, err
	}
	_, err = s.order.Move(ctx, columnItems(scope), columnID, anchors, func(ctx context.Context, key string) error {
		var err error
		moved, err = s.store.UpdateColumn(ctx, columnID, pre, s.now(), func(c *store.Column) error {
			c.SortKey = key
			return nil
		})
		return err
	})
	if err != nil {
		return store.Column{}, translate(err)
	}
	s.publish(ctx, events.ColumnMoved, boardID, moved.ID, caller, moved.Version)
	return moved, nil
}

// DeleteColumn removes the column together with its cards.
func (s *Service) DeleteColumn(ctx context.Context, caller, boardID, columnID string, pre occ.Precondition) error {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.requireToken(pre); err != nil {
		return err
	}
	if _, err := s.boardColumn(ctx, boardID, columnID); err != nil {
		return err
	}
	cards, err := s.store.ListCards(ctx, columnID)
	if err != nil {
		return translate(err)
	}
	if err := s.store.DeleteColumn(ctx, columnID, pre); err != nil {
		return translate(err)
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	s.search.DeleteCards(ids...)
	s.publish(ctx, events.ColumnDeleted, boardID, columnID, caller, 0)
	return nil
}
