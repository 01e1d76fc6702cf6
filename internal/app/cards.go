package app

import (
	"context"

	"taskboard/api/internal/events"
	"taskboard/api/internal/occ"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type CreateCardInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Placement
	BeforeCardID string `json:"beforeCardId"`
	AfterCardID  string `json:"afterCardId"`
}

func (in CreateCardInput) anchors() (ordering.Anchors, error) {
	return in.with(in.BeforeCardID, in.AfterCardID)
}

// CardPatch changes the fields that are set. An empty description clears it.
type CardPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type MoveCardInput struct {
	// ToColumnID defaults to the card's current column.
	ToColumnID string `json:"toColumnId"`
	Placement
	BeforeCardID    string `json:"beforeCardId"`
	AfterCardID     string `json:"afterCardId"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

func (in MoveCardInput) anchors() (ordering.Anchors, error) {
	return in.with(in.BeforeCardID, in.AfterCardID)
}

func cardItems(cards []store.Card) []ordering.Item {
	items := make([]ordering.Item, len(cards))
	for i, c := range cards {
		items[i] = c.Item()
	}
	return items
}

func (s *Service) boardCard(ctx context.Context, boardID, cardID string) (store.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, translate(err)
	}
	if card.BoardID != boardID {
		return store.Card{}, notFound("Card")
	}
	return card, nil
}

func (s *Service) CreateCard(ctx context.Context, caller, boardID, columnID string, in CreateCardInput) (store.Card, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return store.Card{}, err
	}
	title, err := requiredText("title", in.Title, maxCardTitle)
	if err != nil {
		return store.Card{}, err
	}
	description, err := optionalText("description", in.Description, maxCardDescription)
	if err != nil {
		return store.Card{}, err
	}
	if _, err := s.boardColumn(ctx, boardID, columnID); err != nil {
		return store.Card{}, err
	}
	scope, err := s.store.ListCards(ctx, columnID)
	if err != nil {
		return store.Card{}, translate(err)
	}
	now := s.now()
	card := store.Card{
		ID:          util.NewID("crd"),
		BoardID:     boardID,
		ColumnID:    columnID,
		Title:       title,
		Description: description,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	anchors, err := in.anchors()
	if err != nil {
		return store.Card{}, err
	}
	_, err = s.order.Insert(ctx, cardItems(scope), anchors, func(ctx context.Context, key string) error {
		card.SortKey = key
		return s.store.InsertCard(ctx, card)
	})
	if err != nil {
		return store.Card{}, translate(err)
	}
	s.search.IndexCard(search.RecordFromCard(card))
	s.publish(ctx, events.CardCreated, boardID, card.ID, caller, card.Version)
	return card, nil
}

func (s *Service) UpdateCard(ctx context.Context, caller, boardID, cardID string, patch CardPatch, pre occ.Precondition) (store.Card, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return store.Card{}, err
	}
	var title string
	if patch.Title != nil {
		var err error
		if title, err = requiredText("title", *patch.Title, maxCardTitle); err != nil {
			return store.Card{}, err
		}
	}
	description, err := optionalText("description", patch.Description, maxCardDescription)
	if err != nil {
		return store.Card{}, err
	}
	if err := s.requireToken(pre); err != nil {
		return store.Card{}, err
	}
	if _, err := s.boardCard(ctx, boardID, cardID); err != nil {
		return store.Card{}, err
	}
	card, err := s.store.UpdateCard(ctx, cardID, pre, s.now(), func(c *store.Card) error {
		if patch.Title != nil {
			c.Title = title
		}
		if patch.Description != nil {
			c.Description = description
		}
		return nil
	})
	if err != nil {
		return store.Card{}, translate(err)
	}
	s.search.IndexCard(search.RecordFromCard(card))
	s.publish(ctx, events.CardUpdated, boardID, card.ID, caller, card.Version)
	return card, nil
}

// MoveCard repositions a card inside its column or into another column of
// the same board.
func (s *Service) MoveCard(ctx context.Context, caller, boardID, cardID string, in MoveCardInput) (store.Card, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return store.Card{}, err
	}
	cur, err := s.boardCard(ctx, boardID, cardID)
	if err != nil {
		return store.Card{}, err
	}
	target := in.ToColumnID
	if target == "" {
		target = cur.ColumnID
	}
	if _, err := s.boardColumn(ctx, boardID, target); err != nil {
		return store.Card{}, err
	}
	scope, err := s.store.ListCards(ctx, target)
	if err != nil {
		return store.Card{}, translate(err)
	}
	pre := occ.FromPtr(in.ExpectedVersion)
	var moved store.Card
	anchors, err := in.anchors()
	if err != nil {
		return store.Card{}, err
	}
	_, err = s.order.Move(ctx, cardItems(scope), cardID, anchors, func(ctx context.Context, key string) error {
		var err error
		moved, err = s.store.UpdateCard(ctx, cardID, pre, s.now(), func(c *store.Card) error {
			c.ColumnID = target
			c.SortKey = key
			return nil
		})
		return err
	})
	if err != nil {
		return store.Card{}, translate(err)
	}
	s.search.IndexCard(search.RecordFromCard(moved))
	s.publish(ctx, events.CardMoved, boardID, moved.ID, caller, moved.Version)
	return moved, nil
}

func (s *Service) DeleteCard(ctx context.Context, caller, boardID, cardID string, pre occ.Precondition) error {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.requireToken(pre); err != nil {
		return err
	}
	if _, err := s.boardCard(ctx, boardID, cardID); err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID, pre); err != nil {
		return translate(err)
	}
	s.search.DeleteCards(cardID)
	s.publish(ctx, events.CardDeleted, boardID, cardID, caller, 0)
	return nil
}
