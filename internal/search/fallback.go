package search

import (
	"context"

	"taskboard/api/internal/store"
)

// CardFinder is the store query used when no index is available.
type CardFinder interface {
	SearchCards(ctx context.Context, boardID, query string, limit int) ([]store.Card, error)
}

// StoreSearcher answers searches straight from the database with a
// substring match over titles and descriptions.
type StoreSearcher struct {
	cards CardFinder
}

func NewStoreSearcher(cards CardFinder) *StoreSearcher {
	return &StoreSearcher{cards: cards}
}

func (s *StoreSearcher) Healthy() bool { return s.cards != nil }

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Hit, int, error) {
	cards, err := s.cards.SearchCards(ctx, q.BoardID, q.Text, q.Limit)
	if err != nil {
		return nil, 0, err
	}
	hits := make([]Hit, 0, len(cards))
	for _, c := range cards {
		h := Hit{ID: c.ID, BoardID: c.BoardID, ColumnID: c.ColumnID, Title: c.Title}
		if c.Description != nil {
			h.Snippet = snippet(*c.Description)
		}
		hits = append(hits, h)
	}
	return hits, len(hits), nil
}
