package search

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Indexer can push cards into a search index.
type Indexer interface {
	IndexCards(cards []CardRecord) error
	DeleteCard(id string) error
}

// Index is a search backend that also accepts writes.
type Index interface {
	Searcher
	Indexer
}

// Service is the facade that tries the index first and falls back to the
// store query.
type Service struct {
	index    Index
	fallback Searcher
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher) *Service {
	return &Service{index: index, fallback: fallback}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "index"}, nil
		}
		log.WithError(err).WithField("board_id", q.BoardID).Warn("search: index error, falling back to store")
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "store"}, nil
}

// IndexCard indexes a card (fire-and-forget).
func (s *Service) IndexCard(c CardRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexCards([]CardRecord{c}); err != nil {
			log.WithError(err).WithField("card_id", c.ID).Warn("search: index card")
		}
	}()
}

// DeleteCards removes cards from the index (fire-and-forget).
func (s *Service) DeleteCards(ids ...string) {
	if !s.indexReady() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.index.DeleteCard(id); err != nil {
				log.WithError(err).WithField("card_id", id).Warn("search: delete card")
			}
		}
	}()
}

// Reindex pushes cards to the index synchronously.
func (s *Service) Reindex(cards []CardRecord) error {
	if !s.indexReady() || len(cards) == 0 {
		return nil
	}
	return s.index.IndexCards(cards)
}

func nonNil(r []Hit) []Hit {
	if r == nil {
		return []Hit{}
	}
	return r
}
