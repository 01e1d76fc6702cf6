package search

import (
	"context"

	"taskboard/api/internal/store"
)

// Hit is a single card returned by a search.
type Hit struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// Query describes a card search within one board.
type Query struct {
	BoardID string
	Text    string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Hit  `json:"results"`
	Total   int    `json:"total"`
	Query   string `json:"query"`
	Source  string `json:"source"`
}

// Searcher can execute a card search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Hit, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          string `json:"id"`
	BoardID     string `json:"boardId"`
	ColumnID    string `json:"columnId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     int64  `json:"version"`
}

func RecordFromCard(c store.Card) CardRecord {
	r := CardRecord{ID: c.ID, BoardID: c.BoardID, ColumnID: c.ColumnID, Title: c.Title, Version: c.Version}
	if c.Description != nil {
		r.Description = *c.Description
	}
	return r
}

const snippetLength = 160

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength]) + "…"
}
