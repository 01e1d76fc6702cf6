// Package archive writes board snapshots to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskboard/api/internal/store"
)

// ErrDisabled is returned when no object storage is configured.
var ErrDisabled = errors.New("board export is not configured")

const DefaultLinkExpiry = 15 * time.Minute

type ColumnSnapshot struct {
	store.Column
	Cards []store.Card `json:"cards"`
}

// Snapshot is the exported representation of a board. Columns and their
// cards appear in display order.
type Snapshot struct {
	Format     int                `json:"format"`
	Board      store.Board        `json:"board"`
	Columns    []ColumnSnapshot   `json:"columns"`
	Members    []store.Membership `json:"members"`
	ExportedAt time.Time          `json:"exportedAt"`
	ExportedBy string             `json:"exportedBy"`
}

// BuildSnapshot groups cards under their columns. Both inputs are expected
// in display order; cards of unknown columns are dropped.
func BuildSnapshot(board store.Board, columns []store.Column, cards []store.Card, members []store.Membership, actor string, now time.Time) Snapshot {
	snap := Snapshot{
		Format:     1,
		Board:      board,
		Columns:    make([]ColumnSnapshot, 0, len(columns)),
		Members:    members,
		ExportedAt: now.UTC(),
		ExportedBy: actor,
	}
	if snap.Members == nil {
		snap.Members = []store.Membership{}
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.ID] = i
		snap.Columns = append(snap.Columns, ColumnSnapshot{Column: c, Cards: []store.Card{}})
	}
	for _, card := range cards {
		if i, ok := index[card.ColumnID]; ok {
			snap.Columns[i].Cards = append(snap.Columns[i].Cards, card)
		}
	}
	return snap
}

// Uploader stores an object and returns a time-limited download link.
type Uploader interface {
	Upload(ctx context.Context, object string, body []byte, contentType string) (string, error)
}

type Result struct {
	Object    string    `json:"object"`
	URL       string    `json:"url"`
	Size      int       `json:"size"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Exporter struct {
	uploader Uploader
	expiry   time.Duration
}

// NewExporter returns an exporter; a nil uploader makes every export fail
// with ErrDisabled.
func NewExporter(uploader Uploader, expiry time.Duration) *Exporter {
	if expiry <= 0 {
		expiry = DefaultLinkExpiry
	}
	return &Exporter{uploader: uploader, expiry: expiry}
}

func (e *Exporter) Enabled() bool { return e != nil && e.uploader != nil }

func ObjectName(snap Snapshot) string {
	return fmt.Sprintf("boards/%s/%s-v%d.json", snap.Board.ID, snap.ExportedAt.Format("20060102T150405Z"), snap.Board.Version)
}

func (e *Exporter) Export(ctx context.Context, snap Snapshot) (Result, error) {
	if !e.Enabled() {
		return Result{}, ErrDisabled
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return Result{}, fmt.Errorf("encode snapshot: %w", err)
	}
	object := ObjectName(snap)
	url, err := e.uploader.Upload(ctx, object, buf.Bytes(), "application/json")
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", object, err)
	}
	return Result{Object: object, URL: url, Size: buf.Len(), ExpiresAt: snap.ExportedAt.Add(e.expiry)}, nil
}
