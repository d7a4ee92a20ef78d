// pagination.go implements keyset (cursor) pagination shared by the list
// queries. Ordering is (created_at DESC, id DESC); the cursor is the
// Base64URL-encoded JSON of the boundary row's id and created_at.
package repositories

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
)

const (
	// DefaultPageLimit and MaxPageLimit bound entity list queries.
	DefaultPageLimit = 50
	MaxPageLimit     = 100

	// DefaultAuditPageLimit and MaxAuditPageLimit bound audit log queries,
	// which tolerate larger pages.
	DefaultAuditPageLimit = 100
	MaxAuditPageLimit     = 1000
)

// Direction selects which side of the cursor a page request walks.
type Direction string

const (
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)

// Cursor is the keyset boundary: the id and creation instant of the row the
// previous page ended on.
type Cursor struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodeCursor serializes a boundary row into an opaque cursor token.
func EncodeCursor(id uuid.UUID, createdAt time.Time) string {
	payload, _ := json.Marshal(Cursor{ID: id, CreatedAt: createdAt.UTC().Truncate(time.Millisecond)})
	return base64.URLEncoding.EncodeToString(payload)
}

// DecodeCursor parses a cursor token produced by EncodeCursor.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, apperrors.Validation("invalid pagination cursor", map[string]any{"cursor": token})
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == uuid.Nil {
		return nil, apperrors.Validation("invalid pagination cursor", map[string]any{"cursor": token})
	}
	return &c, nil
}

// PageRequest carries the paging parameters of one list call.
type PageRequest struct {
	Limit     int
	Cursor    *Cursor
	Direction Direction
}

// Normalize clamps the limit into [1, max] and defaults the direction.
func (r PageRequest) Normalize(defaultLimit, maxLimit int) PageRequest {
	if r.Limit <= 0 {
		r.Limit = defaultLimit
	}
	if r.Limit > maxLimit {
		r.Limit = maxLimit
	}
	if r.Direction != DirectionPrev {
		r.Direction = DirectionNext
	}
	return r
}

// Page is the list-response envelope.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
	PrevCursor *string `json:"prev_cursor"`
	HasNext    bool    `json:"has_next"`
	HasPrev    bool    `json:"has_prev"`
	Limit      int     `json:"limit"`
}

// BuildPage assembles the envelope from rows fetched with limit+1. When the
// request walked backwards the rows arrive in ascending order and are
// reversed here so every page reads newest-first. key extracts the keyset
// columns of one row.
func BuildPage[T any](rows []T, req PageRequest, key func(T) (uuid.UUID, time.Time)) Page[T] {
	overfetched := len(rows) > req.Limit
	if overfetched {
		rows = rows[:req.Limit]
	}

	if req.Direction == DirectionPrev {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	page := Page[T]{Items: rows, Limit: req.Limit}
	switch req.Direction {
	case DirectionPrev:
		page.HasPrev = overfetched
		page.HasNext = true
	default:
		page.HasNext = overfetched
		page.HasPrev = req.Cursor != nil
	}

	if len(rows) > 0 {
		if page.HasNext {
			id, at := key(rows[len(rows)-1])
			token := EncodeCursor(id, at)
			page.NextCursor = &token
		}
		if page.HasPrev {
			id, at := key(rows[0])
			token := EncodeCursor(id, at)
			page.PrevCursor = &token
		}
	}
	return page
}
