// Package store holds the listing/paging contract shared by the
// Identity Store (C2) and Resource Store (C3): every entity-specific
// store in internal/store/postgres implements the same narrow CRUD
// surface (add/get/list/count/update/del) described in spec §4.2.
package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SortKey is one (key, ascending?) pair in a list's ORDER BY clause.
type SortKey struct {
	Key string
	Asc bool
}

// ListOptions carries the non-filter parts of a list(opts, cursor)
// call: offset applies once at the start, cursor tracks progress
// beyond it, and CursorMax bounds how many items a single slice call
// returns regardless of Limit.
type ListOptions struct {
	Offset    int
	Limit     int // 0 = unbounded, subject to CursorMax
	Sort      []SortKey
	CursorMax int // 0 = no slicing; a full page up to Limit is returned
}

// Cursor is the opaque progress marker handed back to the caller when
// a list() call yields less than the caller's remaining Limit because
// CursorMax capped the slice. It is never a raw database cursor — per
// §9's design note — only a position the next call resumes from.
type Cursor struct {
	Offset  int `json:"offset"`
	Yielded int `json:"yielded"`
}

// Encode renders the cursor as the opaque string clients pass back.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a cursor string previously produced by Encode.
// An empty string decodes to nil (start from the beginning).
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &c, nil
}

// NextWindow computes the (offset, limit) to query for the next slice
// given the options, an optional incoming cursor, and how many items
// have already been yielded to the caller across prior slices.
//
// Per spec §4.2/§8 scenario 6: limit=0 with a cursor-max yields
// successive slices of size CursorMax until fewer than CursorMax rows
// come back, at which point the cursor returned is nil.
func NextWindow(opts ListOptions, cur *Cursor) (offset, limit int) {
	offset = opts.Offset
	already := 0
	if cur != nil {
		offset = cur.Offset
		already = cur.Yielded
	}

	remaining := -1 // unbounded
	if opts.Limit > 0 {
		remaining = opts.Limit - already
		if remaining < 0 {
			remaining = 0
		}
	}

	slice := opts.CursorMax
	if slice <= 0 {
		slice = remaining
	} else if remaining >= 0 && remaining < slice {
		slice = remaining
	}
	return offset, slice
}

// AdvanceCursor computes the cursor to return after a slice of `got`
// rows was fetched with the window from NextWindow; it is nil when no
// further slice is needed (got < requested slice size, or the
// caller's Limit has been fully satisfied).
func AdvanceCursor(opts ListOptions, cur *Cursor, offset, requested, got int) *Cursor {
	already := 0
	if cur != nil {
		already = cur.Yielded
	}
	yielded := already + got

	if opts.Limit > 0 && yielded >= opts.Limit {
		return nil
	}
	if requested > 0 && got < requested {
		return nil
	}
	if requested == 0 {
		return nil
	}
	return &Cursor{Offset: offset + got, Yielded: yielded}
}

// AllowedSortKeys validates a requested sort against an entity's fixed
// sortable-key set, per spec §4.7 "rejects unknown keys with a
// parameter error".
func AllowedSortKeys(sort []SortKey, allowed map[string]bool) error {
	for _, s := range sort {
		if !allowed[s.Key] {
			return fmt.Errorf("unknown sort key %q", s.Key)
		}
	}
	return nil
}
