package store

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var errMalformedCursor = errors.New("malformed storage cursor")

// StoragePage is one slice of a session's stored samples plus the
// token resuming after it. An empty NextCursor means the stream is
// exhausted.
type StoragePage struct {
	Items      []StorageItem `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Cursor pins a resume position inside one session's (ts, id) keyset
// order. The encoded form is opaque; clients echo it back verbatim.
type Cursor struct {
	TS time.Time
	ID uuid.UUID
}

// cursorAfter encodes the token resuming right after item.
func cursorAfter(item StorageItem) string {
	return EncodeCursor(Cursor{TS: item.TS, ID: item.ID})
}

func EncodeCursor(c Cursor) string {
	raw := c.TS.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a client-supplied token. The empty token means
// "from the beginning" and decodes to nil.
func DecodeCursor(v string) (*Cursor, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, errMalformedCursor
	}
	tsPart, idPart, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errMalformedCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return nil, errMalformedCursor
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil, errMalformedCursor
	}
	return &Cursor{TS: ts, ID: id}, nil
}
