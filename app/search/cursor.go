package search

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lysyi3m/family-comb/app/database"
)

// Cursor is the opaque continuation token for event pages. It pins the
// radius so follow-up pages never re-expand.
type Cursor struct {
	Start  time.Time `json:"s"`
	ID     string    `json:"i"`
	Radius float64   `json:"r"`
	Types  Types     `json:"t"`
}

func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func DecodeCursor(s string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidRequest)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidRequest)
	}
	if c.ID == "" || c.Start.IsZero() || c.Radius <= 0 {
		return Cursor{}, fmt.Errorf("%w: incomplete cursor", ErrInvalidRequest)
	}
	return c, nil
}

func (c Cursor) keyset() *database.Keyset {
	return &database.Keyset{StartAt: c.Start, ID: c.ID}
}
