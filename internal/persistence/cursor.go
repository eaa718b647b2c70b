// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/studylog/internal/domain"
)

// ErrInvalidCursor is returned for page tokens this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// cursorToken is the JSON body of a page token. Times are kept in UTC with full precision
// so the keyset comparison in the repositories matches the stored value exactly.
type cursorToken struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// EncodeCursor turns the position after a page into an opaque, URL safe token.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw, err := json.Marshal(cursorToken{CreatedAt: c.CreatedAt.UTC(), ID: c.ID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token from EncodeCursor. A blank token means the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var ct cursorToken
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if ct.ID == "" || ct.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &domain.Cursor{CreatedAt: ct.CreatedAt, ID: ct.ID}, nil
}
