package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid history cursor")

// Cursor is a keyset position in message history. Pages continue with the
// messages ordered strictly after it by (created_at DESC, id DESC), so
// messages sharing a timestamp are neither skipped nor repeated.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// String encodes the cursor as "<unix micros>_<message id>".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + "_" + c.ID
}

func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	micros, id, ok := strings.Cut(s, "_")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	return Cursor{CreatedAt: time.UnixMicro(us).UTC(), ID: id}, nil
}

// CursorAfter points just past the given message.
func CursorAfter(m *MessageResponse) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}
