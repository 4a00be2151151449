package model

// DefaultPageSize is used when a cursor is built without an explicit limit.
const DefaultPageSize = 100

// Cursor tracks progress through a paginated remote query. Total is the
// authoritative item count reported by the last response.
type Cursor struct {
	Skip  int
	Limit int
	Total int
}

// NewCursor returns a cursor at offset zero.
func NewCursor(limit int) Cursor {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return Cursor{Limit: limit}
}

// HasNext reports whether more pages remain after the current one.
func (c Cursor) HasNext() bool {
	return c.Total > c.Skip+c.Limit
}

// Next returns the cursor advanced past the page just consumed.
func (c Cursor) Next() Cursor {
	c.Skip += c.Limit
	return c
}

// WithTotal returns the cursor with the total from a response applied.
func (c Cursor) WithTotal(total int) Cursor {
	c.Total = total
	return c
}
