package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// New returns Params clamped to the accepted range.
func New(offset, limit int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// FromContext extracts the offset and limit query parameters from the echo
// context. Missing or malformed values fall back to the defaults.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return New(offset, limit)
}

// End returns the exclusive end index of the page.
func (p Params) End() int {
	return p.Offset + p.Limit
}

// Slice returns the page of items selected by p: elements from Offset up to
// Offset+Limit, fewer only when the collection is exhausted.
func Slice[T any](items []T, p Params) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.End()
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}
