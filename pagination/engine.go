// Package pagination turns mirrored collections into keyset-paginated pages
// with opaque, self-validating cursors.
//
// A page boundary is the last key returned, never an offset. Cursors over
// block-backed collections pin the watermark they were issued at, so blocks
// appended later never shift pages that were already handed out. Whenever a
// cursor can no longer be served without skipping or repeating items, the
// engine returns ErrStaleCursor instead of guessing.
package pagination

import (
	"bytes"
	"fmt"
)

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

func (o Order) Valid() bool { return o == Asc || o == Desc }

// ParseOrder accepts "asc", "desc" or an empty string (ascending).
func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case "":
		return Asc, nil
	case Asc, Desc:
		return o, nil
	}
	return "", fmt.Errorf("order must be asc or desc, got %q", s)
}

// View is the part of the mirror the engine validates cursors against.
type View interface {
	Range() (floor, watermark uint64)
	Epoch() uint64
}

// Collection is an ordered, filtered listing the engine can page through.
type Collection[T any] interface {
	// Name identifies the collection kind inside cursors.
	Name() string
	// Filter is the parameter set the listing was built with.
	Filter() map[string]string
	// Keyed collections hold mutable snapshots; their cursors die with the
	// mirror epoch. Others are block-backed and bounded by the watermark.
	Keyed() bool
	// Scan returns up to limit items strictly after `after` (from the start
	// when nil) in the given order, never above watermark for block-backed
	// collections.
	Scan(after *Key, order Order, limit int, watermark uint64) []T
	KeyOf(item T) Key
	// LowestNeeded is the lowest block height the rest of the listing after
	// key depends on. Only consulted for block-backed collections.
	LowestNeeded(after Key, order Order, issuedFloor uint64) uint64
}

type Query struct {
	// Order is required for the first page; for later pages an empty Order
	// means "whatever the cursor says".
	Order    Order
	PageSize int
}

type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	Watermark  uint64 `json:"watermark"`
}

type Engine struct {
	DefaultPageSize int
	MaxPageSize     int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageSize applies the default to non-positive sizes and clamps to the max.
func (e Engine) PageSize(n int) int {
	def, limit := e.DefaultPageSize, e.MaxPageSize
	if limit <= 0 {
		limit = MaxPageSize
	}
	if def <= 0 {
		def = DefaultPageSize
	}
	if def > limit {
		def = limit
	}
	switch {
	case n <= 0:
		return def
	case n > limit:
		return limit
	}
	return n
}

// FirstPage starts a listing at the current watermark.
func FirstPage[T any](e Engine, v View, c Collection[T], q Query) (Page[T], error) {
	order := q.Order
	if order == "" {
		order = Asc
	}
	if !order.Valid() {
		return Page[T]{}, fmt.Errorf("unknown order %q", order)
	}
	floor, watermark := v.Range()
	cur := Cursor{
		Collection:  c.Name(),
		Watermark:   watermark,
		Floor:       floor,
		Epoch:       v.Epoch(),
		Order:       order,
		Fingerprint: Fingerprint(c.Name(), c.Filter()),
	}
	return page(e, c, cur, nil, q.PageSize)
}

// NextPage continues a listing from token. The collection must be built with
// the same filter the cursor was issued for.
func NextPage[T any](e Engine, v View, c Collection[T], q Query, token string) (Page[T], error) {
	cur, err := DecodeCursor(token)
	if err != nil {
		return Page[T]{}, err
	}
	if cur.Collection != c.Name() || !bytes.Equal(cur.Fingerprint, Fingerprint(c.Name(), c.Filter())) {
		return Page[T]{}, fmt.Errorf("%w: issued for a different listing", ErrStaleCursor)
	}
	if q.Order != "" && q.Order != cur.Order {
		return Page[T]{}, fmt.Errorf("%w: issued for %s order", ErrStaleCursor, cur.Order)
	}

	floor, watermark := v.Range()
	if watermark < cur.Watermark {
		return Page[T]{}, fmt.Errorf("%w: mirror was reset below height %d", ErrStaleCursor, cur.Watermark)
	}
	if c.Keyed() {
		if v.Epoch() != cur.Epoch {
			return Page[T]{}, fmt.Errorf("%w: snapshots were invalidated", ErrStaleCursor)
		}
	} else if need := c.LowestNeeded(cur.Last, cur.Order, cur.Floor); need < floor {
		return Page[T]{}, fmt.Errorf("%w: height %d was evicted", ErrStaleCursor, need)
	}

	last := cur.Last
	p, err := page(e, c, cur, &last, q.PageSize)
	if err != nil {
		return Page[T]{}, err
	}

	// The scan reads the mirror again and silently clips to what is still
	// retained. The floor only grows, so checking it afterwards covers any
	// eviction or invalidation that raced the scan.
	if c.Keyed() {
		if v.Epoch() != cur.Epoch {
			return Page[T]{}, fmt.Errorf("%w: snapshots were invalidated", ErrStaleCursor)
		}
	} else if floor, _ := v.Range(); c.LowestNeeded(cur.Last, cur.Order, cur.Floor) < floor {
		return Page[T]{}, fmt.Errorf("%w: evicted while the page was read", ErrStaleCursor)
	}
	return p, nil
}

func page[T any](e Engine, c Collection[T], cur Cursor, after *Key, size int) (Page[T], error) {
	size = e.PageSize(size)
	items := c.Scan(after, cur.Order, size+1, cur.Watermark)
	out := Page[T]{Items: items, Watermark: cur.Watermark}
	if out.Items == nil {
		out.Items = []T{}
	}
	if len(items) <= size {
		return out, nil
	}

	out.Items = items[:size]
	cur.Last = c.KeyOf(out.Items[size-1])
	token, err := cur.Encode()
	if err != nil {
		return Page[T]{}, err
	}
	out.NextCursor = token
	return out, nil
}
