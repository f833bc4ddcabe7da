package pagination

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrStaleCursor means the cursor can no longer be served consistently;
	// the client has to restart from the first page.
	ErrStaleCursor = errors.New("stale cursor")
	// ErrInvalidCursor means the token could not be decoded at all.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Key is a position in a collection's natural order. Collections use the
// fields they need and leave the rest zero.
type Key struct {
	_      struct{} `cbor:",toarray"`
	Height uint64
	Index  int
	Name   string
	Domain string
}

// Compare orders keys by height, index, name, then domain.
func (k Key) Compare(o Key) int {
	switch {
	case k.Height != o.Height:
		return cmp(k.Height < o.Height)
	case k.Index != o.Index:
		return cmp(k.Index < o.Index)
	case k.Name != o.Name:
		return cmp(k.Name < o.Name)
	case k.Domain != o.Domain:
		return cmp(k.Domain < o.Domain)
	}
	return 0
}

func cmp(less bool) int {
	if less {
		return -1
	}
	return 1
}

// Cursor is the decoded form of a page token.
type Cursor struct {
	_           struct{} `cbor:",toarray"`
	Collection  string
	Last        Key
	Watermark   uint64
	Floor       uint64
	Epoch       uint64
	Order       Order
	Fingerprint []byte
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Sort: cbor.SortCoreDeterministic}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 64, MaxMapPairs: 64}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() (string, error) {
	raw, err := encMode.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("%w: bad encoding", ErrInvalidCursor)
	}
	if err := decMode.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.Collection == "" || !c.Order.Valid() || len(c.Fingerprint) != fingerprintSize {
		return c, fmt.Errorf("%w: incomplete token", ErrInvalidCursor)
	}
	return c, nil
}

const fingerprintSize = 16

// Fingerprint identifies a collection together with its filter. Map keys are
// sorted by the encoder, so equal filters always hash the same.
func Fingerprint(collection string, filter map[string]string) []byte {
	if len(filter) == 0 {
		filter = nil
	}
	raw, err := encMode.Marshal(struct {
		_          struct{} `cbor:",toarray"`
		Collection string
		Filter     map[string]string
	}{Collection: collection, Filter: filter})
	if err != nil {
		// string maps always encode
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return sum[:fingerprintSize]
}
