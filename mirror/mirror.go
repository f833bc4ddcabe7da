// Package mirror holds the explorer's in-memory copy of ledger state.
//
// A Mirror never talks to the ledger. Reads are lock-free: blocks are
// published as immutable copy-on-write views, keyed entities sit behind one
// atomic pointer per key. Writes to keyed entities are guarded per key by the
// watermark they were fetched at, so a slow refresh can never overwrite a
// fresher snapshot. Block appends go through a single writer lock and must
// keep the mirrored heights contiguous.
package mirror

import (
	"errors"
	"sync/atomic"
	"time"

	"ledger-explorer/models"
)

var (
	// ErrNonMonotonicWatermark is returned when asked to lower the watermark.
	ErrNonMonotonicWatermark = errors.New("mirror: non-monotonic watermark")
	// ErrBlockGap is returned when a block (or watermark) would skip a height.
	ErrBlockGap = errors.New("mirror: block height gap")
	// ErrBlockConflict is returned when a block at an already mirrored height
	// carries a different hash.
	ErrBlockConflict = errors.New("mirror: conflicting block at mirrored height")
)

// Snapshot is a value together with the watermark it was fetched at.
type Snapshot[T any] struct {
	Value     T         `json:"value"`
	Watermark uint64    `json:"watermark"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Options struct {
	// MaxBlocks bounds how many blocks are retained; oldest are evicted first.
	// Zero keeps everything.
	MaxBlocks int
	Now       func() time.Time
}

type Mirror struct {
	opts Options

	watermark atomic.Uint64
	epoch     atomic.Uint64

	blocks blockLog

	accounts  keyed[models.AccountID, models.AccountRecord]
	domains   keyed[string, models.DomainRecord]
	assetDefs keyed[models.AssetDefinitionID, models.AssetDefinitionRecord]
}

func New(opts Options) *Mirror {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxBlocks < 0 {
		opts.MaxBlocks = 0
	}
	m := &Mirror{opts: opts}
	m.blocks.init()
	return m
}

// Watermark is the highest block height known to be fully mirrored.
func (m *Mirror) Watermark() uint64 {
	return m.watermark.Load()
}

// Epoch changes whenever keyed snapshots are invalidated.
func (m *Mirror) Epoch() uint64 {
	return m.epoch.Load()
}

// Range reports the mirrored block window [floor, watermark]. With no blocks
// mirrored yet, floor is 1 and watermark is 0.
func (m *Mirror) Range() (floor, watermark uint64) {
	// Load watermark first: the chain only grows past it, so the floor read
	// afterwards can never be from an older chain than the watermark.
	watermark = m.watermark.Load()
	return m.blocks.view().base, watermark
}

// AdvanceWatermark raises the watermark to height. Lowering it fails with
// ErrNonMonotonicWatermark; raising it past the last mirrored block fails
// with ErrBlockGap. Re-advancing to the current value is a no-op.
func (m *Mirror) AdvanceWatermark(height uint64) error {
	for {
		cur := m.watermark.Load()
		if height < cur {
			return &WatermarkError{Current: cur, Requested: height}
		}
		if height == cur {
			return nil
		}
		if tip := m.blocks.view().tip(); height > tip {
			return &GapError{Tip: tip, Height: height}
		}
		if m.watermark.CompareAndSwap(cur, height) {
			return nil
		}
	}
}

// Snapshots are stamped with the watermark at fetch time, so data fetched
// before a block was applied never shadows data fetched after it.

func (m *Mirror) Account(id models.AccountID) (Snapshot[models.AccountRecord], bool) {
	return m.accounts.get(id)
}

// PutAccount stores rec if at is not older than the stored snapshot.
func (m *Mirror) PutAccount(rec models.AccountRecord, at uint64) bool {
	return m.accounts.put(rec.ID, snap(m, rec, at))
}

func (m *Mirror) Domain(id string) (Snapshot[models.DomainRecord], bool) {
	return m.domains.get(id)
}

func (m *Mirror) PutDomain(rec models.DomainRecord, at uint64) bool {
	return m.domains.put(rec.ID, snap(m, rec, at))
}

func (m *Mirror) AssetDefinition(id models.AssetDefinitionID) (Snapshot[models.AssetDefinitionRecord], bool) {
	return m.assetDefs.get(id)
}

func (m *Mirror) PutAssetDefinition(rec models.AssetDefinitionRecord, at uint64) bool {
	return m.assetDefs.put(rec.ID, snap(m, rec, at))
}

// Accounts returns account snapshots ordered by (name, domain). An empty
// domain selects every account.
func (m *Mirror) Accounts(domain string) []Snapshot[models.AccountRecord] {
	out := m.accounts.collect(func(id models.AccountID) bool {
		return domain == "" || id.Domain == domain
	})
	sortSnapshots(out, func(a, b models.AccountRecord) bool { return a.ID.Less(b.ID) })
	return out
}

// Domains returns domain snapshots ordered by id.
func (m *Mirror) Domains() []Snapshot[models.DomainRecord] {
	out := m.domains.collect(nil)
	sortSnapshots(out, func(a, b models.DomainRecord) bool { return a.ID < b.ID })
	return out
}

// AssetDefinitions returns definitions of one domain ordered by (name, domain).
func (m *Mirror) AssetDefinitions(domain string) []Snapshot[models.AssetDefinitionRecord] {
	out := m.assetDefs.collect(func(id models.AssetDefinitionID) bool {
		return domain == "" || id.Domain == domain
	})
	sortSnapshots(out, func(a, b models.AssetDefinitionRecord) bool { return a.ID.Less(b.ID) })
	return out
}

// Invalidate drops the domain together with its accounts and asset
// definitions. Outstanding cursors over keyed collections become stale.
func (m *Mirror) Invalidate(domain string) {
	m.domains.remove(func(id string) bool { return id == domain })
	m.accounts.remove(func(id models.AccountID) bool { return id.Domain == domain })
	m.assetDefs.remove(func(id models.AssetDefinitionID) bool { return id.Domain == domain })
	m.epoch.Add(1)
}

// InvalidateAll drops every keyed snapshot. Blocks are immutable and stay.
func (m *Mirror) InvalidateAll() {
	m.domains.remove(nil)
	m.accounts.remove(nil)
	m.assetDefs.remove(nil)
	m.epoch.Add(1)
}

type Stats struct {
	Watermark        uint64 `json:"watermark"`
	Floor            uint64 `json:"floor"`
	Blocks           int    `json:"blocks"`
	Transactions     int    `json:"transactions"`
	Accounts         int    `json:"accounts"`
	Domains          int    `json:"domains"`
	AssetDefinitions int    `json:"asset_definitions"`
	Epoch            uint64 `json:"epoch"`
}

func (m *Mirror) Stats() Stats {
	floor, watermark := m.Range()
	return Stats{
		Watermark:        watermark,
		Floor:            floor,
		Blocks:           len(m.blocks.view().blocks),
		Transactions:     m.blocks.txCount(),
		Accounts:         m.accounts.len(),
		Domains:          m.domains.len(),
		AssetDefinitions: m.assetDefs.len(),
		Epoch:            m.Epoch(),
	}
}

func snap[T any](m *Mirror, v T, at uint64) Snapshot[T] {
	return Snapshot[T]{Value: v, Watermark: at, FetchedAt: m.opts.Now().UTC()}
}
