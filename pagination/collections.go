package pagination

import (
	"slices"
	"sort"
	"strconv"

	"ledger-explorer/mirror"
	"ledger-explorer/models"
)

// Blocks lists mirrored blocks by height.
func Blocks(m *mirror.Mirror) Collection[models.BlockRecord] {
	return blockCollection{m: m}
}

type blockCollection struct{ m *mirror.Mirror }

func (blockCollection) Name() string              { return "blocks" }
func (blockCollection) Filter() map[string]string { return nil }
func (blockCollection) Keyed() bool               { return false }

func (blockCollection) KeyOf(b models.BlockRecord) Key { return Key{Height: b.Height} }

func (blockCollection) LowestNeeded(after Key, order Order, issuedFloor uint64) uint64 {
	if order == Asc {
		return after.Height + 1
	}
	return issuedFloor
}

func (c blockCollection) Scan(after *Key, order Order, limit int, watermark uint64) []models.BlockRecord {
	floor, _ := c.m.Range()
	n := uint64(limit)

	if order == Asc {
		from := floor
		if after != nil && after.Height+1 > from {
			from = after.Height + 1
		}
		if from > watermark {
			return nil
		}
		to := watermark
		if to-from+1 > n {
			to = from + n - 1
		}
		return c.m.Blocks(from, to)
	}

	to := watermark
	if after != nil {
		if after.Height <= floor {
			return nil
		}
		to = min(to, after.Height-1)
	}
	if to < floor || to == 0 {
		return nil
	}
	from := floor
	if to-from+1 > n {
		from = to - n + 1
	}
	out := c.m.Blocks(from, to)
	slices.Reverse(out)
	return out
}

// TxFilter narrows a transaction listing. Zero values match everything.
type TxFilter struct {
	Height uint64
	Status models.TxStatus
}

// Transactions lists mirrored transactions by (block height, index).
func Transactions(m *mirror.Mirror, f TxFilter) Collection[models.TransactionRecord] {
	return txCollection{m: m, f: f}
}

type txCollection struct {
	m *mirror.Mirror
	f TxFilter
}

func (txCollection) Name() string { return "transactions" }
func (txCollection) Keyed() bool  { return false }

func (c txCollection) Filter() map[string]string {
	out := map[string]string{}
	if c.f.Height != 0 {
		out["height"] = strconv.FormatUint(c.f.Height, 10)
	}
	if c.f.Status != "" {
		out["status"] = string(c.f.Status)
	}
	return out
}

func (txCollection) KeyOf(tx models.TransactionRecord) Key {
	return Key{Height: tx.BlockHeight, Index: tx.Index}
}

func (c txCollection) LowestNeeded(after Key, order Order, issuedFloor uint64) uint64 {
	switch {
	case c.f.Height != 0:
		return c.f.Height
	case order == Asc:
		return after.Height
	}
	return issuedFloor
}

func (c txCollection) Scan(after *Key, order Order, limit int, watermark uint64) []models.TransactionRecord {
	floor, _ := c.m.Range()
	lo, hi := floor, watermark
	if c.f.Height != 0 {
		lo, hi = max(lo, c.f.Height), min(hi, c.f.Height)
	}
	if after != nil {
		if order == Asc {
			lo = max(lo, after.Height)
		} else {
			hi = min(hi, after.Height)
		}
	}
	if lo > hi || hi == 0 {
		return nil
	}

	var out []models.TransactionRecord
	take := func(tx models.TransactionRecord) bool {
		if after != nil {
			rel := c.KeyOf(tx).Compare(*after)
			if (order == Asc && rel <= 0) || (order == Desc && rel >= 0) {
				return true
			}
		}
		if c.f.Status != "" && tx.Status != c.f.Status {
			return true
		}
		out = append(out, tx)
		return len(out) < limit
	}

	if order == Asc {
		for h := lo; h <= hi; h++ {
			txs, _ := c.m.BlockTransactions(h)
			for _, tx := range txs {
				if !take(tx) {
					return out
				}
			}
		}
		return out
	}
	for h := hi; h >= lo && h > 0; h-- {
		txs, _ := c.m.BlockTransactions(h)
		for i := len(txs) - 1; i >= 0; i-- {
			if !take(txs[i]) {
				return out
			}
		}
	}
	return out
}

// Accounts lists account snapshots by (name, domain). An empty domain lists
// every mirrored account.
func Accounts(m *mirror.Mirror, domain string) Collection[models.AccountRecord] {
	return keyedCollection[models.AccountRecord]{
		name:   "accounts",
		filter: domainFilter(domain),
		load: func() []models.AccountRecord {
			return values(m.Accounts(domain))
		},
		key: func(a models.AccountRecord) Key { return Key{Name: a.ID.Name, Domain: a.ID.Domain} },
	}
}

// Domains lists domain snapshots by id.
func Domains(m *mirror.Mirror) Collection[models.DomainRecord] {
	return keyedCollection[models.DomainRecord]{
		name: "domains",
		load: func() []models.DomainRecord {
			return values(m.Domains())
		},
		key: func(d models.DomainRecord) Key { return Key{Name: d.ID} },
	}
}

// AssetDefinitions lists the asset definitions registered in a domain. An
// empty domain lists every mirrored definition.
func AssetDefinitions(m *mirror.Mirror, domain string) Collection[models.AssetDefinitionRecord] {
	return keyedCollection[models.AssetDefinitionRecord]{
		name:   "asset_definitions",
		filter: domainFilter(domain),
		load: func() []models.AssetDefinitionRecord {
			return values(m.AssetDefinitions(domain))
		},
		key: func(a models.AssetDefinitionRecord) Key { return Key{Name: a.ID.Name, Domain: a.ID.Domain} },
	}
}

// Assets lists the assets held by mirrored accounts, ordered by definition
// id and then by account id.
func Assets(m *mirror.Mirror) Collection[models.AssetRecord] {
	return keyedCollection[models.AssetRecord]{
		name: "assets",
		load: func() []models.AssetRecord {
			var out []models.AssetRecord
			for _, a := range m.Accounts("") {
				out = append(out, a.Value.Assets...)
			}
			sort.Slice(out, func(i, j int) bool { return assetKey(out[i]).Compare(assetKey(out[j])) < 0 })
			return out
		},
		key: assetKey,
	}
}

func assetKey(a models.AssetRecord) Key {
	return Key{Name: a.DefinitionID.String(), Domain: a.AccountID.String()}
}

// keyedCollection pages over snapshot scans that arrive sorted by key.
type keyedCollection[T any] struct {
	name   string
	filter map[string]string
	load   func() []T
	key    func(T) Key
}

func (c keyedCollection[T]) Name() string              { return c.name }
func (c keyedCollection[T]) Filter() map[string]string { return c.filter }
func (c keyedCollection[T]) Keyed() bool               { return true }
func (c keyedCollection[T]) KeyOf(item T) Key          { return c.key(item) }

func (c keyedCollection[T]) LowestNeeded(Key, Order, uint64) uint64 { return 0 }

func (c keyedCollection[T]) Scan(after *Key, order Order, limit int, _ uint64) []T {
	items := c.load()
	n := len(items)

	if order == Asc {
		start := 0
		if after != nil {
			start = sort.Search(n, func(i int) bool { return c.key(items[i]).Compare(*after) > 0 })
		}
		return items[start:min(start+limit, n)]
	}

	end := n
	if after != nil {
		end = sort.Search(n, func(i int) bool { return c.key(items[i]).Compare(*after) >= 0 })
	}
	out := append([]T(nil), items[max(end-limit, 0):end]...)
	slices.Reverse(out)
	return out
}

func domainFilter(domain string) map[string]string {
	if domain == "" {
		return nil
	}
	return map[string]string{"domain": domain}
}

func values[V any](snaps []mirror.Snapshot[V]) []V {
	out := make([]V, len(snaps))
	for i, s := range snaps {
		out[i] = s.Value
	}
	return out
}
