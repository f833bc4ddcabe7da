package mirror

import (
	"fmt"
	"sync"
	"sync/atomic"

	"ledger-explorer/models"
)

// chain is an immutable view of the retained blocks. blocks[i] has height
// base+i. Views share backing arrays; a view never reads past its own length,
// so appending for the next view does not disturb readers of this one.
type chain struct {
	base   uint64
	blocks []models.BlockRecord
}

func (c *chain) tip() uint64 {
	return c.base + uint64(len(c.blocks)) - 1
}

func (c *chain) contains(height uint64) bool {
	return height >= c.base && height <= c.tip() && len(c.blocks) > 0
}

type blockLog struct {
	mu   sync.Mutex // serializes writers
	head atomic.Pointer[chain]
	txs  sync.Map // hash -> models.TransactionRecord
}

func (l *blockLog) init() {
	l.head.Store(&chain{base: 1})
}

func (l *blockLog) view() *chain {
	return l.head.Load()
}

func (l *blockLog) txCount() int {
	n := 0
	l.txs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// ApplyBlock appends a block and its transactions. The block must extend the
// mirrored chain by exactly one height; re-applying an already mirrored block
// is a no-op as long as the hash matches. Transactions become visible
// together with their block.
func (m *Mirror) ApplyBlock(block models.BlockRecord, txs []models.TransactionRecord) error {
	l := &m.blocks
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.view()
	tip := cur.tip()
	if len(cur.blocks) == 0 {
		tip = cur.base - 1
	}

	if block.Height <= tip {
		if cur.contains(block.Height) && cur.blocks[block.Height-cur.base].Hash != block.Hash {
			return fmt.Errorf("%w: height %d has hash %s, got %s",
				ErrBlockConflict, block.Height, cur.blocks[block.Height-cur.base].Hash, block.Hash)
		}
		return nil
	}
	if block.Height != tip+1 {
		return &GapError{Tip: tip, Height: block.Height}
	}
	for _, tx := range txs {
		if tx.BlockHeight != block.Height {
			return fmt.Errorf("mirror: transaction %s belongs to block %d, not %d", tx.Hash, tx.BlockHeight, block.Height)
		}
	}

	for _, tx := range txs {
		l.txs.Store(tx.Hash, tx)
	}

	next := &chain{base: cur.base, blocks: append(cur.blocks, block)}
	if max := m.opts.MaxBlocks; max > 0 && len(next.blocks) > max {
		drop := len(next.blocks) - max
		for _, evicted := range next.blocks[:drop] {
			for _, h := range evicted.TransactionHashes {
				l.txs.Delete(h)
			}
		}
		retained := make([]models.BlockRecord, max, max+max/4+1)
		copy(retained, next.blocks[drop:])
		next = &chain{base: next.base + uint64(drop), blocks: retained}
	}
	l.head.Store(next)
	return nil
}

// Block returns the mirrored block at height.
func (m *Mirror) Block(height uint64) (models.BlockRecord, bool) {
	c := m.blocks.view()
	if !c.contains(height) {
		return models.BlockRecord{}, false
	}
	return c.blocks[height-c.base], true
}

// Blocks returns the mirrored blocks with from <= height <= to, ascending.
// The range is clipped to what is retained.
func (m *Mirror) Blocks(from, to uint64) []models.BlockRecord {
	c := m.blocks.view()
	if len(c.blocks) == 0 || to < from {
		return nil
	}
	if from < c.base {
		from = c.base
	}
	if tip := c.tip(); to > tip {
		to = tip
	}
	if from > to {
		return nil
	}
	out := make([]models.BlockRecord, to-from+1)
	copy(out, c.blocks[from-c.base:to-c.base+1])
	return out
}

// Transaction returns a mirrored transaction. It is only visible while its
// block is.
func (m *Mirror) Transaction(hash string) (models.TransactionRecord, bool) {
	v, ok := m.blocks.txs.Load(hash)
	if !ok {
		return models.TransactionRecord{}, false
	}
	tx := v.(models.TransactionRecord)
	if !m.blocks.view().contains(tx.BlockHeight) {
		return models.TransactionRecord{}, false
	}
	return tx, true
}

// BlockTransactions returns the transactions of a mirrored block in index
// order.
func (m *Mirror) BlockTransactions(height uint64) ([]models.TransactionRecord, bool) {
	b, ok := m.Block(height)
	if !ok {
		return nil, false
	}
	out := make([]models.TransactionRecord, 0, len(b.TransactionHashes))
	for _, h := range b.TransactionHashes {
		v, ok := m.blocks.txs.Load(h)
		if !ok {
			// evicted between the two loads
			return nil, false
		}
		out = append(out, v.(models.TransactionRecord))
	}
	return out, true
}
