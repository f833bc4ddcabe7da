package mirror

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"ledger-explorer/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var alice = models.AccountID{Name: "alice", Domain: "wonderland"}

func block(height uint64, txs int) (models.BlockRecord, []models.TransactionRecord) {
	b := models.BlockRecord{
		Height:    height,
		Hash:      fmt.Sprintf("h%d", height),
		Timestamp: time.Unix(int64(height), 0).UTC(),
	}
	var out []models.TransactionRecord
	for i := 0; i < txs; i++ {
		tx := models.TransactionRecord{Hash: fmt.Sprintf("t%d-%d", height, i), BlockHeight: height, Index: i}
		b.TransactionHashes = append(b.TransactionHashes, tx.Hash)
		out = append(out, tx)
	}
	return b, out
}

func applyBlocks(t *testing.T, m *Mirror, from, to uint64) {
	t.Helper()
	for h := from; h <= to; h++ {
		b, txs := block(h, 2)
		require.NoError(t, m.ApplyBlock(b, txs))
		require.NoError(t, m.AdvanceWatermark(h))
	}
}

func TestMirror_PutMonotonicWriteGuard(t *testing.T) {
	m := New(Options{})

	require.True(t, m.PutAccount(models.AccountRecord{ID: alice, Roles: []string{"v5"}}, 5))
	assert.False(t, m.PutAccount(models.AccountRecord{ID: alice, Roles: []string{"v3"}}, 3), "older snapshot must not overwrite")
	assert.True(t, m.PutAccount(models.AccountRecord{ID: alice, Roles: []string{"v5b"}}, 5), "equal watermark overwrites")

	got, ok := m.Account(alice)
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Watermark)
	assert.Equal(t, []string{"v5b"}, got.Value.Roles)
}

func TestMirror_MonotonicWriteLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		m := New(Options{})
		var best uint64
		var bestRole string
		for i := 0; i < 30; i++ {
			w := uint64(rng.Intn(20))
			role := fmt.Sprintf("r%d-%d", round, i)
			stored := m.PutDomain(models.DomainRecord{ID: "wonderland", Logo: role}, w)
			if i == 0 || w >= best {
				assert.True(t, stored)
				best, bestRole = w, role
			} else {
				assert.False(t, stored)
			}
		}
		got, ok := m.Domain("wonderland")
		require.True(t, ok)
		assert.Equal(t, best, got.Watermark)
		assert.Equal(t, bestRole, got.Value.Logo)
	}
}

func TestMirror_ConcurrentPutsKeepHighestWatermark(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := New(Options{})
	var wg sync.WaitGroup
	for w := uint64(1); w <= 64; w++ {
		wg.Add(1)
		go func(w uint64) {
			defer wg.Done()
			m.PutAccount(models.AccountRecord{ID: alice, Roles: []string{fmt.Sprint(w)}}, w)
		}(w)
	}
	wg.Wait()

	got, ok := m.Account(alice)
	require.True(t, ok)
	assert.Equal(t, uint64(64), got.Watermark)
	assert.Equal(t, []string{"64"}, got.Value.Roles)
}

func TestMirror_AdvanceWatermark(t *testing.T) {
	m := New(Options{})

	err := m.AdvanceWatermark(1)
	assert.True(t, errors.Is(err, ErrBlockGap), "cannot advance past mirrored blocks")

	applyBlocks(t, m, 1, 3)
	assert.Equal(t, uint64(3), m.Watermark())
	require.NoError(t, m.AdvanceWatermark(3), "same height is a no-op")

	err = m.AdvanceWatermark(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonMonotonicWatermark))
	var werr *WatermarkError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, uint64(3), werr.Current)
	assert.Equal(t, uint64(3), m.Watermark(), "failed advance leaves the watermark untouched")
}

func TestMirror_ApplyBlockContiguity(t *testing.T) {
	m := New(Options{})

	b2, _ := block(2, 0)
	err := m.ApplyBlock(b2, nil)
	assert.True(t, errors.Is(err, ErrBlockGap), "first block must be height 1")

	applyBlocks(t, m, 1, 2)

	b4, _ := block(4, 0)
	assert.True(t, errors.Is(m.ApplyBlock(b4, nil), ErrBlockGap))

	again, txs := block(2, 2)
	assert.NoError(t, m.ApplyBlock(again, txs), "re-applying the same block is a no-op")

	conflict := again
	conflict.Hash = "other"
	assert.True(t, errors.Is(m.ApplyBlock(conflict, nil), ErrBlockConflict))

	b3, txs3 := block(3, 1)
	txs3[0].BlockHeight = 9
	assert.Error(t, m.ApplyBlock(b3, txs3), "transactions must belong to the block")
	_, ok := m.Block(3)
	assert.False(t, ok, "rejected block is not stored")
}

func TestMirror_BlocksAndTransactions(t *testing.T) {
	m := New(Options{})
	applyBlocks(t, m, 1, 5)

	got := m.Blocks(2, 4)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(2), got[0].Height)
	assert.Equal(t, uint64(4), got[2].Height)

	assert.Len(t, m.Blocks(4, 99), 2, "clipped to tip")
	assert.Empty(t, m.Blocks(6, 9))
	assert.Empty(t, m.Blocks(3, 2))

	tx, ok := m.Transaction("t3-1")
	require.True(t, ok)
	assert.Equal(t, 1, tx.Index)

	txs, ok := m.BlockTransactions(3)
	require.True(t, ok)
	require.Len(t, txs, 2)
	assert.Equal(t, "t3-0", txs[0].Hash)
}

func TestMirror_EvictionDropsOldBlocksAndTransactions(t *testing.T) {
	m := New(Options{MaxBlocks: 3})
	applyBlocks(t, m, 1, 5)

	floor, watermark := m.Range()
	assert.Equal(t, uint64(3), floor)
	assert.Equal(t, uint64(5), watermark)

	_, ok := m.Block(2)
	assert.False(t, ok)
	_, ok = m.Transaction("t2-0")
	assert.False(t, ok)
	_, ok = m.Block(3)
	assert.True(t, ok)

	st := m.Stats()
	assert.Equal(t, 3, st.Blocks)
	assert.Equal(t, 6, st.Transactions)

	b6, txs := block(6, 0)
	require.NoError(t, m.ApplyBlock(b6, txs), "chain keeps growing after eviction")
	_, ok = m.Block(6)
	assert.True(t, ok)
}

func TestMirror_ReadersKeepTheirView(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := New(Options{})
	applyBlocks(t, m, 1, 3)
	before := m.Blocks(1, 3)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for h := uint64(4); h <= 200; h++ {
			b, txs := block(h, 1)
			_ = m.ApplyBlock(b, txs)
			_ = m.AdvanceWatermark(h)
		}
	}()
	for i := 0; i < 100; i++ {
		assert.Equal(t, before, m.Blocks(1, 3))
	}
	wg.Wait()
	assert.Equal(t, uint64(200), m.Watermark())
}

func TestMirror_OrderedKeyedScans(t *testing.T) {
	m := New(Options{})
	for _, id := range []models.AccountID{
		{Name: "carol", Domain: "wonderland"},
		{Name: "alice", Domain: "wonderland"},
		{Name: "alice", Domain: "looking_glass"},
		{Name: "bob", Domain: "wonderland"},
	} {
		m.PutAccount(models.AccountRecord{ID: id}, 1)
	}

	all := m.Accounts("")
	require.Len(t, all, 4)
	assert.Equal(t, "alice@looking_glass", all[0].Value.ID.String())
	assert.Equal(t, "alice@wonderland", all[1].Value.ID.String())

	wl := m.Accounts("wonderland")
	require.Len(t, wl, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{wl[0].Value.ID.Name, wl[1].Value.ID.Name, wl[2].Value.ID.Name})
}

func TestMirror_Invalidate(t *testing.T) {
	m := New(Options{})
	m.PutDomain(models.DomainRecord{ID: "wonderland"}, 1)
	m.PutDomain(models.DomainRecord{ID: "looking_glass"}, 1)
	m.PutAccount(models.AccountRecord{ID: alice}, 1)
	m.PutAssetDefinition(models.AssetDefinitionRecord{ID: models.AssetDefinitionID{Name: "rose", Domain: "wonderland"}}, 1)

	epoch := m.Epoch()
	m.Invalidate("wonderland")
	assert.Greater(t, m.Epoch(), epoch)

	_, ok := m.Domain("wonderland")
	assert.False(t, ok)
	_, ok = m.Account(alice)
	assert.False(t, ok)
	assert.Empty(t, m.AssetDefinitions("wonderland"))
	_, ok = m.Domain("looking_glass")
	assert.True(t, ok)

	m.InvalidateAll()
	assert.Empty(t, m.Domains())
}
