package workers

import (
	"context"
	"testing"
	"time"

	"ledger-explorer/ledger/ledgertest"
	"ledger-explorer/mirror"
	"ledger-explorer/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func seedWonderland(l *ledgertest.Ledger) {
	l.PutDomain(models.DomainRecord{ID: "wonderland", Logo: "/logo.png"})
	l.PutAssetDefinition(models.AssetDefinitionRecord{
		ID:        models.AssetDefinitionID{Name: "rose", Domain: "wonderland"},
		ValueType: models.AssetValueQuantity,
		Mintable:  models.MintableInfinitely,
	})
	l.PutAccount(models.AccountRecord{ID: models.AccountID{Name: "alice", Domain: "wonderland"}, Roles: []string{"admin"}})
	l.PutAccount(models.AccountRecord{ID: models.AccountID{Name: "bob", Domain: "wonderland"}})
	l.PutAccount(models.AccountRecord{ID: models.AccountID{Name: "mad_hatter", Domain: "looking_glass"}})
}

func TestDomainRefresher_StampsCurrentWatermark(t *testing.T) {
	l := ledgertest.New()
	l.AppendBlocks(4, 0)
	seedWonderland(l)
	m := mirror.New(mirror.Options{})
	require.NoError(t, newBlockWorker(t, l, m, nil).RunOnce(context.Background()))

	w := NewRefreshWorker(&DomainRefresher{Ledger: l, Mirror: m}, fastBackoff, zaptest.NewLogger(t), nil)
	require.NoError(t, w.RunOnce(context.Background()))

	d, ok := m.Domain("wonderland")
	require.True(t, ok)
	assert.Equal(t, uint64(4), d.Watermark)
	assert.Equal(t, 2, d.Value.AccountCount)
	assert.Equal(t, 1, d.Value.AssetDefinitionCount)

	def, ok := m.AssetDefinition(models.AssetDefinitionID{Name: "rose", Domain: "wonderland"})
	require.True(t, ok)
	assert.Equal(t, models.MintableInfinitely, def.Value.Mintable)

	assert.Len(t, m.Domains(), 2)
}

func TestDomainRefresher_TransportErrorSkipsUnfetchedDomains(t *testing.T) {
	l := ledgertest.New()
	seedWonderland(l)
	// looking_glass is listed first and answers; wonderland fails.
	seen := 0
	l.Hook = func(op string) {
		if op != "list domain assets" {
			return
		}
		if seen++; seen == 2 {
			l.FailNext(op, 1)
		}
	}
	m := mirror.New(mirror.Options{})

	r := &DomainRefresher{Ledger: l, Mirror: m}
	apply, err := r.Fetch(context.Background())
	require.Error(t, err)
	require.NotNil(t, apply)
	_, err = apply()
	require.NoError(t, err)

	_, ok := m.Domain("looking_glass")
	assert.True(t, ok)
	_, ok = m.Domain("wonderland")
	assert.False(t, ok, "a domain without its definitions stays cold")
	assert.Empty(t, m.AssetDefinitions(""), "definitions of the failed call are not guessed")

	l.Hook = nil
	apply, err = r.Fetch(context.Background())
	require.NoError(t, err)
	_, err = apply()
	require.NoError(t, err)
	assert.Len(t, m.Domains(), 2)
	assert.Len(t, m.AssetDefinitions("wonderland"), 1)
}

func TestAccountRefresher_OnlyMirroredDomains(t *testing.T) {
	l := ledgertest.New()
	seedWonderland(l)
	m := mirror.New(mirror.Options{})
	accounts := NewRefreshWorker(&AccountRefresher{Ledger: l, Mirror: m}, fastBackoff, zaptest.NewLogger(t), nil)

	require.NoError(t, accounts.RunOnce(context.Background()))
	assert.Empty(t, m.Accounts(""), "nothing to do before domains are known")
	assert.Zero(t, l.Calls("list domain accounts"))

	m.PutDomain(models.DomainRecord{ID: "wonderland"}, 0)
	m.PutDomain(models.DomainRecord{ID: "gone"}, 0)
	require.NoError(t, accounts.RunOnce(context.Background()))

	got := m.Accounts("")
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Value.ID.Name)
	assert.Equal(t, []string{"admin"}, got[0].Value.Roles)
}

func TestAccountRefresher_RetriesUntilLedgerAnswers(t *testing.T) {
	l := ledgertest.New()
	seedWonderland(l)
	l.FailNext("list domain accounts", 3)
	m := mirror.New(mirror.Options{})
	m.PutDomain(models.DomainRecord{ID: "wonderland"}, 0)

	w := NewRefreshWorker(&AccountRefresher{Ledger: l, Mirror: m}, Backoff{Initial: time.Millisecond, Max: time.Millisecond}, zaptest.NewLogger(t), nil)
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, 4, l.Calls("list domain accounts"))
	assert.Len(t, m.Accounts("wonderland"), 2)
}
