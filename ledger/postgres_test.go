package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ledger-explorer/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The query logic is dialect-neutral, so it is exercised against SQLite.
func newTestWSV(t *testing.T) *PostgresClient {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "wsv.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.LedgerBlock{},
		&models.LedgerTransaction{},
		&models.LedgerDomain{},
		&models.LedgerAccount{},
		&models.LedgerAssetDefinition{},
		&models.LedgerAccountAsset{},
		&models.LedgerPeer{},
		&models.LedgerRole{},
	))

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&[]models.LedgerBlock{
		{Height: 1, Hash: "h1", CreatedAt: ts},
		{Height: 2, Hash: "h2", PrevHash: "h1", CreatedAt: ts.Add(time.Second)},
	}).Error)
	require.NoError(t, db.Create(&[]models.LedgerTransaction{
		{Hash: "t2b", BlockHeight: 2, Position: 1, CreatorID: "bob@wonderland", Instructions: []string{"Transfer"}, Status: "rejected", RejectionReason: "not enough roses", CreatedAt: ts},
		{Hash: "t2a", BlockHeight: 2, Position: 0, CreatorID: "alice@wonderland", Instructions: []string{"Mint"}, Status: "committed", CreatedAt: ts},
	}).Error)
	require.NoError(t, db.Create(&[]models.LedgerDomain{
		{DomainID: "wonderland", Metadata: map[string]any{"motto": "curiouser"}},
		{DomainID: "looking_glass"},
	}).Error)
	require.NoError(t, db.Create(&[]models.LedgerAccount{
		{AccountID: "alice@wonderland", DomainID: "wonderland", Roles: []string{"admin"}},
		{AccountID: "bob@wonderland", DomainID: "wonderland"},
	}).Error)
	require.NoError(t, db.Create(&[]models.LedgerAssetDefinition{
		{AssetID: "rose#wonderland", DomainID: "wonderland", ValueType: models.AssetValueQuantity, Mintable: models.MintableInfinitely},
	}).Error)
	require.NoError(t, db.Create(&[]models.LedgerAccountAsset{
		{AccountID: "alice@wonderland", AssetID: "rose#wonderland", ValueType: models.AssetValueQuantity, Quantity: "13"},
	}).Error)
	require.NoError(t, db.Create(&models.LedgerPeer{Address: "127.0.0.1:1337", PublicKey: "ed0120abc"}).Error)
	require.NoError(t, db.Create(&[]models.LedgerRole{
		{RoleID: "minter", Permissions: []string{"can_mint_user_asset_definitions"}},
		{RoleID: "admin", Permissions: []string{"can_register_domains", "can_unregister_account"}},
	}).Error)

	return NewPostgresClient(db)
}

func TestPostgresClient_FetchBlock(t *testing.T) {
	c := newTestWSV(t)

	b, err := c.FetchBlock(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "h2", b.Record.Hash)
	assert.Equal(t, "h1", b.Record.PrevHash)
	assert.Equal(t, []string{"t2a", "t2b"}, b.Record.TransactionHashes)
	require.Len(t, b.Transactions, 2)
	assert.Equal(t, models.TxStatusRejected, b.Transactions[1].Status)
	assert.Equal(t, "not enough roses", b.Transactions[1].RejectionReason)

	_, err = c.FetchBlock(context.Background(), 3)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresClient_FetchAccount(t *testing.T) {
	c := newTestWSV(t)

	a, err := c.FetchAccount(context.Background(), models.AccountID{Name: "alice", Domain: "wonderland"})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, a.Roles)
	require.Len(t, a.Assets, 1)
	assert.Equal(t, "13", a.Assets[0].Value.Quantity)
	assert.Equal(t, "rose#wonderland", a.Assets[0].DefinitionID.String())

	_, err = c.FetchAccount(context.Background(), models.AccountID{Name: "carol", Domain: "wonderland"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresClient_Domains(t *testing.T) {
	c := newTestWSV(t)
	ctx := context.Background()

	domains, err := c.ListDomains(ctx)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "looking_glass", domains[0].ID)
	assert.Equal(t, 0, domains[0].AccountCount)
	assert.Equal(t, "wonderland", domains[1].ID)
	assert.Equal(t, 2, domains[1].AccountCount)
	assert.Equal(t, 1, domains[1].AssetDefinitionCount)
	assert.Equal(t, "curiouser", domains[1].Metadata["motto"])

	accounts, err := c.ListDomainAccounts(ctx, "wonderland")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].ID.Name)
	assert.Empty(t, accounts[1].Assets)

	defs, err := c.ListDomainAssets(ctx, "wonderland")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	_, err = c.ListDomainAssets(ctx, "narnia")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresClient_HeightAndStatus(t *testing.T) {
	c := newTestWSV(t)
	ctx := context.Background()

	h, err := c.CurrentHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Peers)
	assert.Equal(t, uint64(1), st.TxsAccepted)
	assert.Equal(t, uint64(1), st.TxsRejected)

	tx, err := c.FetchTransaction(ctx, "t2a")
	require.NoError(t, err)
	assert.Equal(t, "alice@wonderland", tx.Submitter.String())
}

func TestPostgresClient_ClosedDBIsTransport(t *testing.T) {
	c := newTestWSV(t)
	sqlDB, err := c.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = c.FetchBlock(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestPostgresClient_ListRoles(t *testing.T) {
	c := newTestWSV(t)

	roles, err := c.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].ID)
	assert.Equal(t, []string{"can_register_domains", "can_unregister_account"}, roles[0].Permissions)
	assert.Equal(t, "minter", roles[1].ID)
}
