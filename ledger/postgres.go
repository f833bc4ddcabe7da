// ledger/postgres.go
package ledger

import (
	"context"
	"errors"
	"fmt"

	"ledger-explorer/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresClient reads the node's world-state-view directly from its
// PostgreSQL database. It never writes.
type PostgresClient struct {
	DB *gorm.DB
}

// OpenPostgres connects to the node database described by dsn.
func OpenPostgres(dsn string) (*PostgresClient, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	return NewPostgresClient(db), nil
}

func NewPostgresClient(db *gorm.DB) *PostgresClient {
	return &PostgresClient{DB: db}
}

// dbErr classifies a gorm error: a missing row is ErrNotFound, anything else
// means we could not get an answer from the node's database.
func dbErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(op)
	}
	return &TransportError{Op: op, Err: err}
}

func (c *PostgresClient) FetchBlock(ctx context.Context, height uint64) (*Block, error) {
	const op = "fetch block"
	db := c.DB.WithContext(ctx)

	var row models.LedgerBlock
	if err := db.First(&row, "height = ?", height).Error; err != nil {
		return nil, dbErr(op, err)
	}

	var txRows []models.LedgerTransaction
	if err := db.Where("block_height = ?", height).Order("position ASC").Find(&txRows).Error; err != nil {
		return nil, dbErr(op, err)
	}

	block := &Block{
		Record: models.BlockRecord{
			Height:            row.Height,
			Hash:              row.Hash,
			PrevHash:          row.PrevHash,
			Timestamp:         row.CreatedAt.UTC(),
			TransactionHashes: make([]string, 0, len(txRows)),
		},
		Transactions: make([]models.TransactionRecord, 0, len(txRows)),
	}
	for _, r := range txRows {
		tx, err := txFromRow(r)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		block.Record.TransactionHashes = append(block.Record.TransactionHashes, tx.Hash)
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

func (c *PostgresClient) FetchTransaction(ctx context.Context, hash string) (*models.TransactionRecord, error) {
	const op = "fetch transaction"
	var row models.LedgerTransaction
	if err := c.DB.WithContext(ctx).First(&row, "hash = ?", hash).Error; err != nil {
		return nil, dbErr(op, err)
	}
	tx, err := txFromRow(row)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return &tx, nil
}

func (c *PostgresClient) FetchAccount(ctx context.Context, id models.AccountID) (*models.AccountRecord, error) {
	const op = "fetch account"
	db := c.DB.WithContext(ctx)

	var row models.LedgerAccount
	if err := db.First(&row, "account_id = ?", id.String()).Error; err != nil {
		return nil, dbErr(op, err)
	}
	accounts, err := c.accountsFromRows(db, []models.LedgerAccount{row})
	if err != nil {
		return nil, dbErr(op, err)
	}
	return &accounts[0], nil
}

func (c *PostgresClient) FetchDomain(ctx context.Context, id string) (*models.DomainRecord, error) {
	const op = "fetch domain"
	db := c.DB.WithContext(ctx)

	var row models.LedgerDomain
	if err := db.First(&row, "domain_id = ?", id).Error; err != nil {
		return nil, dbErr(op, err)
	}
	domains, err := c.domainsFromRows(db, []models.LedgerDomain{row})
	if err != nil {
		return nil, dbErr(op, err)
	}
	return &domains[0], nil
}

func (c *PostgresClient) ListDomains(ctx context.Context) ([]models.DomainRecord, error) {
	const op = "list domains"
	db := c.DB.WithContext(ctx)

	var rows []models.LedgerDomain
	if err := db.Order("domain_id ASC").Find(&rows).Error; err != nil {
		return nil, dbErr(op, err)
	}
	domains, err := c.domainsFromRows(db, rows)
	if err != nil {
		return nil, dbErr(op, err)
	}
	return domains, nil
}

func (c *PostgresClient) ListDomainAccounts(ctx context.Context, domain string) ([]models.AccountRecord, error) {
	const op = "list domain accounts"
	db := c.DB.WithContext(ctx)

	if err := c.domainExists(db, domain); err != nil {
		return nil, dbErr(op, err)
	}
	var rows []models.LedgerAccount
	if err := db.Where("domain_id = ?", domain).Order("account_id ASC").Find(&rows).Error; err != nil {
		return nil, dbErr(op, err)
	}
	accounts, err := c.accountsFromRows(db, rows)
	if err != nil {
		return nil, dbErr(op, err)
	}
	return accounts, nil
}

func (c *PostgresClient) ListDomainAssets(ctx context.Context, domain string) ([]models.AssetDefinitionRecord, error) {
	const op = "list domain assets"
	db := c.DB.WithContext(ctx)

	if err := c.domainExists(db, domain); err != nil {
		return nil, dbErr(op, err)
	}
	var rows []models.LedgerAssetDefinition
	if err := db.Where("domain_id = ?", domain).Order("asset_id ASC").Find(&rows).Error; err != nil {
		return nil, dbErr(op, err)
	}
	out := make([]models.AssetDefinitionRecord, 0, len(rows))
	for _, r := range rows {
		id, err := models.ParseAssetDefinitionID(r.AssetID)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		out = append(out, models.AssetDefinitionRecord{ID: id, ValueType: r.ValueType, Mintable: r.Mintable})
	}
	return out, nil
}

func (c *PostgresClient) CurrentHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.DB.WithContext(ctx).Model(&models.LedgerBlock{}).
		Select("COALESCE(MAX(height), 0)").
		Scan(&height).Error
	if err != nil {
		return 0, &TransportError{Op: "current height", Err: err}
	}
	return height, nil
}

func (c *PostgresClient) ListPeers(ctx context.Context) ([]models.PeerRecord, error) {
	var rows []models.LedgerPeer
	if err := c.DB.WithContext(ctx).Order("address ASC").Find(&rows).Error; err != nil {
		return nil, dbErr("list peers", err)
	}
	out := make([]models.PeerRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.PeerRecord{Address: r.Address, PublicKey: r.PublicKey})
	}
	return out, nil
}

func (c *PostgresClient) ListRoles(ctx context.Context) ([]models.RoleRecord, error) {
	var rows []models.LedgerRole
	if err := c.DB.WithContext(ctx).Order("role_id ASC").Find(&rows).Error; err != nil {
		return nil, dbErr("list roles", err)
	}
	out := make([]models.RoleRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.RoleRecord{ID: r.RoleID, Permissions: r.Permissions})
	}
	return out, nil
}

// Status is derived from table counts; the database knows nothing about
// process uptime so UptimeSeconds stays zero.
func (c *PostgresClient) Status(ctx context.Context) (*models.NodeStatus, error) {
	const op = "status"
	db := c.DB.WithContext(ctx)

	height, err := c.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}
	var peers, accepted, rejected int64
	if err := db.Model(&models.LedgerPeer{}).Count(&peers).Error; err != nil {
		return nil, dbErr(op, err)
	}
	if err := db.Model(&models.LedgerTransaction{}).Where("status = ?", string(models.TxStatusCommitted)).Count(&accepted).Error; err != nil {
		return nil, dbErr(op, err)
	}
	if err := db.Model(&models.LedgerTransaction{}).Where("status = ?", string(models.TxStatusRejected)).Count(&rejected).Error; err != nil {
		return nil, dbErr(op, err)
	}
	return &models.NodeStatus{
		Peers:       uint64(peers),
		Blocks:      height,
		TxsAccepted: uint64(accepted),
		TxsRejected: uint64(rejected),
	}, nil
}

func (c *PostgresClient) domainExists(db *gorm.DB, domain string) error {
	var row models.LedgerDomain
	return db.Select("domain_id").First(&row, "domain_id = ?", domain).Error
}

type domainCount struct {
	DomainID string
	N        int
}

func (c *PostgresClient) domainsFromRows(db *gorm.DB, rows []models.LedgerDomain) ([]models.DomainRecord, error) {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.DomainID)
	}
	accountCounts, err := countByDomain(db, &models.LedgerAccount{}, ids)
	if err != nil {
		return nil, err
	}
	assetCounts, err := countByDomain(db, &models.LedgerAssetDefinition{}, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.DomainRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.DomainRecord{
			ID:                   r.DomainID,
			Logo:                 r.Logo,
			Metadata:             r.Metadata,
			AccountCount:         accountCounts[r.DomainID],
			AssetDefinitionCount: assetCounts[r.DomainID],
		})
	}
	return out, nil
}

func countByDomain(db *gorm.DB, model any, ids []string) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	var rows []domainCount
	if err := db.Model(model).
		Select("domain_id, COUNT(*) AS n").
		Where("domain_id IN ?", ids).
		Group("domain_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.DomainID] = r.N
	}
	return counts, nil
}

func (c *PostgresClient) accountsFromRows(db *gorm.DB, rows []models.LedgerAccount) ([]models.AccountRecord, error) {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.AccountID)
	}

	assetsByAccount := make(map[string][]models.AssetRecord, len(rows))
	if len(ids) > 0 {
		var assetRows []models.LedgerAccountAsset
		if err := db.Where("account_id IN ?", ids).Order("account_id ASC, asset_id ASC").Find(&assetRows).Error; err != nil {
			return nil, err
		}
		for _, a := range assetRows {
			asset, err := assetFromRow(a)
			if err != nil {
				return nil, err
			}
			assetsByAccount[a.AccountID] = append(assetsByAccount[a.AccountID], asset)
		}
	}

	out := make([]models.AccountRecord, 0, len(rows))
	for _, r := range rows {
		id, err := models.ParseAccountID(r.AccountID)
		if err != nil {
			return nil, err
		}
		assets := assetsByAccount[r.AccountID]
		if assets == nil {
			assets = []models.AssetRecord{}
		}
		roles := r.Roles
		if roles == nil {
			roles = []string{}
		}
		out = append(out, models.AccountRecord{
			ID:       id,
			Assets:   assets,
			Metadata: r.Metadata,
			Roles:    roles,
		})
	}
	return out, nil
}

func assetFromRow(r models.LedgerAccountAsset) (models.AssetRecord, error) {
	accountID, err := models.ParseAccountID(r.AccountID)
	if err != nil {
		return models.AssetRecord{}, err
	}
	definitionID, err := models.ParseAssetDefinitionID(r.AssetID)
	if err != nil {
		return models.AssetRecord{}, err
	}
	return models.AssetRecord{
		AccountID:    accountID,
		DefinitionID: definitionID,
		Value: models.AssetValue{
			Type:     r.ValueType,
			Quantity: r.Quantity,
			Store:    r.Store,
		},
	}, nil
}

func txFromRow(r models.LedgerTransaction) (models.TransactionRecord, error) {
	submitter, err := models.ParseAccountID(r.CreatorID)
	if err != nil {
		return models.TransactionRecord{}, err
	}
	status, err := models.ParseTxStatus(r.Status)
	if err != nil {
		return models.TransactionRecord{}, err
	}
	instructions := r.Instructions
	if instructions == nil {
		instructions = []string{}
	}
	return models.TransactionRecord{
		Hash:            r.Hash,
		BlockHeight:     r.BlockHeight,
		Index:           r.Position,
		Submitter:       submitter,
		Instructions:    instructions,
		Status:          status,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt.UTC(),
	}, nil
}
