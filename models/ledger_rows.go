// models/ledger_rows.go
package models

import "time"

// The Ledger* types map the node's world-state-view tables. They are only
// ever read by ledger.PostgresClient; the explorer never writes to them.

type LedgerBlock struct {
	Height    uint64    `gorm:"primaryKey;autoIncrement:false"`
	Hash      string    `gorm:"type:varchar(128);not null;uniqueIndex"`
	PrevHash  string    `gorm:"type:varchar(128)"`
	CreatedAt time.Time `gorm:"not null"`
}

func (LedgerBlock) TableName() string { return "blocks" }

type LedgerTransaction struct {
	Hash            string    `gorm:"primaryKey;type:varchar(128)"`
	BlockHeight     uint64    `gorm:"not null;index:idx_tx_position,priority:1"`
	Position        int       `gorm:"not null;index:idx_tx_position,priority:2"`
	CreatorID       string    `gorm:"type:varchar(288);not null;index"` // name@domain
	Instructions    []string  `gorm:"serializer:json"`
	Status          string    `gorm:"type:varchar(16);not null"`
	RejectionReason string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (LedgerTransaction) TableName() string { return "transactions" }

type LedgerDomain struct {
	DomainID string         `gorm:"primaryKey;type:varchar(128)"`
	Logo     string         `gorm:"type:text"`
	Metadata map[string]any `gorm:"serializer:json"`
}

func (LedgerDomain) TableName() string { return "domains" }

type LedgerAccount struct {
	AccountID string         `gorm:"primaryKey;type:varchar(288)"` // name@domain
	DomainID  string         `gorm:"type:varchar(128);not null;index"`
	Metadata  map[string]any `gorm:"serializer:json"`
	Roles     []string       `gorm:"serializer:json"`
}

func (LedgerAccount) TableName() string { return "accounts" }

type LedgerAssetDefinition struct {
	AssetID   string `gorm:"primaryKey;type:varchar(288)"` // name#domain
	DomainID  string `gorm:"type:varchar(128);not null;index"`
	ValueType string `gorm:"type:varchar(32);not null"`
	Mintable  string `gorm:"type:varchar(32);not null"`
}

func (LedgerAssetDefinition) TableName() string { return "asset_definitions" }

type LedgerAccountAsset struct {
	AccountID string         `gorm:"primaryKey;type:varchar(288)"`
	AssetID   string         `gorm:"primaryKey;type:varchar(288)"`
	ValueType string         `gorm:"type:varchar(32);not null"`
	Quantity  string         `gorm:"type:varchar(80)"`
	Store     map[string]any `gorm:"serializer:json"`
}

func (LedgerAccountAsset) TableName() string { return "account_assets" }

type LedgerPeer struct {
	Address   string `gorm:"primaryKey;type:varchar(255)"`
	PublicKey string `gorm:"type:varchar(255);not null"`
}

func (LedgerPeer) TableName() string { return "peers" }

type LedgerRole struct {
	RoleID      string   `gorm:"primaryKey;type:varchar(128)"`
	Permissions []string `gorm:"serializer:json"`
}

func (LedgerRole) TableName() string { return "roles" }
