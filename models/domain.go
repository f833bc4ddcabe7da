// models/domain.go
package models

// DomainRecord is the latest known snapshot of a domain.
type DomainRecord struct {
	ID                   string         `json:"id"`
	Logo                 string         `json:"logo,omitempty"`
	Metadata             map[string]any `json:"metadata"`
	AccountCount         int            `json:"account_count"`
	AssetDefinitionCount int            `json:"asset_definition_count"`
}
