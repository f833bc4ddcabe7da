// models/asset.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	AssetValueQuantity    = "Quantity"
	AssetValueBigQuantity = "BigQuantity"
	AssetValueFixed       = "Fixed"
	AssetValueStore       = "Store"
)

const (
	MintableInfinitely = "Infinitely"
	MintableOnce       = "Once"
	MintableNot        = "Not"
)

// AssetDefinitionID is written `rose#wonderland`.
type AssetDefinitionID struct {
	Name   string
	Domain string
}

func (id AssetDefinitionID) String() string {
	return id.Name + "#" + id.Domain
}

// ParseAssetDefinitionID parses the `name#domain` form.
func ParseAssetDefinitionID(s string) (AssetDefinitionID, error) {
	name, domain, ok := strings.Cut(s, "#")
	if !ok || !validName(name) || !validName(domain) {
		return AssetDefinitionID{}, fmt.Errorf("invalid asset definition id %q: expected a string in the format `rose#wonderland`", s)
	}
	return AssetDefinitionID{Name: name, Domain: domain}, nil
}

func (id AssetDefinitionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *AssetDefinitionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAssetDefinitionID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id AssetDefinitionID) Less(other AssetDefinitionID) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	return id.Domain < other.Domain
}

type AssetDefinitionRecord struct {
	ID        AssetDefinitionID `json:"id"`
	ValueType string            `json:"value_type"`
	Mintable  string            `json:"mintable"`
}

// AssetValue holds either a numeric quantity (kept as a decimal string so
// BigQuantity values survive JSON) or a key/value store.
type AssetValue struct {
	Type     string         `json:"t"`
	Quantity string         `json:"quantity,omitempty"`
	Store    map[string]any `json:"store,omitempty"`
}

// AssetRecord is an asset held by an account.
type AssetRecord struct {
	AccountID    AccountID         `json:"account_id"`
	DefinitionID AssetDefinitionID `json:"definition_id"`
	Value        AssetValue        `json:"value"`
}
