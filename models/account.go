// models/account.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AccountID identifies an account inside a domain, written `alice@wonderland`.
type AccountID struct {
	Name   string
	Domain string
}

func (id AccountID) String() string {
	return id.Name + "@" + id.Domain
}

// ParseAccountID parses the `name@domain` form.
func ParseAccountID(s string) (AccountID, error) {
	name, domain, ok := strings.Cut(s, "@")
	if !ok || !validName(name) || !validName(domain) {
		return AccountID{}, fmt.Errorf("invalid account id %q: expected a string in the format `alice@wonderland`", s)
	}
	return AccountID{Name: name, Domain: domain}, nil
}

func (id AccountID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *AccountID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAccountID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Less orders accounts by name, then by domain.
func (id AccountID) Less(other AccountID) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	return id.Domain < other.Domain
}

// AccountRecord is the latest known snapshot of an account.
type AccountRecord struct {
	ID       AccountID      `json:"id"`
	Assets   []AssetRecord  `json:"assets"`
	Metadata map[string]any `json:"metadata"`
	Roles    []string       `json:"roles"`
}

// ValidName reports whether s can be used as an account, asset or domain name.
func ValidName(s string) bool {
	return validName(s)
}

func validName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	return !strings.ContainsAny(s, "@# \t\r\n/")
}
