// models/role.go
package models

// RoleRecord is a named set of permission tokens that accounts can be granted.
type RoleRecord struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
}
