// Package models defines the domain types for richfilter.
package models

import "time"

// DocumentMetadata is a lightweight representation returned by list operations.
type DocumentMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document extensions recognised in the vault.
var DocumentExtensions = []string{".json", ".yaml", ".yml"}
