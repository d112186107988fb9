// Package models defines the domain types shared across store backends.
package models

import "time"

// Revision describes one committed version of a stored document.
type Revision struct {
	Path        string    `json:"path"`
	Version     string    `json:"version"`
	Message     string    `json:"message,omitempty"`
	Author      string    `json:"author,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}
