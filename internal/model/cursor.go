package model

import "time"

// Cursor is the last fully ingested block of a source.
type Cursor struct {
	Source    string    `json:"source"`
	Block     uint64    `json:"last_processed_block"`
	UpdatedAt time.Time `json:"updated_at"`
}
