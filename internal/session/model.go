// Package session persists conversations under the config directory so
// a database exploration can be resumed later.
package session

import (
	"time"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
)

// Session is a persistent conversation record.
type Session struct {
	ID        string         `json:"id"`
	WorkDir   string         `json:"work_dir"`
	WorkHash  string         `json:"work_hash"` // scopes the on-disk directory
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	History   []chat.Content `json:"history"`
	Summary   string         `json:"summary,omitempty"` // context injection for the next session
}

// Meta is a lightweight representation for listing in the UI.
type Meta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Summary   string    `json:"summary,omitempty"`
}
