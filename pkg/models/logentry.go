package models

import "time"

// LogEntry is one raw line of a session log. Immutable once created.
type LogEntry struct {
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	ArrivedAt time.Time `json:"arrived_at"`
}
