// Package state persists the gateway's runtime state file: the PID and
// listen address of a running instance, used by the start/stop commands to
// find and signal each other. Writes are atomic and flock-guarded so
// concurrent invocations cannot corrupt the file.
package state

import "time"

// RuntimeState is the structure persisted in runtime.json.
type RuntimeState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// PID is the process id of the running gateway, 0 when not running.
	PID int `json:"pid"`

	// Addr is the HTTP listen address of the running gateway.
	Addr string `json:"addr,omitempty"`

	// Transport is the active transport mode: "http" or "stdio".
	Transport string `json:"transport,omitempty"`

	// StartedAt is when the running instance booted.
	StartedAt time.Time `json:"started_at,omitempty"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Running reports whether the state claims a live instance.
func (s *RuntimeState) Running() bool {
	return s.PID > 0
}
