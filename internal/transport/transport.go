// Package transport owns the live agent subprocess for one pool slot.
//
// A Transport speaks the agent's newline-delimited JSON protocol over the
// child's stdio. The Local variant spawns the agent directly in the team
// directory; the Remote variant runs the identical command line through
// the team's ssh prefix. The variant is chosen at construction and fixed
// for the life of the Transport.
package transport

import (
	"context"
	"time"

	"github.com/HyphaGroup/iris/internal/cache"
)

// Status is the transport's lifecycle state.
type Status string

const (
	StatusStopped  Status = "STOPPED"
	StatusSpawning Status = "SPAWNING"
	StatusReady    Status = "READY"
	StatusBusy     Status = "BUSY"
)

// ProcessStatus is the pool-facing view of a transport status.
type ProcessStatus string

const (
	ProcessStopped    ProcessStatus = "STOPPED"
	ProcessSpawning   ProcessStatus = "SPAWNING"
	ProcessIdle       ProcessStatus = "IDLE"
	ProcessProcessing ProcessStatus = "PROCESSING"
)

// ProcessStatus maps a transport status onto the pool's process states.
func (s Status) ProcessStatus() ProcessStatus {
	switch s {
	case StatusSpawning:
		return ProcessSpawning
	case StatusReady:
		return ProcessIdle
	case StatusBusy:
		return ProcessProcessing
	default:
		return ProcessStopped
	}
}

// Metrics reports a transport's activity counters.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	MessagesProcessed int64         `json:"messages_processed"`
	LastResponseAt    time.Time     `json:"last_response_at"`
}

// Transport is the polymorphic handle over a local or remote agent child
// process.
type Transport interface {
	// Spawn launches the agent, writes the spawn entry's tell string as
	// the first user frame, and returns once the agent's system/init
	// frame arrives. Fails with InitTimeout if timeout elapses first.
	Spawn(ctx context.Context, spawn *cache.Entry, timeout time.Duration) error

	// ExecuteTell writes the entry's tell string and moves to BUSY.
	// Non-blocking: the entry completes asynchronously when the result
	// frame arrives. Fails with ProcessBusy unless the transport is idle.
	ExecuteTell(entry *cache.Entry) error

	// Terminate stops the child gracefully, force-killing after a grace
	// period. Idempotent.
	Terminate() error

	// Cancel writes a single ESC byte to the agent's input. Best effort;
	// the agent may ignore it.
	Cancel() error

	// IsReady reports whether the transport can accept a tell.
	IsReady() bool

	// IsBusy reports whether a tell is in flight.
	IsBusy() bool

	// Status returns the current lifecycle state.
	Status() Status

	// StatusChanges yields the current status immediately, then every
	// transition. The channel closes when the transport stops.
	StatusChanges() <-chan Status

	// Errors yields typed transport errors (spawn failure, init timeout,
	// unexpected exit, write failure). No replay.
	Errors() <-chan error

	// PID returns the child's process ID, 0 when not running.
	PID() int

	// Metrics returns uptime and processing counters.
	Metrics() Metrics
}
