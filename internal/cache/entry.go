package cache

import (
	"sync"
	"time"

	"github.com/HyphaGroup/iris/internal/logger"
)

// EntryKind distinguishes the spawn handshake from a regular tell.
type EntryKind string

const (
	KindSpawn EntryKind = "SPAWN"
	KindTell  EntryKind = "TELL"
)

// EntryStatus is the lifecycle state of a cache entry.
type EntryStatus string

const (
	EntryActive     EntryStatus = "ACTIVE"
	EntryCompleted  EntryStatus = "COMPLETED"
	EntryTerminated EntryStatus = "TERMINATED"
)

// TerminationReason records why an entry was terminated.
type TerminationReason string

const (
	ReasonResponseTimeout   TerminationReason = "RESPONSE_TIMEOUT"
	ReasonProcessCrashed    TerminationReason = "PROCESS_CRASHED"
	ReasonManualTermination TerminationReason = "MANUAL_TERMINATION"
)

// Entry accumulates the frames of a single request. The owning transport
// is the sole writer; any number of readers may subscribe.
//
// Frames are accepted only while the entry is ACTIVE. A result frame
// completes the entry. Both terminal transitions close the message and
// status streams exactly once; subscribers attached afterwards still
// receive the replayed history followed by the close.
type Entry struct {
	mu          sync.Mutex
	kind        EntryKind
	tellString  string
	status      EntryStatus
	reason      TerminationReason
	createdAt   time.Time
	completedAt time.Time

	messages *stream[Frame]
	statuses *stream[EntryStatus]
}

// NewEntry creates an ACTIVE entry for the given request string.
func NewEntry(kind EntryKind, tellString string) *Entry {
	e := &Entry{
		kind:       kind,
		tellString: tellString,
		status:     EntryActive,
		createdAt:  time.Now(),
		messages:   newStream[Frame](true),
		statuses:   newStream[EntryStatus](false),
	}
	return e
}

// AddMessage appends a frame and publishes it to subscribers. Frames
// arriving after a terminal transition are dropped and logged. A result
// frame completes the entry after it is published.
func (e *Entry) AddMessage(f Frame) {
	e.mu.Lock()
	if e.status != EntryActive {
		status := e.status
		e.mu.Unlock()
		logger.Debug("dropping frame on non-active cache entry",
			"kind", string(e.kind), "status", string(status), "frame_type", string(f.Type))
		return
	}
	e.mu.Unlock()

	e.messages.publish(f)

	if f.Type == MessageResult {
		e.Complete()
	}
}

// Complete transitions ACTIVE -> COMPLETED and closes both streams.
func (e *Entry) Complete() {
	e.mu.Lock()
	if e.status != EntryActive {
		e.mu.Unlock()
		return
	}
	e.status = EntryCompleted
	e.completedAt = time.Now()
	e.mu.Unlock()

	e.statuses.publish(EntryCompleted)
	e.messages.close()
	e.statuses.close()
}

// Terminate transitions ACTIVE or COMPLETED -> TERMINATED with a reason.
// Streams are closed if they were still open.
func (e *Entry) Terminate(reason TerminationReason) {
	e.mu.Lock()
	if e.status == EntryTerminated {
		e.mu.Unlock()
		return
	}
	wasActive := e.status == EntryActive
	e.status = EntryTerminated
	e.reason = reason
	if e.completedAt.IsZero() {
		e.completedAt = time.Now()
	}
	e.mu.Unlock()

	if wasActive {
		e.statuses.publish(EntryTerminated)
		e.messages.close()
		e.statuses.close()
	}
}

// Subscribe returns a channel that replays every frame received so far
// and then delivers live frames; it closes after the terminal transition.
func (e *Entry) Subscribe() <-chan Frame {
	return e.messages.subscribe()
}

// StatusChanges returns a channel that immediately yields the current
// status and then every transition; it closes after the terminal one.
func (e *Entry) StatusChanges() <-chan EntryStatus {
	e.mu.Lock()
	current := e.status
	ch := e.statuses.subscribe()
	e.mu.Unlock()

	out := make(chan EntryStatus, 1)
	go func() {
		defer close(out)
		out <- current
		last := current
		for s := range ch {
			// The current value and the first broadcast can race to the
			// same status; emit each transition once.
			if s == last {
				continue
			}
			last = s
			out <- s
		}
	}()
	return out
}

// Messages returns a snapshot of the frames received so far.
func (e *Entry) Messages() []Frame { return e.messages.snapshot() }

// Status returns the entry's current lifecycle state.
func (e *Entry) Status() EntryStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Reason returns the termination reason, if terminated.
func (e *Entry) Reason() TerminationReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Kind returns the entry kind.
func (e *Entry) Kind() EntryKind { return e.kind }

// TellString returns the request string this entry was created with.
func (e *Entry) TellString() string { return e.tellString }

// CreatedAt returns the entry creation time.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// CompletedAt returns the time of the terminal transition, zero if ACTIVE.
func (e *Entry) CompletedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completedAt
}
