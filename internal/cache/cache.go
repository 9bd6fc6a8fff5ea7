package cache

import (
	"sync"

	"github.com/HyphaGroup/iris/internal/logger"
)

// MessageCache is the ordered sequence of entries for one session. At
// most one entry is ACTIVE at a time: creating a new entry while another
// is still active terminates the old one.
type MessageCache struct {
	sessionID string
	fromTeam  string
	toTeam    string

	mu        sync.Mutex
	entries   []*Entry
	destroyed bool

	entryStream *stream[*Entry]
}

// Stats summarizes a cache's entries by kind and status.
type Stats struct {
	SessionID  string              `json:"session_id"`
	Total      int                 `json:"total"`
	ByKind     map[EntryKind]int   `json:"by_kind"`
	ByStatus   map[EntryStatus]int `json:"by_status"`
	FrameCount int                 `json:"frame_count"`
}

// NewMessageCache creates an empty cache for a session.
func NewMessageCache(sessionID, fromTeam, toTeam string) *MessageCache {
	return &MessageCache{
		sessionID:   sessionID,
		fromTeam:    fromTeam,
		toTeam:      toTeam,
		entryStream: newStream[*Entry](true),
	}
}

// SessionID returns the owning session's ID.
func (c *MessageCache) SessionID() string { return c.sessionID }

// FromTeam returns the caller side of the team pair.
func (c *MessageCache) FromTeam() string { return c.fromTeam }

// ToTeam returns the target side of the team pair.
func (c *MessageCache) ToTeam() string { return c.toTeam }

// CreateEntry appends a new ACTIVE entry and publishes it on the entries
// stream. A previous still-active entry is terminated first so the
// single-active invariant holds.
func (c *MessageCache) CreateEntry(kind EntryKind, tellString string) *Entry {
	c.mu.Lock()
	var stale *Entry
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].Status() == EntryActive {
			stale = c.entries[i]
			break
		}
	}
	entry := NewEntry(kind, tellString)
	c.entries = append(c.entries, entry)
	c.mu.Unlock()

	if stale != nil {
		logger.Warn("terminating stale active cache entry",
			"session_id", c.sessionID, "kind", string(stale.Kind()))
		stale.Terminate(ReasonManualTermination)
	}

	c.entryStream.publish(entry)
	return entry
}

// ActiveEntry returns the lone ACTIVE entry, or nil.
func (c *MessageCache) ActiveEntry() *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].Status() == EntryActive {
			return c.entries[i]
		}
	}
	return nil
}

// Entries returns a snapshot of all entries in creation order.
func (c *MessageCache) Entries() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// EntryStream returns a channel replaying every entry created so far and
// then live ones; closed by Destroy.
func (c *MessageCache) EntryStream() <-chan *Entry {
	return c.entryStream.subscribe()
}

// Clear drops completed and terminated entries, keeping any active one.
// Used by tell(clearCache=true) before sending a new request.
func (c *MessageCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	removed := 0
	for _, e := range c.entries {
		if e.Status() == EntryActive {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	c.entries = kept
	return removed
}

// GetStats counts entries by kind and status.
func (c *MessageCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		SessionID: c.sessionID,
		Total:     len(c.entries),
		ByKind:    make(map[EntryKind]int),
		ByStatus:  make(map[EntryStatus]int),
	}
	for _, e := range c.entries {
		stats.ByKind[e.Kind()]++
		stats.ByStatus[e.Status()]++
		stats.FrameCount += len(e.Messages())
	}
	return stats
}

// Destroy completes any still-active entries and closes the entry stream.
// The cache is unusable afterwards.
func (c *MessageCache) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	entries := make([]*Entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	for _, e := range entries {
		if e.Status() == EntryActive {
			e.Complete()
		}
	}
	c.entryStream.close()
}
