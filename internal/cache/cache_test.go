package cache

import (
	"testing"
	"time"
)

func TestMessageCacheSingleActive(t *testing.T) {
	c := NewMessageCache("sess-1", "alpha", "beta")

	first := c.CreateEntry(KindSpawn, "ping")
	if got := c.ActiveEntry(); got != first {
		t.Fatal("ActiveEntry() should return the spawn entry")
	}

	second := c.CreateEntry(KindTell, "hello")
	if first.Status() != EntryTerminated {
		t.Errorf("first entry status = %v, want TERMINATED when superseded", first.Status())
	}
	if got := c.ActiveEntry(); got != second {
		t.Error("ActiveEntry() should return the new entry")
	}

	active := 0
	for _, e := range c.Entries() {
		if e.Status() == EntryActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active entries = %d, want exactly 1", active)
	}
}

func TestMessageCacheOrderAndStats(t *testing.T) {
	c := NewMessageCache("sess-1", "alpha", "beta")

	spawn := c.CreateEntry(KindSpawn, "ping")
	spawn.AddMessage(frame(t, `{"type":"system","subtype":"init"}`))
	spawn.Complete()

	tell := c.CreateEntry(KindTell, "hi")
	tell.AddMessage(frame(t, `{"type":"result","result":"ok"}`))

	entries := c.Entries()
	if len(entries) != 2 || entries[0] != spawn || entries[1] != tell {
		t.Fatal("Entries() should preserve creation order")
	}

	stats := c.GetStats()
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ByKind[KindSpawn] != 1 || stats.ByKind[KindTell] != 1 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
	if stats.ByStatus[EntryCompleted] != 2 {
		t.Errorf("ByStatus = %v, want 2 completed", stats.ByStatus)
	}
	if stats.FrameCount != 2 {
		t.Errorf("FrameCount = %d, want 2", stats.FrameCount)
	}
}

func TestMessageCacheEntryStreamReplays(t *testing.T) {
	c := NewMessageCache("sess-1", "a", "b")
	e1 := c.CreateEntry(KindSpawn, "ping")
	e1.Complete()
	e2 := c.CreateEntry(KindTell, "x")
	e2.Complete()

	ch := c.EntryStream()
	var got []*Entry
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e)
		case <-timeout:
			t.Fatalf("entry stream replayed %d entries, want 2", len(got))
		}
	}
	if got[0] != e1 || got[1] != e2 {
		t.Error("entry stream out of order")
	}
}

func TestMessageCacheClear(t *testing.T) {
	c := NewMessageCache("sess-1", "a", "b")
	done := c.CreateEntry(KindTell, "one")
	done.Complete()
	active := c.CreateEntry(KindTell, "two")

	if removed := c.Clear(); removed != 1 {
		t.Errorf("Clear() removed = %d, want 1", removed)
	}
	entries := c.Entries()
	if len(entries) != 1 || entries[0] != active {
		t.Error("Clear() should keep the active entry")
	}
}

func TestMessageCacheDestroy(t *testing.T) {
	c := NewMessageCache("sess-1", "a", "b")
	active := c.CreateEntry(KindTell, "x")

	c.Destroy()
	if active.Status() != EntryCompleted {
		t.Errorf("active entry status = %v, want COMPLETED after Destroy", active.Status())
	}
	// Idempotent.
	c.Destroy()
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()

	c1 := m.GetOrCreate("s1", "a", "b")
	if again := m.GetOrCreate("s1", "a", "b"); again != c1 {
		t.Error("GetOrCreate should return the same cache for a session")
	}
	m.GetOrCreate("s2", "b", "a")
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}

	if _, ok := m.Get("s1"); !ok {
		t.Error("Get(s1) should find the cache")
	}

	entry := c1.CreateEntry(KindTell, "x")
	m.Delete("s1")
	if entry.Status() != EntryCompleted {
		t.Error("Delete should destroy the cache and complete active entries")
	}
	if _, ok := m.Get("s1"); ok {
		t.Error("Get(s1) should miss after Delete")
	}

	m.DestroyAll()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after DestroyAll, want 0", m.Len())
	}
}
