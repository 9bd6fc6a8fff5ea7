package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/HyphaGroup/iris/internal/iriserr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "session-manager.db"))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Create("external", "backend", "11111111-2222-4333-8444-555555555555")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sess.ID == 0 {
		t.Error("Create() returned zero row ID")
	}
	if sess.Status != StatusActive {
		t.Errorf("status = %q, want %q", sess.Status, StatusActive)
	}

	byPair, err := store.GetByTeamPair("external", "backend")
	if err != nil {
		t.Fatalf("GetByTeamPair() error: %v", err)
	}
	if byPair.SessionID != sess.SessionID {
		t.Errorf("GetByTeamPair() session = %q, want %q", byPair.SessionID, sess.SessionID)
	}

	byID, err := store.GetBySessionID(sess.SessionID)
	if err != nil {
		t.Fatalf("GetBySessionID() error: %v", err)
	}
	if byID.FromTeam != "external" || byID.ToTeam != "backend" {
		t.Errorf("GetBySessionID() pair = %s->%s", byID.FromTeam, byID.ToTeam)
	}
}

func TestCreateDuplicatePair(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("external", "backend", "11111111-2222-4333-8444-555555555555"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_, err := store.Create("external", "backend", "22222222-2222-4333-8444-555555555555")
	if !iriserr.IsKind(err, iriserr.KindValidation) {
		t.Errorf("duplicate pair Create() = %v, want %s", err, iriserr.KindValidation)
	}

	_, err = store.Create("frontend", "backend", "11111111-2222-4333-8444-555555555555")
	if !iriserr.IsKind(err, iriserr.KindValidation) {
		t.Errorf("duplicate session ID Create() = %v, want %s", err, iriserr.KindValidation)
	}
}

func TestArchivedPairCanBeRecreated(t *testing.T) {
	store := newTestStore(t)

	old, err := store.Create("external", "backend", "11111111-2222-4333-8444-555555555555")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.UpdateStatus(old.SessionID, StatusArchived); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	// Pair uniqueness covers live rows only; an archived session is
	// history and must not block a fresh one.
	fresh, err := store.Create("external", "backend", "22222222-2222-4333-8444-555555555555")
	if err != nil {
		t.Fatalf("Create() after archive error: %v", err)
	}

	got, err := store.GetByTeamPair("external", "backend")
	if err != nil {
		t.Fatalf("GetByTeamPair() error: %v", err)
	}
	if got.SessionID != fresh.SessionID {
		t.Errorf("GetByTeamPair() session = %q, want the live %q", got.SessionID, fresh.SessionID)
	}

	// The archived row is still reachable by its ID.
	if _, err := store.GetBySessionID(old.SessionID); err != nil {
		t.Errorf("GetBySessionID(archived) error: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetByTeamPair("a", "b"); !iriserr.IsKind(err, iriserr.KindSessionNotFound) {
		t.Errorf("GetByTeamPair() = %v, want %s", err, iriserr.KindSessionNotFound)
	}
	if _, err := store.GetBySessionID("11111111-2222-4333-8444-555555555555"); !iriserr.IsKind(err, iriserr.KindSessionNotFound) {
		t.Errorf("GetBySessionID() = %v, want %s", err, iriserr.KindSessionNotFound)
	}
}

func TestListFilteredAndOrdered(t *testing.T) {
	store := newTestStore(t)

	seed := []struct {
		from, to, id string
	}{
		{"external", "backend", "11111111-2222-4333-8444-555555555555"},
		{"external", "frontend", "22222222-2222-4333-8444-555555555555"},
		{"backend", "frontend", "33333333-2222-4333-8444-555555555555"},
	}
	for _, s := range seed {
		if _, err := store.Create(s.from, s.to, s.id); err != nil {
			t.Fatalf("Create(%s->%s) error: %v", s.from, s.to, err)
		}
	}

	// Touch the oldest so ordering by last_used_at is observable.
	time.Sleep(5 * time.Millisecond)
	if err := store.UpdateLastUsed(seed[0].id); err != nil {
		t.Fatalf("UpdateLastUsed() error: %v", err)
	}

	all, err := store.List(nil)
	if err != nil {
		t.Fatalf("List(nil) error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List(nil) = %d sessions, want 3", len(all))
	}
	if all[0].SessionID != seed[0].id {
		t.Errorf("most recently used first: got %q", all[0].SessionID)
	}

	byFrom, err := store.List(&ListFilter{FromTeam: "external"})
	if err != nil {
		t.Fatalf("List(fromTeam) error: %v", err)
	}
	if len(byFrom) != 2 {
		t.Errorf("List(fromTeam=external) = %d sessions, want 2", len(byFrom))
	}

	limited, err := store.List(&ListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List(limit) error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("List(limit=1) = %d sessions, want 1", len(limited))
	}
}

func TestCountersAndStatus(t *testing.T) {
	store := newTestStore(t)
	const id = "11111111-2222-4333-8444-555555555555"

	if _, err := store.Create("external", "backend", id); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.IncrementMessageCount(id, 3); err != nil {
		t.Fatalf("IncrementMessageCount() error: %v", err)
	}
	if err := store.IncrementMessageCount(id, 1); err != nil {
		t.Fatalf("IncrementMessageCount() error: %v", err)
	}
	if err := store.UpdateStatus(id, StatusCompactPending); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	sess, err := store.GetBySessionID(id)
	if err != nil {
		t.Fatalf("GetBySessionID() error: %v", err)
	}
	if sess.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", sess.MessageCount)
	}
	if sess.Status != StatusCompactPending {
		t.Errorf("Status = %q, want %q", sess.Status, StatusCompactPending)
	}

	if err := store.IncrementMessageCount("99999999-2222-4333-8444-555555555555", 1); !iriserr.IsKind(err, iriserr.KindSessionNotFound) {
		t.Errorf("IncrementMessageCount(missing) = %v, want %s", err, iriserr.KindSessionNotFound)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	const id = "11111111-2222-4333-8444-555555555555"

	if _, err := store.Create("external", "backend", id); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := store.Delete(id); !iriserr.IsKind(err, iriserr.KindSessionNotFound) {
		t.Errorf("second Delete() = %v, want %s", err, iriserr.KindSessionNotFound)
	}

	if _, err := store.Create("external", "backend", id); err != nil {
		t.Fatalf("re-Create() error: %v", err)
	}
	if err := store.DeleteByTeamPair("external", "backend"); err != nil {
		t.Fatalf("DeleteByTeamPair() error: %v", err)
	}
	if err := store.DeleteByTeamPair("external", "backend"); !iriserr.IsKind(err, iriserr.KindSessionNotFound) {
		t.Errorf("second DeleteByTeamPair() = %v, want %s", err, iriserr.KindSessionNotFound)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("external", "backend", "11111111-2222-4333-8444-555555555555"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("external", "frontend", "22222222-2222-4333-8444-555555555555"); err != nil {
		t.Fatal(err)
	}
	if err := store.IncrementMessageCount("11111111-2222-4333-8444-555555555555", 5); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateStatus("22222222-2222-4333-8444-555555555555", StatusArchived); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Total != 2 || stats.Active != 1 || stats.Archived != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.TotalMessages != 5 {
		t.Errorf("TotalMessages = %d, want 5", stats.TotalMessages)
	}
}
