package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HyphaGroup/iris/internal/cache"
	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/iriserr"
)

// echoAgent answers the spawn handshake immediately, then replies to
// every tell with one assistant frame and one result frame.
const echoAgent = `#!/bin/sh
read _ping
printf '%s\n' '{"type":"system","subtype":"init","session_id":"test"}'
printf '%s\n' '{"type":"result","subtype":"success","result":"pong"}'
while read _line; do
	printf '%s\n' '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
	printf '%s\n' '{"type":"result","subtype":"success","result":"done"}'
done
`

// slowAgent answers the handshake, then takes a long time on the first
// tell.
const slowAgent = `#!/bin/sh
read _ping
printf '%s\n' '{"type":"system","subtype":"init","session_id":"test"}'
printf '%s\n' '{"type":"result","subtype":"success","result":"pong"}'
read _line
sleep 10
printf '%s\n' '{"type":"result","subtype":"success","result":"late"}'
`

// drainAgent emits init right away but holds the handshake result back.
const drainAgent = `#!/bin/sh
read _ping
printf '%s\n' '{"type":"system","subtype":"init","session_id":"test"}'
sleep 10
printf '%s\n' '{"type":"result","subtype":"success","result":"pong"}'
`

// silentAgent never emits anything.
const silentAgent = `#!/bin/sh
sleep 60
`

// oneShotAgent answers the handshake and exits immediately.
const oneShotAgent = `#!/bin/sh
read _ping
printf '%s\n' '{"type":"system","subtype":"init","session_id":"test"}'
printf '%s\n' '{"type":"result","subtype":"success","result":"pong"}'
exit 0
`

// crashAgent answers the handshake, then dies on the first tell without
// producing a result.
const crashAgent = `#!/bin/sh
read _ping
printf '%s\n' '{"type":"system","subtype":"init","session_id":"test"}'
printf '%s\n' '{"type":"result","subtype":"success","result":"pong"}'
read _line
exit 1
`

func fakeTeam(t *testing.T, script string) *config.Team {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return &config.Team{Name: "test-team", Path: dir, ClaudePath: path}
}

func spawnProc(t *testing.T, script string) (*Proc, *cache.Entry) {
	t.Helper()
	t.Setenv("IRIS_TEST", "1")
	p := New(fakeTeam(t, script), "11111111-2222-4333-8444-555555555555")
	spawn := cache.NewEntry(cache.KindSpawn, "ping")
	if err := p.Spawn(context.Background(), spawn, 5*time.Second); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	t.Cleanup(func() { _ = p.Terminate() })
	return p, spawn
}

func waitReady(t *testing.T, p *Proc) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p.IsReady() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transport never became ready, status=%s", p.Status())
}

func TestSpawnAndTell(t *testing.T) {
	p, spawn := spawnProc(t, echoAgent)

	if p.Status() != StatusReady {
		t.Fatalf("status after spawn = %s, want %s", p.Status(), StatusReady)
	}
	if p.PID() == 0 {
		t.Error("PID() = 0 for running agent")
	}

	// The handshake reply must fully drain before a tell can start.
	waitReady(t, p)
	if spawn.Status() != cache.EntryCompleted {
		t.Errorf("spawn entry status = %s, want %s", spawn.Status(), cache.EntryCompleted)
	}

	entry := cache.NewEntry(cache.KindTell, "do the thing")
	if err := p.ExecuteTell(entry); err != nil {
		t.Fatalf("ExecuteTell() error: %v", err)
	}

	var frames []cache.Frame
	for f := range entry.Subscribe() {
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != cache.MessageAssistant || frames[1].Type != cache.MessageResult {
		t.Errorf("frame types = %s, %s", frames[0].Type, frames[1].Type)
	}
	if got := frames[1].ResultText(); got != "done" {
		t.Errorf("result text = %q, want %q", got, "done")
	}
	if entry.Status() != cache.EntryCompleted {
		t.Errorf("entry status = %s, want %s", entry.Status(), cache.EntryCompleted)
	}

	m := p.Metrics()
	if m.MessagesProcessed < 2 {
		t.Errorf("MessagesProcessed = %d, want >= 2", m.MessagesProcessed)
	}
	if m.Uptime <= 0 {
		t.Errorf("Uptime = %s, want > 0", m.Uptime)
	}
}

func TestSpawnKeepsFramesFromExitingAgent(t *testing.T) {
	// The child's exit must not race the stdout reader: every frame the
	// agent wrote before dying has to land in the entry. Looped because
	// the reap-vs-read ordering is timing dependent.
	for i := 0; i < 40; i++ {
		t.Setenv("IRIS_TEST", "1")
		p := New(fakeTeam(t, oneShotAgent), "11111111-2222-4333-8444-555555555555")
		spawn := cache.NewEntry(cache.KindSpawn, "ping")
		if err := p.Spawn(context.Background(), spawn, 5*time.Second); err != nil {
			t.Fatalf("iteration %d: Spawn() error: %v", i, err)
		}

		var frames []cache.Frame
		for f := range spawn.Subscribe() {
			frames = append(frames, f)
		}
		if spawn.Status() != cache.EntryCompleted {
			t.Fatalf("iteration %d: spawn entry status = %s (reason %s), want %s",
				i, spawn.Status(), spawn.Reason(), cache.EntryCompleted)
		}
		if len(frames) != 2 {
			t.Fatalf("iteration %d: got %d frames, want 2", i, len(frames))
		}
		if got := frames[1].ResultText(); got != "pong" {
			t.Fatalf("iteration %d: result text = %q, want %q", i, got, "pong")
		}
		_ = p.Terminate()
	}
}

func TestExecuteTellWhileBusy(t *testing.T) {
	p, _ := spawnProc(t, slowAgent)
	waitReady(t, p)

	if err := p.ExecuteTell(cache.NewEntry(cache.KindTell, "first")); err != nil {
		t.Fatalf("first ExecuteTell() error: %v", err)
	}
	if !p.IsBusy() {
		t.Fatal("IsBusy() = false with a tell in flight")
	}

	err := p.ExecuteTell(cache.NewEntry(cache.KindTell, "second"))
	if !iriserr.IsKind(err, iriserr.KindProcessBusy) {
		t.Fatalf("second ExecuteTell() = %v, want %s", err, iriserr.KindProcessBusy)
	}
}

func TestExecuteTellWhileSpawnDraining(t *testing.T) {
	p, spawn := spawnProc(t, drainAgent)

	// Init arrived so Spawn returned, but the handshake result is still
	// pending.
	if spawn.Status() != cache.EntryActive {
		t.Skip("handshake drained before the tell could race it")
	}

	err := p.ExecuteTell(cache.NewEntry(cache.KindTell, "too early"))
	if !iriserr.IsKind(err, iriserr.KindProcessBusy) {
		t.Fatalf("ExecuteTell() = %v, want %s", err, iriserr.KindProcessBusy)
	}
}

func TestSpawnInitTimeout(t *testing.T) {
	t.Setenv("IRIS_TEST", "1")
	p := New(fakeTeam(t, silentAgent), "11111111-2222-4333-8444-555555555555")

	err := p.Spawn(context.Background(), cache.NewEntry(cache.KindSpawn, "ping"), 200*time.Millisecond)
	if !iriserr.IsKind(err, iriserr.KindInitTimeout) {
		t.Fatalf("Spawn() = %v, want %s", err, iriserr.KindInitTimeout)
	}
	if p.Status() != StatusStopped {
		t.Errorf("status after init timeout = %s, want %s", p.Status(), StatusStopped)
	}
	if p.PID() != 0 {
		t.Errorf("PID() = %d after stop, want 0", p.PID())
	}
}

func TestCrashTerminatesEntry(t *testing.T) {
	p, _ := spawnProc(t, crashAgent)
	waitReady(t, p)

	entry := cache.NewEntry(cache.KindTell, "trigger crash")
	if err := p.ExecuteTell(entry); err != nil {
		t.Fatalf("ExecuteTell() error: %v", err)
	}

	var last cache.EntryStatus
	for s := range entry.StatusChanges() {
		last = s
	}
	if last != cache.EntryTerminated {
		t.Fatalf("final entry status = %s, want %s", last, cache.EntryTerminated)
	}
	if entry.Reason() != cache.ReasonProcessCrashed {
		t.Errorf("reason = %s, want %s", entry.Reason(), cache.ReasonProcessCrashed)
	}

	select {
	case err := <-p.Errors():
		if !iriserr.IsKind(err, iriserr.KindProcessCrashed) {
			t.Errorf("transport error = %v, want %s", err, iriserr.KindProcessCrashed)
		}
	case <-time.After(5 * time.Second):
		t.Error("no transport error after crash")
	}
}

func TestTerminateIdempotent(t *testing.T) {
	p, _ := spawnProc(t, echoAgent)

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}
	if err := p.Terminate(); err != nil {
		t.Fatalf("second Terminate() error: %v", err)
	}
	if p.Status() != StatusStopped {
		t.Errorf("status = %s, want %s", p.Status(), StatusStopped)
	}
}

func TestStatusChangesCloseOnExit(t *testing.T) {
	p, _ := spawnProc(t, echoAgent)
	ch := p.StatusChanges()

	if first := <-ch; first != StatusReady && first != StatusSpawning {
		t.Fatalf("first status = %s", first)
	}

	done := make(chan struct{})
	var last Status
	go func() {
		defer close(done)
		for s := range ch {
			last = s
		}
	}()

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("status channel never closed after terminate")
	}
	if last != StatusStopped {
		t.Errorf("last status = %s, want %s", last, StatusStopped)
	}
}

func TestOnExitHook(t *testing.T) {
	t.Setenv("IRIS_TEST", "1")
	p := New(fakeTeam(t, echoAgent), "11111111-2222-4333-8444-555555555555")

	exited := make(chan struct{})
	p.OnExit(func() { close(exited) })

	if err := p.Spawn(context.Background(), cache.NewEntry(cache.KindSpawn, "ping"), 5*time.Second); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit hook never fired")
	}
}
