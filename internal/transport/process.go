package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/HyphaGroup/iris/internal/cache"
	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/metrics"
)

const (
	// maxLineBytes is the soft cap on one stdout line (5 MiB).
	maxLineBytes = 5 * 1024 * 1024

	// terminateGrace is how long Terminate waits after SIGTERM before
	// force-killing.
	terminateGrace = 5 * time.Second

	// escByte is the interrupt byte written by Cancel.
	escByte = 0x1b
)

// userFrame is the JSON envelope for messages written to the agent.
type userFrame struct {
	Type    string           `json:"type"`
	Message userFrameMessage `json:"message"`
}

type userFrameMessage struct {
	Role    string             `json:"role"`
	Content []userFrameContent `json:"content"`
}

type userFrameContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EncodeUserFrame wraps a tell string as one newline-terminated frame.
func EncodeUserFrame(text string) []byte {
	data, _ := json.Marshal(userFrame{
		Type: "user",
		Message: userFrameMessage{
			Role:    "user",
			Content: []userFrameContent{{Type: "text", Text: text}},
		},
	})
	return append(data, '\n')
}

// Proc is the concrete Transport over a child process, local or remote.
type Proc struct {
	team      *config.Team
	sessionID string
	remote    bool

	mu         sync.Mutex
	stdinMu    sync.Mutex
	status     Status
	current    *cache.Entry
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	pid        int
	spawnedAt  time.Time
	processed  int64
	lastResult time.Time
	terminated bool

	statusSubs []chan Status
	errCh      chan error
	initCh     chan error
	exitCh     chan struct{}
	onExit     func()

	// ioWG tracks the stdout and stderr readers. cmd.Wait closes the
	// pipes, so the reaper must not run until both hit EOF or buffered
	// final frames would be lost.
	ioWG sync.WaitGroup
}

var _ Transport = (*Proc)(nil)

// New creates a transport for the team. The local/remote variant is
// fixed here from the team's config.
func New(team *config.Team, sessionID string) *Proc {
	return &Proc{
		team:      team,
		sessionID: sessionID,
		remote:    team.IsRemote(),
		status:    StatusStopped,
		errCh:     make(chan error, 8),
		initCh:    make(chan error, 1),
		exitCh:    make(chan struct{}),
	}
}

// OnExit registers a hook invoked once when the child exits for any
// reason. Must be called before Spawn.
func (p *Proc) OnExit(fn func()) { p.onExit = fn }

// Spawn launches the agent and blocks until its init frame arrives.
func (p *Proc) Spawn(ctx context.Context, spawn *cache.Entry, timeout time.Duration) error {
	p.mu.Lock()
	if p.status != StatusStopped || p.terminated {
		p.mu.Unlock()
		return iriserr.New(iriserr.KindTransport, "transport for %s already spawned", p.team.Name)
	}

	var name string
	var args []string
	if p.remote {
		name, args = RemoteCommand(p.team, p.sessionID)
	} else {
		name, args = LocalCommand(p.team, p.sessionID)
	}

	cmd := exec.Command(name, args...)
	if !p.remote {
		cmd.Dir = p.team.Path
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.mu.Unlock()
		return iriserr.Wrap(iriserr.KindTransport, err, "stdin pipe for %s", p.team.Name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.mu.Unlock()
		return iriserr.Wrap(iriserr.KindTransport, err, "stdout pipe for %s", p.team.Name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.mu.Unlock()
		return iriserr.Wrap(iriserr.KindTransport, err, "stderr pipe for %s", p.team.Name)
	}

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		spawnErr := iriserr.Wrap(iriserr.KindTransport, err, "failed to spawn agent for %s", p.team.Name)
		p.emitError(spawnErr)
		return spawnErr
	}

	p.cmd = cmd
	p.stdin = stdin
	p.pid = cmd.Process.Pid
	p.spawnedAt = time.Now()
	p.current = spawn
	p.setStatusLocked(StatusSpawning)
	p.mu.Unlock()

	logger.Debug("agent spawned", "team", p.team.Name, "pid", p.pid, "remote", p.remote)

	p.ioWG.Add(2)
	go p.readLoop(stdout)
	go p.stderrLoop(stderr)
	go p.waitLoop()

	if err := p.writeFrame(spawn.TellString()); err != nil {
		_ = p.Terminate()
		return err
	}

	select {
	case err := <-p.initCh:
		if err != nil {
			_ = p.Terminate()
			return err
		}
		p.mu.Lock()
		if p.status == StatusSpawning {
			p.setStatusLocked(StatusReady)
		}
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		_ = p.Terminate()
		return iriserr.Wrap(iriserr.KindTransport, ctx.Err(), "spawn canceled for %s", p.team.Name)
	case <-time.After(timeout):
		initErr := iriserr.New(iriserr.KindInitTimeout,
			"agent for %s did not emit init within %s", p.team.Name, timeout)
		p.emitError(initErr)
		_ = p.Terminate()
		return initErr
	}
}

// ExecuteTell starts a tell if the transport is idle. The entry is
// completed by the read loop when the result frame arrives.
func (p *Proc) ExecuteTell(entry *cache.Entry) error {
	p.mu.Lock()
	switch p.status {
	case StatusBusy, StatusSpawning:
		p.mu.Unlock()
		return iriserr.New(iriserr.KindProcessBusy, "agent for %s is processing another request", p.team.Name)
	case StatusStopped:
		p.mu.Unlock()
		return iriserr.New(iriserr.KindTransport, "agent for %s is not running", p.team.Name)
	}
	// The spawn handshake reply may still be draining.
	if p.current != nil && p.current.Status() == cache.EntryActive {
		p.mu.Unlock()
		return iriserr.New(iriserr.KindProcessBusy, "agent for %s is still draining a reply", p.team.Name)
	}
	p.current = entry
	p.setStatusLocked(StatusBusy)
	p.mu.Unlock()

	if err := p.writeFrame(entry.TellString()); err != nil {
		entry.Terminate(cache.ReasonProcessCrashed)
		p.mu.Lock()
		p.setStatusLocked(StatusStopped)
		p.mu.Unlock()
		return err
	}
	return nil
}

// Terminate stops the child: SIGTERM, grace period, then SIGKILL.
func (p *Proc) Terminate() error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		<-p.exitCh
		return nil
	}
	p.terminated = true
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		p.mu.Lock()
		p.setStatusLocked(StatusStopped)
		p.closeSubsLocked()
		p.mu.Unlock()
		close(p.exitCh)
		return nil
	}

	_ = cmd.Process.Signal(sigterm())
	select {
	case <-p.exitCh:
	case <-time.After(terminateGrace):
		logger.Warn("agent did not exit after SIGTERM, killing", "team", p.team.Name, "pid", p.pid)
		_ = cmd.Process.Kill()
		<-p.exitCh
	}
	return nil
}

// Cancel writes a single ESC byte to the agent's stdin. Best effort.
func (p *Proc) Cancel() error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin == nil {
		return iriserr.New(iriserr.KindTransport, "agent for %s has no stdin", p.team.Name)
	}
	_, err := p.stdin.Write([]byte{escByte})
	if err != nil {
		return iriserr.Wrap(iriserr.KindTransport, err, "interrupt write for %s", p.team.Name)
	}
	return nil
}

// IsReady reports whether a tell can start now.
func (p *Proc) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusReady && (p.current == nil || p.current.Status() != cache.EntryActive)
}

// IsBusy reports whether a request is in flight.
func (p *Proc) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusBusy
}

// Status returns the current lifecycle state.
func (p *Proc) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// StatusChanges yields the current status then transitions; closes when
// the transport stops.
func (p *Proc) StatusChanges() <-chan Status {
	ch := make(chan Status, 16)
	p.mu.Lock()
	ch <- p.status
	if p.status == StatusStopped && p.terminated {
		close(ch)
	} else {
		p.statusSubs = append(p.statusSubs, ch)
	}
	p.mu.Unlock()
	return ch
}

// Errors yields transport errors. No replay.
func (p *Proc) Errors() <-chan error { return p.errCh }

// PID returns the child's process ID, 0 when stopped.
func (p *Proc) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusStopped {
		return 0
	}
	return p.pid
}

// Metrics returns uptime and processing counters.
func (p *Proc) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	var uptime time.Duration
	if !p.spawnedAt.IsZero() && p.status != StatusStopped {
		uptime = time.Since(p.spawnedAt)
	}
	return Metrics{
		Uptime:            uptime,
		MessagesProcessed: p.processed,
		LastResponseAt:    p.lastResult,
	}
}

// IdleSince returns how long the transport has been idle. Zero when busy
// or stopped.
func (p *Proc) IdleSince() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusReady {
		return 0
	}
	ref := p.lastResult
	if ref.IsZero() {
		ref = p.spawnedAt
	}
	return time.Since(ref)
}

// writeFrame writes one user frame to the agent's stdin.
func (p *Proc) writeFrame(text string) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin == nil {
		return iriserr.New(iriserr.KindTransport, "agent for %s has no stdin", p.team.Name)
	}
	if _, err := p.stdin.Write(EncodeUserFrame(text)); err != nil {
		werr := iriserr.Wrap(iriserr.KindTransport, err, "stdin write for %s", p.team.Name)
		p.emitError(werr)
		return werr
	}
	return nil
}

// readLoop parses newline-delimited JSON frames from the agent's stdout
// and appends them to the current cache entry.
func (p *Proc) readLoop(stdout io.Reader) {
	defer p.ioWG.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	initSignaled := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		frame, err := cache.ParseFrame(line)
		if err != nil {
			logger.Debug("dropping unparseable agent output",
				"team", p.team.Name, "bytes", len(line))
			continue
		}
		metrics.FramesTotal.WithLabelValues(string(frame.Type)).Inc()

		if frame.IsInit() && !initSignaled {
			initSignaled = true
			select {
			case p.initCh <- nil:
			default:
			}
		}

		p.mu.Lock()
		entry := p.current
		if frame.Type == cache.MessageResult {
			p.processed++
			p.lastResult = time.Now()
			if p.status == StatusBusy {
				p.setStatusLocked(StatusReady)
			}
		}
		p.mu.Unlock()

		if entry != nil {
			entry.AddMessage(frame)
		}
	}

	if err := scanner.Err(); err != nil {
		p.emitError(iriserr.Wrap(iriserr.KindTransport, err, "stdout read for %s", p.team.Name))
	}

	if !initSignaled {
		select {
		case p.initCh <- iriserr.New(iriserr.KindTransport,
			"agent stream for %s ended before init", p.team.Name):
		default:
		}
	}
}

// stderrLoop records agent stderr at debug level.
func (p *Proc) stderrLoop(stderr io.Reader) {
	defer p.ioWG.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		logger.Debug("agent stderr", "team", p.team.Name, "line", scanner.Text())
	}
}

// waitLoop reaps the child and handles unexpected exits. It blocks
// until both pipe readers finish: a dead child gives them EOF, so this
// cannot hang, and every frame the agent wrote before exiting has been
// appended by the time Wait runs.
func (p *Proc) waitLoop() {
	p.ioWG.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	entry := p.current
	p.current = nil
	deliberate := p.terminated
	wasBusy := p.status == StatusBusy
	p.terminated = true
	p.setStatusLocked(StatusStopped)
	p.closeSubsLocked()
	p.mu.Unlock()

	if entry != nil && entry.Status() == cache.EntryActive {
		entry.Terminate(cache.ReasonProcessCrashed)
	}

	if !deliberate && (wasBusy || err != nil) {
		p.emitError(iriserr.Wrap(iriserr.KindProcessCrashed, err,
			"agent for %s exited unexpectedly", p.team.Name))
	}

	logger.Debug("agent exited", "team", p.team.Name, "deliberate", deliberate, "err", err)

	close(p.exitCh)
	if p.onExit != nil {
		p.onExit()
	}
}

// setStatusLocked updates the status and notifies subscribers. Caller
// holds p.mu.
func (p *Proc) setStatusLocked(s Status) {
	if p.status == s {
		return
	}
	p.status = s
	for _, ch := range p.statusSubs {
		select {
		case ch <- s:
		default:
			// Slow status readers miss intermediate transitions.
		}
	}
}

// closeSubsLocked closes all status subscriber channels. Caller holds
// p.mu.
func (p *Proc) closeSubsLocked() {
	for _, ch := range p.statusSubs {
		close(ch)
	}
	p.statusSubs = nil
}

func (p *Proc) emitError(err error) {
	select {
	case p.errCh <- err:
	default:
		logger.Debug("transport error channel full, dropping", "team", p.team.Name, "err", err)
	}
}
