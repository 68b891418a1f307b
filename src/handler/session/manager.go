package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Antony-Jia/codex-terminal-manage/src/config"
	gitlib "github.com/Antony-Jia/codex-terminal-manage/src/lib/git"
	"github.com/Antony-Jia/codex-terminal-manage/src/store"
)

// terminateGrace is the window a child gets to exit after SIGTERM before it
// is killed.
const terminateGrace = 2 * time.Second

// pumpBufferSize bounds a single read from a child output stream.
const pumpBufferSize = 1024

// ErrSessionNotFound is returned on lookups for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrChildUnavailable is returned when input arrives after the child has
// exited. The message is surfaced verbatim on the WebSocket.
var ErrChildUnavailable = errors.New("进程不可用，无法写入数据")

// Manager is the in-memory registry of live sessions. It owns subprocess
// supervision, output fan-out, keystroke handling and the synchronization
// of contexts with their persisted records.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*SessionContext

	// baseEnv is captured once at construction and treated as immutable.
	baseEnv  []string
	backend  Backend
	store    *store.Store
	settings *config.Settings
}

// NewManager creates a session manager over the given back-end and store.
func NewManager(backend Backend, st *store.Store, settings *config.Settings) *Manager {
	return &Manager{
		sessions: make(map[string]*SessionContext),
		baseEnv:  os.Environ(),
		backend:  backend,
		store:    st,
		settings: settings,
	}
}

// Get looks up a live session context.
func (m *Manager) Get(id string) (*SessionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ctx, nil
}

// Has reports whether a live context exists for id.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// IsActive reports whether the session has a running child.
func (m *Manager) IsActive(id string) bool {
	ctx, err := m.Get(id)
	if err != nil {
		return false
	}
	child := ctx.Child()
	return child != nil && child.Alive()
}

// CreateSession allocates a fresh context from a profile snapshot and
// registers it. The child is not spawned until the first attach.
func (m *Manager) CreateSession(profile *store.SessionProfile) (*SessionContext, error) {
	sessionID := uuid.NewString()

	cwd := m.settings.DefaultCwd
	if profile.Cwd != nil && *profile.Cwd != "" {
		cwd = *profile.Cwd
	}
	command := profile.Command
	if command == "" {
		command = m.settings.DefaultProfileCommand
	}
	commandVec := append([]string{command}, profile.ArgsList()...)
	env := mergeEnv(m.baseEnv, profile.EnvMap())

	logsDir, err := m.settings.ResolvedLogsDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve logs dir: %w", err)
	}
	logDir := filepath.Join(logsDir, sessionID)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	logPath := filepath.Join(logDir, "raw.log")

	ctx := newSessionContext(sessionID, profile.ID, commandVec, cwd, env, logPath, gitlib.IsRepository(cwd))

	m.mu.Lock()
	m.sessions[sessionID] = ctx
	m.mu.Unlock()
	logrus.Infof("Created session %s for profile %q", sessionID, profile.Name)
	return ctx, nil
}

// Attach registers a sink on the session and, on the first attach, spawns
// the child and starts the pumps and monitor. At-most-one-spawn is
// guaranteed by running the spawn branch under the context mutex.
func (m *Manager) Attach(id string, sink Sink) (*SessionContext, error) {
	ctx, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	ctx.addSink(sink)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.isFinished() {
		ctx.removeSink(sink)
		return nil, ErrSessionNotFound
	}
	if ctx.Child() == nil {
		if err := m.launch(ctx); err != nil {
			ctx.removeSink(sink)
			m.remove(id)
			return nil, fmt.Errorf("failed to start process: %w", err)
		}
	}
	return ctx, nil
}

// Detach removes a sink. Never fails and never cascades to the child: a
// session with no subscribers keeps running and logging.
func (m *Manager) Detach(id string, sink Sink) {
	m.mu.RLock()
	ctx, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		ctx.removeSink(sink)
	}
}

// SendInput runs the keystroke parser over data under the session's stdin
// mutex.
func (m *Manager) SendInput(id string, data string) error {
	ctx, err := m.Get(id)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	child := ctx.Child()
	if child == nil || !child.Alive() {
		return ErrChildUnavailable
	}
	m.processInput(ctx, child, data)
	return nil
}

// TerminateSession stops the child (graceful, then forced), finalizes the
// context and persists the stopped status. Idempotent on unknown ids and
// on sessions already finalized by the monitor.
func (m *Manager) TerminateSession(id string, reason string) {
	m.mu.RLock()
	ctx, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if !ctx.markFinished() {
		return
	}
	if child := ctx.Child(); child != nil && child.Alive() {
		child.Terminate(terminateGrace)
	}
	ctx.closeLog()
	ctx.clearChild()
	if reason != "" {
		m.broadcast(ctx, "\r\n"+reason+"\r\n")
	}
	if err := m.store.FinishSession(id, store.StatusStopped, nil); err != nil {
		logrus.Errorf("Failed to persist stopped session %s: %v", id, err)
	}
	m.remove(id)
	logrus.Infof("Terminated session %s", id)
}

// ResolveLogPath returns the log path of a live session.
func (m *Manager) ResolveLogPath(id string) (string, bool) {
	ctx, err := m.Get(id)
	if err != nil {
		return "", false
	}
	return ctx.LogPath, true
}

// LogText reads the session's on-disk log, decoded lossily as UTF-8.
func (m *Manager) LogText(id string) (string, bool) {
	path, ok := m.ResolveLogPath(id)
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.ToValidUTF8(string(data), ""), true
}

// ClearLog truncates the session's on-disk log. Serialized with the pump
// writes through the context's log lock.
func (m *Manager) ClearLog(id string) error {
	ctx, err := m.Get(id)
	if err != nil {
		return err
	}
	ctx.logMu.Lock()
	defer ctx.logMu.Unlock()
	return os.Truncate(ctx.LogPath, 0)
}

// launch spawns the child and starts one pump per output stream plus the
// monitor. Caller holds ctx.mu.
func (m *Manager) launch(ctx *SessionContext) error {
	child, err := m.backend.Spawn(ctx.Command, ctx.Cwd, ctx.Env)
	if err != nil {
		return err
	}
	logFile, err := os.OpenFile(ctx.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		child.Terminate(terminateGrace)
		return fmt.Errorf("failed to open log file: %w", err)
	}
	ctx.setChild(child)
	ctx.setLogFile(logFile)
	for _, stream := range child.Streams() {
		go m.pump(ctx, stream)
	}
	go m.monitor(ctx, child)
	logrus.Infof("Spawned %v for session %s", ctx.Command, ctx.SessionID)
	return nil
}

// pump drains one child output stream: raw bytes go to the log, the lossy
// UTF-8 decoding is broadcast to every sink. Per-stream ordering between
// log and broadcast is preserved; failures on a chunk never abort the loop.
func (m *Manager) pump(ctx *SessionContext, stream io.Reader) {
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			data := buf[:n]
			ctx.appendLog(data)
			m.broadcast(ctx, strings.ToValidUTF8(string(data), ""))
		}
		if err != nil {
			return
		}
	}
}

// monitor awaits child exit and finalizes the session: exit notice, log
// close, record update, registry eviction. Every step is best-effort so a
// failing one does not leak the others.
func (m *Manager) monitor(ctx *SessionContext, child Child) {
	code := child.Wait()
	if !ctx.markFinished() {
		return
	}
	status := store.StatusError
	if code == 0 {
		status = store.StatusCompleted
	}
	m.broadcast(ctx, fmt.Sprintf("\r\nProcess finished with code %d\r\n", code))
	ctx.closeLog()
	ctx.clearChild()
	if err := m.store.FinishSession(ctx.SessionID, status, &code); err != nil {
		logrus.Errorf("Failed to persist exit of session %s: %v", ctx.SessionID, err)
	}
	m.remove(ctx.SessionID)
	logrus.Infof("Session %s finished with code %d", ctx.SessionID, code)
}

// broadcast fans text out to a snapshot of the sink set. A sink whose send
// fails is dropped; the child and the remaining sinks are unaffected.
func (m *Manager) broadcast(ctx *SessionContext, text string) {
	for _, sink := range ctx.snapshotSinks() {
		if err := sink.SendOutput(text); err != nil {
			ctx.removeSink(sink)
		}
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// mergeEnv overlays caller entries on the inherited base environment;
// caller entries win.
func mergeEnv(base []string, overlay map[string]string) []string {
	merged := make([]string, 0, len(base)+len(overlay))
	for _, entry := range base {
		key := entry
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			key = entry[:idx]
		}
		if _, overridden := overlay[key]; !overridden {
			merged = append(merged, entry)
		}
	}
	for k, v := range overlay {
		merged = append(merged, k+"="+v)
	}
	return merged
}
