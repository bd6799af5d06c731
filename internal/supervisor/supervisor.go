// Package supervisor spawns the isolated worker process, keeps it alive
// under an exponential-backoff restart policy bounded by a crash-rate
// window, and exposes the generic RPC channel bound to the worker's stdio.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/agenthost/internal/rpc"
)

// ErrNotRunning is returned by the RPC pass-throughs while the worker is
// not running.
var ErrNotRunning = errors.New("worker is not running")

// ErrCrashLoop indicates the crash ceiling was reached within the window
// and auto-restart has been disabled.
var ErrCrashLoop = errors.New("worker crash loop: auto-restart disabled")

// State is the supervisor lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Config holds supervision parameters. Zero values select the defaults
// noted per field.
type Config struct {
	Command      string
	Args         []string
	EnvAllowlist []string
	ExtraEnv     map[string]string // computed entries, e.g. the worker config path
	GracePeriod  time.Duration     // default 5s
	CrashWindow  time.Duration     // default 60s
	RestartBase  time.Duration     // default 100ms
	MaxCrashes   int               // default 5
	RPCTimeout   time.Duration     // per-request timeout on the control channel
}

func (c *Config) applyDefaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.CrashWindow <= 0 {
		c.CrashWindow = 60 * time.Second
	}
	if c.RestartBase <= 0 {
		c.RestartBase = 100 * time.Millisecond
	}
	if c.MaxCrashes <= 0 {
		c.MaxCrashes = 5
	}
}

// Supervisor owns the worker process lifecycle. All supervision state is
// private to the instance and mutated only on start/stop calls and process
// exit events.
type Supervisor struct {
	mu           sync.Mutex
	cfg          Config
	spawn        Spawner
	proc         Process
	conn         *rpc.Conn
	state        State
	crashes      int
	windowStart  time.Time
	restartTimer *time.Timer
	stopping     bool
	lastErr      error
	onState      func(State)
	reqHandlers  map[string]rpc.RequestHandler
	noteHandlers map[string]rpc.NotificationHandler
	now          func() time.Time
	log          *slog.Logger
}

// New creates a Supervisor. The worker is not started until Start.
func New(cfg Config, log *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:          cfg,
		spawn:        Spawn,
		state:        StateStopped,
		reqHandlers:  make(map[string]rpc.RequestHandler),
		noteHandlers: make(map[string]rpc.NotificationHandler),
		now:          time.Now,
		log:          log,
	}
}

// OnStateChange registers a callback invoked after every state transition.
// The callback runs without the supervisor lock held.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal condition, such as ErrCrashLoop, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start spawns the worker with an allowlisted environment. No-op if the
// worker is already running or starting.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.stopping = false
	s.lastErr = nil
	s.mu.Unlock()
	s.notify(StateStarting)

	return s.startLockedOut()
}

// startLockedOut performs the spawn and transitions to Running. Split from
// Start so crash-recovery restarts share the path.
func (s *Supervisor) startLockedOut() error {
	env := buildEnv(s.cfg.EnvAllowlist, s.cfg.ExtraEnv)

	proc, err := s.spawn(s.cfg.Command, s.cfg.Args, env)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.lastErr = err
		s.mu.Unlock()
		s.notify(StateStopped)
		return fmt.Errorf("spawn worker: %w", err)
	}

	conn := rpc.NewConn(proc.Stdio(), s.cfg.RPCTimeout, s.log)

	s.mu.Lock()
	s.proc = proc
	s.conn = conn
	s.state = StateRunning
	// Handlers registered before this start, or before a crash, carry over
	// to the fresh connection.
	for method, fn := range s.reqHandlers {
		conn.HandleRequest(method, fn)
	}
	for method, fn := range s.noteHandlers {
		conn.HandleNotification(method, fn)
	}
	s.mu.Unlock()
	s.notify(StateRunning)

	s.log.Info("worker started", "command", s.cfg.Command)
	go s.watch(proc, conn)
	return nil
}

// watch waits for the process to exit and drives crash recovery.
func (s *Supervisor) watch(proc Process, conn *rpc.Conn) {
	exitErr := <-proc.Done()
	_ = conn.Close()

	s.mu.Lock()
	if s.proc != proc {
		// A newer process has already replaced this one.
		s.mu.Unlock()
		return
	}
	s.proc = nil
	s.conn = nil

	if s.stopping {
		s.state = StateStopped
		s.mu.Unlock()
		s.notify(StateStopped)
		s.log.Info("worker stopped")
		return
	}

	// Unexpected exit: count the crash against the rolling window.
	now := s.now()
	if now.Sub(s.windowStart) > s.cfg.CrashWindow {
		s.crashes = 0
		s.windowStart = now
	}
	s.crashes++
	crashes := s.crashes

	if crashes >= s.cfg.MaxCrashes {
		s.state = StateStopped
		s.lastErr = ErrCrashLoop
		s.mu.Unlock()
		s.notify(StateStopped)
		s.log.Error("worker crash ceiling reached, auto-restart disabled",
			"crashes", crashes, "window", s.cfg.CrashWindow, "exit_error", exitErr)
		return
	}

	delay := s.cfg.RestartBase << (crashes - 1)
	s.state = StateStarting
	s.restartTimer = time.AfterFunc(delay, func() {
		if err := s.startLockedOut(); err != nil {
			s.log.Error("worker restart failed", "error", err)
		}
	})
	s.mu.Unlock()
	s.notify(StateStarting)

	s.log.Warn("worker crashed, restart scheduled",
		"crashes", crashes, "delay", delay, "exit_error", exitErr)
}

// Stop requests graceful shutdown and escalates to a forced kill after the
// grace period. No-op if the worker is not running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.state != StateRunning {
		if s.state == StateStarting {
			// A restart was pending; cancel it.
			s.state = StateStopped
			s.stopping = false
			s.mu.Unlock()
			s.notify(StateStopped)
			return nil
		}
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.state = StateStopping
	proc := s.proc
	s.mu.Unlock()
	s.notify(StateStopping)

	if err := proc.Terminate(); err != nil {
		s.log.Warn("graceful terminate failed, killing", "error", err)
		return proc.Kill()
	}

	select {
	case <-proc.Done():
		return nil
	case <-time.After(s.cfg.GracePeriod):
		s.log.Warn("worker did not exit within grace period, killing",
			"grace", s.cfg.GracePeriod)
		return proc.Kill()
	}
}

// Request forwards a request over the worker control channel.
func (s *Supervisor) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn, err := s.activeConn()
	if err != nil {
		return nil, err
	}
	return conn.Request(ctx, method, params)
}

// Notify forwards a notification over the worker control channel.
func (s *Supervisor) Notify(method string, params any) error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}
	return conn.Notify(method, params)
}

// HandleRequest registers a request handler on the worker control channel.
// Registrations persist across worker restarts; nil unregisters.
func (s *Supervisor) HandleRequest(method string, fn rpc.RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.reqHandlers, method)
	} else {
		s.reqHandlers[method] = fn
	}
	if s.conn != nil {
		s.conn.HandleRequest(method, fn)
	}
}

// HandleNotification registers a notification handler on the worker
// control channel. Registrations persist across worker restarts; nil
// unregisters.
func (s *Supervisor) HandleNotification(method string, fn rpc.NotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.noteHandlers, method)
	} else {
		s.noteHandlers[method] = fn
	}
	if s.conn != nil {
		s.conn.HandleNotification(method, fn)
	}
}

func (s *Supervisor) activeConn() (*rpc.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.conn == nil {
		return nil, ErrNotRunning
	}
	return s.conn, nil
}

func (s *Supervisor) notify(state State) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}
