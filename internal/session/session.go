// Package session implements the streaming session manager (component J):
// a bounded set of concurrent compilations per connection, each with its
// own cancellation token and bounded, typed event queue, all multiplexed
// onto the connection's one Transport, which serializes writes.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/blockforge/compiler/internal/config"
	"github.com/blockforge/compiler/internal/metrics"
	"github.com/blockforge/compiler/internal/orchestrator"
	"github.com/blockforge/compiler/internal/xlog"
)

// Defaults per §4.6/§5.
const (
	DefaultMaxConcurrentCompiles = 3
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultIdleTimeout           = 5 * time.Minute
	DefaultEventQueueBound       = 1000
	DefaultCancelGrace           = 5 * time.Second
)

// Message types exchanged over a Transport, the wire-level names of §4.6.
const (
	MsgCompile        = "compile"
	MsgCancel         = "cancel"
	MsgPing           = "ping"
	MsgWelcome        = "welcome"
	MsgPong           = "pong"
	MsgCompileStarted = "compile:started"
	MsgEvent          = "event"
	MsgCompileComplete = "compile:complete"
	MsgCompileError   = "compile:error"
	MsgCompileCancelled = "compile:cancelled"
	MsgError          = "error"
)

// Envelope is one message in either direction, the JSON shape a Transport
// marshals/unmarshals.
type Envelope struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Transport abstracts the wire: Send pushes one Envelope to the peer,
// Receive blocks for the next inbound one. Close tears the connection down.
type Transport interface {
	Send(Envelope) error
	Receive() (Envelope, error)
	Close() error
}

// Compiler is the subset of *orchestrator.Orchestrator a Connection drives.
type Compiler interface {
	Compile(ctx context.Context, cfg config.Configuration, emit orchestrator.EmitFunc) (orchestrator.CompilationResult, error)
}

// compileSession tracks one in-flight compilation's cancellation token and
// the bookkeeping needed to release it exactly once, whether that happens
// because the compile goroutine unwound on its own or because the cancel
// grace window expired first.
type compileSession struct {
	cancel context.CancelFunc
	forced atomic.Bool
	once   sync.Once
}

// Options configures a Connection.
type Options struct {
	MaxConcurrentCompiles int
	HeartbeatInterval     time.Duration
	IdleTimeout           time.Duration
	EventQueueBound       int
	CancelGrace           time.Duration
}

func (o Options) maxConcurrent() int {
	if o.MaxConcurrentCompiles > 0 {
		return o.MaxConcurrentCompiles
	}
	return DefaultMaxConcurrentCompiles
}

func (o Options) heartbeat() time.Duration {
	if o.HeartbeatInterval > 0 {
		return o.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

func (o Options) idleTimeout() time.Duration {
	if o.IdleTimeout > 0 {
		return o.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (o Options) eventQueueBound() int {
	if o.EventQueueBound > 0 {
		return o.EventQueueBound
	}
	return DefaultEventQueueBound
}

func (o Options) cancelGrace() time.Duration {
	if o.CancelGrace > 0 {
		return o.CancelGrace
	}
	return DefaultCancelGrace
}

// Connection manages one client's compilations over a Transport.
type Connection struct {
	id         string
	transport  Transport
	compiler   Compiler
	opts       Options
	sem        chan struct{}
	mu         sync.Mutex
	sessions   map[string]*compileSession
	lastActive time.Time
	wg         sync.WaitGroup
}

// NewConnection wraps a Transport with the bounded session protocol,
// identifying it with a freshly generated connection id.
func NewConnection(t Transport, compiler Compiler, opts Options) *Connection {
	return &Connection{
		id:         uuid.NewString(),
		transport:  t,
		compiler:   compiler,
		opts:       opts,
		sem:        make(chan struct{}, opts.maxConcurrent()),
		sessions:   make(map[string]*compileSession),
		lastActive: time.Now(),
	}
}

// ID returns this connection's identifier.
func (c *Connection) ID() string { return c.id }

// Serve is the connection's main loop: it sends the welcome message, then
// alternates reading client messages and driving a heartbeat/idle timer
// until the transport closes or the idle timeout fires. It blocks until
// the connection ends.
func (c *Connection) Serve(ctx context.Context) error {
	if err := c.transport.Send(Envelope{
		Type: MsgWelcome,
		Data: map[string]interface{}{
			"version":       "1",
			"connection_id": c.id,
			"capabilities":  []string{"compile", "cancel", "ping"},
		},
	}); err != nil {
		return fmt.Errorf("session: welcome failed: %w", err)
	}

	metrics.SessionConnections.Inc()
	defer metrics.SessionConnections.Dec()

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	inbox := make(chan Envelope)
	recvErr := make(chan error, 1)
	go func() {
		for {
			env, err := c.transport.Receive()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case inbox <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(c.opts.heartbeat())
	defer heartbeat.Stop()
	idle := time.NewTimer(c.opts.idleTimeout())
	defer idle.Stop()

	defer c.wg.Wait()
	defer c.transport.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-recvErr:
			return err
		case env := <-inbox:
			c.touch()
			idle.Reset(c.opts.idleTimeout())
			c.handle(ctx, env)
		case <-heartbeat.C:
			if err := c.transport.Send(Envelope{Type: MsgPong, Data: map[string]interface{}{"timestamp": time.Now().UnixMilli()}}); err != nil {
				return fmt.Errorf("session: heartbeat send failed: %w", err)
			}
		case <-idle.C:
			xlog.Infof("session %s: idle timeout, closing", c.id)
			return nil
		}
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Connection) handle(ctx context.Context, env Envelope) {
	switch env.Type {
	case MsgPing:
		c.transport.Send(Envelope{Type: MsgPong, Data: map[string]interface{}{"timestamp": time.Now().UnixMilli()}})
	case MsgCancel:
		c.cancelSession(env.SessionID)
	case MsgCompile:
		c.startCompile(ctx, env)
	default:
		c.transport.Send(Envelope{Type: MsgError, SessionID: env.SessionID, Data: map[string]interface{}{"message": "unrecognized message type: " + env.Type}})
	}
}

// cancelSession sets the named session's cancellation token and, since
// cancellation is only best-effort, arms a grace-window timer that force
// closes the session if it hasn't unwound on its own by then.
func (c *Connection) cancelSession(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	time.AfterFunc(c.opts.cancelGrace(), func() {
		c.forceCloseSession(sessionID, s)
	})
}

// forceCloseSession runs after the cancel grace window. If the session is
// still registered under this exact *compileSession (no-op if it already
// unwound and a new compile reused the id), it releases the session's
// concurrency slot and bookkeeping itself and reports a forced
// compile:cancelled rather than waiting any longer for the compile
// goroutine to notice its context is done.
func (c *Connection) forceCloseSession(sessionID string, s *compileSession) {
	c.mu.Lock()
	cur, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok || cur != s {
		return
	}
	s.forced.Store(true)
	c.releaseSession(sessionID, s)
	xlog.Warnf("session %s: compile %s did not unwind within the cancel grace window, forcing closed", c.id, sessionID)
	c.transport.Send(Envelope{Type: MsgCompileCancelled, SessionID: sessionID, Data: map[string]interface{}{"forced": true}})
}

// releaseSession frees the session's semaphore slot and removes its
// bookkeeping entry exactly once, regardless of whether the normal compile
// goroutine or the grace-window timer gets there first.
func (c *Connection) releaseSession(sessionID string, s *compileSession) {
	s.once.Do(func() {
		<-c.sem
		c.mu.Lock()
		delete(c.sessions, sessionID)
		c.mu.Unlock()
	})
}

func (c *Connection) startCompile(ctx context.Context, env Envelope) {
	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cfg, err := decodeConfiguration(env.Data)
	if err != nil {
		c.transport.Send(Envelope{Type: MsgError, SessionID: sessionID, Data: map[string]interface{}{"message": err.Error()}})
		return
	}

	select {
	case c.sem <- struct{}{}:
	default:
		c.transport.Send(Envelope{Type: MsgError, SessionID: sessionID, Data: map[string]interface{}{"message": "too many concurrent compilations on this connection"}})
		return
	}

	compileCtx, cancel := context.WithCancel(ctx)
	cs := &compileSession{cancel: cancel}
	c.mu.Lock()
	c.sessions[sessionID] = cs
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer c.releaseSession(sessionID, cs)

		c.transport.Send(Envelope{Type: MsgCompileStarted, SessionID: sessionID})

		queue := make(chan orchestrator.Event, c.opts.eventQueueBound())
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range queue {
				c.transport.Send(Envelope{Type: MsgEvent, SessionID: sessionID, Data: map[string]interface{}{
					"event_type": ev.Type,
					"data":       ev.Data,
					"timestamp":  ev.Timestamp,
				}})
			}
		}()

		result, err := c.compiler.Compile(compileCtx, cfg, func(ev orchestrator.Event) {
			select {
			case queue <- ev:
			default:
				// event queue backpressure: drop to unblock the compiler
				// rather than stall computation, per §5's "pauses event
				// emission (not computation)" — a full queue here means
				// the writer is already behind, so this emission is lost.
			}
		})
		close(queue)
		<-done

		if cs.forced.Load() {
			// the grace-window timer already reported compile:cancelled
			// and reclaimed this session's bookkeeping; nothing left to send.
			return
		}

		switch {
		case compileCtx.Err() != nil:
			c.transport.Send(Envelope{Type: MsgCompileCancelled, SessionID: sessionID})
		case err != nil:
			c.transport.Send(Envelope{Type: MsgCompileError, SessionID: sessionID, Data: map[string]interface{}{"message": err.Error()}})
		default:
			c.transport.Send(Envelope{Type: MsgCompileComplete, SessionID: sessionID, Data: map[string]interface{}{
				"rule_count":   result.RuleCount,
				"checksum":     result.Checksum,
				"cached":       result.Cached,
				"deduplicated": result.Deduplicated,
			}})
		}
	}()
}

func decodeConfiguration(data map[string]interface{}) (config.Configuration, error) {
	cfgRaw, ok := data["configuration"]
	if !ok {
		return config.Configuration{}, fmt.Errorf("session: compile message missing 'configuration' field")
	}
	if cfg, ok := cfgRaw.(config.Configuration); ok {
		return cfg, nil
	}
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(cfgRaw)
	if err != nil {
		return config.Configuration{}, fmt.Errorf("session: 'configuration' field is not encodable: %w", err)
	}
	var cfg config.Configuration
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &cfg); err != nil {
		return config.Configuration{}, fmt.Errorf("session: 'configuration' field does not decode to a configuration: %w", err)
	}
	return cfg, nil
}
