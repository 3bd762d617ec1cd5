package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blockforge/compiler/internal/config"
	"github.com/blockforge/compiler/internal/orchestrator"
	"github.com/blockforge/compiler/internal/session"
)

// fakeTransport is an in-process Transport for driving Connection.Serve
// without a real socket: test code pushes inbound envelopes on `in` and
// reads outbound ones off `out`.
type fakeTransport struct {
	mu     sync.Mutex
	in     chan session.Envelope
	out    chan session.Envelope
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:  make(chan session.Envelope, 16),
		out: make(chan session.Envelope, 256),
	}
}

func (f *fakeTransport) Send(e session.Envelope) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("fakeTransport: send on closed transport")
	}
	f.mu.Unlock()
	f.out <- e
	return nil
}

func (f *fakeTransport) Receive() (session.Envelope, error) {
	e, ok := <-f.in
	if !ok {
		return session.Envelope{}, errors.New("fakeTransport: closed")
	}
	return e, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}

// fakeCompiler stubs the orchestrator surface Connection depends on.
type fakeCompiler struct {
	block        chan struct{} // if non-nil, Compile waits for ctx.Done() or this being closed
	ignoreCancel bool          // if true, Compile only unblocks on f.block, never on ctx.Done()
	emitSeq      []orchestrator.Event
	err          error
}

func (f *fakeCompiler) Compile(ctx context.Context, cfg config.Configuration, emit orchestrator.EmitFunc) (orchestrator.CompilationResult, error) {
	for _, ev := range f.emitSeq {
		if emit != nil {
			emit(ev)
		}
	}
	if f.block != nil {
		if f.ignoreCancel {
			<-f.block
		} else {
			select {
			case <-ctx.Done():
				return orchestrator.CompilationResult{}, ctx.Err()
			case <-f.block:
			}
		}
	}
	if f.err != nil {
		return orchestrator.CompilationResult{}, f.err
	}
	return orchestrator.CompilationResult{Success: true, RuleCount: 3, Checksum: "abc"}, nil
}

func drainUntil(t *testing.T, out <-chan session.Envelope, typ string, timeout time.Duration) session.Envelope {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-out:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for envelope type %q", typ)
		}
	}
}

func validConfigData() map[string]interface{} {
	return map[string]interface{}{
		"configuration": map[string]interface{}{
			"name": "list",
			"sources": []map[string]interface{}{
				{"source": "mem://a"},
			},
		},
	}
}

func TestServeSendsWelcomeFirst(t *testing.T) {
	tr := newFakeTransport()
	conn := session.NewConnection(tr, &fakeCompiler{}, session.Options{IdleTimeout: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Serve(ctx) }()

	welcome := drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	if welcome.Data["connection_id"] != conn.ID() {
		t.Fatalf("expected welcome connection_id %q, got %v", conn.ID(), welcome.Data["connection_id"])
	}

	cancel()
	<-done
}

func TestCompileRoundTripEmitsCompleteWithResultSummary(t *testing.T) {
	tr := newFakeTransport()
	compiler := &fakeCompiler{}
	conn := session.NewConnection(tr, compiler, session.Options{IdleTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	tr.in <- session.Envelope{Type: session.MsgCompile, SessionID: "s1", Data: validConfigData()}

	drainUntil(t, tr.out, session.MsgCompileStarted, time.Second)
	complete := drainUntil(t, tr.out, session.MsgCompileComplete, time.Second)
	if complete.SessionID != "s1" {
		t.Fatalf("expected session id s1, got %q", complete.SessionID)
	}
	if complete.Data["rule_count"] != 3 {
		t.Fatalf("expected rule_count 3, got %v", complete.Data["rule_count"])
	}
}

func TestCancelStopsInFlightCompile(t *testing.T) {
	tr := newFakeTransport()
	compiler := &fakeCompiler{block: make(chan struct{})}
	conn := session.NewConnection(tr, compiler, session.Options{IdleTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	tr.in <- session.Envelope{Type: session.MsgCompile, SessionID: "s1", Data: validConfigData()}
	drainUntil(t, tr.out, session.MsgCompileStarted, time.Second)

	tr.in <- session.Envelope{Type: session.MsgCancel, SessionID: "s1"}
	drainUntil(t, tr.out, session.MsgCompileCancelled, time.Second)
}

func TestTooManyConcurrentCompilesErrorsWithoutBlocking(t *testing.T) {
	tr := newFakeTransport()
	compiler := &fakeCompiler{block: make(chan struct{})}
	conn := session.NewConnection(tr, compiler, session.Options{MaxConcurrentCompiles: 1, IdleTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	tr.in <- session.Envelope{Type: session.MsgCompile, SessionID: "s1", Data: validConfigData()}
	drainUntil(t, tr.out, session.MsgCompileStarted, time.Second)

	tr.in <- session.Envelope{Type: session.MsgCompile, SessionID: "s2", Data: validConfigData()}
	errEnv := drainUntil(t, tr.out, session.MsgError, time.Second)
	if errEnv.SessionID != "s2" {
		t.Fatalf("expected the rejected session to be s2, got %q", errEnv.SessionID)
	}
	close(compiler.block)
}

func TestPingGetsPong(t *testing.T) {
	tr := newFakeTransport()
	conn := session.NewConnection(tr, &fakeCompiler{}, session.Options{IdleTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	tr.in <- session.Envelope{Type: session.MsgPing}
	drainUntil(t, tr.out, session.MsgPong, time.Second)
}

func TestIdleConnectionClosesAfterTimeout(t *testing.T) {
	tr := newFakeTransport()
	conn := session.NewConnection(tr, &fakeCompiler{}, session.Options{IdleTimeout: 30 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- conn.Serve(context.Background()) }()

	drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Serve to return after idle timeout")
	}
}

func TestCancelForcesClosedAfterGraceWindowIfCompileIgnoresIt(t *testing.T) {
	tr := newFakeTransport()
	block := make(chan struct{})
	compiler := &fakeCompiler{block: block, ignoreCancel: true}
	conn := session.NewConnection(tr, compiler, session.Options{
		MaxConcurrentCompiles: 1,
		IdleTimeout:           2 * time.Second,
		CancelGrace:           30 * time.Millisecond,
	})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	tr.in <- session.Envelope{Type: session.MsgCompile, SessionID: "s1", Data: validConfigData()}
	drainUntil(t, tr.out, session.MsgCompileStarted, time.Second)

	tr.in <- session.Envelope{Type: session.MsgCancel, SessionID: "s1"}
	forced := drainUntil(t, tr.out, session.MsgCompileCancelled, time.Second)
	if forced.Data["forced"] != true {
		t.Fatalf("expected forced=true, got %v", forced.Data["forced"])
	}

	// the concurrency slot must be reclaimed even though the stale compile
	// goroutine is still running in the background.
	tr.in <- session.Envelope{Type: session.MsgCompile, SessionID: "s2", Data: validConfigData()}
	drainUntil(t, tr.out, session.MsgCompileStarted, time.Second)
}

func TestMissingConfigurationFieldProducesError(t *testing.T) {
	tr := newFakeTransport()
	conn := session.NewConnection(tr, &fakeCompiler{}, session.Options{IdleTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	drainUntil(t, tr.out, session.MsgWelcome, time.Second)
	tr.in <- session.Envelope{Type: session.MsgCompile, SessionID: "bad", Data: map[string]interface{}{}}
	errEnv := drainUntil(t, tr.out, session.MsgError, time.Second)
	if errEnv.SessionID != "bad" {
		t.Fatalf("expected error for session 'bad', got %q", errEnv.SessionID)
	}
}
