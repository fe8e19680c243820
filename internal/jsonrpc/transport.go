// Package jsonrpc implements JsonRpcTransport (spec §4.1): framed
// newline-delimited JSON-RPC 2.0 over a subprocess's stdio, with request/
// response correlation and notification dispatch. Modelled on the
// teacher's hand-rolled stdio loop (core/internal/host/stdio.go and
// core/cmd/ricochet/main.go's runStdioMode scanner loop) rather than a
// schema-bound RPC SDK, since the wire vocabulary here (§6) isn't MCP's.
package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/protocol"
)

// DefaultTimeout is the default request deadline (spec §4.1, §5).
const DefaultTimeout = 30 * time.Second

// NotificationHandler processes an inbound notification (no reply sent).
type NotificationHandler func(method string, params json.RawMessage)

type pendingRequest struct {
	resolve chan json.RawMessage
	reject  chan error
	method  string
}

// Transport carries JSON-RPC 2.0 messages over a subprocess's stdin/stdout.
type Transport struct {
	w  io.Writer
	wg sync.WaitGroup

	writeMu sync.Mutex // serialises stdin writes (spec §5 "Shared resources")

	nextID int64

	mu      sync.Mutex
	pending map[string]*pendingRequest
	stopped bool

	handlersMu sync.RWMutex
	handlers   map[string]NotificationHandler
	fallback   NotificationHandler

	log *logrus.Entry
}

// New wraps w (the subprocess's stdin) for writes; Start must be called
// separately with the stdout reader to begin dispatching.
func New(w io.Writer, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{
		w:        w,
		pending:  make(map[string]*pendingRequest),
		handlers: make(map[string]NotificationHandler),
		log:      log.WithField("component", "jsonrpc.Transport"),
	}
}

// Start begins the read loop over r (the subprocess's stdout) and blocks
// until r is exhausted. A cancelled ctx is noticed only when the next line
// arrives. Call it in its own goroutine.
func (t *Transport) Start(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	// Subprocess lines (tool output, diffs) can be large; match the
	// teacher's generous 1MB scanner buffer.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			t.Stop(ctx.Err())
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		t.log.WithError(err).Warn("subprocess stdout scanner error")
	}
	// stdout closed: reject everything pending (spec §4.1 failure semantics).
	t.Stop(fmt.Errorf("subprocess stdout closed"))
}

func (t *Transport) handleLine(line []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		t.log.WithError(err).Warn("dropping unparseable line from subprocess")
		return
	}

	// Lenient jsonrpc field handling: missing -> accept & normalise;
	// present & wrong -> reject.
	if v, ok := raw["jsonrpc"]; ok {
		var version string
		if err := json.Unmarshal(v, &version); err == nil && version != protocol.Version {
			t.log.WithField("jsonrpc", version).Warn("dropping message with unsupported jsonrpc version")
			return
		}
	}

	var env protocol.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		t.log.WithError(err).Warn("dropping malformed envelope from subprocess")
		return
	}

	switch {
	case env.ID != nil && env.Method == "":
		// Response: has id, no method.
		t.handleResponse(&env)
	case env.ID == nil && env.Method != "":
		// Notification: method, no id.
		t.dispatchNotification(env.Method, env.Params)
	default:
		t.log.WithField("method", env.Method).Warn("dropping message that is neither a response nor a notification")
	}
}

func (t *Transport) handleResponse(env *protocol.Envelope) {
	key := env.ID.String()

	t.mu.Lock()
	pr, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if !ok {
		t.log.WithField("id", key).Warn("response for unknown or expired request id")
		return
	}

	if env.Error != nil {
		pr.reject <- env.Error
		return
	}
	pr.resolve <- env.Result
}

func (t *Transport) dispatchNotification(method string, params json.RawMessage) {
	t.handlersMu.RLock()
	h, ok := t.handlers[method]
	fallback := t.fallback
	t.handlersMu.RUnlock()
	if ok {
		h(method, params)
		return
	}
	if fallback != nil {
		fallback(method, params)
	}
}

// On registers a handler for an inbound notification method. Registering
// twice for the same method replaces the previous handler.
func (t *Transport) On(method string, handler NotificationHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.handlers[method] = handler
}

// SetFallback registers a handler invoked for any notification method with
// no exact handler registered via On. SubprocessClient uses this instead of
// per-method registration because the subprocess's notification vocabulary
// is large, varies in spelling, and is classified by pattern (spec §4.2).
func (t *Transport) SetFallback(handler NotificationHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.fallback = handler
}

// Request sends a request and blocks for a matching response or until
// timeout elapses (default DefaultTimeout, 0 means use the default).
func (t *Transport) Request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil, fmt.Errorf("jsonrpc transport stopped")
	}
	id := atomic.AddInt64(&t.nextID, 1)
	reqID := protocol.NewNumberID(id)
	key := reqID.String()

	pr := &pendingRequest{
		resolve: make(chan json.RawMessage, 1),
		reject:  make(chan error, 1),
		method:  method,
	}
	t.pending[key] = pr
	t.mu.Unlock()

	env := protocol.Envelope{
		JSONRPC: protocol.Version,
		ID:      reqID,
		Method:  method,
		Params:  protocol.Encode(params),
	}
	if err := t.writeLine(env); err != nil {
		t.evict(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-pr.resolve:
		return result, nil
	case err := <-pr.reject:
		return nil, err
	case <-timer.C:
		t.evict(key)
		return nil, fmt.Errorf("request %q (id=%s) timed out after %s", method, key, timeout)
	case <-ctx.Done():
		t.evict(key)
		return nil, ctx.Err()
	}
}

func (t *Transport) evict(key string) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

// Notify sends a request with no id; no reply is expected.
func (t *Transport) Notify(method string, params interface{}) error {
	env := protocol.Envelope{
		JSONRPC: protocol.Version,
		Method:  method,
		Params:  protocol.Encode(params),
	}
	return t.writeLine(env)
}

func (t *Transport) writeLine(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return fmt.Errorf("jsonrpc transport stopped")
	}

	_, err = t.w.Write(data)
	return err
}

// Stop rejects every pending request with a terminal error; subsequent
// Request calls fail immediately (spec §4.1).
func (t *Transport) Stop(cause error) {
	if cause == nil {
		cause = fmt.Errorf("client stopped")
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	pending := t.pending
	t.pending = make(map[string]*pendingRequest)
	t.mu.Unlock()

	for _, pr := range pending {
		pr.reject <- cause
	}
}
