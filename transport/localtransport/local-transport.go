package localtransport

import (
	"sync"
	"time"

	"github.com/RobertWHurst/notus"
	"github.com/telemetrytv/trace"
)

var (
	transportLocalDebug        = trace.Bind("notus:transport:local")
	transportLocalRequestDebug = trace.Bind("notus:transport:local:request")
)

// awaitTimeout bounds how long the Await helpers block before
// reporting failure.
const awaitTimeout = 100 * time.Millisecond

// ResourceCall records a single resource request queued through the
// transport, together with the handles the test uses to resolve or
// observe it.
type ResourceCall struct {
	Request notus.ResourceRequest

	// Canceled is closed when the gateway invokes the transaction's
	// cancel handle.
	Canceled chan struct{}

	respond     chan notus.Response
	resolveOnce sync.Once
	cancelOnce  sync.Once
}

func (c *ResourceCall) resolve(response notus.Response) {
	c.resolveOnce.Do(func() {
		c.respond <- response
	})
}

// WebSocketCall records a single websocket request queued through the
// transport.
type WebSocketCall struct {
	URI string

	// Canceled is closed when the gateway invokes the transaction's
	// cancel handle.
	Canceled chan struct{}

	deliver     chan notus.WebSocket
	resolveOnce sync.Once
	cancelOnce  sync.Once
}

func (c *WebSocketCall) resolve(ws notus.WebSocket) {
	c.resolveOnce.Do(func() {
		c.deliver <- ws
	})
}

// LocalTransport is a scripted in-memory notus.Connections for tests.
// Requests queue up and block until the test responds to them through
// RespondToResourceRequest and RespondToWebSocketRequest.
type LocalTransport struct {
	mu             sync.Mutex
	changed        chan struct{}
	tornDown       bool
	resourceCalls  []*ResourceCall
	webSocketCalls []*WebSocketCall
}

var _ notus.Connections = &LocalTransport{}

// New creates a local transport with no queued requests.
func New() *LocalTransport {
	transportLocalDebug.Trace("Creating new local transport")
	return &LocalTransport{
		changed: make(chan struct{}),
	}
}

// notifyLocked releases every Await helper so it can re-check its
// condition. The transport mutex must be held.
func (t *LocalTransport) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// QueueResourceRequest records the request and returns a transaction
// that resolves when the test responds. Canceling resolves it with
// status 499.
func (t *LocalTransport) QueueResourceRequest(request notus.ResourceRequest) notus.ResourceRequestTransaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	transportLocalRequestDebug.Tracef("Queued resource request %s %s", request.Method, request.URI)
	call := &ResourceCall{
		Request:  request,
		Canceled: make(chan struct{}),
		respond:  make(chan notus.Response, 1),
	}
	if t.tornDown {
		call.resolve(notus.Response{Status: 500})
		return notus.ResourceRequestTransaction{
			Response: call.respond,
			Cancel:   func() {},
		}
	}

	t.resourceCalls = append(t.resourceCalls, call)
	t.notifyLocked()

	return notus.ResourceRequestTransaction{
		Response: call.respond,
		Cancel: func() {
			call.cancelOnce.Do(func() {
				transportLocalRequestDebug.Trace("Resource request canceled")
				call.resolve(notus.Response{Status: 499})
				close(call.Canceled)
			})
		},
	}
}

// QueueWebSocketRequest records the request and returns a transaction
// that resolves when the test responds. Canceling resolves it with a
// nil websocket.
func (t *LocalTransport) QueueWebSocketRequest(uri string) notus.WebSocketRequestTransaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	transportLocalRequestDebug.Tracef("Queued websocket request %s", uri)
	call := &WebSocketCall{
		URI:      uri,
		Canceled: make(chan struct{}),
		deliver:  make(chan notus.WebSocket, 1),
	}
	if t.tornDown {
		call.resolve(nil)
		return notus.WebSocketRequestTransaction{
			WebSocket: call.deliver,
			Cancel:    func() {},
		}
	}

	t.webSocketCalls = append(t.webSocketCalls, call)
	t.notifyLocked()

	return notus.WebSocketRequestTransaction{
		WebSocket: call.deliver,
		Cancel: func() {
			call.cancelOnce.Do(func() {
				transportLocalRequestDebug.Trace("WebSocket request canceled")
				call.resolve(nil)
				close(call.Canceled)
			})
		},
	}
}

// AwaitResourceRequests blocks until at least n resource requests have
// been queued, or reports false after a short timeout.
func (t *LocalTransport) AwaitResourceRequests(n int) bool {
	deadline := time.After(awaitTimeout)
	for {
		t.mu.Lock()
		if len(t.resourceCalls) >= n {
			t.mu.Unlock()
			return true
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

// AwaitWebSocketRequests blocks until at least n websocket requests
// have been queued, or reports false after a short timeout.
func (t *LocalTransport) AwaitWebSocketRequests(n int) bool {
	deadline := time.After(awaitTimeout)
	for {
		t.mu.Lock()
		if len(t.webSocketCalls) >= n {
			t.mu.Unlock()
			return true
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

// ResourceRequest returns the i-th queued resource call.
func (t *LocalTransport) ResourceRequest(i int) *ResourceCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resourceCalls[i]
}

// WebSocketRequest returns the i-th queued websocket call.
func (t *LocalTransport) WebSocketRequest(i int) *WebSocketCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.webSocketCalls[i]
}

// RespondToResourceRequest resolves the i-th queued resource request.
func (t *LocalTransport) RespondToResourceRequest(i int, response notus.Response) {
	t.mu.Lock()
	call := t.resourceCalls[i]
	t.mu.Unlock()
	call.resolve(response)
}

// RespondToWebSocketRequest resolves the i-th queued websocket
// request. Pass nil to simulate a failed open.
func (t *LocalTransport) RespondToWebSocketRequest(i int, ws notus.WebSocket) {
	t.mu.Lock()
	call := t.webSocketCalls[i]
	t.mu.Unlock()
	call.resolve(ws)
}

// TearDown resolves every outstanding request so no goroutine is left
// blocked at the end of a test: resource requests with status 500,
// websocket requests with nil.
func (t *LocalTransport) TearDown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	transportLocalDebug.Trace("Tearing down local transport")
	t.tornDown = true
	for _, call := range t.resourceCalls {
		call.resolve(notus.Response{Status: 500})
	}
	for _, call := range t.webSocketCalls {
		call.resolve(nil)
	}
}
