package notus

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/telemetrytv/trace"
)

var (
	gatewayDebug        = trace.Bind("notus:gateway")
	gatewayConnectDebug = trace.Bind("notus:gateway:connect")
	gatewayCloseDebug   = trace.Bind("notus:gateway:close")
)

const (
	gatewayDiscoveryURI  = "https://discordapp.com/api/v6/gateway"
	webSocketQuerySuffix = "/?v=6&encoding=json"

	// How long Disconnect waits for the transport to report the close
	// of a locally closed websocket before giving up.
	closeSettleTimeout = 1000 * time.Millisecond

	// Close code used when the server stops acknowledging heartbeats.
	livenessFailureCode = websocket.StatusCode(4000)
)

type phase int

const (
	phaseIdle phase = iota
	phaseAwaitingProceed
	phaseDiscoveringEndpoint
	phaseOpeningWebSocket
	phaseAwaitingHello
	phaseConnected
	phaseClosing
	phaseClosed
)

// Configuration carries the identity the gateway presents to Discord.
// All fields are transmitted as-is; none are validated.
type Configuration struct {
	Token     string
	OS        string
	Browser   string
	Device    string
	UserAgent string
}

// CloseCallback is invoked once per connection when the connection is
// observed to have closed, whether locally or remotely initiated.
type CloseCallback func()

// Gateway maintains a long-lived connection to Discord's gateway
// websocket service: it discovers the gateway endpoint, opens the
// websocket, performs the hello/identify handshake, and keeps the
// session alive with heartbeats.
//
// A Gateway is safe for concurrent use. It is recoverable: after a
// Disconnect or a remote close, Connect may be called again, and the
// previously discovered endpoint is retried before falling back to a
// fresh discovery request.
type Gateway struct {
	mu sync.Mutex

	scheduler Scheduler
	limiter   RateLimiter

	phase               phase
	cachedEndpoint      string
	webSocket           WebSocket
	cancelCurrentOp     func()
	proceedGate         <-chan struct{}
	disconnectRequested bool

	heartbeatInterval   float64
	nextHeartbeatTime   float64
	heartbeatToken      int
	heartbeatAckPending bool

	lastSequenceNumber     int64
	receivedSequenceNumber bool

	helloReceived bool
	helloSignal   chan struct{}
	closeSignal   chan struct{}
	closed        bool

	// generation invalidates callbacks of a websocket from an earlier
	// connection that fire after teardown.
	generation uint64

	closeCallback        CloseCallback
	closeCallbackInvoked bool

	diagnosticsMu    sync.Mutex
	diagnosticSink   DiagnosticCallback
	diagnosticBuffer []diagnosticRecord
}

// GatewayOpt mutates a Gateway during construction.
type GatewayOpt func(*Gateway)

// WithRateLimiter replaces the outbound frame rate limiter.
func WithRateLimiter(limiter RateLimiter) GatewayOpt {
	return func(g *Gateway) {
		g.limiter = limiter
	}
}

// NewGateway creates a gateway client in the idle phase. A scheduler
// must be set with SetScheduler before the first Connect.
func NewGateway(opts ...GatewayOpt) *Gateway {
	g := &Gateway{
		limiter: NewRateLimiter(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetScheduler installs the scheduler used for heartbeat timing. Call
// it before the first Connect. Calls made while a connection is being
// established or is live are ignored.
func (g *Gateway) SetScheduler(scheduler Scheduler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != phaseIdle && g.phase != phaseClosed {
		gatewayDebug.Trace("Ignoring scheduler swap outside idle phase")
		return
	}
	if g.scheduler != nil && g.heartbeatToken != 0 {
		g.scheduler.Cancel(g.heartbeatToken)
		g.heartbeatToken = 0
	}
	g.scheduler = scheduler
}

// WaitBeforeConnect supplies a one-shot gate the next Connect must
// observe before issuing any I/O. A later call overwrites an
// unconsumed gate.
func (g *Gateway) WaitBeforeConnect(proceedWithConnect <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proceedGate = proceedWithConnect
}

// RegisterCloseCallback installs the close callback. If the current
// connection has already closed, the callback fires once before the
// call returns.
func (g *Gateway) RegisterCloseCallback(onClose CloseCallback) {
	g.mu.Lock()
	g.closeCallback = onClose
	fireNow := g.closed && !g.closeCallbackInvoked && onClose != nil
	if fireNow {
		g.closeCallbackInvoked = true
	}
	g.mu.Unlock()

	if fireNow {
		onClose()
	}
}

// Connect establishes a connection to the Discord gateway using the
// given network dependencies. The returned channel resolves exactly
// once: true if the connection reached the connected phase, false
// otherwise.
//
// Connect resolves false without issuing any I/O if no scheduler is
// set, a websocket is already held, or a connect is already in flight.
func (g *Gateway) Connect(connections Connections, configuration Configuration) <-chan bool {
	result := make(chan bool, 1)

	g.mu.Lock()
	if g.scheduler == nil || g.webSocket != nil || (g.phase != phaseIdle && g.phase != phaseClosed) {
		g.mu.Unlock()
		gatewayConnectDebug.Trace("Rejecting connect: busy or not configured")
		result <- false
		return result
	}

	g.disconnectRequested = false
	g.helloReceived = false
	g.helloSignal = make(chan struct{})
	g.heartbeatInterval = 0
	g.nextHeartbeatTime = 0
	g.heartbeatAckPending = false
	g.lastSequenceNumber = 0
	g.receivedSequenceNumber = false
	g.phase = phaseAwaitingProceed
	g.mu.Unlock()

	go g.runConnect(connections, configuration, result)

	return result
}

// runConnect drives one connect attempt on its own goroutine. The
// state mutex is released across every external wait, and the
// disconnect flag is re-read after each one.
func (g *Gateway) runConnect(connections Connections, configuration Configuration, result chan<- bool) {
	connectionID := newConnectionID()
	gatewayConnectDebug.Tracef("[%s] Starting connect", connectionID)

	g.mu.Lock()

	if gate := g.proceedGate; gate != nil {
		g.proceedGate = nil
		g.mu.Unlock()
		gatewayConnectDebug.Tracef("[%s] Waiting on proceed gate", connectionID)
		<-gate
		g.mu.Lock()
	}
	if g.disconnectRequested {
		g.failConnectLocked(connectionID, result)
		return
	}

	var ws WebSocket
	if g.cachedEndpoint != "" {
		gatewayConnectDebug.Tracef("[%s] Trying cached endpoint %s", connectionID, g.cachedEndpoint)
		ws = g.openWebSocketLocked(connections, g.cachedEndpoint)
		if g.disconnectRequested {
			g.mu.Unlock()
			if ws != nil {
				ws.Close(websocket.StatusNormalClosure)
			}
			g.mu.Lock()
			g.failConnectLocked(connectionID, result)
			return
		}
	}

	if ws == nil {
		g.phase = phaseDiscoveringEndpoint
		gatewayConnectDebug.Tracef("[%s] Requesting gateway endpoint", connectionID)
		transaction := connections.QueueResourceRequest(ResourceRequest{
			Method: "GET",
			URI:    gatewayDiscoveryURI,
			Headers: []Header{
				{Key: "User-Agent", Value: configuration.UserAgent},
			},
		})
		g.cancelCurrentOp = transaction.Cancel
		g.mu.Unlock()
		response := <-transaction.Response
		g.mu.Lock()
		g.cancelCurrentOp = nil

		if g.disconnectRequested || response.Status != 200 {
			g.failConnectLocked(connectionID, result)
			return
		}
		endpoint, ok := decodeEndpoint(response.Body)
		if !ok {
			gatewayConnectDebug.Tracef("[%s] Endpoint response not usable", connectionID)
			g.failConnectLocked(connectionID, result)
			return
		}
		g.cachedEndpoint = endpoint

		ws = g.openWebSocketLocked(connections, endpoint)
		if g.disconnectRequested || ws == nil {
			g.mu.Unlock()
			if ws != nil {
				ws.Close(websocket.StatusNormalClosure)
			}
			g.mu.Lock()
			g.failConnectLocked(connectionID, result)
			return
		}
	}

	g.webSocket = ws
	g.phase = phaseAwaitingHello
	g.closed = false
	g.closeCallbackInvoked = false
	g.closeSignal = make(chan struct{})
	g.generation++
	generation := g.generation
	helloSignal := g.helloSignal
	closeSignal := g.closeSignal
	g.mu.Unlock()

	ws.RegisterTextCallback(func(message string) { g.handleText(generation, message) })
	ws.RegisterBinaryCallback(func(message string) { g.handleBinary(generation, message) })
	ws.RegisterCloseCallback(func() { g.handleClose(generation) })

	g.limiter.Reset()

	gatewayConnectDebug.Tracef("[%s] Waiting for hello", connectionID)
	select {
	case <-helloSignal:
	case <-closeSignal:
		g.mu.Lock()
		g.webSocket = nil
		g.failConnectLocked(connectionID, result)
		return
	}

	g.mu.Lock()
	if g.disconnectRequested || g.closed {
		g.webSocket = nil
		g.failConnectLocked(connectionID, result)
		return
	}
	g.mu.Unlock()

	identify, err := encodeIdentify(configuration)
	if err != nil {
		g.mu.Lock()
		g.webSocket = nil
		g.failConnectLocked(connectionID, result)
		return
	}
	gatewayConnectDebug.Tracef("[%s] Sending identify", connectionID)
	g.send(ws, identify)

	g.sendHeartbeat()

	g.mu.Lock()
	if g.closed {
		g.webSocket = nil
		g.failConnectLocked(connectionID, result)
		return
	}
	g.phase = phaseConnected
	g.mu.Unlock()

	g.diagnose(DiagnosticLevelInfo, "Connected to Discord")
	gatewayConnectDebug.Tracef("[%s] Connected", connectionID)
	result <- true
}

// failConnectLocked resolves a connect attempt as failed. The mutex
// must be held; it is released before the result is delivered.
func (g *Gateway) failConnectLocked(connectionID string, result chan<- bool) {
	if g.closed {
		g.phase = phaseClosed
	} else {
		g.phase = phaseIdle
	}
	g.cancelCurrentOp = nil
	g.mu.Unlock()

	gatewayConnectDebug.Tracef("[%s] Connect failed", connectionID)
	result <- false
}

// openWebSocketLocked attempts a websocket open against the given
// endpoint. The mutex must be held; it is released across the wait and
// held again on return. Returns nil if the open failed or was
// canceled.
func (g *Gateway) openWebSocketLocked(connections Connections, endpoint string) WebSocket {
	g.phase = phaseOpeningWebSocket
	transaction := connections.QueueWebSocketRequest(endpoint + webSocketQuerySuffix)
	g.cancelCurrentOp = transaction.Cancel
	g.mu.Unlock()
	ws := <-transaction.WebSocket
	g.mu.Lock()
	g.cancelCurrentOp = nil
	return ws
}

// Disconnect tears down any connection or connect attempt in progress.
// It cancels in-flight transport operations, closes the websocket with
// a normal close code, waits briefly for the transport to confirm the
// close, and unschedules heartbeats. Safe to call in any phase.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	g.disconnectRequested = true
	cancel := g.cancelCurrentOp
	ws := g.webSocket
	closeSignal := g.closeSignal
	alreadyClosed := g.closed
	if ws != nil {
		g.phase = phaseClosing
	}
	g.mu.Unlock()

	if cancel != nil {
		gatewayCloseDebug.Trace("Canceling in-flight transport operation")
		cancel()
	}

	if ws != nil {
		gatewayCloseDebug.Trace("Closing websocket")
		ws.Close(websocket.StatusNormalClosure)
		if !alreadyClosed && closeSignal != nil {
			select {
			case <-closeSignal:
			case <-time.After(closeSettleTimeout):
				g.diagnose(DiagnosticLevelWarn, "Timeout waiting for WebSocket to close")
			}
		}
	}

	g.mu.Lock()
	if g.heartbeatToken != 0 && g.scheduler != nil {
		g.scheduler.Cancel(g.heartbeatToken)
		g.heartbeatToken = 0
	}
	g.heartbeatInterval = 0
	g.nextHeartbeatTime = 0
	g.heartbeatAckPending = false
	g.webSocket = nil

	// The transport may never report the close. Settle the connection
	// locally so close waiters and the close callback still run.
	finalize := ws != nil && !g.closed
	var onClose CloseCallback
	if finalize {
		g.closed = true
		g.phase = phaseClosed
		if g.closeCallback != nil && !g.closeCallbackInvoked {
			g.closeCallbackInvoked = true
			onClose = g.closeCallback
		}
	} else if g.closed {
		g.phase = phaseClosed
	}
	g.mu.Unlock()

	if finalize {
		if closeSignal != nil {
			close(closeSignal)
		}
		g.diagnose(DiagnosticLevelInfo, "Disconnected from Discord")
		if onClose != nil {
			onClose()
		}
	}
}

// handleClose runs the close path for the connection identified by
// generation. It is invoked by the transport's close callback and by
// the liveness check. Only the first call per connection has any
// effect. Disconnect settles a close the transport never reports on its
// own, without going through here.
func (g *Gateway) handleClose(generation uint64) {
	g.mu.Lock()
	if generation != g.generation || g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.phase = phaseClosed
	if g.heartbeatToken != 0 && g.scheduler != nil {
		g.scheduler.Cancel(g.heartbeatToken)
		g.heartbeatToken = 0
	}
	g.heartbeatAckPending = false
	g.webSocket = nil
	closeSignal := g.closeSignal
	var onClose CloseCallback
	if g.closeCallback != nil && !g.closeCallbackInvoked {
		g.closeCallbackInvoked = true
		onClose = g.closeCallback
	}
	g.mu.Unlock()

	gatewayCloseDebug.Trace("Connection closed")
	if closeSignal != nil {
		close(closeSignal)
	}
	g.diagnose(DiagnosticLevelInfo, "Disconnected from Discord")
	if onClose != nil {
		onClose()
	}
}

// send pushes a single text frame through the rate limiter and onto
// the websocket. The limiter serializes senders, so frames never
// interleave.
func (g *Gateway) send(ws WebSocket, message string) {
	if err := g.limiter.Wait(context.Background()); err != nil {
		return
	}
	defer g.limiter.Unlock()
	ws.Text(message)
}
