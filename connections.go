package notus

import (
	"github.com/coder/websocket"
)

// Header is a single HTTP header carried on a resource request or
// response.
type Header struct {
	Key   string
	Value string
}

// ResourceRequest describes an HTTP request to be issued through a
// Connections implementation.
type ResourceRequest struct {
	Method  string
	URI     string
	Headers []Header
	Body    string
}

// Response is the result of a resource request. A request canceled
// in flight resolves with status 499.
type Response struct {
	Status  int
	Headers []Header
	Body    string
}

// ResourceRequestTransaction pairs the eventual response of a resource
// request with a handle that can cancel it. Cancel must be idempotent
// and safe to call from any goroutine; a canceled request resolves its
// Response channel with status 499.
type ResourceRequestTransaction struct {
	Response <-chan Response
	Cancel   func()
}

// WebSocketRequestTransaction pairs the eventual websocket of a
// websocket request with a handle that can cancel it. A canceled or
// failed request resolves with a nil websocket.
type WebSocketRequestTransaction struct {
	WebSocket <-chan WebSocket
	Cancel    func()
}

// Connections represents the networking dependencies of the library,
// used to communicate with Discord online. Implementations must not
// block inside the Queue methods; the work happens behind the returned
// transaction.
//
// The stock implementation lives in transport/nettransport. A scripted
// in-memory implementation for tests lives in transport/localtransport.
type Connections interface {
	QueueResourceRequest(request ResourceRequest) ResourceRequestTransaction
	QueueWebSocketRequest(uri string) WebSocketRequestTransaction
}

// WebSocket represents an open websocket connection between the library
// and Discord, from the perspective of the library as a client.
//
// Registered callbacks may be invoked from any goroutine.
type WebSocket interface {
	Text(message string)
	Binary(message string)
	Close(code websocket.StatusCode)
	RegisterTextCallback(onText func(message string))
	RegisterBinaryCallback(onBinary func(message string))
	RegisterCloseCallback(onClose func())
}
