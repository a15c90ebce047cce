package nettransport

import (
	"context"
	"sync"

	"github.com/RobertWHurst/notus"
	"github.com/coder/websocket"
	"github.com/telemetrytv/trace"
	"github.com/valyala/fasthttp"
)

var (
	transportNetDebug        = trace.Bind("notus:transport:net")
	transportNetRequestDebug = trace.Bind("notus:transport:net:request")
)

// NetTransport is the stock notus.Connections implementation: resource
// requests go out over fasthttp, websocket requests dial with
// coder/websocket.
type NetTransport struct {
	// HTTPClient serves resource requests. Replace before first use to
	// customize timeouts or TLS settings.
	HTTPClient *fasthttp.Client

	// DialOptions are passed to every websocket dial.
	DialOptions *websocket.DialOptions
}

var _ notus.Connections = &NetTransport{}

// New creates a transport with a default HTTP client.
func New() *NetTransport {
	transportNetDebug.Trace("Creating new net transport")
	return &NetTransport{
		HTTPClient: &fasthttp.Client{},
	}
}

// QueueResourceRequest issues the HTTP request on its own goroutine.
// Cancel resolves the transaction locally with status 499; the
// underlying request is left to finish and its result is discarded.
func (t *NetTransport) QueueResourceRequest(request notus.ResourceRequest) notus.ResourceRequestTransaction {
	respond := make(chan notus.Response, 1)
	var resolveOnce sync.Once
	resolve := func(response notus.Response) bool {
		resolved := false
		resolveOnce.Do(func() {
			respond <- response
			resolved = true
		})
		return resolved
	}

	transportNetRequestDebug.Tracef("Issuing %s %s", request.Method, request.URI)
	go func() {
		httpRequest := fasthttp.AcquireRequest()
		defer fasthttp.ReleaseRequest(httpRequest)
		httpResponse := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseResponse(httpResponse)

		httpRequest.Header.SetMethod(request.Method)
		httpRequest.SetRequestURI(request.URI)
		for _, header := range request.Headers {
			httpRequest.Header.Set(header.Key, header.Value)
		}
		if request.Body != "" {
			httpRequest.SetBodyString(request.Body)
		}

		if err := t.HTTPClient.Do(httpRequest, httpResponse); err != nil {
			transportNetRequestDebug.Tracef("Request failed: %v", err)
			resolve(notus.Response{Status: 500})
			return
		}

		response := notus.Response{
			Status: httpResponse.StatusCode(),
			Body:   string(httpResponse.Body()),
		}
		httpResponse.Header.VisitAll(func(key, value []byte) {
			response.Headers = append(response.Headers, notus.Header{
				Key:   string(key),
				Value: string(value),
			})
		})
		resolve(response)
	}()

	return notus.ResourceRequestTransaction{
		Response: respond,
		Cancel: func() {
			if resolve(notus.Response{Status: 499}) {
				transportNetRequestDebug.Trace("Resource request canceled")
			}
		},
	}
}

// QueueWebSocketRequest dials the websocket on its own goroutine.
// Cancel aborts the dial and resolves the transaction with a nil
// websocket.
func (t *NetTransport) QueueWebSocketRequest(uri string) notus.WebSocketRequestTransaction {
	deliver := make(chan notus.WebSocket, 1)
	var resolveOnce sync.Once
	resolve := func(ws notus.WebSocket) bool {
		resolved := false
		resolveOnce.Do(func() {
			deliver <- ws
			resolved = true
		})
		return resolved
	}

	ctx, cancelDial := context.WithCancel(context.Background())

	transportNetRequestDebug.Tracef("Dialing websocket %s", uri)
	go func() {
		conn, _, err := websocket.Dial(ctx, uri, t.DialOptions)
		if err != nil {
			transportNetRequestDebug.Tracef("Dial failed: %v", err)
			resolve(nil)
			return
		}
		ws := newNetWebSocket(conn)
		if !resolve(ws) {
			// Canceled while the dial was completing.
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		ws.start()
	}()

	return notus.WebSocketRequestTransaction{
		WebSocket: deliver,
		Cancel: func() {
			if resolve(nil) {
				transportNetRequestDebug.Trace("WebSocket request canceled")
			}
			cancelDial()
		},
	}
}
