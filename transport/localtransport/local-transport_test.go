package localtransport

import (
	"testing"
	"time"

	"github.com/RobertWHurst/notus"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTransport_QueueResourceRequest_RecordsRequest(t *testing.T) {
	transport := New()

	transport.QueueResourceRequest(notus.ResourceRequest{
		Method: "GET",
		URI:    "https://example.com/api",
		Headers: []notus.Header{
			{Key: "User-Agent", Value: "test"},
		},
	})

	require.True(t, transport.AwaitResourceRequests(1))
	request := transport.ResourceRequest(0).Request
	assert.Equal(t, "GET", request.Method)
	assert.Equal(t, "https://example.com/api", request.URI)
}

func TestLocalTransport_RespondToResourceRequest_ResolvesTransaction(t *testing.T) {
	transport := New()

	transaction := transport.QueueResourceRequest(notus.ResourceRequest{Method: "GET"})
	transport.RespondToResourceRequest(0, notus.Response{Status: 200, Body: "hello"})

	select {
	case response := <-transaction.Response:
		assert.Equal(t, 200, response.Status)
		assert.Equal(t, "hello", response.Body)
	case <-time.After(time.Second):
		t.Fatal("transaction never resolved")
	}
}

func TestLocalTransport_CancelResourceRequest_ResolvesWith499(t *testing.T) {
	transport := New()

	transaction := transport.QueueResourceRequest(notus.ResourceRequest{Method: "GET"})
	transaction.Cancel()
	transaction.Cancel()

	response := <-transaction.Response
	assert.Equal(t, 499, response.Status)

	select {
	case <-transport.ResourceRequest(0).Canceled:
	default:
		t.Fatal("cancel was not recorded")
	}
}

func TestLocalTransport_CancelWebSocketRequest_ResolvesWithNil(t *testing.T) {
	transport := New()

	transaction := transport.QueueWebSocketRequest("wss://example.com")
	transaction.Cancel()

	ws := <-transaction.WebSocket
	assert.Nil(t, ws)
}

func TestLocalTransport_RespondToWebSocketRequest_DeliversWebSocket(t *testing.T) {
	transport := New()
	delivered := NewWebSocket()

	transaction := transport.QueueWebSocketRequest("wss://example.com")
	require.True(t, transport.AwaitWebSocketRequests(1))
	assert.Equal(t, "wss://example.com", transport.WebSocketRequest(0).URI)
	transport.RespondToWebSocketRequest(0, delivered)

	ws := <-transaction.WebSocket
	assert.Same(t, delivered, ws)
}

func TestLocalTransport_TearDown_ResolvesOutstandingRequests(t *testing.T) {
	transport := New()

	resource := transport.QueueResourceRequest(notus.ResourceRequest{Method: "GET"})
	webSocketTransaction := transport.QueueWebSocketRequest("wss://example.com")

	transport.TearDown()

	assert.Equal(t, 500, (<-resource.Response).Status)
	assert.Nil(t, <-webSocketTransaction.WebSocket)
}

func TestLocalWebSocket_Text_RecordsSentFrames(t *testing.T) {
	ws := NewWebSocket()

	ws.Text("one")
	ws.Text("two")

	assert.Equal(t, []string{"one", "two"}, ws.SentTexts())
	assert.True(t, ws.AwaitTexts(2))
	assert.False(t, ws.AwaitTexts(3))
}

func TestLocalWebSocket_Close_ReportsThroughCallback(t *testing.T) {
	ws := NewWebSocket()
	closed := false
	ws.RegisterCloseCallback(func() { closed = true })

	ws.Close(websocket.StatusNormalClosure)

	assert.True(t, closed)
	assert.True(t, ws.Closed())
	assert.Equal(t, websocket.StatusNormalClosure, ws.CloseCode())
}

func TestLocalWebSocket_RemoteText_DeliversToCallback(t *testing.T) {
	ws := NewWebSocket()
	var received []string
	ws.RegisterTextCallback(func(message string) { received = append(received, message) })

	ws.RemoteText("hello")

	assert.Equal(t, []string{"hello"}, received)
}
