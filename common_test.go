package notus_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/RobertWHurst/notus"
	"github.com/RobertWHurst/notus/timekeeping"
	"github.com/RobertWHurst/notus/transport/localtransport"
	"github.com/stretchr/testify/require"
)

const heartbeatIntervalMilliseconds = 45000

var testConfiguration = notus.Configuration{
	Token:     "test-token",
	OS:        "linux",
	Browser:   "notus",
	Device:    "notus",
	UserAgent: "DiscordBot",
}

// gatewayFixture wires a gateway to a scripted transport and a manual
// clock, and tracks how many requests the scripts have consumed so
// helpers can be called repeatedly across reconnects.
type gatewayFixture struct {
	t         *testing.T
	transport *localtransport.LocalTransport
	clock     *timekeeping.ManualClock
	scheduler *timekeeping.Scheduler
	gateway   *notus.Gateway
	webSocket *localtransport.LocalWebSocket

	resourceResponses  int
	webSocketResponses int
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	clock := &timekeeping.ManualClock{}
	scheduler := timekeeping.New(clock)
	t.Cleanup(scheduler.Stop)

	transport := localtransport.New()
	t.Cleanup(transport.TearDown)

	gateway := notus.NewGateway()
	gateway.SetScheduler(scheduler)

	return &gatewayFixture{
		t:         t,
		transport: transport,
		clock:     clock,
		scheduler: scheduler,
		gateway:   gateway,
		webSocket: localtransport.NewWebSocket(),
	}
}

// connectWithEndpointResponse starts a connect and scripts the
// discovery request with the given body.
func (f *gatewayFixture) connectWithEndpointResponse(body string) <-chan bool {
	next := f.resourceResponses
	connected := f.gateway.Connect(f.transport, testConfiguration)
	require.True(f.t, f.transport.AwaitResourceRequests(next+1), "expected a discovery request")
	f.transport.RespondToResourceRequest(next, notus.Response{Status: 200, Body: body})
	f.resourceResponses++
	return connected
}

// deliverWebSocket scripts the next websocket request with the
// fixture's websocket and waits for the gateway to start listening on
// it.
func (f *gatewayFixture) deliverWebSocket() {
	next := f.webSocketResponses
	require.True(f.t, f.transport.AwaitWebSocketRequests(next+1), "expected a websocket request")
	f.transport.RespondToWebSocketRequest(next, f.webSocket)
	f.webSocketResponses++
	require.True(f.t, f.webSocket.AwaitCallbacks(), "gateway never registered websocket callbacks")
}

// connect drives a full successful connect: discovery, websocket
// delivery, and hello. Fails the test if the connect does not resolve
// true.
func (f *gatewayFixture) connect() {
	f.connectToEndpoint("wss://gateway.discord.gg")
}

func (f *gatewayFixture) connectToEndpoint(endpoint string) {
	connected := f.connectWithEndpointResponse(fmt.Sprintf(`{"url":%q}`, endpoint))
	f.deliverWebSocket()
	f.sendHello()
	require.True(f.t, awaitConnect(f.t, connected), "connect did not succeed")
}

// reconnect drives a successful connect against the cached endpoint:
// no discovery, fresh websocket, hello.
func (f *gatewayFixture) reconnect() {
	f.webSocket = localtransport.NewWebSocket()
	connected := f.gateway.Connect(f.transport, testConfiguration)
	f.deliverWebSocket()
	f.sendHello()
	require.True(f.t, awaitConnect(f.t, connected), "reconnect did not succeed")
}

func (f *gatewayFixture) sendHello() {
	f.webSocket.RemoteText(fmt.Sprintf(
		`{"op":10,"d":{"heartbeat_interval":%d}}`, heartbeatIntervalMilliseconds))
}

func (f *gatewayFixture) sendHeartbeatAck() {
	f.webSocket.RemoteText(`{"op":11}`)
}

func awaitConnect(t *testing.T, connected <-chan bool) bool {
	t.Helper()
	select {
	case result := <-connected:
		return result
	case <-time.After(time.Second):
		t.Fatal("connect did not resolve")
		return false
	}
}

func awaitClosed(t *testing.T, ch chan struct{}) bool {
	t.Helper()
	select {
	case <-ch:
		return true
	case <-time.After(time.Second):
		return false
	}
}
