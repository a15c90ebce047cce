package notus

import (
	"fmt"

	"github.com/telemetrytv/trace"
)

var heartbeatDebug = trace.Bind("notus:gateway:heartbeat")

// handleHello stores the heartbeat interval from the server's hello
// frame and releases the connect driver, which sends identify followed
// by the first heartbeat. Hellos after the first on a connection are
// dropped.
func (g *Gateway) handleHello(payload []byte) {
	var hello helloPayload
	if err := frameJSON.Unmarshal(payload, &hello); err != nil {
		heartbeatDebug.Tracef("Unusable hello payload: %v", err)
		return
	}

	g.mu.Lock()
	if g.helloReceived {
		g.mu.Unlock()
		heartbeatDebug.Trace("Dropping duplicate hello")
		return
	}
	g.helloReceived = true
	g.heartbeatInterval = float64(hello.HeartbeatInterval) / 1000.0
	interval := g.heartbeatInterval
	helloSignal := g.helloSignal
	g.mu.Unlock()

	g.diagnose(DiagnosticLevelInfo, fmt.Sprintf("Heartbeat interval: %v seconds", interval))
	if helloSignal != nil {
		close(helloSignal)
	}
}

// handleHeartbeatAck clears the outstanding-heartbeat flag.
func (g *Gateway) handleHeartbeatAck() {
	g.mu.Lock()
	g.heartbeatAckPending = false
	g.mu.Unlock()

	g.diagnose(DiagnosticLevelTrace, "Heartbeat acknowledged")
}

// sendHeartbeat sends a heartbeat now and schedules the next one. The
// previously scheduled heartbeat, if any, is canceled first, so a
// server-requested heartbeat takes the place of the pending one rather
// than stacking onto it: the next is due one interval after the old
// deadline.
func (g *Gateway) sendHeartbeat() {
	g.mu.Lock()
	ws := g.webSocket
	if ws == nil || g.closed || g.scheduler == nil {
		g.mu.Unlock()
		return
	}

	if g.heartbeatToken != 0 {
		g.scheduler.Cancel(g.heartbeatToken)
		g.heartbeatToken = 0
	}

	var sequence *int64
	if g.receivedSequenceNumber {
		lastSequence := g.lastSequenceNumber
		sequence = &lastSequence
	}
	g.heartbeatAckPending = true

	// The interval is zero until hello arrives. A heartbeat sent in
	// answer to an early server request goes out unscheduled.
	if g.heartbeatInterval > 0 {
		now := g.scheduler.Clock().Now()
		if g.nextHeartbeatTime == 0 {
			g.nextHeartbeatTime = now
		}
		g.nextHeartbeatTime += g.heartbeatInterval
		if g.nextHeartbeatTime <= now {
			// Rebase after a long stall instead of firing a burst.
			g.nextHeartbeatTime = now + g.heartbeatInterval
		}
		g.heartbeatToken = g.scheduler.Schedule(g.onHeartbeatDue, g.nextHeartbeatTime)
		heartbeatDebug.Tracef("Heartbeat sent, next due at %f", g.nextHeartbeatTime)
	}
	g.mu.Unlock()

	message, err := encodeHeartbeat(sequence)
	if err != nil {
		return
	}
	g.send(ws, message)
}

// onHeartbeatDue fires on the scheduler goroutine when the next
// heartbeat is due. If the previous heartbeat was never acknowledged
// the connection is presumed dead and closed with a liveness failure
// code; otherwise the next heartbeat goes out.
func (g *Gateway) onHeartbeatDue() {
	g.mu.Lock()
	g.heartbeatToken = 0
	ws := g.webSocket
	if ws == nil || g.closed {
		g.mu.Unlock()
		return
	}
	missedAck := g.heartbeatAckPending
	generation := g.generation
	g.mu.Unlock()

	if missedAck {
		heartbeatDebug.Trace("Heartbeat was not acknowledged, closing connection")
		ws.Close(livenessFailureCode)
		g.handleClose(generation)
		return
	}

	g.sendHeartbeat()
}
