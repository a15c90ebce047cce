package notus

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/telemetrytv/trace"
)

var dispatchDebug = trace.Bind("notus:gateway:dispatch")

// handleText parses an inbound text frame and routes it by opcode.
// Frames from a websocket belonging to an earlier connection are
// dropped.
func (g *Gateway) handleText(generation uint64, message string) {
	g.mu.Lock()
	stale := generation != g.generation || g.webSocket == nil
	g.mu.Unlock()
	if stale {
		dispatchDebug.Trace("Dropping frame from stale connection")
		return
	}

	var frame map[string]jsoniter.RawMessage
	if err := frameJSON.UnmarshalFromString(message, &frame); err != nil || frame == nil {
		g.diagnose(DiagnosticLevelError, "Invalid text received: "+message)
		return
	}

	g.diagnose(DiagnosticLevelTrace, message)

	var op int
	rawOp, hasOp := frame["op"]
	if !hasOp || frameJSON.Unmarshal(rawOp, &op) != nil {
		g.diagnose(DiagnosticLevelError, "Invalid text received: "+message)
		return
	}

	if rawSequence, ok := frame["s"]; ok {
		var sequence int64
		if frameJSON.Unmarshal(rawSequence, &sequence) == nil {
			g.mu.Lock()
			g.lastSequenceNumber = sequence
			g.receivedSequenceNumber = true
			g.mu.Unlock()
		}
	}

	switch op {
	case opHeartbeat:
		dispatchDebug.Trace("Server requested a heartbeat")
		g.sendHeartbeat()
	case opHello:
		g.handleHello(frame["d"])
	case opHeartbeatAck:
		g.handleHeartbeatAck()
	default:
		g.diagnose(DiagnosticLevelWarn, fmt.Sprintf("Received message with unknown opcode %d", op))
	}
}

// handleBinary accepts binary frames. Nothing at this layer consumes
// them.
func (g *Gateway) handleBinary(generation uint64, message string) {
	dispatchDebug.Tracef("Ignoring binary frame of %d bytes", len(message))
}
