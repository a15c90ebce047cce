package nettransport

import (
	"context"
	"sync"

	"github.com/RobertWHurst/notus"
	"github.com/coder/websocket"
)

// netWebSocket adapts a coder/websocket connection to the
// notus.WebSocket interface. A single read pump goroutine fans inbound
// frames out to the registered callbacks; the close callback fires
// once, when the pump observes the connection ending for any reason.
//
// Frames read before a callback is registered are held back and
// replayed at registration, so a server greeting racing the handshake
// setup is not lost.
type netWebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	callbackMu    sync.Mutex
	onText        func(message string)
	onBinary      func(message string)
	onClose       func()
	pendingText   []string
	pendingBinary []string
	pendingClose  bool
	closeFired    bool
}

var _ notus.WebSocket = &netWebSocket{}

func newNetWebSocket(conn *websocket.Conn) *netWebSocket {
	return &netWebSocket{conn: conn}
}

func (w *netWebSocket) start() {
	go w.readPump()
}

func (w *netWebSocket) readPump() {
	for {
		messageType, data, err := w.conn.Read(context.Background())
		if err != nil {
			transportNetDebug.Tracef("WebSocket read ended: %v", err)
			w.fireClose()
			return
		}

		switch messageType {
		case websocket.MessageText:
			w.callbackMu.Lock()
			onText := w.onText
			if onText == nil {
				w.pendingText = append(w.pendingText, string(data))
			}
			w.callbackMu.Unlock()
			if onText != nil {
				onText(string(data))
			}
		case websocket.MessageBinary:
			w.callbackMu.Lock()
			onBinary := w.onBinary
			if onBinary == nil {
				w.pendingBinary = append(w.pendingBinary, string(data))
			}
			w.callbackMu.Unlock()
			if onBinary != nil {
				onBinary(string(data))
			}
		}
	}
}

func (w *netWebSocket) fireClose() {
	w.callbackMu.Lock()
	if w.closeFired {
		w.callbackMu.Unlock()
		return
	}
	onClose := w.onClose
	if onClose == nil {
		w.pendingClose = true
	} else {
		w.closeFired = true
	}
	w.callbackMu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Text writes a text frame. Write errors surface as a closed
// connection through the read pump, so they are not reported here.
func (w *netWebSocket) Text(message string) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.Write(context.Background(), websocket.MessageText, []byte(message)); err != nil {
		transportNetDebug.Tracef("WebSocket text write failed: %v", err)
	}
}

// Binary writes a binary frame.
func (w *netWebSocket) Binary(message string) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.Write(context.Background(), websocket.MessageBinary, []byte(message)); err != nil {
		transportNetDebug.Tracef("WebSocket binary write failed: %v", err)
	}
}

// Close starts the close handshake with the given status code. The
// close callback fires when the read pump winds down.
func (w *netWebSocket) Close(code websocket.StatusCode) {
	if err := w.conn.Close(code, ""); err != nil {
		transportNetDebug.Tracef("WebSocket close failed: %v", err)
	}
}

func (w *netWebSocket) RegisterTextCallback(onText func(message string)) {
	w.callbackMu.Lock()
	w.onText = onText
	pending := w.pendingText
	w.pendingText = nil
	w.callbackMu.Unlock()

	for _, message := range pending {
		onText(message)
	}
}

func (w *netWebSocket) RegisterBinaryCallback(onBinary func(message string)) {
	w.callbackMu.Lock()
	w.onBinary = onBinary
	pending := w.pendingBinary
	w.pendingBinary = nil
	w.callbackMu.Unlock()

	for _, message := range pending {
		onBinary(message)
	}
}

func (w *netWebSocket) RegisterCloseCallback(onClose func()) {
	w.callbackMu.Lock()
	w.onClose = onClose
	fireNow := w.pendingClose && !w.closeFired
	if fireNow {
		w.pendingClose = false
		w.closeFired = true
	}
	w.callbackMu.Unlock()

	if fireNow {
		onClose()
	}
}
