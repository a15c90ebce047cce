package localtransport

import (
	"sync"
	"time"

	"github.com/RobertWHurst/notus"
	"github.com/coder/websocket"
)

// LocalWebSocket is a scripted websocket for tests. Outbound frames
// are recorded; inbound frames and closes are injected with RemoteText
// and RemoteClose. Close invokes the registered close callback the way
// a transport reporting a completed close handshake would.
type LocalWebSocket struct {
	mu      sync.Mutex
	changed chan struct{}

	textSent  []string
	closed    bool
	closeCode websocket.StatusCode

	onText   func(message string)
	onBinary func(message string)
	onClose  func()
}

var _ notus.WebSocket = &LocalWebSocket{}

// NewWebSocket creates an open scripted websocket.
func NewWebSocket() *LocalWebSocket {
	return &LocalWebSocket{
		changed: make(chan struct{}),
	}
}

// Text records an outbound text frame.
func (w *LocalWebSocket) Text(message string) {
	w.mu.Lock()
	w.textSent = append(w.textSent, message)
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
}

// Binary drops outbound binary frames; nothing under test sends any.
func (w *LocalWebSocket) Binary(message string) {
}

// Close marks the websocket closed with the given code and reports the
// close through the registered callback.
func (w *LocalWebSocket) Close(code websocket.StatusCode) {
	w.mu.Lock()
	alreadyClosed := w.closed
	w.closed = true
	if !alreadyClosed {
		w.closeCode = code
	}
	onClose := w.onClose
	w.mu.Unlock()

	if !alreadyClosed && onClose != nil {
		onClose()
	}
}

// RegisterTextCallback installs the inbound text handler.
func (w *LocalWebSocket) RegisterTextCallback(onText func(message string)) {
	w.mu.Lock()
	w.onText = onText
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
}

// RegisterBinaryCallback installs the inbound binary handler.
func (w *LocalWebSocket) RegisterBinaryCallback(onBinary func(message string)) {
	w.mu.Lock()
	w.onBinary = onBinary
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
}

// RegisterCloseCallback installs the close handler.
func (w *LocalWebSocket) RegisterCloseCallback(onClose func()) {
	w.mu.Lock()
	w.onClose = onClose
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
}

// AwaitCallbacks blocks until text and close callbacks have been
// registered, or reports false after a short timeout. Tests use it to
// know the handshake is listening before injecting frames.
func (w *LocalWebSocket) AwaitCallbacks() bool {
	deadline := time.After(awaitTimeout)
	for {
		w.mu.Lock()
		if w.onText != nil && w.onClose != nil {
			w.mu.Unlock()
			return true
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

// RemoteText injects an inbound text frame.
func (w *LocalWebSocket) RemoteText(message string) {
	w.mu.Lock()
	onText := w.onText
	w.mu.Unlock()

	if onText != nil {
		onText(message)
	}
}

// RemoteBinary injects an inbound binary frame.
func (w *LocalWebSocket) RemoteBinary(message string) {
	w.mu.Lock()
	onBinary := w.onBinary
	w.mu.Unlock()

	if onBinary != nil {
		onBinary(message)
	}
}

// RemoteClose simulates the peer closing the connection.
func (w *LocalWebSocket) RemoteClose() {
	w.mu.Lock()
	w.closed = true
	onClose := w.onClose
	w.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// SentTexts returns a copy of all recorded outbound text frames.
func (w *LocalWebSocket) SentTexts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	texts := make([]string, len(w.textSent))
	copy(texts, w.textSent)
	return texts
}

// ClearSentTexts forgets the outbound frames recorded so far.
func (w *LocalWebSocket) ClearSentTexts() {
	w.mu.Lock()
	w.textSent = nil
	w.mu.Unlock()
}

// Closed reports whether the websocket has been closed from either
// side.
func (w *LocalWebSocket) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// CloseCode returns the status code of a local close, or zero.
func (w *LocalWebSocket) CloseCode() websocket.StatusCode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCode
}

// AwaitTexts blocks until at least n outbound text frames have been
// recorded, or reports false after a short timeout.
func (w *LocalWebSocket) AwaitTexts(n int) bool {
	deadline := time.After(2 * awaitTimeout)
	for {
		w.mu.Lock()
		if len(w.textSent) >= n {
			w.mu.Unlock()
			return true
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}
