package notus

// DiagnosticCallback receives diagnostic messages from the gateway.
// Messages produced before a callback is registered are buffered and
// delivered, in order, at registration time.
type DiagnosticCallback func(level uint, message string)

// Diagnostic levels used by the gateway.
const (
	DiagnosticLevelTrace uint = 0
	DiagnosticLevelInfo  uint = 1
	DiagnosticLevelWarn  uint = 5
	DiagnosticLevelError uint = 10
)

type diagnosticRecord struct {
	level   uint
	message string
}

// diagnose reports a diagnostic message. Must never be called with the
// gateway state mutex held: the sink is invoked inline and may call
// gateway methods that take that mutex. The sink runs with the
// diagnostics mutex held, so a sink that calls a method which itself
// produces or delivers a diagnostic (Disconnect of a live connection,
// RegisterDiagnosticMessageCallback) blocks forever.
func (g *Gateway) diagnose(level uint, message string) {
	g.diagnosticsMu.Lock()
	defer g.diagnosticsMu.Unlock()

	if g.diagnosticSink == nil {
		g.diagnosticBuffer = append(g.diagnosticBuffer, diagnosticRecord{level, message})
		return
	}
	g.diagnosticSink(level, message)
}

// RegisterDiagnosticMessageCallback installs the diagnostic sink. Any
// messages buffered before registration are delivered first, in the
// order they were produced. Registering a new sink replaces the old one
// without re-delivering anything.
func (g *Gateway) RegisterDiagnosticMessageCallback(onDiagnosticMessage DiagnosticCallback) {
	g.diagnosticsMu.Lock()
	defer g.diagnosticsMu.Unlock()

	g.diagnosticSink = onDiagnosticMessage
	for _, record := range g.diagnosticBuffer {
		g.diagnosticSink(record.level, record.message)
	}
	g.diagnosticBuffer = nil
}
