package events

// DiagnosticEvent reports a decoding inconsistency.
type DiagnosticEvent struct {
	RunID    string
	Resource string
	Step     int
	Message  string
}
