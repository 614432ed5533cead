package events

// ProbeEvent is emitted by the horizon search for every evaluated horizon.
// Phase is "lower_bound", "doubling" or "bisect".
type ProbeEvent struct {
	Horizon  int
	Phase    string
	Feasible bool
	Cached   bool
}
