// Package metrics defines the records and sink interfaces used to observe
// planning runs. Sinks like PromSink and InfluxSink record solves, probes and
// plan KPIs and can be combined with NewMultiSink. The factory helpers return a
// MultiSink automatically when multiple sinks are configured.
package metrics
