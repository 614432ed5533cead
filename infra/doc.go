// Package infra holds the adapters around the planner: zerolog logging,
// Prometheus and InfluxDB sinks, the MQTT plan publisher and Sentry.
// Subpackages depend only on interfaces declared under core.
package infra
