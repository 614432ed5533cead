// Package events defines the planning events emitted on the event bus.
//
// Available event types:
//   - SolveEvent: one model built and solved for a horizon
//   - ProbeEvent: one horizon evaluated by the feasibility search
//   - DiagnosticEvent: a decoded value pattern the model should have excluded
//   - PlanEvent: the KPIs of the plan selected for reporting
package events
