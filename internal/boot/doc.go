// Package boot owns the lifecycle of the agent's long-lived services.
//
// Ownership boundary:
// - service discovery records and default/override/sole resolution
// - prepare/start/on-complete/shutdown phase ordering
// - cross-service lookup by kind
package boot
