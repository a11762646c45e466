// Package remote owns the control channel to the collector fleet.
//
// Ownership boundary:
// - managed channel build (transport security + header decorators)
// - endpoint selection, DNS refresh, reconnect state machine
// - channel status fan-out to registered listeners
// - network-error classification for reported call failures
package remote
