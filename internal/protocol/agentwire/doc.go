// Package agentwire owns the control-channel wire contract.
//
// Ownership boundary:
// - sync request / command batch shapes
// - JSON codec registration for the gRPC channel
// - ConfigurationDiscoveryService client stub and server descriptor
// - typed command decoding (reserved arg keys)
package agentwire
