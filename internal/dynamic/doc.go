// Package dynamic owns collector-driven configuration discovery.
//
// Ownership boundary:
// - watcher registry keyed by configuration property
// - periodic configuration sync with cursor short-circuit
// - diff of incoming configuration sets against watcher state
package dynamic
