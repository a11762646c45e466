// Package commands owns collector-issued command intake and dispatch.
//
// Ownership boundary:
// - bounded pending-command queue with non-blocking intake
// - serial-number dedup cache (at-most-once dispatch window)
// - single dispatch worker and per-kind executor registry
package commands
