// Package constants holds shared timing and sizing constants for the
// fault-injection harness.
package constants

import "time"

// Campaign and handshake defaults.
const (
	// DeadlockTimeFactor is the multiple of the golden run's duration a
	// trial is allowed to run before the controller assumes it deadlocked
	// and terminates it. See spec §4.7/§8.
	DeadlockTimeFactor = 2

	// MaxSnapshotSize bounds the per-trial scratch buffer used to hold a
	// data structure's fixed header, per spec §3.1. The type registry's
	// MaxFixedSize reports the real maximum across all known types, and
	// its tests check that it stays under this ceiling.
	MaxSnapshotSize = 500

	// CatalogFilePrefix and OutputFilePrefix name the well-known files a
	// child writes during its lifetime (spec §4.3/§6.1/§6.3).
	CatalogFilePrefix = "mem_log_struct_"
	OutputFilePrefix  = "output_"

	// CatalogDir and OutputDir are the directories those files live under.
	CatalogDir = "tmp"
	OutputDir  = "output"

	// LogDir holds per-sibling log fragments in parallel mode (spec §6.4).
	LogDir = "logs"
)

// Handshake timing.
const (
	// HandshakeTimeout bounds how long the controller waits for the
	// child's "catalog ready" signal before declaring a fatal spawn
	// failure (the child never reaches its own startup code).
	HandshakeTimeout = 10 * time.Second

	// PollInterval is used when a component must poll for a file or
	// process-state change rather than block on a blocking primitive.
	PollInterval = 5 * time.Millisecond

	// GoldenRunTimeout bounds the golden (uninjected) run, which has no
	// DeadlockTimeFactor-relative deadline of its own since it is the
	// thing that deadline is computed from.
	GoldenRunTimeout = 5 * time.Minute
)
