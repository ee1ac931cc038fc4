package injector

import "github.com/PeppeRu96/freertos-fault-injector/internal/constants"

// Re-exported for callers outside this module, which cannot import the
// internal tree.
const (
	DeadlockTimeFactor = constants.DeadlockTimeFactor
	MaxSnapshotSize    = constants.MaxSnapshotSize
	CatalogFilePrefix  = constants.CatalogFilePrefix
	OutputFilePrefix   = constants.OutputFilePrefix
	CatalogDir         = constants.CatalogDir
	OutputDir          = constants.OutputDir
	LogDir             = constants.LogDir
)

const (
	HandshakeTimeout = constants.HandshakeTimeout
	PollInterval     = constants.PollInterval
	GoldenRunTimeout = constants.GoldenRunTimeout
)
