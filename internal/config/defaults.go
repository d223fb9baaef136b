package config

// Reconstruction defaults.
const (
	DefaultReadBlockSize   = "64KiB"
	DefaultWorkers         = 0
	DefaultProgressEvery   = 1
	DefaultAllowIncomplete = true
)

// Convergence defaults.
const (
	DefaultThreshold = 1.05
	DefaultPattern   = "*.chain"
)

// Output defaults.
const (
	DefaultFormat = "text"
	DefaultColor  = true
	DefaultPlot   = ""
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Observability defaults.
const (
	DefaultOTLPEndpoint    = ""
	DefaultOTLPInsecure    = false
	DefaultEnvironment     = ""
	DefaultDiagnosticsAddr = ""
	DefaultSampleRatio     = 0.0
	DefaultTraceVerbose    = false
)
