package ir

// Version constants for IR schema and runtime.
const (
	// IRVersion is the IR schema version written by the compiler.
	IRVersion = "1"

	// RuntimeVersion is the ability runtime version.
	RuntimeVersion = "0.1.0"
)
