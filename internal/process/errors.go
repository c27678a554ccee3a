package process

import "errors"

// Startup errors. None of them is retried.
var (
	// ErrBinaryNotFound means the service executable is missing from disk.
	ErrBinaryNotFound = errors.New("service binary not found")
	// ErrPortNotAllocated means Spawn was called before a port was chosen.
	ErrPortNotAllocated = errors.New("service port not allocated")
	// ErrSpawnFailure means the OS refused to create the process.
	ErrSpawnFailure = errors.New("failed to spawn service")
)
