package model

import (
	"errors"
)

// Fatal registry conditions. Any of these aborts the run before a single
// job is scheduled.
var (
	ErrRegistryNotFound = errors.New("registry file not found")
	ErrUntrustedOwner   = errors.New("registry file not owned by trusted account")
	ErrTooManyEntries   = errors.New("registry exceeds active entry ceiling")
)

// ErrInterrupted is returned by the dispatcher when a termination signal
// arrived mid-batch. The command maps it to exit code 130.
var ErrInterrupted = errors.New("run interrupted")
