package execution

import (
	"errors"
)

// Sentinel errors.
var (
	ErrEmptyCommand = errors.New("empty command")
	ErrNoImage      = errors.New("container runtime requires an image")
	ErrTimeout      = errors.New("command timed out")
	ErrUnknownKind  = errors.New("unknown runtime kind")
)
