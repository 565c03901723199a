package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no configuration exists for a handle.
	ErrNotFound = errors.New("configuration not found")
	// ErrNoSession is returned when a message is sent without a connected session.
	ErrNoSession = errors.New("no active tunnel session")
)

// PersistError reports a failed configuration create/load/save.
type PersistError struct {
	Op     string // "find", "create", "load", "save", "open"
	Handle Handle
	Err    error
}

func (e *PersistError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("persist %s %s: %v", e.Op, e.Handle, e.Err)
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// TransportError reports a failed exchange with the tunnel session.
type TransportError struct {
	Op  string // "start", "stop", "send", "status", "watch"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
