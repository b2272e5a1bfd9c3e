// Package errs defines the failure taxonomy shared by the offline layer.
//
// Every failure is one of three kinds. Callers wrap the underlying cause with
// the matching helper so both the kind and the cause survive errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks a fetch that was rejected or timed out.
	ErrNetwork = errors.New("network failure")
	// ErrStore marks a persistent store that could not be opened, read or written.
	ErrStore = errors.New("store failure")
	// ErrParse marks a body that was expected to be JSON but was not.
	ErrParse = errors.New("parse failure")
)

// Network wraps err as a network failure of op.
func Network(op string, err error) error {
	return wrap(ErrNetwork, op, err)
}

// Store wraps err as a store failure of op.
func Store(op string, err error) error {
	return wrap(ErrStore, op, err)
}

// Parse wraps err as a parse failure of op.
func Parse(op string, err error) error {
	return wrap(ErrParse, op, err)
}

// Kind returns the taxonomy label of err, or "unknown".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "unknown"
	}
}

func wrap(kind error, op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
