package romlib

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownExtension is returned when no platform registers the
	// extension of a file, it is not a game file
	ErrUnknownExtension = errors.New("unknown extension")
	// ErrInvalidRecord is returned when a GameRecord is missing its
	// identity
	ErrInvalidRecord = errors.New("invalid game record")
	// ErrUnknownHeaderRule is returned when aliasing a header rule that
	// was never registered
	ErrUnknownHeaderRule = errors.New("unknown header rule")
)

// IOError is returned when a file cannot be opened or read in full
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// AmbiguousSystemError is returned when a file could belong to more than one
// platform and neither its header nor its checksum settles which
type AmbiguousSystemError struct {
	Path       string
	Candidates []string
}

func (e *AmbiguousSystemError) Error() string {
	return fmt.Sprintf("%s: ambiguous system, candidates %s", e.Path, strings.Join(e.Candidates, ", "))
}

// MalformedCueError is returned when a cue sheet cannot be parsed or
// references track files that are missing
type MalformedCueError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedCueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed cue sheet %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed cue sheet %s: %s", e.Path, e.Reason)
}

func (e *MalformedCueError) Unwrap() error { return e.Err }

// ReferenceStoreError is returned when a query against the reference store
// fails
type ReferenceStoreError struct {
	Op  string
	Err error
}

func (e *ReferenceStoreError) Error() string {
	return fmt.Sprintf("reference store %s: %v", e.Op, e.Err)
}

func (e *ReferenceStoreError) Unwrap() error { return e.Err }
