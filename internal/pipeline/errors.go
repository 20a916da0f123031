package pipeline

import (
	"errors"
	"fmt"
)

// ErrDependencyFailed marks artifacts skipped because a prerequisite failed.
var ErrDependencyFailed = errors.New("skipped: dependency failed")

// BuildError reports a failed build along with the toolchain diagnostics.
type BuildError struct {
	Artifact    string
	Diagnostics string
}

func (e *BuildError) Error() string {
	if e.Diagnostics == "" {
		return "build failed"
	}
	return e.Diagnostics
}

// BatchError reports a failed remote-write phase. Every artifact still active
// in the batch carries it.
type BatchError struct {
	Phase Phase
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ContentIDMismatchError reports a published content id that differs from
// the locally computed one.
type ContentIDMismatchError struct {
	Artifact string
	Expected string
	Got      string
}

func (e *ContentIDMismatchError) Error() string {
	return fmt.Sprintf("content id mismatch for %s: expected %s, got %s", e.Artifact, e.Expected, e.Got)
}
