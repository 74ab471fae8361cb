package docker

import (
	"errors"
	"fmt"

	"github.com/docker/docker/client"
)

var (
	// ErrRuntime matches every failed engine operation.
	ErrRuntime = errors.New("docker: runtime operation failed")
	// ErrNotFound indicates the requested Docker resource was not found.
	ErrNotFound = errors.New("docker: resource not found")
	// ErrImageLookup indicates the engine could not tell whether an image is
	// present locally.
	ErrImageLookup = errors.New("docker: image lookup failed")
)

// OperationError describes a failed engine call.
type OperationError struct {
	Op     string
	Target string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("docker %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("docker %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Is reports ErrRuntime for every OperationError.
func (e *OperationError) Is(target error) bool { return target == ErrRuntime }

func opError(op, target string, err error) error {
	if client.IsErrNotFound(err) && !errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return &OperationError{Op: op, Target: target, Err: err}
}
