// Package errors defines the fatal error taxonomy surfaced by the engine's
// public operations, plus the internal stale-surface sentinel handled by the
// frame loop.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// SceneIntegrityError reports a malformed scene description: a dangling
// mesh/material/texture reference or a cycle in the node graph. Fatal to the
// load that produced it, not to the engine instance.
type SceneIntegrityError struct {
	// Detail describes what was malformed and where.
	Detail string
}

func (e *SceneIntegrityError) Error() string {
	return fmt.Sprintf("scene integrity violation: %s", e.Detail)
}

// NewSceneIntegrity creates a SceneIntegrityError with a stack trace attached.
//
// Parameters:
//   - format: printf-style detail format
//   - args: format arguments
//
// Returns:
//   - error: the wrapped SceneIntegrityError
func NewSceneIntegrity(format string, args ...any) error {
	return errors.WithStack(&SceneIntegrityError{Detail: fmt.Sprintf(format, args...)})
}

// ResourceExhaustedError reports a device memory or handle allocation
// failure. Fatal: the load that triggered it is aborted.
type ResourceExhaustedError struct {
	// Resource names what failed to allocate (buffer, image, descriptor pool ...).
	Resource string
	// Size is the requested allocation size in bytes, when applicable.
	Size uint64
	// Cause is the underlying API result, when available.
	Cause error
}

func (e *ResourceExhaustedError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("resource exhausted allocating %s (%d bytes): %v", e.Resource, e.Size, e.Cause)
	}
	return fmt.Sprintf("resource exhausted allocating %s: %v", e.Resource, e.Cause)
}

func (e *ResourceExhaustedError) Unwrap() error {
	return e.Cause
}

// NewResourceExhausted creates a ResourceExhaustedError with a stack trace attached.
//
// Parameters:
//   - resource: what failed to allocate
//   - size: requested size in bytes (0 when not applicable)
//   - cause: underlying error
//
// Returns:
//   - error: the wrapped ResourceExhaustedError
func NewResourceExhausted(resource string, size uint64, cause error) error {
	return errors.WithStack(&ResourceExhaustedError{Resource: resource, Size: size, Cause: cause})
}

// PipelineCreationError reports a missing or incompatible shader stage
// binary, or a failed pipeline build, for a material signature. Fatal at the
// first use of that signature.
type PipelineCreationError struct {
	// Signature is the string form of the pipeline signature being built.
	Signature string
	// Cause is the underlying failure.
	Cause error
}

func (e *PipelineCreationError) Error() string {
	return fmt.Sprintf("pipeline creation failed for signature %s: %v", e.Signature, e.Cause)
}

func (e *PipelineCreationError) Unwrap() error {
	return e.Cause
}

// NewPipelineCreation creates a PipelineCreationError with a stack trace attached.
//
// Parameters:
//   - signature: string form of the offending signature
//   - cause: underlying error
//
// Returns:
//   - error: the wrapped PipelineCreationError
func NewPipelineCreation(signature string, cause error) error {
	return errors.WithStack(&PipelineCreationError{Signature: signature, Cause: cause})
}

// DeviceLostError reports that the underlying device failed. Fatal to the
// running session: requires full teardown and re-initialization.
type DeviceLostError struct {
	// Op names the operation during which the device was lost.
	Op string
}

func (e *DeviceLostError) Error() string {
	return fmt.Sprintf("device lost during %s", e.Op)
}

// NewDeviceLost creates a DeviceLostError with a stack trace attached.
//
// Parameters:
//   - op: the operation during which the loss was observed
//
// Returns:
//   - error: the wrapped DeviceLostError
func NewDeviceLost(op string) error {
	return errors.WithStack(&DeviceLostError{Op: op})
}

// ErrSurfaceStale signals that the presentable surface is out of date and
// must be recreated. Handled inside the frame loop's recreation path and
// never returned from a public operation.
var ErrSurfaceStale = errors.New("surface out of date")

// Wrap annotates err with a message, preserving the taxonomy type for
// errors.As checks.
//
// Parameters:
//   - err: the error to annotate (nil returns nil)
//   - msg: annotation message
//
// Returns:
//   - error: the annotated error
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target's type.
func As(err error, target any) bool {
	return errors.As(err, target)
}
