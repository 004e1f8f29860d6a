package v7fs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseDriverError string

const rootError = baseDriverError("")

// The core taxonomy. Every user-facing operation fails with one of these (or
// an error wrapping one of these), so callers can use [errors.Is] to decide
// what to show.
var ErrDiskFull = rootError.WithMessage("No space left on device")
var ErrAlreadyLocked = rootError.WithMessage("Device or resource busy")
var ErrNotFound = rootError.WithMessage("No such file or directory")
var ErrAlreadyExists = rootError.WithMessage("File exists")
var ErrNotEmpty = rootError.WithMessage("Directory not empty")
var ErrOutOfRange = rootError.WithMessage("Numerical result out of range")
var ErrAddressMismatch = rootError.WithMessage("Inode address table mismatch")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrFileTooLarge = rootError.WithMessage("File too large")

var ErrArgumentOutOfRange = rootError.WithMessage("Numerical argument out of domain")
var ErrFileSystemCorrupted = rootError.WithMessage("Structure needs cleaning")
var ErrInvalidFileDescriptor = rootError.WithMessage("Bad file descriptor")
var ErrIOFailed = rootError.WithMessage("Input/output error")

func (e baseDriverError) Error() string {
	return string(e)
}

func (e baseDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

// AppendCleanupError attaches an error raised while undoing a failed operation
// to the error that made the operation fail. If `cleanupErr` is nil, `err` is
// returned unchanged.
func AppendCleanupError(err, cleanupErr error) error {
	if cleanupErr == nil {
		return err
	}
	if err == nil {
		return cleanupErr
	}
	return multierror.Append(err, cleanupErr)
}
