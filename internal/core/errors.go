// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

// Error is our own defined error type so that the publisher's protocol can
// hand back a single tagged failure kind instead of a chain of wrapped Go
// errors.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	//------ Config / artifact errors ------//

	// ErrInvalidConfig is returned when a Config fails its own validity check.
	ErrInvalidConfig

	// ErrMissingRequired is returned when a REQUIRED artifact is absent.
	ErrMissingRequired

	//------ Archive level errors ------//

	// ErrCorruptArchive is returned on fingerprint mismatch or inconsistent
	// archive metadata (e.g. a truncated entry, or a checksum trailer that
	// doesn't match the entry bytes).
	ErrCorruptArchive

	// ErrIoError is returned on a filesystem/OS I/O fault while reading an
	// archive or artifact.
	ErrIoError

	// ErrDuplicateBlock is returned by SetBlock in strict mode when a block
	// name is set a second time.
	ErrDuplicateBlock

	// ErrChecksumMismatch is returned when the connectivity checksum embedded
	// in a graph artifact (hsgr/mldgr) disagrees with the one read from the
	// edges artifact.
	ErrChecksumMismatch

	//------ Shared memory / register errors ------//

	// ErrKeysExhausted is returned when the region register has no free key
	// left to reserve.
	ErrKeysExhausted

	// ErrSharedMemoryError is returned on shared memory allocation, attach,
	// or remove failure.
	ErrSharedMemoryError

	// ErrNotFound is returned when a lookup (register entry, shared segment,
	// archive entry) doesn't resolve.
	ErrNotFound

	// ErrAlreadyExists is returned when creating a resource that is already
	// live, and the caller hasn't asked for it to be removed first.
	ErrAlreadyExists

	//------ Publish protocol errors ------//

	// ErrPublishTimedOut is returned when the monitor lock could not be
	// acquired within max_wait.
	ErrPublishTimedOut

	// ErrInvalidArgument is returned if an argument is bad or confusing (e.g.
	// a layout operation after Serialize has frozen it, or a name that is
	// empty or too long).
	ErrInvalidArgument

	//------ Meta-error ------//

	// ErrUnknown is an error that we're not really sure about.
	ErrUnknown
)

var description = map[Error]string{
	NoError: "no error",

	ErrInvalidConfig:   "configuration failed its validity check",
	ErrMissingRequired: "a required artifact is missing",

	ErrCorruptArchive: "archive fingerprint or checksum mismatch",
	ErrIoError:        "I/O level error",
	ErrDuplicateBlock: "block name already set in strict-mode layout",
	ErrChecksumMismatch: "connectivity checksum disagreement between " +
		"edges and graph artifacts",

	ErrKeysExhausted:    "shared region register has no free key",
	ErrSharedMemoryError: "shared memory allocation, attach, or remove failed",
	ErrNotFound:         "not found",
	ErrAlreadyExists:    "resource already exists",

	ErrPublishTimedOut: "could not acquire the monitor lock within max_wait",
	ErrInvalidArgument: "invalid argument",

	ErrUnknown: "unknown error!!!! contact a programming professional to diagnose",
}

// String returns a human readable error message.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object with an error message corresponding to
// this core.Error.
func (e Error) Error() error {
	if e == NoError {
		return nil
	}
	return goError(e)
}

// Is checks whether the generic Go error 'g' is actually the receiver
// datastore error underneath.
func (e Error) Is(g error) bool {
	b, ok := g.(goError)
	return ok && (Error)(b) == e
}

// goError is a wrapper type to make our Error act like Go's 'error'.
type goError Error

// Error implements the 'error' interface.
func (g goError) Error() string {
	return (Error)(g).String()
}

// FromError gets the underlying core.Error from an error, if there is one.
func FromError(err error) (Error, bool) {
	e, ok := err.(goError)
	return Error(e), ok
}

// ExitCode maps an Error to a process exit code for the CLI front-end: 0 for
// NoError, a stable non-zero code per error kind otherwise.
func (e Error) ExitCode() int {
	if e == NoError {
		return 0
	}
	return int(e)
}
