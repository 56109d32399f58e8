package picolog

import "errors"

var (
	// ErrAlreadyStarted is returned by Start if the logger has already
	// been started.
	ErrAlreadyStarted = errors.New("picolog: logger already started")

	// ErrNotStarted is returned by an operation that requires Start to
	// have completed successfully first.
	ErrNotStarted = errors.New("picolog: logger not started")

	// ErrLoggerFailed is observed by Failed and Stop once the consumer
	// thread has entered its terminal failed state after a fatal write
	// error. It never clears; a failed logger must be discarded and a
	// fresh one constructed. Log has no error return (it reports
	// backpressure and failure alike as (0, false), matching the
	// logger's Option[seq] contract), so a failed logger is only
	// observable there by Log always returning false, never by this
	// sentinel directly.
	ErrLoggerFailed = errors.New("picolog: logger has failed and will accept no further operations")

	// ErrWriteMode is returned by Read when the logger was built with
	// WithWriteConfig.
	ErrWriteMode = errors.New("picolog: logger is configured for write mode")

	// errOpenUnsupported wraps a write-mode Start failure caused by the
	// target filesystem rejecting O_DIRECT (tmpfs, some overlay mounts).
	// It is unexported: callers distinguish an unsupported filesystem
	// from every other open failure only in tests, where it drives a
	// t.Skip rather than a hard requirement on the test environment.
	errOpenUnsupported = errors.New("picolog: filesystem does not support O_DIRECT")
)
