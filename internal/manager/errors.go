package manager

// notInitializedError signals that a required resource (backend, model,
// adapter, dataset, optimizer) is missing for the requested operation.
type notInitializedError struct{ msg string }

func (e notInitializedError) Error() string { return e.msg }

// ErrNotInitialized constructs a notInitializedError.
func ErrNotInitialized(msg string) error { return notInitializedError{msg: msg} }

// IsNotInitialized reports whether err indicates a missing prerequisite
// resource (map to 409 Conflict).
func IsNotInitialized(err error) bool {
	_, ok := err.(notInitializedError)
	return ok
}

// invalidInputError signals a caller input the engine would reject (empty
// prompt, oversized prompt, too-short training text).
type invalidInputError struct{ msg string }

func (e invalidInputError) Error() string { return e.msg }

// ErrInvalidInput constructs an invalidInputError.
func ErrInvalidInput(msg string) error { return invalidInputError{msg: msg} }

// IsInvalidInput reports whether err indicates bad caller input (return 400).
func IsInvalidInput(err error) bool {
	_, ok := err.(invalidInputError)
	return ok
}

// nativeFailureError wraps a non-zero/nil result from a native engine
// primitive (load, decode, train, save).
type nativeFailureError struct {
	op  string
	err error
}

func (e nativeFailureError) Error() string { return e.op + ": " + e.err.Error() }
func (e nativeFailureError) Unwrap() error { return e.err }

// ErrNativeFailure constructs a nativeFailureError.
func ErrNativeFailure(op string, err error) error { return nativeFailureError{op: op, err: err} }

// IsNativeFailure reports whether err came from the native engine (return 502).
func IsNativeFailure(err error) bool {
	_, ok := err.(nativeFailureError)
	return ok
}
