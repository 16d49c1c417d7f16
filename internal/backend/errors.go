package backend

// dependencyUnavailableError signals a missing runtime dependency (llama.cpp
// not built in, llama-server binary missing) so callers can tell it apart
// from bad input.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}

// loadError wraps a failure while loading the model or adapter.
type loadError struct {
	kind Kind
	err  error
}

func (e *loadError) Error() string { return "load " + string(e.kind) + " backend: " + e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

func wrapLoad(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &loadError{kind: kind, err: err}
}
