package hub

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ id string }

func (e tooBusyError) Error() string { return "session busy: " + e.id }

func ErrTooBusy(id string) error { return tooBusyError{id: id} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// sessionNotFoundError signals a lookup for an unknown or deleted session id.
type sessionNotFoundError struct{ id string }

func (e sessionNotFoundError) Error() string { return "session not found: " + e.id }

func ErrSessionNotFound(id string) error { return sessionNotFoundError{id: id} }

// IsSessionNotFound reports whether the error indicates a missing session id.
func IsSessionNotFound(err error) bool {
	_, ok := err.(sessionNotFoundError)
	return ok
}
