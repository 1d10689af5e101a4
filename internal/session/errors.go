package session

// generationFailureError wraps a failure raised by the model's generation
// capability during a turn. History is never mutated by a failed turn, so
// the session stays usable afterwards.
type generationFailureError struct{ cause error }

func (e generationFailureError) Error() string { return "generation failed: " + e.cause.Error() }

func (e generationFailureError) Unwrap() error { return e.cause }

// ErrGenerationFailure wraps cause as a turn-level generation failure.
func ErrGenerationFailure(cause error) error { return generationFailureError{cause: cause} }

// IsGenerationFailure reports whether err is a turn-level generation failure.
func IsGenerationFailure(err error) bool {
	_, ok := err.(generationFailureError)
	return ok
}
