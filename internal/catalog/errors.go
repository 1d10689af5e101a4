package catalog

// invalidModelKeyError signals a requested model size missing from the catalog.
type invalidModelKeyError struct{ key string }

func (e invalidModelKeyError) Error() string { return "invalid model key: " + e.key }

// ErrInvalidModelKey constructs an invalidModelKeyError for the given key.
func ErrInvalidModelKey(key string) error { return invalidModelKeyError{key: key} }

// IsInvalidModelKey reports whether err indicates an unrecognized model size.
func IsInvalidModelKey(err error) bool {
	_, ok := err.(invalidModelKeyError)
	return ok
}
