package trainer

// unsupportedFamilyError signals a training configuration request for a
// family with no known instruction/response template. Always a hard stop,
// never a best-effort collator choice.
type unsupportedFamilyError struct{ family string }

func (e unsupportedFamilyError) Error() string { return "unsupported family: " + e.family }

// ErrUnsupportedFamily constructs an unsupportedFamilyError.
func ErrUnsupportedFamily(family string) error { return unsupportedFamilyError{family: family} }

// IsUnsupportedFamily reports whether err indicates a family without a training template.
func IsUnsupportedFamily(err error) bool {
	_, ok := err.(unsupportedFamilyError)
	return ok
}
