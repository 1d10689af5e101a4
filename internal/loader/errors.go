package loader

// checkpointCorruptError signals a checkpoint directory whose sidecar
// metadata is unreadable or missing the required base model field. Loading
// never falls back to fresh training over a corrupt checkpoint.
type checkpointCorruptError struct {
	dir string
	msg string
}

func (e checkpointCorruptError) Error() string {
	return "checkpoint corrupt: " + e.dir + ": " + e.msg
}

// ErrCheckpointCorrupt constructs a checkpointCorruptError.
func ErrCheckpointCorrupt(dir, msg string) error {
	return checkpointCorruptError{dir: dir, msg: msg}
}

// IsCheckpointCorrupt reports whether err indicates unusable checkpoint metadata.
func IsCheckpointCorrupt(err error) bool {
	_, ok := err.(checkpointCorruptError)
	return ok
}
