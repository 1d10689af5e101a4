//go:build !llama

package engine

import "context"

// This stub compiles when the 'llama' build tag is not set, keeping default
// builds and CI CGO-free. The real completer lives in local_llama.go.

var localLlamaBuilt = false

// LocalCompleter refuses to run without the 'llama' build tag.
type LocalCompleter struct{}

func NewLocalCompleter(modelPath string, ctxSize, threads int) (*LocalCompleter, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}

func (c *LocalCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return "", ErrUnavailable("llama support not built (missing 'llama' build tag)")
}

func (c *LocalCompleter) Close() error { return nil }
