//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// localLlamaBuilt indicates this binary was compiled with in-process llama support.
var localLlamaBuilt = true

// LocalCompleter runs plain text completions against a local gguf file via
// go-llama.cpp. It is a smoke-check tool for the `complete` command only; the
// adapter/training path always goes through a Backend.
type LocalCompleter struct {
	model   *llama.LLama
	threads int
}

// NewLocalCompleter loads a gguf model for local completion.
func NewLocalCompleter(modelPath string, ctxSize, threads int) (*LocalCompleter, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	m, err := llama.New(modelPath, llama.SetContext(ctxSize))
	if err != nil {
		return nil, err
	}
	if threads < 1 {
		threads = 1
	}
	return &LocalCompleter{model: m, threads: threads}, nil
}

// Complete generates a bounded completion for prompt.
func (c *LocalCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.model == nil {
		return "", errors.New("llama model not initialized")
	}
	c.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	})
	if maxTokens < 1 {
		maxTokens = 1
	}
	text, err := c.model.Predict(prompt,
		llama.SetTokens(maxTokens),
		llama.SetThreads(c.threads),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

// Close frees the underlying model.
func (c *LocalCompleter) Close() error {
	if c.model != nil {
		c.model.Free()
		c.model = nil
	}
	return nil
}
