package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"glayoutd/pkg/types"
)

// workerBackend implements Backend by talking to a numerical worker process
// over HTTP. The worker owns the transformers/adapter runtime; this side only
// moves token ids and job specs across the wire.
type workerBackend struct {
	baseURL        string
	reqTimeout     time.Duration
	connectTimeout time.Duration
	httpClient     *http.Client
}

// NewWorkerBackend constructs a worker-backed engine. reqTimeout applies to
// load/tokenize/generate calls; Fit runs without a deadline because training
// is long-running by contract (cancel via context at epoch boundaries).
func NewWorkerBackend(baseURL string, reqTimeout, connectTimeout time.Duration) Backend {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0 on the client: every request carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &workerBackend{
		baseURL:        strings.TrimRight(baseURL, "/"),
		reqTimeout:     reqTimeout,
		connectTimeout: connectTimeout,
		httpClient:     cli,
	}
}

// postJSON issues one JSON round trip to the worker. accessToken, when set,
// travels in the Authorization header and is never logged.
func (b *workerBackend) postJSON(ctx context.Context, path, accessToken string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrUnavailable("worker unreachable: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("worker http error: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// withTimeout applies the backend's request timeout when configured.
func (b *workerBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.reqTimeout > 0 {
		return context.WithTimeout(ctx, b.reqTimeout)
	}
	return ctx, func() {}
}

type workerLoadRequest struct {
	BaseModelID    string   `json:"base_model_id"`
	AdapterTargets []string `json:"adapter_targets,omitempty"`
	CheckpointDir  string   `json:"checkpoint_dir,omitempty"`
	Device         string   `json:"device"`
	LoRARank       int      `json:"lora_rank,omitempty"`
	LoRAAlpha      int      `json:"lora_alpha,omitempty"`
	LoRADropout    float64  `json:"lora_dropout,omitempty"`
}

type workerLoadResponse struct {
	ModelHandle     string `json:"model_handle"`
	TokenizerHandle string `json:"tokenizer_handle"`
	PadTokenID      int    `json:"pad_token_id"`
}

func (b *workerBackend) LoadPretrained(ctx context.Context, spec PretrainedSpec) (Model, Tokenizer, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	var resp workerLoadResponse
	req := workerLoadRequest{
		BaseModelID:    spec.BaseModelID,
		AdapterTargets: spec.AdapterTargets,
		Device:         spec.Device,
		LoRARank:       spec.LoRARank,
		LoRAAlpha:      spec.LoRAAlpha,
		LoRADropout:    spec.LoRADropout,
	}
	if err := b.postJSON(ctx, "/v1/models/load", spec.AccessToken, req, &resp); err != nil {
		return nil, nil, err
	}
	return b.pairFromLoad(resp, spec.BaseModelID, spec.AccessToken)
}

func (b *workerBackend) LoadAdapter(ctx context.Context, spec AdapterSpec) (Model, Tokenizer, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	var resp workerLoadResponse
	req := workerLoadRequest{
		BaseModelID:   spec.BaseModelID,
		CheckpointDir: spec.CheckpointDir,
		Device:        spec.Device,
	}
	if err := b.postJSON(ctx, "/v1/models/load-adapter", spec.AccessToken, req, &resp); err != nil {
		return nil, nil, err
	}
	return b.pairFromLoad(resp, spec.BaseModelID, spec.AccessToken)
}

func (b *workerBackend) pairFromLoad(resp workerLoadResponse, baseModelID, accessToken string) (Model, Tokenizer, error) {
	if resp.ModelHandle == "" || resp.TokenizerHandle == "" {
		return nil, nil, errors.New("worker returned empty handles")
	}
	m := &workerModel{backend: b, handle: resp.ModelHandle, accessToken: accessToken}
	t := &workerTokenizer{
		backend:     b,
		handle:      resp.TokenizerHandle,
		baseModelID: baseModelID,
		accessToken: accessToken,
		padID:       resp.PadTokenID,
	}
	return m, t, nil
}

type workerFitRequest struct {
	ModelHandle     string               `json:"model_handle,omitempty"`
	TokenizerHandle string               `json:"tokenizer_handle,omitempty"`
	BaseModelID     string               `json:"base_model_id"`
	OutputDir       string               `json:"output_dir"`
	Config          types.TrainingConfig `json:"config"`
	Train           []types.Example      `json:"train"`
	Eval            []types.Example      `json:"eval"`
}

type workerFitResponse struct {
	BestCheckpointDir string `json:"best_checkpoint_dir"`
	EpochsRun         int    `json:"epochs_run"`
}

func (b *workerBackend) Fit(ctx context.Context, job FitJob) (FitReport, error) {
	// No request timeout: training blocks for the full run.
	var resp workerFitResponse
	req := workerFitRequest{
		BaseModelID: job.BaseModelID,
		OutputDir:   job.OutputDir,
		Config:      job.Config,
		Train:       job.Train,
		Eval:        job.Eval,
	}
	if m, ok := job.Model.(*workerModel); ok {
		req.ModelHandle = m.handle
	}
	if t, ok := job.Tokenizer.(*workerTokenizer); ok {
		req.TokenizerHandle = t.handle
	}
	if err := b.postJSON(ctx, "/v1/fit", "", req, &resp); err != nil {
		return FitReport{}, err
	}
	if resp.BestCheckpointDir == "" {
		return FitReport{}, errors.New("worker fit returned no checkpoint dir")
	}
	return FitReport{BestCheckpointDir: resp.BestCheckpointDir, EpochsRun: resp.EpochsRun}, nil
}

type workerModel struct {
	backend     *workerBackend
	handle      string
	accessToken string
}

type workerGenerateRequest struct {
	Model        string `json:"model"`
	InputIDs     []int  `json:"input_ids"`
	MaxNewTokens int    `json:"max_new_tokens"`
	PadTokenID   int    `json:"pad_token_id"`
}

type workerGenerateResponse struct {
	OutputIDs []int `json:"output_ids"`
}

func (m *workerModel) Generate(ctx context.Context, inputIDs []int, opts GenerateOptions) ([]int, error) {
	ctx, cancel := m.backend.withTimeout(ctx)
	defer cancel()
	var resp workerGenerateResponse
	req := workerGenerateRequest{
		Model:        m.handle,
		InputIDs:     inputIDs,
		MaxNewTokens: opts.MaxNewTokens,
		PadTokenID:   opts.PadTokenID,
	}
	if err := m.backend.postJSON(ctx, "/v1/generate", "", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.OutputIDs) < len(inputIDs) {
		return nil, errors.New("worker returned truncated sequence")
	}
	return resp.OutputIDs, nil
}

func (m *workerModel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.backend.postJSON(ctx, "/v1/models/unload", "", map[string]string{"model": m.handle}, nil)
}

type workerTokenizer struct {
	backend     *workerBackend
	handle      string
	baseModelID string
	accessToken string
	padID       int
}

type workerTemplateRequest struct {
	Tokenizer           string              `json:"tokenizer"`
	Messages            []types.ChatMessage `json:"messages"`
	AddGenerationPrompt bool                `json:"add_generation_prompt"`
}

type workerTemplateResponse struct {
	InputIDs []int `json:"input_ids"`
}

func (t *workerTokenizer) ApplyChatTemplate(ctx context.Context, msgs []types.ChatMessage, addGenerationPrompt bool) ([]int, error) {
	ctx, cancel := t.backend.withTimeout(ctx)
	defer cancel()
	var resp workerTemplateResponse
	req := workerTemplateRequest{Tokenizer: t.handle, Messages: msgs, AddGenerationPrompt: addGenerationPrompt}
	if err := t.backend.postJSON(ctx, "/v1/chat-template", "", req, &resp); err != nil {
		return nil, err
	}
	return resp.InputIDs, nil
}

type workerDecodeRequest struct {
	Tokenizer         string `json:"tokenizer"`
	IDs               []int  `json:"ids"`
	SkipSpecialTokens bool   `json:"skip_special_tokens"`
}

type workerDecodeResponse struct {
	Text string `json:"text"`
}

func (t *workerTokenizer) Decode(ctx context.Context, ids []int, skipSpecialTokens bool) (string, error) {
	ctx, cancel := t.backend.withTimeout(ctx)
	defer cancel()
	var resp workerDecodeResponse
	req := workerDecodeRequest{Tokenizer: t.handle, IDs: ids, SkipSpecialTokens: skipSpecialTokens}
	if err := t.backend.postJSON(ctx, "/v1/decode", "", req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

type workerPadResponse struct {
	PadTokenID int `json:"pad_token_id"`
}

func (t *workerTokenizer) EnsurePadToken(ctx context.Context) error {
	if t.padID >= 0 {
		return nil
	}
	ctx, cancel := t.backend.withTimeout(ctx)
	defer cancel()
	var resp workerPadResponse
	req := map[string]string{"tokenizer": t.handle}
	if err := t.backend.postJSON(ctx, "/v1/pad-token", t.accessToken, req, &resp); err != nil {
		return err
	}
	t.padID = resp.PadTokenID
	return nil
}

func (t *workerTokenizer) PadTokenID() int { return t.padID }

func (t *workerTokenizer) BaseModelID() string { return t.baseModelID }
