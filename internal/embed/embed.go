// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

// Package embed calls the upstream embedding API. All calls go through
// the "embedding" circuit breaker and a batch timeout guard, so a slow
// or failing upstream degrades indexing instead of stalling it.
package embed

import (
	"context"
	"log/slog"
	"sort"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/internal/guard"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

const (
	defaultModel        = "text-embedding-3-small"
	defaultBatchTimeout = 30 * time.Second

	defaultFailureThreshold = 3
	defaultRecoveryTimeout  = 60 * time.Second
)

// Config holds embedding client configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string

	// Dimensions requests reduced-dimension embeddings when positive.
	Dimensions int

	BatchTimeout     time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Critical marks the system degraded while the embedding breaker is
	// open.
	Critical bool
}

// Client is the breaker-protected embedding client.
type Client struct {
	sdk          openaisdk.Client
	cb           *breaker.CircuitBreaker
	model        string
	dimensions   int
	batchTimeout time.Duration
}

// New creates an embedding client and registers its circuit breaker
// with breakers under the name "embedding".
func New(cfg Config, breakers *breaker.Registry, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, mnemoerr.New(mnemoerr.CodeEmbedRequestInvalid, "embedding api key must not be empty")
	}

	// The breaker owns retry policy; the SDK's internal retries would
	// hide failures from it and stretch the batch deadline.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	recovery := cfg.RecoveryTimeout
	if recovery <= 0 {
		recovery = defaultRecoveryTimeout
	}

	cb, err := breaker.New("embedding", breaker.Config{
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
		HalfOpenMaxCalls: 1,
	}, nil)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		cb.SetLogger(logger)
	}
	if breakers != nil {
		breakers.Register(cb, cfg.Critical)
	}

	return &Client{
		sdk:          openaisdk.NewClient(opts...),
		cb:           cb,
		model:        model,
		dimensions:   cfg.Dimensions,
		batchTimeout: batchTimeout,
	}, nil
}

// Breaker exposes the embedding circuit breaker for the health surface.
func (c *Client) Breaker() *breaker.CircuitBreaker { return c.cb }

// Embed returns one embedding per input text, in input order. Upstream
// failures and timeouts are recorded on the breaker and re-raised.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, mnemoerr.New(mnemoerr.CodeEmbedRequestInvalid, "embedding input must not be empty")
	}
	for i, t := range texts {
		if t == "" {
			return nil, mnemoerr.Errorf(mnemoerr.CodeEmbedRequestInvalid, "embedding input %d is empty", i)
		}
	}

	return breaker.Do(ctx, c.cb, func(ctx context.Context) ([][]float32, error) {
		return guard.Run(ctx, c.batchTimeout, "embed.batch", func(ctx context.Context) ([][]float32, error) {
			return c.embedBatch(ctx, texts)
		}, "batch_size", len(texts))
	})
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(c.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if c.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(c.dimensions))
	}

	resp, err := c.sdk.Embeddings.New(ctx, params)
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeEmbedUpstreamFailure, "embedding request failed",
			mnemoerr.Field("model", c.model))
	}
	if len(resp.Data) != len(texts) {
		return nil, mnemoerr.Errorf(mnemoerr.CodeEmbedUpstreamFailure,
			"embedding response has %d vectors, want %d", len(resp.Data), len(texts))
	}

	// The API reports each vector's position; do not assume response
	// order matches input order.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}
