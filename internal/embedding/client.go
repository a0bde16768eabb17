// Package embedding wraps the embedding model endpoint behind a batched,
// cached, order-preserving gateway.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/metrics"
	"github.com/docuchat/backend/pkg/circuitbreaker"
	"github.com/docuchat/backend/pkg/config"
	"github.com/docuchat/backend/pkg/logger"
	"github.com/docuchat/backend/pkg/retry"
	"github.com/docuchat/backend/pkg/utils"
)

// ErrEmbedding marks a failure of the embedding model or invalid input text.
var ErrEmbedding = errors.New("embedding failed")

// Cache stores vectors keyed by text hash. May be nil (cache disabled).
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Client struct {
	api         *openai.Client
	model       string
	dimension   int
	batchSize   int
	timeout     time.Duration
	cache       Cache
	cacheTTL    time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg config.EmbeddingConfig, cache Cache) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.New("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	logger.Info("Embedding client initialized",
		zap.String("model", cfg.Model),
		zap.Int("dimension", cfg.Dimension),
		zap.Int("batch_size", batchSize),
	)

	return &Client{
		api:         openai.NewClientWithConfig(apiConfig),
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		batchSize:   batchSize,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		cache:       cache,
		cacheTTL:    24 * time.Hour,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// Dimension is the fixed output vector length every persisted chunk must match.
func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in sub-batches, returning one vector per input in
// input order. Any blank input fails the whole call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text %d is empty", ErrEmbedding, i)
		}
	}

	vectors := make([][]float32, len(texts))
	var misses []int

	for i, text := range texts {
		if vec, ok := c.cachedVector(ctx, text); ok {
			vectors[i] = vec
		} else {
			misses = append(misses, i)
		}
	}

	for start := 0; start < len(misses); start += c.batchSize {
		end := start + c.batchSize
		if end > len(misses) {
			end = len(misses)
		}

		batchIdx := misses[start:end]
		batch := make([]string, len(batchIdx))
		for j, i := range batchIdx {
			batch[j] = texts[i]
		}

		embedded, err := c.embedUpstream(ctx, batch)
		if err != nil {
			return nil, err
		}

		for j, i := range batchIdx {
			vectors[i] = embedded[j]
			c.storeVector(ctx, texts[i], embedded[j])
		}
	}

	logger.Debug("Batch embeddings generated",
		zap.Int("texts", len(texts)),
		zap.Int("cache_hits", len(texts)-len(misses)),
	)

	return vectors, nil
}

func (c *Client) embedUpstream(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var vectors [][]float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: batch,
				Model: openai.EmbeddingModel(c.model),
			})
			if err != nil {
				return fmt.Errorf("failed to create embeddings: %w", err)
			}

			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d",
					len(resp.Data), len(batch))
			}

			vectors = make([][]float32, len(resp.Data))
			for i, data := range resp.Data {
				if len(data.Embedding) != c.dimension {
					return fmt.Errorf("model returned dimension %d, configured %d",
						len(data.Embedding), c.dimension)
				}
				vec := make([]float32, len(data.Embedding))
				copy(vec, data.Embedding)
				vectors[i] = vec
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	return vectors, nil
}

func (c *Client) cachedVector(ctx context.Context, text string) ([]float32, bool) {
	if c.cache == nil {
		return nil, false
	}

	vec, ok, err := c.cache.GetEmbedding(ctx, utils.HashText(text))
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if ok && len(vec) != c.dimension {
		// Stale entry from an earlier model configuration.
		return nil, false
	}

	if ok {
		metrics.EmbeddingCacheHits.WithLabelValues("hit").Inc()
	} else {
		metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
	}

	return vec, ok
}

func (c *Client) storeVector(ctx context.Context, text string, vec []float32) {
	if c.cache == nil {
		return
	}

	if err := c.cache.SetEmbedding(ctx, utils.HashText(text), vec, c.cacheTTL); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
}
