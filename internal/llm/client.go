// Package llm wraps the generative completion endpoint as a token-streaming
// producer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/pkg/circuitbreaker"
	"github.com/docuchat/backend/pkg/config"
	"github.com/docuchat/backend/pkg/logger"
	"github.com/docuchat/backend/pkg/retry"
)

const systemPrompt = `You are a helpful assistant that answers questions about the user's documents.

Rules:
1. Answer using ONLY the provided document context.
2. If the context does not contain the answer, say so plainly instead of guessing.
3. Be concise and direct.
4. When the context is empty, tell the user no relevant information was found in their documents.`

// StreamToken is one fragment of a streamed completion. A token with Err set
// is terminal; the channel closes after it.
type StreamToken struct {
	Content string
	Err     error
}

type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg config.LLMConfig) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
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

	logger.Info("LLM client initialized", zap.String("model", cfg.Model))

	return &Client{
		api:         openai.NewClientWithConfig(apiConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// HealthCheck probes the completion endpoint. Callers treat failure as
// advisory: the server still starts, queries just degrade until the endpoint
// recovers.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("completion endpoint unreachable: %w", err)
	}
	return nil
}

// StreamCompletion opens a completion stream and forwards fragments in
// generation order on the returned channel. The channel closes after the last
// fragment or after a terminal StreamToken carrying the error. Cancelling ctx
// stops the stream.
func (c *Client) StreamCompletion(ctx context.Context, contextText, message string, history []models.ConversationTurn) (<-chan StreamToken, error) {
	messages := c.buildMessages(contextText, message, history)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	var stream *openai.ChatCompletionStream
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			var err error
			stream, err = c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: c.temperature,
				MaxTokens:   c.maxTokens,
				Stream:      true,
			})
			if err != nil {
				return fmt.Errorf("failed to open completion stream: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		cancel()
		return nil, err
	}

	tokens := make(chan StreamToken)

	go func() {
		defer cancel()
		defer close(tokens)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case tokens <- StreamToken{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			content := resp.Choices[0].Delta.Content
			if content == "" {
				continue
			}

			select {
			case tokens <- StreamToken{Content: content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return tokens, nil
}

func (c *Client) buildMessages(contextText, message string, history []models.ConversationTurn) []openai.ChatCompletionMessage {
	prompt := systemPrompt
	if contextText != "" {
		prompt += "\n\nDocument context:\n" + contextText
	} else {
		prompt += "\n\nDocument context: (no relevant documents found)"
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
	}

	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
}
