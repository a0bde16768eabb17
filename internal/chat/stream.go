// Package chat drives one question-answering exchange: validate, retrieve,
// stream the answer, attribute sources.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/llm"
	"github.com/docuchat/backend/internal/metrics"
	"github.com/docuchat/backend/internal/retrieval"
	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/pkg/logger"
)

// MaxMessageLength bounds a single user message.
const MaxMessageLength = 10000

// Clients see generic failure text; the real cause stays in the logs.
const (
	errRetrievalMessage  = "Failed to retrieve relevant documents"
	errGenerationMessage = "Failed to generate response"
)

// Request is one incoming chat query.
type Request struct {
	Message     string                    `json:"message"`
	ProjectID   string                    `json:"project_id"`
	ChatHistory []models.ConversationTurn `json:"chat_history"`
}

// Sink receives the streamed response. Exactly one of SendError or
// SendComplete ends the exchange.
type Sink interface {
	SendToken(token string) error
	SendError(message string) error
	SendComplete(sources []models.Source) error
}

// Retriever finds the chunks relevant to the query.
type Retriever interface {
	Retrieve(ctx context.Context, projectID, query string) ([]models.RetrievedChunk, error)
}

// AnswerStreamer produces the answer token stream for a prepared context.
type AnswerStreamer interface {
	StreamCompletion(ctx context.Context, contextText, message string, history []models.ConversationTurn) (<-chan llm.StreamToken, error)
}

type Streamer struct {
	retriever Retriever
	assembler *retrieval.Assembler
	llm       AnswerStreamer
}

func NewStreamer(retriever Retriever, assembler *retrieval.Assembler, answerer AnswerStreamer) *Streamer {
	return &Streamer{
		retriever: retriever,
		assembler: assembler,
		llm:       answerer,
	}
}

// Run handles one query end to end. Cancelling ctx stops the stream between
// tokens; the sink then receives no further frames because the client is
// already gone.
func (s *Streamer) Run(ctx context.Context, req Request, sink Sink) {
	start := time.Now()
	status := s.run(ctx, req, sink)

	metrics.ChatQueriesTotal.WithLabelValues(status).Inc()
	metrics.ChatQueryDuration.Observe(time.Since(start).Seconds())
}

func (s *Streamer) run(ctx context.Context, req Request, sink Sink) string {
	if msg := validate(req); msg != "" {
		s.sendError(sink, msg)
		return "invalid"
	}

	chunks, err := s.retriever.Retrieve(ctx, req.ProjectID, req.Message)
	if err != nil {
		logger.Error("Retrieval failed",
			zap.String("projectID", req.ProjectID),
			zap.Error(err),
		)
		s.sendError(sink, errRetrievalMessage)
		return "retrieval_error"
	}

	contextText, used := s.assembler.Assemble(chunks)

	tokens, err := s.llm.StreamCompletion(ctx, contextText, req.Message, req.ChatHistory)
	if err != nil {
		logger.Error("Failed to open answer stream", zap.Error(err))
		s.sendError(sink, errGenerationMessage)
		return "generation_error"
	}

	for {
		select {
		case <-ctx.Done():
			metrics.StreamCancellations.Inc()
			return "cancelled"
		case token, ok := <-tokens:
			if !ok {
				s.sendComplete(sink, retrieval.FormatSources(used))
				return "completed"
			}
			if token.Err != nil {
				logger.Error("Answer stream broke", zap.Error(token.Err))
				s.sendError(sink, errGenerationMessage)
				return "generation_error"
			}
			if err := sink.SendToken(token.Content); err != nil {
				logger.Warn("Client stopped receiving tokens", zap.Error(err))
				metrics.StreamCancellations.Inc()
				return "cancelled"
			}
			metrics.TokensStreamed.Inc()
		}
	}
}

// validate rejects blank-after-trim fields so whitespace padding cannot
// smuggle an empty query past the check. The length limit counts characters,
// not bytes.
func validate(req Request) string {
	switch {
	case strings.TrimSpace(req.Message) == "":
		return "Message cannot be empty"
	case strings.TrimSpace(req.ProjectID) == "":
		return "Project ID is required"
	case utf8.RuneCountInString(req.Message) > MaxMessageLength:
		return "Message is too long"
	}
	return ""
}

func (s *Streamer) sendError(sink Sink, message string) {
	if err := sink.SendError(message); err != nil {
		logger.Warn("Failed to deliver error frame", zap.Error(err))
	}
}

func (s *Streamer) sendComplete(sink Sink, sources []models.Source) {
	if err := sink.SendComplete(sources); err != nil {
		logger.Warn("Failed to deliver completion frame", zap.Error(err))
	}
}
