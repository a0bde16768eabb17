package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/chat"
	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/pkg/logger"
)

type ChatHandler struct {
	streamer *chat.Streamer
	slots    chan struct{}
}

// NewChatHandler bounds the number of answers streaming at once across all
// connections with maxConcurrent slots.
func NewChatHandler(streamer *chat.Streamer, maxConcurrent int) *ChatHandler {
	return &ChatHandler{
		streamer: streamer,
		slots:    make(chan struct{}, maxConcurrent),
	}
}

// HandleConnection serves one websocket session. The session handles one
// query at a time; a {"type":"cancel"} frame or a closed connection stops the
// in-flight stream.
func (h *ChatHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Chat connection established")
	defer func() {
		c.Close()
		logger.Info("Chat connection closed")
	}()

	// Single reader for the whole connection. Frames read while a stream
	// is running feed the cancellation watcher instead of the session loop.
	incoming := make(chan []byte)
	go func() {
		defer close(incoming)
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			incoming <- data
		}
	}()

	h.session(incoming, &wsSink{conn: c})
}

// session dispatches frames to queries. Frames the cancellation watcher
// consumed during a stream are replayed before reading the connection again,
// so a query sent on the heels of a finishing stream is never lost.
func (h *ChatHandler) session(incoming <-chan []byte, sink chat.Sink) {
	var pending [][]byte

	for {
		var data []byte
		if len(pending) > 0 {
			data = pending[0]
			pending = pending[1:]
		} else {
			var ok bool
			data, ok = <-incoming
			if !ok {
				return
			}
		}

		if isCancelFrame(data) {
			// No stream in flight, nothing to cancel.
			continue
		}

		var req chat.Request
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("Unparseable chat request", zap.Error(err))
			sink.SendError("Invalid request")
			continue
		}

		pending = append(pending, h.serveQuery(req, sink, incoming)...)
	}
}

// serveQuery runs one stream and returns the non-cancel frames the watcher
// pulled off the connection while the stream was in flight.
func (h *ChatHandler) serveQuery(req chat.Request, sink chat.Sink, incoming <-chan []byte) [][]byte {
	select {
	case h.slots <- struct{}{}:
	default:
		sink.SendError("Server is at capacity. Please retry shortly.")
		return nil
	}
	defer func() { <-h.slots }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	held := make(chan [][]byte, 1)
	go func() {
		held <- watchForCancel(incoming, stop, cancel)
	}()

	h.streamer.Run(ctx, req, sink)
	close(stop)

	return <-held
}

// watchForCancel consumes frames while a stream runs. A cancel frame or a
// closed connection cancels the stream; anything else is held for the session
// loop to replay.
func watchForCancel(incoming <-chan []byte, stop <-chan struct{}, cancel context.CancelFunc) [][]byte {
	var held [][]byte
	for {
		select {
		case <-stop:
			return held
		case data, ok := <-incoming:
			if !ok || isCancelFrame(data) {
				cancel()
				return held
			}
			held = append(held, data)
		}
	}
}

func isCancelFrame(data []byte) bool {
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return false
	}
	return frame.Type == "cancel"
}

// wsSink writes the streaming protocol frames. All writes happen from the
// session goroutine, so no write lock is needed.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) SendToken(token string) error {
	return s.conn.WriteJSON(map[string]interface{}{
		"token":    token,
		"complete": false,
	})
}

func (s *wsSink) SendError(message string) error {
	return s.conn.WriteJSON(map[string]interface{}{
		"error":    message,
		"complete": true,
	})
}

func (s *wsSink) SendComplete(sources []models.Source) error {
	if sources == nil {
		sources = []models.Source{}
	}
	return s.conn.WriteJSON(map[string]interface{}{
		"complete": true,
		"sources":  sources,
	})
}
