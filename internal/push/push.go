// Package push delivers device notifications through a pluggable transport.
package push

import (
	"context"
	"log/slog"
)

// Message is the payload shown on a device.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// SendResponse is the outcome for a single token.
type SendResponse struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse aggregates per-token outcomes of a multicast.
type BatchResponse struct {
	SuccessCount int            `json:"successCount"`
	FailureCount int            `json:"failureCount"`
	Responses    []SendResponse `json:"responses,omitempty"`
}

// Sender sends one message to many device tokens. A returned error means the
// transport itself failed; per-token failures are reported in the response.
type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (BatchResponse, error)
}

// LogSender writes messages to the log instead of a device gateway. It is
// used in development and when no gateway is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender writing to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "push.log")}
}

// SendMulticast logs the message and reports every token as delivered.
func (s *LogSender) SendMulticast(ctx context.Context, tokens []string, msg Message) (BatchResponse, error) {
	resp := BatchResponse{Responses: make([]SendResponse, 0, len(tokens))}
	for _, token := range tokens {
		resp.Responses = append(resp.Responses, SendResponse{Token: token, Success: true})
	}
	resp.SuccessCount = len(tokens)
	s.logger.InfoContext(ctx, "push message",
		"title", msg.Title,
		"body", msg.Body,
		"tokens", len(tokens),
	)
	return resp, nil
}
