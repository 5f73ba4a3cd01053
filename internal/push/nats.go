package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is where push requests are sent for the vendor gateway.
const DefaultSubject = "push.outbound"

// Request is the body published to the gateway.
type Request struct {
	Tokens  []string `json:"tokens"`
	Message Message  `json:"message"`
}

// NATSSender relays multicasts to an out-of-process gateway over NATS
// request/reply. The gateway answers with a BatchResponse.
type NATSSender struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSSender returns a sender using subject, or DefaultSubject when empty.
func NewNATSSender(nc *nats.Conn, subject string, timeout time.Duration) *NATSSender {
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NATSSender{nc: nc, subject: subject, timeout: timeout}
}

// SendMulticast publishes the request and waits for the gateway's reply.
func (s *NATSSender) SendMulticast(ctx context.Context, tokens []string, msg Message) (BatchResponse, error) {
	data, err := json.Marshal(Request{Tokens: tokens, Message: msg})
	if err != nil {
		return BatchResponse{}, fmt.Errorf("push: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.nc.RequestWithContext(ctx, s.subject, data)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("push: request %s: %w", s.subject, err)
	}

	var resp BatchResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return BatchResponse{}, fmt.Errorf("push: decode reply: %w", err)
	}
	return resp, nil
}
