package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/halaqat/scheduler-api/internal/transport"
	"github.com/halaqat/scheduler-api/pkg/circuitbreaker"
)

// Config holds the WhatsApp gateway settings. Token and URL come from
// the environment; see config.TransportConfig.
type Config struct {
	BaseURL     string
	Token       string
	SenderID    string
	Timeout     time.Duration
	MaxFailures int
}

// Client sends text messages through the WhatsApp HTTP gateway. The
// gateway is an external collaborator; this client only wraps its
// send-message capability with a bounded timeout and a circuit breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "whatsapp",
			MaxFailures: cfg.MaxFailures,
			Timeout:     30 * time.Second,
		}),
	}
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func (c *Client) Send(ctx context.Context, msg transport.Message) error {
	return c.cb.Execute(func() error {
		payload, err := json.Marshal(sendRequest{
			From: c.cfg.SenderID,
			To:   msg.To,
			Body: msg.Body,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
}
