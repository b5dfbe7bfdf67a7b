// Package webhook posts task notifications to Slack-compatible incoming
// webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/vulnscan-armada/internal/domain/notification"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

var _ notification.Notifier = (*Notifier)(nil)

// Config controls the message identity and delivery limits.
type Config struct {
	Username  string
	IconEmoji string
	Timeout   time.Duration
	// RatePerSecond and Burst throttle posts across all destinations.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns the webhook defaults.
func DefaultConfig() Config {
	return Config{
		Username:      "CASVAL",
		IconEmoji:     ":robot_face:",
		Timeout:       10 * time.Second,
		RatePerSecond: 1,
		Burst:         5,
	}
}

type attachmentField struct {
	Title string `json:"title"`
}

type attachment struct {
	Color  string            `json:"color"`
	Fields []attachmentField `json:"fields"`
}

type payload struct {
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// Notifier posts each message to its Destination. Messages without a
// destination are dropped.
type Notifier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a Notifier. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *logger.Logger, tracer trace.Tracer) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Notifier{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		logger:  logger.With("component", "webhook_notifier"),
		tracer:  tracer,
	}
}

// Send posts msg. It waits for the rate limiter, which honors ctx.
func (n *Notifier) Send(ctx context.Context, msg notification.Message) error {
	if msg.Destination == "" {
		n.logger.Debug(ctx, "No webhook destination, message dropped", "task_uuid", msg.TaskUUID.String())
		return nil
	}

	ctx, span := n.tracer.Start(ctx, "webhook_notifier.send",
		trace.WithAttributes(
			attribute.String("task_uuid", msg.TaskUUID.String()),
			attribute.String("transition", msg.From+"->"+msg.To),
		))
	defer span.End()

	if err := n.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait aborted")
		return fmt.Errorf("wait for webhook rate limit: %w", err)
	}

	body, err := json.Marshal(n.payload(msg))
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Destination, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid webhook url")
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook post failed")
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook rejected message")
		return err
	}
	return nil
}

func (n *Notifier) payload(msg notification.Message) payload {
	p := payload{Username: n.cfg.Username, IconEmoji: n.cfg.IconEmoji, Text: msg.Title}
	for _, a := range msg.Attachments {
		p.Attachments = append(p.Attachments, attachment{
			Color:  string(a.Color),
			Fields: []attachmentField{{Title: a.Title}},
		})
	}
	return p
}
