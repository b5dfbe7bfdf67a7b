// Package notification describes outbound messages emitted when a task
// changes state.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Color is the accent of an attachment.
type Color string

const (
	ColorDanger  Color = "#ff0000"
	ColorWarning Color = "warning"
	ColorUnrated Color = "#000000"
	ColorGood    Color = "good"
)

// Attachment is a secondary block rendered under the message title.
type Attachment struct {
	Title string
	Color Color
}

// Message is a single notification. Destination is the webhook URL resolved
// for the task and may be empty when only non-webhook sinks are configured.
type Message struct {
	Title       string
	Attachments []Attachment
	Destination string

	TaskUUID   uuid.UUID
	AuditID    int64
	ScanID     int64
	Target     string
	From       string
	To         string
	Reason     string
	OccurredAt time.Time
}

// Notifier delivers messages. Implementations must not block the caller on
// slow sinks for longer than their own timeouts, and callers treat every
// returned error as informational.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

// Send calls f(ctx, msg).
func (f NotifierFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
