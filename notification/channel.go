// Package notification delivers verification secrets over pluggable
// channels. Channels are registered explicitly on the Dispatcher; an
// unregistered kind is an error, never a silent drop.
package notification

import "context"

// Kind names a delivery transport.
type Kind string

const (
	KindEmail Kind = "email"
	KindSMS   Kind = "sms"
)

// Message is a single outbound notification. Variables feed template
// rendering; Body is the plain-text fallback.
type Message struct {
	To        string
	Subject   string
	Body      string
	Variables map[string]string
}

// Channel is a concrete transport for one Kind.
type Channel interface {
	Kind() Kind
	Send(ctx context.Context, msg Message) error
	SendTemplate(ctx context.Context, msg Message, template string) error
	SupportsTemplates() bool
}

// Logger mirrors the identity package logger to avoid an import cycle.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
