package notification

import (
	"context"

	"github.com/goliatone/go-errors"
)

// ErrUnsupportedKind is returned when no channel is registered for a kind.
var ErrUnsupportedKind = errors.New("no channel registered for kind", errors.CategoryInternal).
	WithTextCode("CHANNEL_UNSUPPORTED").
	WithCode(errors.CodeInternal)

// ErrSendFailed wraps transport failures from a channel.
var ErrSendFailed = errors.New("channel failed to deliver message", errors.CategoryOperation).
	WithTextCode("DELIVERY_FAILED").
	WithCode(errors.CodeInternal)

// Dispatcher routes messages to channels by kind. The registry is built
// once at construction; there is no discovery mechanism.
type Dispatcher struct {
	channels map[Kind]Channel
	logger   Logger
}

// NewDispatcher registers the given channels. Later channels of the same
// kind replace earlier ones.
func NewDispatcher(logger Logger, channels ...Channel) *Dispatcher {
	registry := make(map[Kind]Channel, len(channels))
	for _, ch := range channels {
		if ch != nil {
			registry[ch.Kind()] = ch
		}
	}

	return &Dispatcher{
		channels: registry,
		logger:   logger,
	}
}

// Supports reports whether a channel is registered for the kind.
func (d *Dispatcher) Supports(kind Kind) bool {
	_, ok := d.channels[kind]
	return ok
}

// Dispatch sends a plain message over the channel for the kind.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, msg Message) error {
	ch, err := d.channel(kind)
	if err != nil {
		return err
	}

	if err := ch.Send(ctx, msg); err != nil {
		return errors.Wrap(err, ErrSendFailed.Category, ErrSendFailed.Message).
			WithTextCode(ErrSendFailed.TextCode).
			WithMetadata(map[string]any{"kind": kind})
	}

	return nil
}

// DispatchTemplate renders the named template over the channel. Channels
// without template support get the plain-text fallback with a warning.
func (d *Dispatcher) DispatchTemplate(ctx context.Context, kind Kind, msg Message, template string) error {
	ch, err := d.channel(kind)
	if err != nil {
		return err
	}

	if !ch.SupportsTemplates() {
		if d.logger != nil {
			d.logger.Warn("channel %s has no template support, falling back to plain text", kind)
		}
		return d.Dispatch(ctx, kind, msg)
	}

	if err := ch.SendTemplate(ctx, msg, template); err != nil {
		return errors.Wrap(err, ErrSendFailed.Category, ErrSendFailed.Message).
			WithTextCode(ErrSendFailed.TextCode).
			WithMetadata(map[string]any{"kind": kind, "template": template})
	}

	return nil
}

func (d *Dispatcher) channel(kind Kind) (Channel, error) {
	ch, ok := d.channels[kind]
	if !ok {
		return nil, ErrUnsupportedKind.WithMetadata(map[string]any{"kind": kind})
	}
	return ch, nil
}
