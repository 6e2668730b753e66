// Package notify delivers status notifications, degrading from rich cards to
// plain text.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/typhoon-alert-service/internal/message"
	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
)

// ErrTerminal marks delivery failures that cannot succeed on retry, such as
// an expired reply token or a payload the remote permanently rejects.
var ErrTerminal = errors.New("terminal delivery failure")

// Channel delivers one message in either representation. Implementations
// bound each underlying request with SendContext.
type Channel interface {
	SendRich(ctx context.Context, card message.Card) error
	SendText(ctx context.Context, text string) error
}

// Mode is the representation that was delivered.
type Mode string

const (
	ModeRich Mode = "rich"
	ModeText Mode = "text"
	ModeNone Mode = "none"
)

// Outcome reports how a dispatch ended.
type Outcome struct {
	Mode Mode
	// Err is the final delivery error, nil when something was delivered.
	Err error
	// RichErr is why the rich path was abandoned, if it was.
	RichErr error
}

// Delivered reports whether either representation reached the channel.
func (o Outcome) Delivered() bool {
	return o.Err == nil && o.Mode != ModeNone
}

// Terminal reports whether the failure must not be retried.
func (o Outcome) Terminal() bool {
	return o.Err != nil && errors.Is(o.Err, ErrTerminal)
}

// Options configures the Dispatcher.
type Options struct {
	RichEnabled     bool
	FallbackEnabled bool
	// SendTimeout bounds each request a channel makes, see SendContext.
	SendTimeout time.Duration
}

// Dispatcher sends a notification through a Channel. It never returns an
// error to its caller; the Outcome carries the classification.
type Dispatcher struct {
	opts   Options
	logger *zap.Logger
}

// NewDispatcher returns a Dispatcher. A zero SendTimeout defaults to 10s.
func NewDispatcher(opts Options, logger *zap.Logger) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{opts: opts, logger: logger}
}

// Dispatch delivers card, or text when the card is invalid or its send fails.
// The rich path is tried at most once.
func (d *Dispatcher) Dispatch(ctx context.Context, ch Channel, card message.Card, text string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Mode: ModeNone, Err: fmt.Errorf("channel panic: %v", r)}
			d.logger.Error("notification channel panicked", zap.Any("panic", r))
		}
		observability.NotificationsTotal.WithLabelValues(string(out.Mode), outcomeLabel(out)).Inc()
	}()

	var richErr error
	if d.opts.RichEnabled {
		normalized := Normalize(card)
		if err := Validate(normalized); err != nil {
			observability.NotificationValidationFailuresTotal.Inc()
			d.logger.Warn("rich message failed validation, sending plain text", zap.Error(err))
			richErr = err
		} else {
			err := d.send(ctx, func(ctx context.Context) error { return ch.SendRich(ctx, normalized) })
			if err == nil {
				return Outcome{Mode: ModeRich}
			}
			richErr = err
			if !d.opts.FallbackEnabled {
				d.logFailure("rich message delivery failed, fallback disabled", err)
				return Outcome{Mode: ModeNone, Err: err, RichErr: err}
			}
			d.logger.Warn("rich message delivery failed, sending plain text", zap.Error(err))
		}
	}

	if text == "" {
		text = emptyPlaceholder
	}
	if err := d.send(ctx, func(ctx context.Context) error { return ch.SendText(ctx, text) }); err != nil {
		d.logFailure("notification delivery failed", err)
		return Outcome{Mode: ModeNone, Err: err, RichErr: richErr}
	}
	return Outcome{Mode: ModeText, RichErr: richErr}
}

// DispatchText sends text only, with the same timeout and classification as Dispatch.
func (d *Dispatcher) DispatchText(ctx context.Context, ch Channel, text string) Outcome {
	if text == "" {
		text = emptyPlaceholder
	}
	out := Outcome{Mode: ModeText}
	if err := d.send(ctx, func(ctx context.Context) error { return ch.SendText(ctx, text) }); err != nil {
		d.logFailure("text delivery failed", err)
		out = Outcome{Mode: ModeNone, Err: err}
	}
	observability.NotificationsTotal.WithLabelValues(string(out.Mode), outcomeLabel(out)).Inc()
	return out
}

func (d *Dispatcher) send(ctx context.Context, fn func(context.Context) error) error {
	return fn(context.WithValue(ctx, sendTimeoutKey{}, d.opts.SendTimeout))
}

type (
	sendTimeoutKey struct{}
	deliveryKey    struct{}
)

// SendContext bounds one request to the remote by the Dispatcher's send
// timeout. A channel that fans out calls it once per recipient, so later
// recipients do not inherit a deadline already spent on earlier ones.
func SendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout, ok := ctx.Value(sendTimeoutKey{}).(time.Duration); ok && timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// WithDeliveryKey tags ctx with the identity of the notification being sent.
// Channels with several recipients use it to deliver a notification to each
// recipient at most once, across the text fallback and later retries.
func WithDeliveryKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, deliveryKey{}, key)
}

// DeliveryKey returns the key set by WithDeliveryKey, or "".
func DeliveryKey(ctx context.Context) string {
	key, _ := ctx.Value(deliveryKey{}).(string)
	return key
}

func (d *Dispatcher) logFailure(msg string, err error) {
	if errors.Is(err, ErrTerminal) {
		d.logger.Warn(msg, zap.Error(err), zap.Bool("terminal", true))
		return
	}
	d.logger.Error(msg, zap.Error(err), zap.Bool("terminal", false))
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.Delivered():
		return "delivered"
	case o.Terminal():
		return "terminal"
	default:
		return "transient"
	}
}
