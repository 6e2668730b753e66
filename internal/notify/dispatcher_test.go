package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/typhoon-alert-service/internal/message"
)

type mockChannel struct {
	richErr  error
	textErr  error
	panicMsg string
	rich     []message.Card
	texts    []string
}

func (m *mockChannel) SendRich(ctx context.Context, card message.Card) error {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.rich = append(m.rich, card)
	return m.richErr
}

func (m *mockChannel) SendText(ctx context.Context, text string) error {
	m.texts = append(m.texts, text)
	return m.textErr
}

func smallCard() message.Card {
	return message.Card{
		AltText: "status",
		Body: &message.Box{Layout: message.Vertical, Contents: []message.Component{
			message.Text{Text: "HIGH risk"},
		}},
	}
}

func oversizedCard() message.Card {
	return message.Card{
		AltText: "status",
		Body: &message.Box{Layout: message.Vertical, Contents: []message.Component{
			message.Text{Text: strings.Repeat("颱", MaxContentRunes+1)},
		}},
	}
}

var errExpiredToken = fmt.Errorf("%w: invalid reply token", ErrTerminal)

// TestDispatch_Paths verifies which representation is attempted and delivered for
// each combination of settings and channel failures.
func TestDispatch_Paths(t *testing.T) {
	transient := errors.New("connection reset")
	tests := []struct {
		name          string
		opts          Options
		card          message.Card
		ch            *mockChannel
		wantMode      Mode
		wantRichCalls int
		wantTextCalls int
		wantDelivered bool
		wantTerminal  bool
	}{
		{
			name:          "rich delivered",
			opts:          Options{RichEnabled: true, FallbackEnabled: true},
			card:          smallCard(),
			ch:            &mockChannel{},
			wantMode:      ModeRich,
			wantRichCalls: 1,
			wantDelivered: true,
		},
		{
			name:          "oversized card goes straight to text",
			opts:          Options{RichEnabled: true, FallbackEnabled: true},
			card:          oversizedCard(),
			ch:            &mockChannel{},
			wantMode:      ModeText,
			wantTextCalls: 1,
			wantDelivered: true,
		},
		{
			name:          "oversized card with fallback disabled still sends text",
			opts:          Options{RichEnabled: true},
			card:          oversizedCard(),
			ch:            &mockChannel{},
			wantMode:      ModeText,
			wantTextCalls: 1,
			wantDelivered: true,
		},
		{
			name:          "rich rejected falls back once",
			opts:          Options{RichEnabled: true, FallbackEnabled: true},
			card:          smallCard(),
			ch:            &mockChannel{richErr: transient},
			wantMode:      ModeText,
			wantRichCalls: 1,
			wantTextCalls: 1,
			wantDelivered: true,
		},
		{
			name:          "rich rejected without fallback",
			opts:          Options{RichEnabled: true},
			card:          smallCard(),
			ch:            &mockChannel{richErr: transient},
			wantMode:      ModeNone,
			wantRichCalls: 1,
		},
		{
			name:          "rich disabled",
			opts:          Options{FallbackEnabled: true},
			card:          smallCard(),
			ch:            &mockChannel{},
			wantMode:      ModeText,
			wantTextCalls: 1,
			wantDelivered: true,
		},
		{
			name:          "expired token is terminal",
			opts:          Options{RichEnabled: true, FallbackEnabled: true},
			card:          smallCard(),
			ch:            &mockChannel{richErr: errExpiredToken, textErr: errExpiredToken},
			wantMode:      ModeNone,
			wantRichCalls: 1,
			wantTextCalls: 1,
			wantTerminal:  true,
		},
		{
			name:          "text failure is transient",
			opts:          Options{FallbackEnabled: true},
			card:          smallCard(),
			ch:            &mockChannel{textErr: transient},
			wantMode:      ModeNone,
			wantTextCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(tt.opts, zap.NewNop())
			out := d.Dispatch(context.Background(), tt.ch, tt.card, "plain")

			if out.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", out.Mode, tt.wantMode)
			}
			if len(tt.ch.rich) != tt.wantRichCalls {
				t.Errorf("rich sends = %d, want %d", len(tt.ch.rich), tt.wantRichCalls)
			}
			if len(tt.ch.texts) != tt.wantTextCalls {
				t.Errorf("text sends = %d, want %d", len(tt.ch.texts), tt.wantTextCalls)
			}
			if out.Delivered() != tt.wantDelivered {
				t.Errorf("Delivered() = %v, want %v (err %v)", out.Delivered(), tt.wantDelivered, out.Err)
			}
			if out.Terminal() != tt.wantTerminal {
				t.Errorf("Terminal() = %v, want %v", out.Terminal(), tt.wantTerminal)
			}
		})
	}
}

// TestDispatch_ValidationErrorRecorded verifies the local validation failure is
// reported on the outcome.
func TestDispatch_ValidationErrorRecorded(t *testing.T) {
	d := NewDispatcher(Options{RichEnabled: true, FallbackEnabled: true}, zap.NewNop())
	out := d.Dispatch(context.Background(), &mockChannel{}, oversizedCard(), "plain")
	var vErr *ValidationError
	if !errors.As(out.RichErr, &vErr) {
		t.Fatalf("RichErr = %v, want *ValidationError", out.RichErr)
	}
}

// TestDispatch_TerminalLoggedOnce verifies a terminal failure produces a single
// warning and no error-level log.
func TestDispatch_TerminalLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d := NewDispatcher(Options{RichEnabled: true, FallbackEnabled: true}, zap.New(core))
	ch := &mockChannel{richErr: errExpiredToken, textErr: errExpiredToken}

	d.Dispatch(context.Background(), ch, smallCard(), "plain")

	if n := logs.FilterMessage("notification delivery failed").Len(); n != 1 {
		t.Errorf("delivery failure logs = %d, want 1", n)
	}
	if n := logs.FilterLevelExact(zap.ErrorLevel).Len(); n != 0 {
		t.Errorf("error logs = %d, want 0 for terminal failure", n)
	}
}

// TestDispatch_Normalizes verifies empty text fields are sent as a single space.
func TestDispatch_Normalizes(t *testing.T) {
	ch := &mockChannel{}
	card := message.Card{Body: &message.Box{Layout: message.Vertical, Contents: []message.Component{
		message.Text{Text: ""},
		message.Button{Action: message.MessageAction("", "x")},
	}}}
	out := NewDispatcher(Options{RichEnabled: true}, nil).Dispatch(context.Background(), ch, card, "")
	if out.Mode != ModeRich {
		t.Fatalf("Mode = %q, want rich (err %v)", out.Mode, out.RichErr)
	}
	sent := ch.rich[0]
	if sent.AltText != " " {
		t.Errorf("AltText = %q, want single space", sent.AltText)
	}
	if got := sent.Texts(); len(got) != 1 || got[0] != " " {
		t.Errorf("Texts() = %q, want [\" \"]", got)
	}
	btn := sent.Body.Contents[1].(message.Button)
	if btn.Action.Label != " " {
		t.Errorf("button label = %q, want single space", btn.Action.Label)
	}
}

// TestDispatch_ChannelPanic verifies a panicking channel does not escape Dispatch.
func TestDispatch_ChannelPanic(t *testing.T) {
	d := NewDispatcher(Options{RichEnabled: true, FallbackEnabled: true}, zap.NewNop())
	out := d.Dispatch(context.Background(), &mockChannel{panicMsg: "boom"}, smallCard(), "plain")
	if out.Delivered() || out.Err == nil {
		t.Errorf("Dispatch() = %+v, want undelivered with error", out)
	}
}

// TestDispatchText verifies the text-only path skips the card entirely.
func TestDispatchText(t *testing.T) {
	d := NewDispatcher(Options{RichEnabled: true, FallbackEnabled: true}, zap.NewNop())

	ch := &mockChannel{}
	out := d.DispatchText(context.Background(), ch, "")
	if out.Mode != ModeText || !out.Delivered() {
		t.Fatalf("DispatchText() = %+v, want delivered text", out)
	}
	if len(ch.rich) != 0 || len(ch.texts) != 1 || ch.texts[0] != " " {
		t.Errorf("rich=%d texts=%q, want no rich and one placeholder text", len(ch.rich), ch.texts)
	}

	out = d.DispatchText(context.Background(), &mockChannel{textErr: errExpiredToken}, "hi")
	if out.Delivered() || !out.Terminal() {
		t.Errorf("DispatchText() = %+v, want terminal failure", out)
	}
}

type deadlineChannel struct {
	first, second time.Duration
	outerSet      bool
	key           string
}

func (c *deadlineChannel) SendRich(ctx context.Context, _ message.Card) error {
	_, c.outerSet = ctx.Deadline()
	c.key = DeliveryKey(ctx)
	for i, dst := range []*time.Duration{&c.first, &c.second} {
		sendCtx, cancel := SendContext(ctx)
		dl, ok := sendCtx.Deadline()
		if ok {
			*dst = time.Until(dl)
		}
		if i == 0 {
			time.Sleep(30 * time.Millisecond)
		}
		cancel()
	}
	return nil
}

func (c *deadlineChannel) SendText(context.Context, string) error { return nil }

// TestDispatch_TimeoutPerRequest verifies the send timeout applies to each
// request a channel makes rather than to the whole call.
func TestDispatch_TimeoutPerRequest(t *testing.T) {
	d := NewDispatcher(Options{RichEnabled: true, SendTimeout: 100 * time.Millisecond}, zap.NewNop())
	ch := &deadlineChannel{}

	out := d.Dispatch(WithDeliveryKey(context.Background(), "change-7"), ch, smallCard(), "text")
	if !out.Delivered() {
		t.Fatalf("Dispatch() = %+v, want delivered", out)
	}
	if ch.outerSet {
		t.Error("channel call should not carry a shared deadline")
	}
	if ch.first <= 0 || ch.first > 100*time.Millisecond {
		t.Errorf("first request budget = %v, want (0, 100ms]", ch.first)
	}
	if ch.second <= 70*time.Millisecond {
		t.Errorf("second request budget = %v, want a fresh timeout", ch.second)
	}
	if ch.key != "change-7" {
		t.Errorf("DeliveryKey() = %q, want change-7", ch.key)
	}
}

func TestSendContext_WithoutDispatcher(t *testing.T) {
	ctx, cancel := SendContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("SendContext outside Dispatch should not set a deadline")
	}
	if DeliveryKey(ctx) != "" {
		t.Error("DeliveryKey() should be empty when unset")
	}
}

// TestValidate_Limits verifies each rich message limit.
func TestValidate_Limits(t *testing.T) {
	buttons := func(n int) []message.Component {
		var out []message.Component
		for i := 0; i < n; i++ {
			out = append(out, message.Button{Action: message.MessageAction("b", "b")})
		}
		return out
	}
	texts := func(n int) []message.Component {
		var out []message.Component
		for i := 0; i < n; i++ {
			out = append(out, message.Text{Text: "t"})
		}
		return out
	}
	tests := []struct {
		name    string
		card    message.Card
		wantErr bool
	}{
		{"valid", smallCard(), false},
		{"content too long", oversizedCard(), true},
		{"alt text too long", message.Card{AltText: strings.Repeat("a", MaxAltTextRunes+1)}, true},
		{"alt text at limit", message.Card{AltText: strings.Repeat("颱", MaxAltTextRunes)}, false},
		{"12 components", message.Card{Body: &message.Box{Layout: message.Vertical, Contents: texts(12)}}, false},
		{"13 components", message.Card{Body: &message.Box{Layout: message.Vertical, Contents: texts(13)}}, true},
		{"4 buttons in a row", message.Card{Footer: &message.Box{Layout: message.Horizontal, Contents: buttons(4)}}, false},
		{"5 buttons in a row", message.Card{Footer: &message.Box{Layout: message.Horizontal, Contents: buttons(5)}}, true},
		{"5 stacked buttons", message.Card{Footer: &message.Box{Layout: message.Vertical, Contents: buttons(5)}}, false},
		{"empty text", message.Card{Body: &message.Box{Layout: message.Vertical, Contents: []message.Component{message.Text{}}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.card)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
