package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kjstillabower/typhoon-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/typhoon-alert-service/internal/message"
	"github.com/kjstillabower/typhoon-alert-service/internal/notify"
)

type captured struct {
	mu      sync.Mutex
	paths   []string
	bodies  []map[string]any
	headers []http.Header
}

func newServer(t *testing.T, status int, respBody string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, body)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{AccessToken: "token-123", APIURL: url})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	if _, err := NewClient(Config{AccessToken: "  "}); !errors.Is(err, ErrMissingToken) {
		t.Errorf("NewClient() error = %v, want ErrMissingToken", err)
	}
}

// TestClient_Push_Request verifies push path, auth and retry-key headers and payload shape.
func TestClient_Push_Request(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "{}")
	c := newTestClient(t, srv.URL)

	if err := c.Push(context.Background(), "U1", TextMessage{Text: "hello"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if got.paths[0] != "/v2/bot/message/push" {
		t.Errorf("path = %q", got.paths[0])
	}
	if h := got.headers[0].Get("Authorization"); h != "Bearer token-123" {
		t.Errorf("Authorization = %q", h)
	}
	if got.headers[0].Get("X-Line-Retry-Key") == "" {
		t.Error("X-Line-Retry-Key missing on push")
	}
	if got.bodies[0]["to"] != "U1" {
		t.Errorf("to = %v, want U1", got.bodies[0]["to"])
	}
	msgs := got.bodies[0]["messages"].([]any)
	first := msgs[0].(map[string]any)
	if first["type"] != "text" || first["text"] != "hello" {
		t.Errorf("message = %v", first)
	}
}

// TestClient_Reply_Request verifies reply path and the absence of a retry key.
func TestClient_Reply_Request(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "{}")
	c := newTestClient(t, srv.URL)

	card := message.Card{AltText: "alt", Body: &message.Box{Layout: message.Vertical, Contents: []message.Component{message.Text{Text: "x"}}}}
	if err := c.Reply(context.Background(), "rt-1", card); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got.paths[0] != "/v2/bot/message/reply" {
		t.Errorf("path = %q", got.paths[0])
	}
	if got.headers[0].Get("X-Line-Retry-Key") != "" {
		t.Error("X-Line-Retry-Key must not be sent on reply")
	}
	if got.bodies[0]["replyToken"] != "rt-1" {
		t.Errorf("replyToken = %v", got.bodies[0]["replyToken"])
	}
	msg := got.bodies[0]["messages"].([]any)[0].(map[string]any)
	if msg["type"] != "flex" {
		t.Errorf("message type = %v, want flex", msg["type"])
	}
}

// TestClient_ErrorMapping verifies HTTP responses map to terminal and transient errors.
func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      error
		wantTerminal bool
	}{
		{"invalid reply token", http.StatusBadRequest, `{"message":"Invalid reply token"}`, ErrInvalidReplyToken, true},
		{"bad payload", http.StatusBadRequest, `{"message":"A message (messages[0]) in the request body is invalid"}`, ErrRejected, true},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Authentication failed"}`, ErrRejected, true},
		{"rate limited", http.StatusTooManyRequests, `{"message":"Too many requests"}`, ErrUpstreamFailure, false},
		{"server error", http.StatusInternalServerError, ``, ErrUpstreamFailure, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.status, tt.body)
			err := newTestClient(t, srv.URL).Reply(context.Background(), "rt", TextMessage{Text: "x"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := errors.Is(err, notify.ErrTerminal); got != tt.wantTerminal {
				t.Errorf("terminal = %v, want %v", got, tt.wantTerminal)
			}
		})
	}
}

// TestClient_NetworkError verifies connection failures are transient.
func TestClient_NetworkError(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()
	err := newTestClient(t, url).Push(context.Background(), "U1", TextMessage{Text: "x"})
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("error = %v, want ErrUpstreamFailure", err)
	}
}

// TestClient_BreakerOpen verifies an open breaker surfaces as a transient failure
// and terminal rejections do not trip it.
func TestClient_BreakerOpen(t *testing.T) {
	srv, got := newServer(t, http.StatusServiceUnavailable, "")
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, IsFailure: IsUpstreamFault})
	c, _ := NewClient(Config{AccessToken: "t", APIURL: srv.URL, Breaker: cb})

	_ = c.Push(context.Background(), "U1", TextMessage{Text: "x"})
	err := c.Push(context.Background(), "U1", TextMessage{Text: "x"})
	if !errors.Is(err, circuitbreaker.ErrOpen) || !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("error = %v, want open breaker wrapped as upstream failure", err)
	}
	if len(got.paths) != 1 {
		t.Errorf("server calls = %d, want 1", len(got.paths))
	}

	if IsUpstreamFault(ErrInvalidReplyToken) {
		t.Error("IsUpstreamFault(ErrInvalidReplyToken) = true, want false")
	}
}

type staticRecipients []string

func (s staticRecipients) List(context.Context) ([]string, error) { return s, nil }

// TestPushChannel_AllRecipients verifies every recipient receives the message.
func TestPushChannel_AllRecipients(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "{}")
	ch := NewPushChannel(newTestClient(t, srv.URL), staticRecipients{"U1", "C2"}, nil)

	if err := ch.SendText(context.Background(), "status"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	var to []string
	for _, b := range got.bodies {
		to = append(to, fmt.Sprint(b["to"]))
	}
	sort.Strings(to)
	if len(to) != 2 || to[0] != "C2" || to[1] != "U1" {
		t.Errorf("pushed to %v, want [C2 U1]", to)
	}
}

func TestPushChannel_NoRecipients(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "{}")
	ch := NewPushChannel(newTestClient(t, srv.URL), staticRecipients{}, nil)
	if err := ch.SendText(context.Background(), "status"); err != nil {
		t.Errorf("SendText() error = %v, want nil", err)
	}
	if len(got.paths) != 0 {
		t.Errorf("server calls = %d, want 0", len(got.paths))
	}
}

// TestPushChannel_MixedFailures verifies a transient failure wins over a terminal one.
func TestPushChannel_MixedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["to"] == "U1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"The property, 'to', in the request body is invalid"}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewPushChannel(newTestClient(t, srv.URL), staticRecipients{"U1", "U2"}, nil)
	err := ch.SendText(context.Background(), "status")
	if err == nil || errors.Is(err, notify.ErrTerminal) {
		t.Errorf("error = %v, want transient", err)
	}
}

// perRecipientServer fails pushes to recipients in bad with 500 and records
// the message types each recipient was sent.
func perRecipientServer(t *testing.T, bad ...string) (*httptest.Server, func(string) []string) {
	t.Helper()
	var mu sync.Mutex
	received := map[string][]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			To       string `json:"to"`
			Messages []struct {
				Type string `json:"type"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if slices.Contains(bad, body.To) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		mu.Lock()
		for _, m := range body.Messages {
			received[body.To] = append(received[body.To], m.Type)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)
	return srv, func(to string) []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), received[to]...)
	}
}

func statusCard() message.Card {
	return message.Card{AltText: "status", Body: &message.Box{Layout: message.Vertical, Contents: []message.Component{message.Text{Text: "SAFE"}}}}
}

// TestPushChannel_PartialFailureDeliversOnce verifies a recipient that got a
// keyed notification is not sent it again by the fallback or by retries
// while another recipient keeps failing.
func TestPushChannel_PartialFailureDeliversOnce(t *testing.T) {
	srv, received := perRecipientServer(t, "U-bad")
	ch := NewPushChannel(newTestClient(t, srv.URL), staticRecipients{"U-good", "U-bad"}, nil)
	d := notify.NewDispatcher(notify.Options{RichEnabled: true, FallbackEnabled: true}, nil)
	ctx := notify.WithDeliveryKey(context.Background(), "change-1")

	for cycle := 0; cycle < 3; cycle++ {
		out := d.Dispatch(ctx, ch, statusCard(), "status: SAFE")
		if out.Delivered() || out.Terminal() {
			t.Fatalf("cycle %d: outcome = %+v, want transient failure", cycle, out)
		}
	}
	if got := received("U-good"); len(got) != 1 || got[0] != "flex" {
		t.Errorf("U-good received %v, want exactly [flex]", got)
	}
}

// TestPushChannel_DeliveredToAllAfterRecovery verifies a retry reaches only
// the recipient that missed the notification and then reports success.
func TestPushChannel_DeliveredToAllAfterRecovery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	var mu sync.Mutex
	var pushes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		to := fmt.Sprint(body["to"])
		if to == "U2" && failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		mu.Lock()
		pushes = append(pushes, to)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewPushChannel(newTestClient(t, srv.URL), staticRecipients{"U1", "U2"}, nil)
	ctx := notify.WithDeliveryKey(context.Background(), "change-1")
	if err := ch.SendText(ctx, "DANGER"); err == nil {
		t.Fatal("first send: want error while U2 is failing")
	}
	failing.Store(false)
	if err := ch.SendText(ctx, "DANGER"); err != nil {
		t.Fatalf("retry: error = %v", err)
	}
	if err := ch.SendText(ctx, "DANGER"); err != nil {
		t.Fatalf("repeat: error = %v", err)
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), pushes...)
	}
	if got := snapshot(); len(got) != 2 || got[0] != "U1" || got[1] != "U2" {
		t.Errorf("pushes = %v, want [U1 U2]", got)
	}

	// A new notification goes to everyone again.
	if err := ch.SendText(notify.WithDeliveryKey(context.Background(), "change-2"), "SAFE"); err != nil {
		t.Fatalf("new key: error = %v", err)
	}
	if got := snapshot(); len(got) != 4 {
		t.Errorf("pushes after new key = %v, want 4", got)
	}
}

// TestPushChannel_UnkeyedSendsToAll verifies sends without a delivery key,
// such as test notifications, are never deduplicated.
func TestPushChannel_UnkeyedSendsToAll(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "{}")
	ch := NewPushChannel(newTestClient(t, srv.URL), staticRecipients{"U1"}, nil)
	for i := 0; i < 2; i++ {
		if err := ch.SendText(context.Background(), "test"); err != nil {
			t.Fatalf("SendText() error = %v", err)
		}
	}
	if len(got.paths) != 2 {
		t.Errorf("server calls = %d, want 2", len(got.paths))
	}
}

func TestReplyChannel_Text(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "{}")
	ch := NewReplyChannel(newTestClient(t, srv.URL), "rt-9")
	if err := ch.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if got.bodies[0]["replyToken"] != "rt-9" {
		t.Errorf("replyToken = %v", got.bodies[0]["replyToken"])
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	sig := Sign("secret", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		want   bool
	}{
		{"valid", "secret", body, sig, true},
		{"wrong secret", "other", body, sig, false},
		{"tampered body", "secret", []byte(`{"events":[{}]}`), sig, false},
		{"not base64", "secret", body, "%%%", false},
		{"empty signature", "secret", body, "", false},
		{"empty secret", "", body, sig, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.sig); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseEvents(t *testing.T) {
	body := []byte(`{"destination":"x","events":[
		{"type":"message","replyToken":"rt","source":{"type":"user","userId":"U1"},"message":{"type":"text","text":"颱風現況"}},
		{"type":"follow","replyToken":"rt2","source":{"type":"group","userId":"U2","groupId":"C9"}}
	]}`)
	events, err := ParseEvents(body)
	if err != nil {
		t.Fatalf("ParseEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if !events[0].IsText() || events[0].Message.Text != "颱風現況" || events[0].Source.ID() != "U1" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].IsText() || events[1].Source.ID() != "C9" {
		t.Errorf("events[1] = %+v", events[1])
	}

	if _, err := ParseEvents([]byte("{")); err == nil {
		t.Error("ParseEvents() expected error for malformed body")
	}
}
