package line

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/typhoon-alert-service/internal/message"
	"github.com/kjstillabower/typhoon-alert-service/internal/notify"
)

// Recipients lists the push targets.
type Recipients interface {
	List(ctx context.Context) ([]string, error)
}

// pushConcurrency bounds parallel pushes to distinct recipients.
const pushConcurrency = 8

// PushChannel delivers to every registered recipient. For a keyed
// notification (see notify.WithDeliveryKey) it remembers who has received
// it and sends only to the rest, so a failure for one recipient never
// repeats the message to the others.
type PushChannel struct {
	client     *Client
	recipients Recipients
	logger     *zap.Logger

	mu        sync.Mutex
	key       string
	delivered map[string]bool
}

func NewPushChannel(client *Client, recipients Recipients, logger *zap.Logger) *PushChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushChannel{client: client, recipients: recipients, logger: logger}
}

func (p *PushChannel) SendRich(ctx context.Context, card message.Card) error {
	return p.push(ctx, card)
}

func (p *PushChannel) SendText(ctx context.Context, text string) error {
	return p.push(ctx, TextMessage{Text: text})
}

// push sends msg to each recipient still pending for the delivery key. The
// result is terminal only when every failed recipient failed terminally, so
// a retry is attempted whenever at least one failure may be transient.
func (p *PushChannel) push(ctx context.Context, msg any) error {
	ids, err := p.recipients.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list recipients: %v", ErrUpstreamFailure, err)
	}
	if len(ids) == 0 {
		p.logger.Info("no notification recipients registered")
		return nil
	}

	key := notify.DeliveryKey(ctx)
	pending := p.pending(key, ids)
	if len(pending) == 0 {
		p.logger.Debug("every recipient already has this notification", zap.String("delivery_key", key))
		return nil
	}

	var (
		mu                  sync.Mutex
		terminal, transient []error
	)
	var g errgroup.Group
	g.SetLimit(pushConcurrency)
	for _, id := range pending {
		g.Go(func() error {
			sendCtx, cancel := notify.SendContext(ctx)
			defer cancel()
			err := p.client.Push(sendCtx, id, msg)
			if err == nil {
				p.markDelivered(key, id)
				return nil
			}
			p.logger.Warn("push failed", zap.String("recipient", id), zap.Error(err))
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, notify.ErrTerminal) {
				terminal = append(terminal, err)
			} else {
				transient = append(transient, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed := len(terminal) + len(transient); failed > 0 && failed < len(pending) {
		p.logger.Warn("notification reached some recipients",
			zap.Int("failed", failed),
			zap.Int("attempted", len(pending)),
		)
	}
	if len(transient) > 0 {
		return errors.Join(transient...)
	}
	if len(terminal) > 0 {
		return errors.Join(terminal...)
	}
	return nil
}

// pending filters ids down to recipients that have not received key. A new
// key forgets the previous one.
func (p *PushChannel) pending(key string, ids []string) []string {
	if key == "" {
		return ids
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if key != p.key {
		p.key = key
		p.delivered = make(map[string]bool)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !p.delivered[id] {
			out = append(out, id)
		}
	}
	return out
}

func (p *PushChannel) markDelivered(key, id string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.key {
		p.delivered[id] = true
	}
}

// ReplyChannel answers a single webhook event.
type ReplyChannel struct {
	client *Client
	token  string
}

func NewReplyChannel(client *Client, replyToken string) *ReplyChannel {
	return &ReplyChannel{client: client, token: replyToken}
}

func (r *ReplyChannel) SendRich(ctx context.Context, card message.Card) error {
	ctx, cancel := notify.SendContext(ctx)
	defer cancel()
	return r.client.Reply(ctx, r.token, card)
}

func (r *ReplyChannel) SendText(ctx context.Context, text string) error {
	ctx, cancel := notify.SendContext(ctx)
	defer cancel()
	return r.client.Reply(ctx, r.token, TextMessage{Text: text})
}
