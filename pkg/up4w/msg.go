package up4w

import (
	"context"
	"encoding/json"
	"fmt"

	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/manager"
	"github.com/gezibash/up4w/pkg/wire"
)

// ContentTypeText is the content_type of plain text messages.
const ContentTypeText = 13

// Message is a pushed msg.received payload.
type Message struct {
	Swarm       string   `json:"swarm"`
	ID          string   `json:"id"`
	Timestamp   int64    `json:"timestamp"`
	Sender      string   `json:"sender"`
	App         int      `json:"app"`
	Recipient   string   `json:"recipient"`
	Action      int      `json:"action"`
	Content     string   `json:"content"`
	ContentType int      `json:"content_type"`
	Media       []string `json:"media"`
}

// Text is the argument of msg.text.
type Text struct {
	Swarm     string `json:"swarm,omitempty"`
	Recipient string `json:"recipient"`
	App       int    `json:"app"`
	Action    int    `json:"action"`
	Content   any    `json:"content"`
	// ContentType is always sent as ContentTypeText.
	ContentType int `json:"content_type"`
}

// ReceivePush narrows which conversations are pushed. The zero value
// enables pushes for everything.
type ReceivePush struct {
	Conversation string `json:"conversation,omitempty"`
	App          string `json:"app,omitempty"`
}

// MessageHandler receives decoded pushes. err is set for transport
// failures and undecodable payloads.
type MessageHandler func(msg *Message, err error)

// Msg wraps the msg.* methods and push subscriptions.
type Msg struct {
	m *manager.Manager
}

// EnableReceivePush asks the peer to push incoming messages.
func (c *Msg) EnableReceivePush(ctx context.Context, params *ReceivePush) error {
	if params == nil {
		params = &ReceivePush{}
	}
	return do(ctx, c.m, "msg.receive_push", params)
}

// SendText sends a text message and returns the raw reply.
func (c *Msg) SendText(ctx context.Context, text Text) (json.RawMessage, error) {
	text.ContentType = ContentTypeText
	return call[json.RawMessage](ctx, c.m, "msg.text", text)
}

// OnMessage subscribes fn to msg.received and then enables pushes. filter
// is an optional CEL expression over the message fields.
func (c *Msg) OnMessage(ctx context.Context, fn MessageHandler, params *ReceivePush, filter string) (func() bool, error) {
	if !c.m.CanSubscribe() {
		return nil, fmt.Errorf("%w: %w: message pushes need a websocket endpoint", errs.ErrConfiguration, errs.ErrUnsupported)
	}
	unsubscribe, err := c.Subscribe(&manager.Subscription{
		Req:    wire.PushTopic,
		Filter: filter,
		Callback: func(resp *wire.Response, err error) {
			if err != nil {
				fn(nil, err)
				return
			}
			var msg Message
			if err := resp.Decode(&msg); err != nil {
				fn(nil, fmt.Errorf("%w: %s: %w", errs.ErrInvalidResponse, resp.Rsp, err))
				return
			}
			fn(&msg, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := c.EnableReceivePush(ctx, params); err != nil {
		unsubscribe()
		return nil, fmt.Errorf("enable receive push: %w", err)
	}
	return unsubscribe, nil
}

// Subscribe registers a raw subscription.
func (c *Msg) Subscribe(sub *manager.Subscription) (func() bool, error) {
	return c.m.AddSubscription(sub)
}
