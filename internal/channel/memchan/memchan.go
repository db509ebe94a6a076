// Package memchan is an in-process push channel. It delivers inbound
// payloads synchronously to subscribed handlers and records every emit.
package memchan

import (
	"context"
	"fmt"
	"sync"

	"riskdash/internal/transform/payload"
	"riskdash/pkg/models"
)

// Emitted is one recorded outbound message.
type Emitted struct {
	Kind     models.Kind
	Envelope []byte
}

// Channel is safe for concurrent use.
type Channel struct {
	mu       sync.Mutex
	handlers map[models.Kind]func([]byte)
	emitted  []Emitted
	emitErr  func(kind models.Kind) error
}

// New creates an empty channel.
func New() *Channel {
	return &Channel{handlers: make(map[models.Kind]func([]byte))}
}

// FailEmits makes every later emit return the error produced by fn. A nil fn
// restores success.
func (c *Channel) FailEmits(fn func(kind models.Kind) error) {
	c.mu.Lock()
	c.emitErr = fn
	c.mu.Unlock()
}

// Subscribe registers the handler of kind, replacing any previous one.
func (c *Channel) Subscribe(kind models.Kind, handler func([]byte)) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %s", kind)
	}
	c.mu.Lock()
	c.handlers[kind] = handler
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the handler of kind.
func (c *Channel) Unsubscribe(kind models.Kind) error {
	c.mu.Lock()
	delete(c.handlers, kind)
	c.mu.Unlock()
	return nil
}

// Subscribed reports whether kind has a handler.
func (c *Channel) Subscribed(kind models.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[kind]
	return ok
}

// SubscriptionCount returns the number of subscribed kinds.
func (c *Channel) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Emit encodes and records an outbound message.
func (c *Channel) Emit(ctx context.Context, kind models.Kind, body interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	fail := c.emitErr
	c.mu.Unlock()
	if fail != nil {
		if err := fail(kind); err != nil {
			return err
		}
	}
	env, err := payload.EncodeEnvelope(kind, body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.emitted = append(c.emitted, Emitted{Kind: kind, Envelope: env})
	c.mu.Unlock()
	return nil
}

// Emitted returns a copy of the recorded emits.
func (c *Channel) Emitted() []Emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Emitted(nil), c.emitted...)
}

// EmitCount counts recorded emits of kind.
func (c *Channel) EmitCount(kind models.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.emitted {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Deliver hands data to the handler of kind. It reports false when nothing
// is subscribed.
func (c *Channel) Deliver(kind models.Kind, data []byte) bool {
	c.mu.Lock()
	h := c.handlers[kind]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// DeliverEnvelope decodes a wire envelope and delivers its payload.
func (c *Channel) DeliverEnvelope(raw []byte) (bool, error) {
	env, err := payload.DecodeEnvelope(raw)
	if err != nil {
		return false, err
	}
	return c.Deliver(env.Event, env.Data), nil
}
