// Package channel holds the pieces shared by push-channel transports.
package channel

import (
	"fmt"
	"sync"

	"riskdash/internal/logger"
	"riskdash/internal/transform/payload"
	"riskdash/pkg/models"
)

// Router keeps one handler per event kind and dispatches wire envelopes.
type Router struct {
	mu       sync.RWMutex
	handlers map[models.Kind]func([]byte)
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[models.Kind]func([]byte))}
}

// Subscribe sets the handler of kind, replacing any previous one.
func (r *Router) Subscribe(kind models.Kind, handler func([]byte)) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %s", kind)
	}
	r.mu.Lock()
	r.handlers[kind] = handler
	r.mu.Unlock()
	return nil
}

// Unsubscribe drops the handler of kind.
func (r *Router) Unsubscribe(kind models.Kind) error {
	r.mu.Lock()
	delete(r.handlers, kind)
	r.mu.Unlock()
	return nil
}

// Len returns the number of subscribed kinds.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch decodes an envelope and calls the handler of its kind. Events
// nobody subscribed to are discarded.
func (r *Router) Dispatch(raw []byte) error {
	env, err := payload.DecodeEnvelope(raw)
	if err != nil {
		return err
	}
	r.mu.RLock()
	h := r.handlers[env.Event]
	r.mu.RUnlock()
	if h == nil {
		logger.Debugf("No subscriber for %s event", env.Event)
		return nil
	}
	h(env.Data)
	return nil
}
