package wsconn

import (
	"github.com/google/uuid"

	"github.com/protocolos/handshake/pkg/logger"
)

// Wildcard subscribes to every inbound non-system message.
const Wildcard = "*"

// MessageHandler receives a routed inbound message.
type MessageHandler func(msg Message)

// FilterFunc gates delivery to one subscription. Returning false skips
// the handler for that message.
type FilterFunc func(msg Message) bool

type subscription struct {
	id      string
	handler MessageHandler
	filter  FilterFunc
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscription)

// WithFilter gates the subscription with a predicate.
func WithFilter(filter FilterFunc) SubscribeOption {
	return func(s *subscription) { s.filter = filter }
}

// Subscribe registers a handler for a channel (or Wildcard). The
// returned function removes the subscription.
func (m *Manager) Subscribe(channel string, handler MessageHandler, opts ...SubscribeOption) func() {
	sub := &subscription{id: uuid.NewString(), handler: handler}
	for _, opt := range opts {
		opt(sub)
	}

	m.subsMu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.subsMu.Unlock()

	return func() { m.unsubscribe(channel, sub.id) }
}

func (m *Manager) unsubscribe(channel, id string) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subs := m.subs[channel]
	for i, sub := range subs {
		if sub.id == id {
			m.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[channel]) == 0 {
		delete(m.subs, channel)
	}
}

// dispatch routes a message to its channel's subscribers and to wildcard
// subscribers. A panicking handler is recovered and logged so it cannot
// stop delivery to the rest.
func (m *Manager) dispatch(msg Message) {
	key := msg.channelKey()

	m.subsMu.RLock()
	targets := make([]*subscription, 0, len(m.subs[key])+len(m.subs[Wildcard]))
	targets = append(targets, m.subs[key]...)
	if key != Wildcard {
		targets = append(targets, m.subs[Wildcard]...)
	}
	m.subsMu.RUnlock()

	for _, sub := range targets {
		if sub.filter != nil && !sub.filter(msg) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("subscriber panicked on channel %q: %v", key, r)
				}
			}()
			sub.handler(msg)
		}()
	}
}
