// Package feed fans out change notifications to live subscribers.
//
// Subscribers are not sent the changed data. An event only tells them that
// something on a topic changed; they re-run their own query. This lets a slow
// subscriber drop intermediate events without missing the final state.
package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/erazemk/posodi/internal/model"
)

// Event kinds.
const (
	KindItemShared      = "item.shared"
	KindItemUpdated     = "item.updated"
	KindRequestCreated  = "request.created"
	KindRequestApproved = "request.approved"
	KindRequestDeclined = "request.declined"
	KindRequestReturned = "request.returned"
	KindSessionStarted  = "session.started"
	KindSessionEnded    = "session.ended"
)

// ErrClosed is returned when subscribing to a closed hub.
var ErrClosed = errors.New("feed hub closed")

// Event describes a change on a topic.
type Event struct {
	Topic string    `json:"topic"`
	Kind  string    `json:"kind"`
	ID    string    `json:"id,omitempty"`
	Actor string    `json:"actor,omitempty"`
	At    time.Time `json:"at"`
}

// NeighborhoodTopic is the topic for item and request changes in a scope.
func NeighborhoodTopic(scope model.Scope) string {
	return "hood/" + scope.Deployment + "/" + scope.Neighborhood
}

// UserTopic is the topic for session changes of one user.
func UserTopic(deployment, userID string) string {
	return "user/" + deployment + "/" + userID
}

// Hub is an in-process publish/subscribe switch. The zero value is not
// usable; call NewHub.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription receives events for the topics it was created with.
type Subscription struct {
	hub    *Hub
	topics []string
	ch     chan Event
	once   sync.Once
}

// Events returns the delivery channel. It is closed when the subscription is
// cancelled or the hub shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel releases the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

// Subscribe registers interest in one or more topics.
func (h *Hub) Subscribe(topics ...string) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	// One slot: a pending event already means "re-query".
	s := &Subscription{hub: h, topics: topics, ch: make(chan Event, 1)}
	for _, t := range topics {
		if h.subs[t] == nil {
			h.subs[t] = make(map[*Subscription]struct{})
		}
		h.subs[t][s] = struct{}{}
	}
	return s, nil
}

// Publish delivers an event to every subscriber of the topic without
// blocking. A subscriber whose buffer is full keeps its older pending event,
// except that a session.ended event always replaces it.
// Returns the number of subscribers the event was delivered to.
func (h *Hub) Publish(topic string, ev Event) int {
	ev.Topic = topic
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for s := range h.subs[topic] {
		select {
		case s.ch <- ev:
			delivered++
			continue
		default:
		}
		if ev.Kind != KindSessionEnded {
			continue
		}
		// A session end displaces whatever is pending. Publishers hold
		// h.mu, so the freed slot cannot be taken by anyone else.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

// Close cancels all subscriptions and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make(map[*Subscription]struct{})
	for _, set := range h.subs {
		for s := range set {
			all[s] = struct{}{}
		}
	}
	h.closed = true
	h.mu.Unlock()

	for s := range all {
		s.Cancel()
	}
}

func (h *Hub) remove(s *Subscription) {
	s.once.Do(func() {
		h.mu.Lock()
		for _, t := range s.topics {
			delete(h.subs[t], s)
			if len(h.subs[t]) == 0 {
				delete(h.subs, t)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}
