package broadcast

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Relay forwards locally published events to other server instances.
type Relay interface {
	Forward(ctx context.Context, ev Event) error
}

// Subscription is one viewer's membership in a board topic.
type Subscription struct {
	BoardID  int64
	ViewerID string

	events chan Event
	once   sync.Once
}

// Events yields the topic's events in publish order. The channel is closed
// when the subscription ends, including when the viewer fell too far behind.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

type topic struct {
	seq  uint64
	subs map[string]*Subscription
}

// Hub is the registry of board topics and their subscribers.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	topics map[int64]*topic
	relay  Relay
}

// NewHub creates an empty registry. buffer bounds how many undelivered events
// a subscriber may hold before it is dropped.
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{logger: logger, buffer: buffer, topics: make(map[int64]*topic)}
}

// SetRelay installs a relay for cross-instance fan-out.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Subscribe joins viewerID to the board topic. A previous subscription of the
// same viewer on the same board is closed and replaced.
func (h *Hub) Subscribe(boardID int64, viewerID string) *Subscription {
	sub := &Subscription{BoardID: boardID, ViewerID: viewerID, events: make(chan Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[boardID]
	if !ok {
		t = &topic{subs: make(map[string]*Subscription)}
		h.topics[boardID] = t
	}
	if prev, ok := t.subs[viewerID]; ok {
		prev.close()
	}
	t.subs[viewerID] = sub
	return sub
}

// Unsubscribe removes viewerID from the board topic and closes its channel.
func (h *Hub) Unsubscribe(boardID int64, viewerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(boardID, viewerID, nil)
}

// Release ends sub if it is still the viewer's active subscription.
func (h *Hub) Release(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub.BoardID, sub.ViewerID, sub)
	sub.close()
}

func (h *Hub) removeLocked(boardID int64, viewerID string, only *Subscription) {
	t, ok := h.topics[boardID]
	if !ok {
		return
	}
	sub, ok := t.subs[viewerID]
	if !ok || (only != nil && sub != only) {
		return
	}
	delete(t.subs, viewerID)
	sub.close()
	if len(t.subs) == 0 {
		delete(h.topics, boardID)
	}
}

// CloseBoard ends every subscription on the board, for instance after it was deleted.
func (h *Hub) CloseBoard(boardID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[boardID]
	if !ok {
		return
	}
	for _, sub := range t.subs {
		sub.close()
	}
	delete(h.topics, boardID)
}

// Subscribers returns how many viewers are on the board topic.
func (h *Hub) Subscribers(boardID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[boardID]; ok {
		return len(t.subs)
	}
	return 0
}

// Publish delivers ev to every local subscriber of its board and then hands
// it to the relay. It returns the event as delivered, with ID and Seq set.
// Callers publish right after their transaction commits, from the same
// goroutine, so subscribers observe commit order.
func (h *Hub) Publish(ctx context.Context, ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev = h.Deliver(ev)

	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay != nil {
		if err := relay.Forward(ctx, ev); err != nil {
			h.logger.Warn("relay forward failed",
				slog.Int64("board_id", ev.BoardID),
				slog.String("kind", string(ev.Kind())),
				slog.String("error", err.Error()))
		}
	}
	return ev
}

// Deliver fans ev out to local subscribers only. Sequence numbers are
// assigned per topic while the registry lock is held, so the delivery order
// on every subscriber channel matches the sequence.
func (h *Hub) Deliver(ev Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[ev.BoardID]
	if !ok {
		return ev
	}
	t.seq++
	ev.Seq = t.seq
	for viewerID, sub := range t.subs {
		select {
		case sub.events <- ev:
		default:
			// Best effort: a viewer that cannot keep up is cut off and
			// resynchronizes with a fresh snapshot when it reconnects.
			h.logger.Debug("dropping slow subscriber",
				slog.Int64("board_id", ev.BoardID),
				slog.String("viewer_id", viewerID))
			delete(t.subs, viewerID)
			sub.close()
		}
	}
	if len(t.subs) == 0 {
		delete(h.topics, ev.BoardID)
	}
	return ev
}
