package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/internal/models"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %s", ev.Kind())
		}
	default:
	}
}

func TestPublishIsScopedToBoard(t *testing.T) {
	hub := NewHub(nil, 8)
	a := hub.Subscribe(1, "alice")
	b := hub.Subscribe(2, "bob")

	hub.Publish(context.Background(), NewEvent(1, "alice", BoardUpdated{Board: models.Board{ID: 1, Title: "Renamed"}}))

	ev := receive(t, a)
	assert.Equal(t, BoardUpdatedKind, ev.Kind())
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, uint64(1), ev.Seq)
	assertNoEvent(t, b)
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub(nil, 16)
	sub := hub.Subscribe(1, "viewer")

	for i := int64(0); i < 10; i++ {
		hub.Publish(context.Background(), NewEvent(1, "alice", TaskCreated{Task: models.Task{ID: i}}))
	}
	for i := int64(0); i < 10; i++ {
		ev := receive(t, sub)
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, i, ev.Payload.(TaskCreated).Task.ID)
	}
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	hub := NewHub(nil, 4)
	first := hub.Subscribe(1, "viewer")
	second := hub.Subscribe(1, "viewer")
	assert.Equal(t, 1, hub.Subscribers(1))

	_, ok := <-first.Events()
	assert.False(t, ok, "replaced subscription must be closed")

	// Releasing the stale handle leaves the active one alone.
	hub.Release(first)
	assert.Equal(t, 1, hub.Subscribers(1))

	hub.Unsubscribe(1, "viewer")
	_, ok = <-second.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers(1))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(nil, 1)
	slow := hub.Subscribe(1, "slow")
	fast := hub.Subscribe(1, "fast")

	hub.Publish(context.Background(), NewEvent(1, "a", TaskDeleted{}))
	receive(t, fast)
	hub.Publish(context.Background(), NewEvent(1, "a", TaskDeleted{}))
	receive(t, fast)

	assert.Equal(t, 1, hub.Subscribers(1))
	receive(t, slow)
	_, ok := <-slow.Events()
	assert.False(t, ok)
}

func TestCloseBoard(t *testing.T) {
	hub := NewHub(nil, 1)
	sub := hub.Subscribe(3, "viewer")
	hub.CloseBoard(3)
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers(3))
}

type failingRelay struct{ calls int }

func (f *failingRelay) Forward(context.Context, Event) error {
	f.calls++
	return errors.New("redis down")
}

func TestRelayFailureDoesNotAffectLocalDelivery(t *testing.T) {
	hub := NewHub(nil, 4)
	relay := &failingRelay{}
	hub.SetRelay(relay)
	sub := hub.Subscribe(1, "viewer")

	hub.Publish(context.Background(), NewEvent(1, "a", ListCreated{List: models.List{ID: 9}}))
	receive(t, sub)
	assert.Equal(t, 1, relay.calls)
}

func TestEventJSONRoundTripDispatchesOnKind(t *testing.T) {
	ev := Event{ID: "e1", Seq: 4, BoardID: 1, ActorID: "alice", Payload: TaskMoved{
		TaskID: 7, FromListID: 1, ToListID: 2, Position: 0,
		Task: models.Task{ID: 7, ListID: 2, Title: "T1", Assignees: []string{"bob"}},
	}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "TASK_MOVED", raw["kind"])

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	moved, ok := decoded.Payload.(TaskMoved)
	require.True(t, ok, "payload type %T", decoded.Payload)
	assert.Equal(t, int64(2), moved.ToListID)
	assert.Equal(t, []string{"bob"}, moved.Task.Assignees)

	err = json.Unmarshal([]byte(`{"kind":"TASK_EXPLODED","payload":{}}`), &decoded)
	assert.Error(t, err)
}
