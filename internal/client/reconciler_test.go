package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/internal/broadcast"
	"kanban/internal/models"
)

// fakeAPI holds the authoritative board in a BoardState of its own.
type fakeAPI struct {
	mu         sync.Mutex
	server     *BoardState
	moveErr    error
	boardErr   error
	boardCalls int

	moveGate  chan struct{}
	boardGate chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{server: NewBoardState(sampleBoard())}
}

func (f *fakeAPI) Board(ctx context.Context, boardID int64) (models.BoardDetail, error) {
	if f.boardGate != nil {
		select {
		case <-f.boardGate:
		case <-ctx.Done():
			return models.BoardDetail{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boardCalls++
	if f.boardErr != nil {
		return models.BoardDetail{}, f.boardErr
	}
	return f.server.Snapshot(), nil
}

func (f *fakeAPI) MoveTask(ctx context.Context, taskID, listID, index int64) (models.Task, error) {
	if f.moveGate != nil {
		select {
		case <-f.moveGate:
		case <-ctx.Done():
			return models.Task{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return models.Task{}, f.moveErr
	}
	t, _, err := f.server.ApplyMove(taskID, listID, index)
	return t, err
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boardCalls
}

func loaded(t *testing.T, api API, opts ...Option) *Reconciler {
	t.Helper()
	r := NewReconciler(api, 1, opts...)
	require.NoError(t, r.Load(context.Background()))
	return r
}

func snapshot(t *testing.T, r *Reconciler) models.BoardDetail {
	t.Helper()
	snap, ok := r.Snapshot()
	require.True(t, ok)
	return snap
}

func waitMove(t *testing.T, pm *PendingMove) MoveState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, _ := pm.Wait(ctx)
	require.NoError(t, ctx.Err())
	return state
}

func movedEvent(seq uint64, tk models.Task, from int64) broadcast.Event {
	return broadcast.Event{
		ID:      fmt.Sprintf("ev-%d", seq),
		Seq:     seq,
		BoardID: 1,
		ActorID: "bob",
		Payload: broadcast.TaskMoved{TaskID: tk.ID, FromListID: from, ToListID: tk.ListID, Position: tk.Position, Task: tk},
	}
}

func TestDropAppliesThenConfirms(t *testing.T) {
	api := newFakeAPI()
	api.moveGate = make(chan struct{})
	r := loaded(t, api)

	pm, err := r.Drop(context.Background(), 1, DropTarget{ListID: done})
	require.NoError(t, err)
	assert.Equal(t, MoveApplied, pm.State())
	assert.Equal(t, int64(1), pm.Index, "empty space targets the list length")

	snap := snapshot(t, r)
	assert.Equal(t, []string{"T2", "T3"}, titles(t, snap, backlog))
	assert.Equal(t, []string{"T4", "T1"}, titles(t, snap, done))

	close(api.moveGate)
	assert.Equal(t, MoveConfirmed, waitMove(t, pm))
	assert.Equal(t, api.server.Snapshot().Lists, snapshot(t, r).Lists)
	assert.Equal(t, 1, api.calls())
}

func TestDropOnTaskTargetsItsIndex(t *testing.T) {
	api := newFakeAPI()
	r := loaded(t, api)

	// Dropping T1 onto T3 within Backlog targets index 2.
	pm, err := r.Drop(context.Background(), 1, DropTarget{ListID: backlog, BeforeTaskID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), pm.Index)
	assert.Equal(t, MoveConfirmed, waitMove(t, pm))
	assert.Equal(t, []string{"T2", "T3", "T1"}, titles(t, snapshot(t, r), backlog))

	_, err = r.Drop(context.Background(), 2, DropTarget{ListID: done, BeforeTaskID: 3})
	assert.ErrorIs(t, err, models.ErrInvalidTarget)
}

func TestDropOnCurrentSlotSendsNothing(t *testing.T) {
	api := newFakeAPI()
	api.moveErr = fmt.Errorf("must not be called: %w", models.ErrInvalidTarget)
	r := loaded(t, api)

	pm, err := r.Drop(context.Background(), 2, DropTarget{ListID: backlog, BeforeTaskID: 2})
	require.NoError(t, err)
	assert.Equal(t, MoveConfirmed, waitMove(t, pm))
	r.Wait()
	assert.Equal(t, 1, api.calls())
}

func TestDropBeforeLoad(t *testing.T) {
	r := NewReconciler(newFakeAPI(), 1)
	_, err := r.Drop(context.Background(), 1, DropTarget{ListID: done})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

// A rejected move must not leave the optimistic guess behind: the board is
// refetched and the user is told.
func TestRejectedMoveRevertsViaRefetch(t *testing.T) {
	api := newFakeAPI()
	api.moveErr = &APIError{Status: 404, Message: "task 1: not found"}

	var (
		mu       sync.Mutex
		notified []int64
	)
	r := loaded(t, api, OnRevert(func(taskID int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.ErrorIs(t, err, models.ErrNotFound)
		notified = append(notified, taskID)
	}))

	pm, err := r.Drop(context.Background(), 1, DropTarget{ListID: done, BeforeTaskID: 4})
	require.NoError(t, err)

	assert.Equal(t, MoveReverted, waitMove(t, pm))
	assert.ErrorIs(t, pm.Err(), models.ErrNotFound)

	snap := snapshot(t, r)
	assert.Equal(t, []string{"T1", "T2", "T3"}, titles(t, snap, backlog))
	assert.Equal(t, []string{"T4"}, titles(t, snap, done))
	assert.Equal(t, 2, api.calls(), "initial load plus the refetch")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1}, notified)
}

func TestHandleEventIsIdempotent(t *testing.T) {
	r := loaded(t, newFakeAPI())

	canonical := task(3, done, "T3")
	canonical.Position = 0
	ev := movedEvent(1, canonical, backlog)

	r.HandleEvent(context.Background(), ev)
	once := snapshot(t, r)
	r.HandleEvent(context.Background(), ev)
	twice := snapshot(t, r)

	assert.Equal(t, once, twice)
	assert.Equal(t, []string{"T1", "T2"}, titles(t, twice, backlog))
	assert.Equal(t, []string{"T3", "T4"}, titles(t, twice, done))
}

func TestHandleEventVariants(t *testing.T) {
	r := loaded(t, newFakeAPI())
	ctx := context.Background()

	created := task(5, backlog, "T5")
	created.Position = 1
	r.HandleEvent(ctx, broadcast.Event{BoardID: 1, Payload: broadcast.TaskCreated{Task: created}})
	// replay of a create must not duplicate
	r.HandleEvent(ctx, broadcast.Event{BoardID: 1, Payload: broadcast.TaskCreated{Task: created}})

	updated := task(2, backlog, "T2 edited")
	updated.Position = 2
	r.HandleEvent(ctx, broadcast.Event{BoardID: 1, Payload: broadcast.TaskUpdated{Task: updated}})
	r.HandleEvent(ctx, broadcast.Event{BoardID: 1, Payload: broadcast.TaskDeleted{Task: task(4, done, "T4")}})
	r.HandleEvent(ctx, broadcast.Event{BoardID: 1, Payload: broadcast.BoardUpdated{Board: models.Board{ID: 1, Title: "Renamed"}}})
	r.HandleEvent(ctx, broadcast.Event{BoardID: 1, Payload: broadcast.ListCreated{List: models.List{ID: 30, BoardID: 1, Title: "Doing", Position: 1}}})
	r.HandleEvent(ctx, broadcast.Event{BoardID: 2, Payload: broadcast.ListDeleted{List: models.List{ID: backlog}}})

	snap := snapshot(t, r)
	assert.Equal(t, "Renamed", snap.Board.Title)
	assert.Equal(t, []string{"T1", "T5", "T2 edited", "T3"}, titles(t, snap, backlog))
	assert.Empty(t, titles(t, snap, done))
	require.Len(t, snap.Lists, 3)
	assert.Equal(t, int64(30), snap.Lists[1].ID)

	r.HandleEvent(ctx, broadcast.Event{BoardID: 1, Payload: broadcast.ListDeleted{List: models.List{ID: backlog}, TaskIDs: []int64{1, 5, 2, 3}}})
	snap = snapshot(t, r)
	require.Len(t, snap.Lists, 2)
	_, ok := r.view.Task(1)
	assert.False(t, ok)
}

// Another actor's move that commits after ours is authoritative: our own
// response must not be merged on top of it.
func TestBroadcastSupersedesOptimisticMove(t *testing.T) {
	api := newFakeAPI()
	api.moveGate = make(chan struct{})
	r := loaded(t, api)

	pm, err := r.Drop(context.Background(), 1, DropTarget{ListID: done})
	require.NoError(t, err)

	theirs := task(1, backlog, "T1")
	theirs.Position = 2
	r.HandleEvent(context.Background(), movedEvent(7, theirs, done))

	close(api.moveGate)
	assert.Equal(t, MoveConfirmed, waitMove(t, pm))

	snap := snapshot(t, r)
	assert.Equal(t, []string{"T2", "T3", "T1"}, titles(t, snap, backlog))
	assert.Equal(t, []string{"T4"}, titles(t, snap, done))
}

func TestEventsDuringRefetchAreReplayed(t *testing.T) {
	api := newFakeAPI()
	r := NewReconciler(api, 1)
	api.boardGate = make(chan struct{})

	loadErr := make(chan error, 1)
	go func() { loadErr <- r.Load(context.Background()) }()

	created := task(9, done, "late")
	created.Position = 0
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.fetching
	}, time.Second, time.Millisecond)
	r.HandleEvent(context.Background(), broadcast.Event{BoardID: 1, Seq: 1, Payload: broadcast.TaskCreated{Task: created}})

	close(api.boardGate)
	require.NoError(t, <-loadErr)

	assert.Equal(t, []string{"late", "T4"}, titles(t, snapshot(t, r), done))
}

func TestMembershipEventTriggersRefetch(t *testing.T) {
	api := newFakeAPI()
	r := loaded(t, api)

	r.HandleEvent(context.Background(), broadcast.Event{BoardID: 1, Payload: broadcast.MemberAdded{
		Member:  models.Member{BoardID: 1, UserID: "carol", Role: models.RoleMember},
		Refetch: true,
	}})
	r.Wait()
	assert.Equal(t, 2, api.calls())
}

func TestResetDiscardsStaleBuffer(t *testing.T) {
	api := newFakeAPI()
	r := NewReconciler(api, 1)

	// Held before any state exists, then superseded by the snapshot.
	stale := task(1, done, "T1")
	r.HandleEvent(context.Background(), movedEvent(1, stale, backlog))

	r.Reset(sampleBoard())
	snap := snapshot(t, r)
	assert.Equal(t, []string{"T1", "T2", "T3"}, titles(t, snap, backlog))
}

func TestOnChangeSeesEveryLocalChange(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	api := newFakeAPI()
	r := loaded(t, api, OnChange(func(models.BoardDetail) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	pm, err := r.Drop(context.Background(), 2, DropTarget{ListID: done})
	require.NoError(t, err)
	waitMove(t, pm)

	mu.Lock()
	defer mu.Unlock()
	// load, optimistic apply, canonical merge
	assert.Equal(t, 3, count)
}

// An update to another task while a move is in flight must not shift either
// of them in the local order.
func TestUpdateDuringPendingMoveKeepsServerOrder(t *testing.T) {
	api := newFakeAPI()
	api.moveGate = make(chan struct{})
	r := loaded(t, api)

	pm, err := r.Drop(context.Background(), 1, DropTarget{ListID: backlog})
	require.NoError(t, err)
	assert.Equal(t, []string{"T2", "T3", "T1"}, titles(t, snapshot(t, r), backlog))

	edited := task(2, backlog, "T2")
	edited.Position = 1
	edited.Description = "details"
	r.HandleEvent(context.Background(), broadcast.Event{BoardID: 1, Seq: 1, Payload: broadcast.TaskUpdated{Task: edited}})
	assert.Equal(t, []string{"T2", "T3", "T1"}, titles(t, snapshot(t, r), backlog))

	close(api.moveGate)
	require.Equal(t, MoveConfirmed, waitMove(t, pm))

	moved, ok := api.server.Task(1)
	require.True(t, ok)
	r.HandleEvent(context.Background(), movedEvent(2, moved, backlog))

	want := titles(t, api.server.Snapshot(), backlog)
	assert.Equal(t, []string{"T2", "T3", "T1"}, want)
	assert.Equal(t, want, titles(t, snapshot(t, r), backlog))
	got, ok := r.view.Task(2)
	require.True(t, ok)
	assert.Equal(t, "details", got.Description)
}

// The response to our move can overtake the broadcast of a move another
// actor committed just before it.
func TestEarlierCommitDeliveredAfterResponse(t *testing.T) {
	api := newFakeAPI()
	api.moveGate = make(chan struct{})
	r := loaded(t, api)

	pm, err := r.Drop(context.Background(), 1, DropTarget{ListID: backlog})
	require.NoError(t, err)

	// Someone else moves T3 to index 1 and commits first.
	api.mu.Lock()
	theirs, _, err := api.server.ApplyMove(3, backlog, 1)
	api.mu.Unlock()
	require.NoError(t, err)

	close(api.moveGate)
	require.Equal(t, MoveConfirmed, waitMove(t, pm))
	ours, ok := api.server.Task(1)
	require.True(t, ok)

	r.HandleEvent(context.Background(), movedEvent(1, theirs, backlog))
	assert.Equal(t, []string{"T3", "T2", "T1"}, titles(t, snapshot(t, r), backlog))
	r.HandleEvent(context.Background(), movedEvent(2, ours, backlog))

	assert.Equal(t, titles(t, api.server.Snapshot(), backlog), titles(t, snapshot(t, r), backlog))
}

func TestRevertWithoutNetworkRestoresLastKnownBoard(t *testing.T) {
	api := newFakeAPI()
	r := loaded(t, api)
	offline := errors.New("network unreachable")
	api.moveErr = offline
	api.boardErr = offline

	pm, err := r.Drop(context.Background(), 1, DropTarget{ListID: done})
	require.NoError(t, err)

	assert.Equal(t, MoveReverted, waitMove(t, pm))
	assert.ErrorIs(t, pm.Err(), offline)
	snap := snapshot(t, r)
	assert.Equal(t, []string{"T1", "T2", "T3"}, titles(t, snap, backlog))
	assert.Equal(t, []string{"T4"}, titles(t, snap, done))
}

func TestMembershipEventHeldDuringFailedRefetchStillRefetches(t *testing.T) {
	api := newFakeAPI()
	r := loaded(t, api)
	api.boardGate = make(chan struct{})
	api.boardErr = errors.New("unavailable")

	added := broadcast.Event{BoardID: 1, Payload: broadcast.MemberAdded{
		Member:  models.Member{BoardID: 1, UserID: "carol", Role: models.RoleMember},
		Refetch: true,
	}}
	r.HandleEvent(context.Background(), added)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.fetching
	}, time.Second, time.Millisecond)
	r.HandleEvent(context.Background(), added)

	close(api.boardGate)
	r.Wait()
	// initial load, the failed refetch, and the one the held event asked for
	assert.Equal(t, 3, api.calls())
}
