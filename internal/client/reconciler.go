package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"kanban/internal/broadcast"
	"kanban/internal/models"
)

// API is the part of the server the reconciler talks to.
type API interface {
	Board(ctx context.Context, boardID int64) (models.BoardDetail, error)
	MoveTask(ctx context.Context, taskID, listID, index int64) (models.Task, error)
}

// MoveState is the lifecycle of one optimistic move.
type MoveState int

const (
	MoveIdle MoveState = iota
	MoveApplied
	MoveConfirmed
	MoveReverted
)

func (s MoveState) String() string {
	switch s {
	case MoveIdle:
		return "idle"
	case MoveApplied:
		return "applied"
	case MoveConfirmed:
		return "confirmed"
	case MoveReverted:
		return "reverted"
	}
	return fmt.Sprintf("MoveState(%d)", int(s))
}

// ErrNotLoaded is returned by Drop before the board state is known.
var ErrNotLoaded = errors.New("board not loaded")

// DropTarget is where a dragged task was released. BeforeTaskID names the
// task it was dropped on; zero means empty space at the end of the list.
type DropTarget struct {
	ListID       int64
	BeforeTaskID int64
}

// PendingMove tracks one optimistic move until the server settles it.
type PendingMove struct {
	TaskID int64
	ListID int64
	Index  int64

	mu    sync.Mutex
	state MoveState
	err   error
	done  chan struct{}
}

func newPendingMove(taskID, listID, index int64) *PendingMove {
	return &PendingMove{TaskID: taskID, ListID: listID, Index: index, done: make(chan struct{})}
}

// State returns the move's current state.
func (p *PendingMove) State() MoveState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure that reverted the move.
func (p *PendingMove) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the move is confirmed or reverted.
func (p *PendingMove) Wait(ctx context.Context) (MoveState, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.state, p.err
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
}

func (p *PendingMove) set(state MoveState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *PendingMove) settle(state MoveState, err error) {
	p.mu.Lock()
	p.state = state
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// OnChange registers a callback that receives a copy of the board after every
// local change. It runs outside the reconciler's lock.
func OnChange(fn func(models.BoardDetail)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// OnRevert registers a callback for moves the server rejected, for the user
// facing notification.
func OnRevert(fn func(taskID int64, err error)) Option {
	return func(r *Reconciler) { r.onRevert = fn }
}

// overlay is a local move replayed on top of the canonical board. Once the
// server confirms it, it carries the canonical target and stays until the
// move's own broadcast (or a newer snapshot) makes it redundant.
type overlay struct {
	move      *PendingMove
	taskID    int64
	listID    int64
	index     int64
	confirmed bool
	// tick orders confirmations against fetches.
	tick uint64
}

// Reconciler owns one viewer's copy of a board.
//
// It keeps the canonical board, built only from snapshots and broadcast
// events in delivery order, and a view: the canonical board with the local
// moves still in flight replayed on top, in the order they were made. Events
// never touch the optimistic moves directly, so merging another actor's
// change cannot shift a pending move or be shifted by it. A rejected move
// simply leaves the overlay and the board is refetched. Events that arrive
// during a refetch are held and replayed on top of the result.
type Reconciler struct {
	api      API
	boardID  int64
	logger   *slog.Logger
	onChange func(models.BoardDetail)
	onRevert func(int64, error)

	mu           sync.Mutex
	canonical    *BoardState
	view         *BoardState
	overlays     []*overlay
	tick         uint64
	fetching     bool
	refetchAgain bool
	buffered     []broadcast.Event
	// generation changes whenever a feed snapshot replaces the state, so a
	// fetch that started earlier knows its result is stale.
	generation uint64

	wg sync.WaitGroup
}

// NewReconciler creates a reconciler for boardID. Call Load or Reset before Drop.
func NewReconciler(api API, boardID int64, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:     api,
		boardID: boardID,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BoardID returns the board this reconciler follows.
func (r *Reconciler) BoardID() int64 {
	return r.boardID
}

// Snapshot returns a copy of the board as the viewer sees it, or false
// before the first load.
func (r *Reconciler) Snapshot() (models.BoardDetail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view == nil {
		return models.BoardDetail{}, false
	}
	return r.view.Snapshot(), true
}

// Load fetches the board and installs it as the local state.
func (r *Reconciler) Load(ctx context.Context) error {
	return r.refetch(ctx)
}

// Reset installs a snapshot received from the board feed. Events held from
// before the snapshot are discarded, and a fetch still in flight will not
// overwrite it. Moves still waiting for the server stay applied.
func (r *Reconciler) Reset(detail models.BoardDetail) {
	r.mu.Lock()
	r.canonical = NewBoardState(detail)
	r.buffered = nil
	r.generation++
	// A confirmed move is either in the snapshot or its broadcast follows it.
	r.dropConfirmedLocked(r.tick)
	r.rebuildLocked()
	snap := r.view.Snapshot()
	r.mu.Unlock()

	r.changed(snap)
}

// Drop applies a drag release locally and sends the move to the server in
// the background. Dropping on a task targets that task's current index;
// dropping on empty space targets the end of the list.
func (r *Reconciler) Drop(ctx context.Context, taskID int64, target DropTarget) (*PendingMove, error) {
	r.mu.Lock()
	if r.view == nil {
		r.mu.Unlock()
		return nil, ErrNotLoaded
	}
	index, err := r.dropIndexLocked(target)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	pm := newPendingMove(taskID, target.ListID, index)
	_, moved, err := r.view.ApplyMove(taskID, target.ListID, index)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if !moved {
		r.mu.Unlock()
		pm.settle(MoveConfirmed, nil)
		return pm, nil
	}
	pm.set(MoveApplied)
	r.overlays = append(r.overlays, &overlay{move: pm, taskID: taskID, listID: target.ListID, index: index})
	snap := r.view.Snapshot()
	r.mu.Unlock()

	r.changed(snap)
	r.logger.Debug("move applied", slog.Int64("task_id", taskID), slog.Int64("list_id", target.ListID), slog.Int64("index", index))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.send(ctx, pm)
	}()
	return pm, nil
}

func (r *Reconciler) dropIndexLocked(target DropTarget) (int64, error) {
	if target.BeforeTaskID == 0 {
		n := r.view.TaskCount(target.ListID)
		if n < 0 {
			return 0, fmt.Errorf("list %d: %w", target.ListID, models.ErrInvalidTarget)
		}
		return int64(n), nil
	}
	listID, idx, ok := r.view.IndexOf(target.BeforeTaskID)
	if !ok || listID != target.ListID {
		return 0, fmt.Errorf("task %d is not in list %d: %w", target.BeforeTaskID, target.ListID, models.ErrInvalidTarget)
	}
	return int64(idx), nil
}

func (r *Reconciler) send(ctx context.Context, pm *PendingMove) {
	task, err := r.api.MoveTask(ctx, pm.TaskID, pm.ListID, pm.Index)

	r.mu.Lock()
	o := r.findOverlayLocked(pm)
	if err != nil {
		if o != nil {
			r.removeOverlayLocked(o)
		}
		// The view falls back to the last canonical board even when the
		// refetch below cannot reach the server.
		r.rebuildLocked()
		snap := r.view.Snapshot()
		r.mu.Unlock()

		r.changed(snap)
		r.logger.Warn("move rejected, refetching board",
			slog.Int64("task_id", pm.TaskID),
			slog.String("error", err.Error()))
		if r.onRevert != nil {
			r.onRevert(pm.TaskID, err)
		}
		if ferr := r.refetch(context.WithoutCancel(ctx)); ferr != nil {
			r.logger.Error("refetch after revert failed", slog.Int64("board_id", r.boardID), slog.String("error", ferr.Error()))
		}
		pm.settle(MoveReverted, err)
		return
	}

	// A missing overlay was superseded by a broadcast for the same task,
	// which already carries a state at least as new as this response.
	if o != nil {
		r.tick++
		o.confirmed = true
		o.tick = r.tick
		o.listID = task.ListID
		o.index = task.Position
		r.rebuildLocked()
	}
	snap := r.view.Snapshot()
	r.mu.Unlock()

	r.changed(snap)
	pm.settle(MoveConfirmed, nil)
}

// HandleEvent merges a broadcast event into the canonical board. Membership
// events trigger a full refetch in the background.
func (r *Reconciler) HandleEvent(ctx context.Context, ev broadcast.Event) {
	if ev.BoardID != r.boardID {
		return
	}

	r.mu.Lock()
	if r.fetching || r.canonical == nil {
		r.buffered = append(r.buffered, ev)
		r.mu.Unlock()
		return
	}
	refetch := r.applyLocked(ev)
	r.rebuildLocked()
	snap := r.view.Snapshot()
	r.mu.Unlock()

	r.changed(snap)
	if refetch {
		r.refetchAsync(ctx)
	}
}

// applyLocked merges one event into the canonical board and reports whether
// the board must be refetched.
func (r *Reconciler) applyLocked(ev broadcast.Event) bool {
	switch p := ev.Payload.(type) {
	case broadcast.TaskMoved:
		r.canonical.UpsertTask(p.Task)
		r.dropOverlaysLocked(p.TaskID)
	case broadcast.TaskCreated:
		r.canonical.UpsertTask(p.Task)
	case broadcast.TaskUpdated:
		r.canonical.UpsertTask(p.Task)
	case broadcast.TaskDeleted:
		r.canonical.RemoveTask(p.Task.ID)
		r.dropOverlaysLocked(p.Task.ID)
	case broadcast.ListCreated:
		r.canonical.UpsertList(p.List)
	case broadcast.ListUpdated:
		r.canonical.UpsertList(p.List)
	case broadcast.ListDeleted:
		r.canonical.RemoveList(p.List.ID)
		for _, id := range p.TaskIDs {
			r.dropOverlaysLocked(id)
		}
	case broadcast.ListsReordered:
		r.canonical.ReorderLists(p.Lists)
	case broadcast.BoardUpdated:
		r.canonical.SetBoard(p.Board)
	case broadcast.MemberAdded:
		return true
	case broadcast.MemberRemoved:
		return true
	default:
		r.logger.Warn("ignoring event", slog.String("kind", string(ev.Kind())))
	}
	return false
}

// rebuildLocked recomputes the view from the canonical board and the
// overlays. A move whose task or list no longer exists is skipped.
func (r *Reconciler) rebuildLocked() {
	if r.canonical == nil {
		return
	}
	r.view = NewBoardState(r.canonical.Snapshot())
	for _, o := range r.overlays {
		if _, _, err := r.view.ApplyMove(o.taskID, o.listID, o.index); err != nil {
			r.logger.Debug("skipping local move", slog.Int64("task_id", o.taskID), slog.String("error", err.Error()))
		}
	}
}

func (r *Reconciler) findOverlayLocked(pm *PendingMove) *overlay {
	for _, o := range r.overlays {
		if o.move == pm {
			return o
		}
	}
	return nil
}

func (r *Reconciler) removeOverlayLocked(target *overlay) {
	r.filterOverlaysLocked(func(o *overlay) bool { return o == target })
}

// dropOverlaysLocked forgets every local move of taskID: a broadcast for the
// task is authoritative over anything this viewer still has in flight.
func (r *Reconciler) dropOverlaysLocked(taskID int64) {
	r.filterOverlaysLocked(func(o *overlay) bool { return o.taskID == taskID })
}

// dropConfirmedLocked forgets confirmed moves whose confirmation is not
// newer than tick.
func (r *Reconciler) dropConfirmedLocked(tick uint64) {
	r.filterOverlaysLocked(func(o *overlay) bool { return o.confirmed && o.tick <= tick })
}

func (r *Reconciler) filterOverlaysLocked(remove func(*overlay) bool) {
	kept := r.overlays[:0]
	for _, o := range r.overlays {
		if !remove(o) {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(r.overlays); i++ {
		r.overlays[i] = nil
	}
	r.overlays = kept
}

// refetch replaces the canonical board with a fresh copy. Events received
// meanwhile are replayed on top of it. Concurrent callers share one fetch.
func (r *Reconciler) refetch(ctx context.Context) error {
	r.mu.Lock()
	if r.fetching {
		r.refetchAgain = true
		r.mu.Unlock()
		return nil
	}
	r.fetching = true
	r.mu.Unlock()

	for {
		r.mu.Lock()
		generation := r.generation
		tick := r.tick
		r.mu.Unlock()

		detail, err := r.api.Board(ctx, r.boardID)

		r.mu.Lock()
		replay := r.takeBufferedLocked()
		if err != nil {
			r.fetching = false
			r.refetchAgain = false
			if r.canonical == nil {
				r.buffered = replay
				r.mu.Unlock()
				return fmt.Errorf("fetch board %d: %w", r.boardID, err)
			}
			again := r.replayLocked(replay)
			r.rebuildLocked()
			snap := r.view.Snapshot()
			r.mu.Unlock()

			r.changed(snap)
			if again {
				r.refetchAsync(ctx)
			}
			return fmt.Errorf("fetch board %d: %w", r.boardID, err)
		}
		if r.canonical == nil || generation == r.generation {
			r.canonical = NewBoardState(detail)
			// Moves confirmed before the fetch started are part of detail.
			r.dropConfirmedLocked(tick)
		}
		again := r.replayLocked(replay) || r.refetchAgain
		r.refetchAgain = false
		if !again {
			r.fetching = false
		}
		r.rebuildLocked()
		snap := r.view.Snapshot()
		r.mu.Unlock()

		r.changed(snap)
		if !again {
			return nil
		}
	}
}

func (r *Reconciler) refetchAsync(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.refetch(ctx); err != nil {
			r.logger.Error("refetch failed", slog.Int64("board_id", r.boardID), slog.String("error", err.Error()))
		}
	}()
}

func (r *Reconciler) takeBufferedLocked() []broadcast.Event {
	out := r.buffered
	r.buffered = nil
	return out
}

// replayLocked applies held events in arrival order.
func (r *Reconciler) replayLocked(events []broadcast.Event) bool {
	refetch := false
	for _, ev := range events {
		if r.applyLocked(ev) {
			refetch = true
		}
	}
	return refetch
}

func (r *Reconciler) changed(snap models.BoardDetail) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}

// Wait blocks until background sends and refetches have finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
