// Package board implements every board mutation: authorization, the
// transactional store call, and publication of the resulting event.
package board

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kanban/internal/broadcast"
	"kanban/internal/models"
)

const tracerName = "kanban/internal/board"

// Store is the persistence the service needs. Every mutating method runs in
// one transaction and either commits fully or not at all.
type Store interface {
	RoleOf(ctx context.Context, boardID int64, userID string) (models.Role, error)
	BoardIDForList(ctx context.Context, listID int64) (int64, error)
	BoardIDForTask(ctx context.Context, taskID int64) (int64, error)

	ListBoards(ctx context.Context, userID string) ([]models.Board, error)
	CreateBoard(ctx context.Context, title, ownerID string) (models.Board, error)
	BoardDetail(ctx context.Context, boardID int64) (models.BoardDetail, error)
	UpdateBoard(ctx context.Context, id int64, title string) (models.Board, error)
	DeleteBoard(ctx context.Context, id int64) error

	ListMembers(ctx context.Context, boardID int64) ([]models.Member, error)
	AddMember(ctx context.Context, boardID int64, userID string, role models.Role) (models.Member, error)
	RemoveMember(ctx context.Context, boardID int64, userID string) error

	CreateList(ctx context.Context, boardID int64, title string, position *int64) (models.List, error)
	UpdateList(ctx context.Context, id int64, title string) (models.List, error)
	DeleteList(ctx context.Context, id int64) (models.List, []int64, error)
	MoveList(ctx context.Context, id, index int64) ([]models.List, bool, error)

	GetTask(ctx context.Context, id int64) (models.Task, error)
	CreateTask(ctx context.Context, t models.Task, position *int64) (models.Task, error)
	UpdateTask(ctx context.Context, id int64, changes models.TaskChanges) (models.Task, error)
	DeleteTask(ctx context.Context, id int64) (models.Task, error)
	MoveTask(ctx context.Context, taskID, toListID, index int64) (models.MoveResult, error)
	AssignTask(ctx context.Context, taskID int64, userID string) (models.Task, error)
	UnassignTask(ctx context.Context, taskID int64, userID string) (models.Task, error)

	SearchTasks(ctx context.Context, boardID int64, query string, limit int) ([]models.Task, error)
	ListActivity(ctx context.Context, boardID int64, limit int) ([]models.Activity, error)
}

// Publisher delivers committed events to the board's viewers.
type Publisher interface {
	Publish(ctx context.Context, ev broadcast.Event) broadcast.Event
	CloseBoard(boardID int64)
}

// ActivityRecorder appends audit entries without blocking.
type ActivityRecorder interface {
	Record(a models.Activity)
}

// Service coordinates board mutations.
//
// Mutations on one board are serialized by a per-board lock held across the
// store transaction and the publish, so the order in which viewers receive
// events is the order in which the transactions committed. Different boards
// proceed in parallel.
type Service struct {
	store     Store
	publisher Publisher
	activity  ActivityRecorder
	logger    *slog.Logger
	locks     *boardLocks
}

// NewService wires a service. logger may be nil.
func NewService(store Store, publisher Publisher, activity ActivityRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:     store,
		publisher: publisher,
		activity:  activity,
		logger:    logger,
		locks:     newBoardLocks(),
	}
}

// HasAccess reports whether userID is a member of the board.
func (s *Service) HasAccess(ctx context.Context, userID string, boardID int64) (bool, error) {
	role, err := s.store.RoleOf(ctx, boardID, userID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}

// RoleOf returns userID's role on the board, "" when not a member.
func (s *Service) RoleOf(ctx context.Context, userID string, boardID int64) (models.Role, error) {
	return s.store.RoleOf(ctx, boardID, userID)
}

// authorize returns ErrNotFound for non-members and ErrForbidden when the
// member's role fails allowed.
func (s *Service) authorize(ctx context.Context, actorID string, boardID int64, allowed func(models.Role) bool) (models.Role, error) {
	role, err := s.store.RoleOf(ctx, boardID, actorID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", fmt.Errorf("board %d: %w", boardID, models.ErrNotFound)
	}
	if allowed != nil && !allowed(role) {
		return role, fmt.Errorf("role %s on board %d: %w", role, boardID, models.ErrForbidden)
	}
	return role, nil
}

func anyMember(models.Role) bool { return true }

func manager(r models.Role) bool { return r.CanManage() }

func ownerOnly(r models.Role) bool { return r == models.RoleOwner }

// publish must be called while holding the board lock, right after commit.
func (s *Service) publish(ctx context.Context, boardID int64, actorID string, payload broadcast.Payload) {
	if s.publisher == nil {
		return
	}
	ev := s.publisher.Publish(ctx, broadcast.NewEvent(boardID, actorID, payload))
	s.logger.Debug("event published",
		slog.Int64("board_id", boardID),
		slog.String("kind", string(ev.Kind())),
		slog.Uint64("seq", ev.Seq))
}

func (s *Service) record(boardID int64, actorID, kind, message string, taskID *int64) {
	if s.activity == nil {
		return
	}
	s.activity.Record(models.Activity{
		BoardID:       boardID,
		ActorID:       actorID,
		Kind:          kind,
		Message:       message,
		RelatedTaskID: taskID,
	})
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type boardLock struct {
	mu   sync.Mutex
	refs int
}

// boardLocks hands out one mutex per board and forgets it when unused.
type boardLocks struct {
	mu    sync.Mutex
	locks map[int64]*boardLock
}

func newBoardLocks() *boardLocks {
	return &boardLocks{locks: make(map[int64]*boardLock)}
}

func (b *boardLocks) lock(boardID int64) (unlock func()) {
	b.mu.Lock()
	l, ok := b.locks[boardID]
	if !ok {
		l = &boardLock{}
		b.locks[boardID] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, boardID)
		}
		b.mu.Unlock()
	}
}
