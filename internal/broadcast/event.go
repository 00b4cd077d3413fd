package broadcast

import (
	"encoding/json"
	"fmt"

	"kanban/internal/models"
)

// Kind tags the payload carried by an Event.
type Kind string

const (
	TaskMovedKind      Kind = "TASK_MOVED"
	TaskCreatedKind    Kind = "TASK_CREATED"
	TaskUpdatedKind    Kind = "TASK_UPDATED"
	TaskDeletedKind    Kind = "TASK_DELETED"
	ListCreatedKind    Kind = "LIST_CREATED"
	ListUpdatedKind    Kind = "LIST_UPDATED"
	ListDeletedKind    Kind = "LIST_DELETED"
	ListsReorderedKind Kind = "LISTS_REORDERED"
	BoardUpdatedKind   Kind = "BOARD_UPDATED"
	MemberAddedKind    Kind = "MEMBER_ADDED"
	MemberRemovedKind  Kind = "MEMBER_REMOVED"
)

// Payload is implemented by every event variant.
type Payload interface {
	Kind() Kind
}

// TaskMoved carries the canonical task after a move.
type TaskMoved struct {
	TaskID     int64       `json:"task_id"`
	FromListID int64       `json:"from_list_id"`
	ToListID   int64       `json:"to_list_id"`
	Position   int64       `json:"position"`
	Task       models.Task `json:"task"`
}

type TaskCreated struct {
	Task models.Task `json:"task"`
}

// TaskUpdated is also sent for assignment changes.
type TaskUpdated struct {
	Task models.Task `json:"task"`
}

type TaskDeleted struct {
	Task models.Task `json:"task"`
}

type ListCreated struct {
	List models.List `json:"list"`
}

type ListUpdated struct {
	List models.List `json:"list"`
}

// ListDeleted names the tasks that were removed together with the list.
type ListDeleted struct {
	List    models.List `json:"list"`
	TaskIDs []int64     `json:"task_ids"`
}

// ListsReordered carries every list of the board in its new order.
type ListsReordered struct {
	Lists []models.List `json:"lists"`
}

type BoardUpdated struct {
	Board models.Board `json:"board"`
}

// MemberAdded asks subscribers to refetch the board.
type MemberAdded struct {
	Member  models.Member `json:"member"`
	Refetch bool          `json:"refetch"`
}

// MemberRemoved asks subscribers to refetch the board.
type MemberRemoved struct {
	UserID  string `json:"user_id"`
	Refetch bool   `json:"refetch"`
}

func (TaskMoved) Kind() Kind      { return TaskMovedKind }
func (TaskCreated) Kind() Kind    { return TaskCreatedKind }
func (TaskUpdated) Kind() Kind    { return TaskUpdatedKind }
func (TaskDeleted) Kind() Kind    { return TaskDeletedKind }
func (ListCreated) Kind() Kind    { return ListCreatedKind }
func (ListUpdated) Kind() Kind    { return ListUpdatedKind }
func (ListDeleted) Kind() Kind    { return ListDeletedKind }
func (ListsReordered) Kind() Kind { return ListsReorderedKind }
func (BoardUpdated) Kind() Kind   { return BoardUpdatedKind }
func (MemberAdded) Kind() Kind    { return MemberAddedKind }
func (MemberRemoved) Kind() Kind  { return MemberRemovedKind }

// Event is a committed change on a board. ID and Seq are assigned by the Hub.
type Event struct {
	ID      string
	Seq     uint64
	BoardID int64
	ActorID string
	Payload Payload
}

// NewEvent builds an unpublished event.
func NewEvent(boardID int64, actorID string, payload Payload) Event {
	return Event{BoardID: boardID, ActorID: actorID, Payload: payload}
}

// Kind returns the tag of the event's payload.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type wireEvent struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	BoardID int64           `json:"board_id"`
	ActorID string          `json:"actor_id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event as {id, seq, board_id, actor_id, kind, payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.ID)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(wireEvent{
		ID:      e.ID,
		Seq:     e.Seq,
		BoardID: e.BoardID,
		ActorID: e.ActorID,
		Kind:    e.Kind(),
		Payload: payload,
	})
}

// UnmarshalJSON decodes the payload into the variant named by kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var payload Payload
	switch w.Kind {
	case TaskMovedKind:
		payload = &TaskMoved{}
	case TaskCreatedKind:
		payload = &TaskCreated{}
	case TaskUpdatedKind:
		payload = &TaskUpdated{}
	case TaskDeletedKind:
		payload = &TaskDeleted{}
	case ListCreatedKind:
		payload = &ListCreated{}
	case ListUpdatedKind:
		payload = &ListUpdated{}
	case ListDeletedKind:
		payload = &ListDeleted{}
	case ListsReorderedKind:
		payload = &ListsReordered{}
	case BoardUpdatedKind:
		payload = &BoardUpdated{}
	case MemberAddedKind:
		payload = &MemberAdded{}
	case MemberRemovedKind:
		payload = &MemberRemoved{}
	default:
		return fmt.Errorf("unknown event kind %q", w.Kind)
	}
	if err := json.Unmarshal(w.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Kind, err)
	}

	*e = Event{
		ID:      w.ID,
		Seq:     w.Seq,
		BoardID: w.BoardID,
		ActorID: w.ActorID,
		Payload: deref(payload),
	}
	return nil
}

// deref turns the pointer used for decoding back into the value variant so
// receivers can switch on value types only.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *TaskMoved:
		return *v
	case *TaskCreated:
		return *v
	case *TaskUpdated:
		return *v
	case *TaskDeleted:
		return *v
	case *ListCreated:
		return *v
	case *ListUpdated:
		return *v
	case *ListDeleted:
		return *v
	case *ListsReordered:
		return *v
	case *BoardUpdated:
		return *v
	case *MemberAdded:
		return *v
	case *MemberRemoved:
		return *v
	}
	return p
}

// Frame is one message on a viewer's websocket: either the initial board
// snapshot or a single event.
type Frame struct {
	Type  string              `json:"type"`
	Board *models.BoardDetail `json:"board,omitempty"`
	Event *Event              `json:"event,omitempty"`
}

const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
)
