package models

import "time"

// Role is a member's permission level on a board.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// ValidRoles enumerates the roles that can be stored for a membership.
var ValidRoles = map[Role]struct{}{
	RoleOwner:  {},
	RoleAdmin:  {},
	RoleMember: {},
}

// CanManage reports whether the role may change board settings and membership.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ValidPriorities enumerates the accepted task priorities.
var ValidPriorities = map[Priority]struct{}{
	PriorityLow:    {},
	PriorityMedium: {},
	PriorityHigh:   {},
	PriorityUrgent: {},
}

// Board groups ordered lists shared by its members.
type Board struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List is an ordered column on a board.
type List struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"board_id"`
	Title     string    `json:"title"`
	Position  int64     `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task represents a single card inside a list.
type Task struct {
	ID          int64      `json:"id"`
	BoardID     int64      `json:"board_id"`
	ListID      int64      `json:"list_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Priority    Priority   `json:"priority"`
	Position    int64      `json:"position"`
	Assignees   []string   `json:"assignees"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Member links a user to a board with a role.
type Member struct {
	BoardID  int64     `json:"board_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Activity is one entry of a board's audit trail.
type Activity struct {
	ID            int64     `json:"id"`
	BoardID       int64     `json:"board_id"`
	ActorID       string    `json:"actor_id"`
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	RelatedTaskID *int64    `json:"related_task_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListDetail is a list with its tasks in position order.
type ListDetail struct {
	List
	Tasks []Task `json:"tasks"`
}

// BoardDetail is the full state of a board as seen by a viewer.
type BoardDetail struct {
	Board   Board        `json:"board"`
	Members []Member     `json:"members"`
	Lists   []ListDetail `json:"lists"`
}

// TaskChanges carries the optional fields of a task update.
type TaskChanges struct {
	Title       *string
	Description *string
	DueAt       *time.Time
	ClearDue    bool
	Priority    *Priority
}

// MoveResult describes a committed task move.
type MoveResult struct {
	Task       Task
	FromListID int64
	FromTitle  string
	ToTitle    string
	// Moved is false when the request addressed the task's current slot.
	Moved bool
}
