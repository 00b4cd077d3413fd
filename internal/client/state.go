// Package client keeps a viewer's copy of a board consistent with the server:
// optimistic moves, canonical merges, and full re-fetches when they diverge.
package client

import (
	"fmt"

	"kanban/internal/models"
)

// BoardState is an in-memory board that applies the server's ordering rules:
// lists and tasks keep dense positions 0..n-1 after every change.
//
// BoardState is not safe for concurrent use; Reconciler guards it.
type BoardState struct {
	board   models.Board
	members []models.Member
	lists   []models.ListDetail
}

// NewBoardState copies detail into a fresh state.
func NewBoardState(detail models.BoardDetail) *BoardState {
	s := &BoardState{
		board:   detail.Board,
		members: append([]models.Member(nil), detail.Members...),
		lists:   make([]models.ListDetail, 0, len(detail.Lists)),
	}
	for _, l := range detail.Lists {
		s.lists = append(s.lists, copyList(l))
	}
	s.renumberLists()
	for i := range s.lists {
		s.renumberTasks(i)
	}
	return s
}

// Snapshot returns a deep copy of the state.
func (s *BoardState) Snapshot() models.BoardDetail {
	out := models.BoardDetail{
		Board:   s.board,
		Members: append([]models.Member(nil), s.members...),
		Lists:   make([]models.ListDetail, 0, len(s.lists)),
	}
	for _, l := range s.lists {
		out.Lists = append(out.Lists, copyList(l))
	}
	return out
}

// Task returns the task with id.
func (s *BoardState) Task(id int64) (models.Task, bool) {
	li, ti := s.findTask(id)
	if li < 0 {
		return models.Task{}, false
	}
	return copyTask(s.lists[li].Tasks[ti]), true
}

// TaskCount returns the number of tasks in the list, or -1 for an unknown list.
func (s *BoardState) TaskCount(listID int64) int {
	li := s.findList(listID)
	if li < 0 {
		return -1
	}
	return len(s.lists[li].Tasks)
}

// IndexOf returns the list and index currently holding the task.
func (s *BoardState) IndexOf(taskID int64) (listID int64, index int, ok bool) {
	li, ti := s.findTask(taskID)
	if li < 0 {
		return 0, 0, false
	}
	return s.lists[li].ID, ti, true
}

// ApplyMove moves a task the way the server does: the index is clamped to
// [0, n] where n is the target length without the task, and a move to the
// current slot changes nothing. It returns the task as placed and whether
// anything changed.
func (s *BoardState) ApplyMove(taskID, toListID, index int64) (models.Task, bool, error) {
	li, ti := s.findTask(taskID)
	if li < 0 {
		return models.Task{}, false, fmt.Errorf("task %d: %w", taskID, models.ErrNotFound)
	}
	target := s.findList(toListID)
	if target < 0 {
		return models.Task{}, false, fmt.Errorf("list %d: %w", toListID, models.ErrInvalidTarget)
	}

	length := int64(len(s.lists[target].Tasks))
	if target == li {
		length--
	}
	idx := clamp(index, 0, length)
	if target == li && idx == int64(ti) {
		return copyTask(s.lists[li].Tasks[ti]), false, nil
	}

	task := s.lists[li].Tasks[ti]
	s.lists[li].Tasks = removeAt(s.lists[li].Tasks, ti)
	task.ListID = toListID
	s.lists[target].Tasks = insertAt(s.lists[target].Tasks, int(idx), task)
	s.renumberTasks(li)
	if target != li {
		s.renumberTasks(target)
	}
	return copyTask(s.lists[target].Tasks[idx]), true, nil
}

// UpsertTask places the canonical task at its list and position, replacing
// any copy already present. A task for an unknown list is dropped from the
// state and reported false.
func (s *BoardState) UpsertTask(task models.Task) bool {
	if li, ti := s.findTask(task.ID); li >= 0 {
		s.lists[li].Tasks = removeAt(s.lists[li].Tasks, ti)
		s.renumberTasks(li)
	}
	target := s.findList(task.ListID)
	if target < 0 {
		return false
	}
	idx := clamp(task.Position, 0, int64(len(s.lists[target].Tasks)))
	s.lists[target].Tasks = insertAt(s.lists[target].Tasks, int(idx), copyTask(task))
	s.renumberTasks(target)
	return true
}

// RemoveTask deletes a task and closes the gap it leaves.
func (s *BoardState) RemoveTask(id int64) bool {
	li, ti := s.findTask(id)
	if li < 0 {
		return false
	}
	s.lists[li].Tasks = removeAt(s.lists[li].Tasks, ti)
	s.renumberTasks(li)
	return true
}

// UpsertList places the list at its position, keeping the tasks of an
// existing copy.
func (s *BoardState) UpsertList(list models.List) {
	entry := models.ListDetail{List: list}
	if li := s.findList(list.ID); li >= 0 {
		entry.Tasks = s.lists[li].Tasks
		s.lists = removeAt(s.lists, li)
	}
	idx := clamp(list.Position, 0, int64(len(s.lists)))
	s.lists = insertAt(s.lists, int(idx), entry)
	s.renumberLists()
}

// RemoveList deletes a list with its tasks.
func (s *BoardState) RemoveList(id int64) bool {
	li := s.findList(id)
	if li < 0 {
		return false
	}
	s.lists = removeAt(s.lists, li)
	s.renumberLists()
	return true
}

// ReorderLists adopts the order of lists. Local lists missing from it keep
// their relative order after the named ones; unknown lists are added.
func (s *BoardState) ReorderLists(lists []models.List) {
	byID := make(map[int64]models.ListDetail, len(s.lists))
	for _, l := range s.lists {
		byID[l.ID] = l
	}
	ordered := make([]models.ListDetail, 0, len(s.lists))
	seen := make(map[int64]bool, len(lists))
	for _, l := range lists {
		entry, ok := byID[l.ID]
		if !ok {
			entry = models.ListDetail{}
		}
		entry.List = l
		ordered = append(ordered, entry)
		seen[l.ID] = true
	}
	for _, l := range s.lists {
		if !seen[l.ID] {
			ordered = append(ordered, l)
		}
	}
	s.lists = ordered
	s.renumberLists()
}

// SetBoard replaces the board's own fields.
func (s *BoardState) SetBoard(b models.Board) {
	s.board = b
}

func (s *BoardState) findList(id int64) int {
	for i, l := range s.lists {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (s *BoardState) findTask(id int64) (int, int) {
	for li, l := range s.lists {
		for ti, t := range l.Tasks {
			if t.ID == id {
				return li, ti
			}
		}
	}
	return -1, -1
}

func (s *BoardState) renumberLists() {
	for i := range s.lists {
		s.lists[i].Position = int64(i)
	}
}

func (s *BoardState) renumberTasks(li int) {
	for i := range s.lists[li].Tasks {
		s.lists[li].Tasks[i].Position = int64(i)
		s.lists[li].Tasks[i].ListID = s.lists[li].ID
	}
}

func copyList(l models.ListDetail) models.ListDetail {
	out := models.ListDetail{List: l.List, Tasks: make([]models.Task, 0, len(l.Tasks))}
	for _, t := range l.Tasks {
		out.Tasks = append(out.Tasks, copyTask(t))
	}
	return out
}

func copyTask(t models.Task) models.Task {
	if t.Assignees != nil {
		t.Assignees = append([]string(nil), t.Assignees...)
	}
	if t.DueAt != nil {
		due := *t.DueAt
		t.DueAt = &due
	}
	return t
}

func insertAt[T any](s []T, i int, v T) []T {
	s = append(s, v)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	return append(s[:i], s[i+1:]...)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
