package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/internal/models"
)

const (
	backlog int64 = 10
	done    int64 = 20
)

func task(id, listID int64, title string) models.Task {
	return models.Task{ID: id, BoardID: 1, ListID: listID, Title: title, Priority: models.PriorityMedium}
}

// sampleBoard is Backlog [T1, T2, T3] and Done [T4].
func sampleBoard() models.BoardDetail {
	return models.BoardDetail{
		Board:   models.Board{ID: 1, Title: "Sprint", OwnerID: "alice"},
		Members: []models.Member{{BoardID: 1, UserID: "alice", Role: models.RoleOwner}},
		Lists: []models.ListDetail{
			{
				List:  models.List{ID: backlog, BoardID: 1, Title: "Backlog", Position: 0},
				Tasks: []models.Task{task(1, backlog, "T1"), task(2, backlog, "T2"), task(3, backlog, "T3")},
			},
			{
				List:  models.List{ID: done, BoardID: 1, Title: "Done", Position: 1},
				Tasks: []models.Task{task(4, done, "T4")},
			},
		},
	}
}

// titles returns the task titles of a list, checking that positions are dense.
func titles(t *testing.T, d models.BoardDetail, listID int64) []string {
	t.Helper()
	for _, l := range d.Lists {
		if l.ID != listID {
			continue
		}
		out := []string{}
		for i, tk := range l.Tasks {
			require.Equal(t, int64(i), tk.Position, "task %s", tk.Title)
			require.Equal(t, listID, tk.ListID, "task %s", tk.Title)
			out = append(out, tk.Title)
		}
		return out
	}
	t.Fatalf("list %d not found", listID)
	return nil
}

func TestApplyMoveMirrorsServer(t *testing.T) {
	tests := []struct {
		name        string
		taskID      int64
		listID      int64
		index       int64
		wantMoved   bool
		wantBacklog []string
		wantDone    []string
	}{
		{name: "within list to end", taskID: 1, listID: backlog, index: 2, wantMoved: true,
			wantBacklog: []string{"T2", "T3", "T1"}, wantDone: []string{"T4"}},
		{name: "across lists to head", taskID: 1, listID: done, index: 0, wantMoved: true,
			wantBacklog: []string{"T2", "T3"}, wantDone: []string{"T1", "T4"}},
		{name: "index past end is clamped", taskID: 2, listID: done, index: 99, wantMoved: true,
			wantBacklog: []string{"T1", "T3"}, wantDone: []string{"T4", "T2"}},
		{name: "negative index is clamped", taskID: 3, listID: backlog, index: -5, wantMoved: true,
			wantBacklog: []string{"T3", "T1", "T2"}, wantDone: []string{"T4"}},
		{name: "current slot is a no-op", taskID: 2, listID: backlog, index: 1,
			wantBacklog: []string{"T1", "T2", "T3"}, wantDone: []string{"T4"}},
		{name: "clamped onto current slot is a no-op", taskID: 3, listID: backlog, index: 7,
			wantBacklog: []string{"T1", "T2", "T3"}, wantDone: []string{"T4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBoardState(sampleBoard())
			_, moved, err := s.ApplyMove(tt.taskID, tt.listID, tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMoved, moved)
			snap := s.Snapshot()
			assert.Equal(t, tt.wantBacklog, titles(t, snap, backlog))
			assert.Equal(t, tt.wantDone, titles(t, snap, done))
		})
	}
}

func TestApplyMoveErrors(t *testing.T) {
	s := NewBoardState(sampleBoard())
	_, _, err := s.ApplyMove(99, backlog, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, _, err = s.ApplyMove(1, 99, 0)
	assert.ErrorIs(t, err, models.ErrInvalidTarget)
}

func TestUpsertTaskReplacesByID(t *testing.T) {
	s := NewBoardState(sampleBoard())

	moved := task(1, done, "T1 renamed")
	moved.Position = 1
	require.True(t, s.UpsertTask(moved))
	require.True(t, s.UpsertTask(moved))

	snap := s.Snapshot()
	assert.Equal(t, []string{"T2", "T3"}, titles(t, snap, backlog))
	assert.Equal(t, []string{"T4", "T1 renamed"}, titles(t, snap, done))

	orphan := task(1, 99, "T1")
	assert.False(t, s.UpsertTask(orphan))
	_, ok := s.Task(1)
	assert.False(t, ok)
}

func TestListOperations(t *testing.T) {
	s := NewBoardState(sampleBoard())

	s.UpsertList(models.List{ID: 30, BoardID: 1, Title: "Doing", Position: 1})
	s.ReorderLists([]models.List{{ID: done, Title: "Done"}, {ID: backlog, Title: "Backlog"}})
	snap := s.Snapshot()
	require.Len(t, snap.Lists, 3)
	assert.Equal(t, []int64{done, backlog, 30}, []int64{snap.Lists[0].ID, snap.Lists[1].ID, snap.Lists[2].ID})
	for i, l := range snap.Lists {
		assert.Equal(t, int64(i), l.Position)
	}
	assert.Equal(t, []string{"T1", "T2", "T3"}, titles(t, snap, backlog))

	require.True(t, s.RemoveList(backlog))
	_, ok := s.Task(1)
	assert.False(t, ok)
	assert.Equal(t, -1, s.TaskCount(backlog))
	assert.Equal(t, 1, s.TaskCount(done))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewBoardState(sampleBoard())
	snap := s.Snapshot()
	snap.Lists[0].Tasks[0].Title = "mutated"
	got, ok := s.Task(1)
	require.True(t, ok)
	assert.Equal(t, "T1", got.Title)
}
