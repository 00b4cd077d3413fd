package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/internal/models"
)

func TestMoveWithinList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	backlog := mustList(t, s, b.ID, "Backlog")
	t1 := mustTask(t, s, backlog.ID, "T1")
	mustTask(t, s, backlog.ID, "T2")
	mustTask(t, s, backlog.ID, "T3")

	res, err := s.MoveTask(ctx, t1.ID, backlog.ID, 2)
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Equal(t, int64(2), res.Task.Position)
	assert.Equal(t, []string{"T2", "T3", "T1"}, titles(t, s, backlog.ID))
}

func TestMoveAcrossLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	backlog := mustList(t, s, b.ID, "Backlog")
	done := mustList(t, s, b.ID, "Done")
	t1 := mustTask(t, s, backlog.ID, "T1")
	mustTask(t, s, backlog.ID, "T2")
	mustTask(t, s, done.ID, "T3")

	res, err := s.MoveTask(ctx, t1.ID, done.ID, 0)
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Equal(t, backlog.ID, res.FromListID)
	assert.Equal(t, "Backlog", res.FromTitle)
	assert.Equal(t, "Done", res.ToTitle)
	assert.Equal(t, t1.ID, res.Task.ID)
	assert.Equal(t, done.ID, res.Task.ListID)

	assert.Equal(t, []string{"T2"}, titles(t, s, backlog.ID))
	assert.Equal(t, []string{"T1", "T3"}, titles(t, s, done.ID))
}

func TestMoveClampsAndElidesNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	l := mustList(t, s, b.ID, "Backlog")
	t1 := mustTask(t, s, l.ID, "T1")
	mustTask(t, s, l.ID, "T2")
	t3 := mustTask(t, s, l.ID, "T3")

	tests := []struct {
		name     string
		taskID   int64
		index    int64
		moved    bool
		expected []string
	}{
		{name: "index past end clamps to last", taskID: t1.ID, index: 99, moved: true, expected: []string{"T2", "T3", "T1"}},
		{name: "negative index clamps to first", taskID: t1.ID, index: -5, moved: true, expected: []string{"T1", "T2", "T3"}},
		{name: "current slot is a no-op", taskID: t3.ID, index: 2, moved: false, expected: []string{"T1", "T2", "T3"}},
		{name: "clamped current slot is a no-op", taskID: t3.ID, index: 50, moved: false, expected: []string{"T1", "T2", "T3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := s.GetTask(ctx, tt.taskID)
			require.NoError(t, err)

			res, err := s.MoveTask(ctx, tt.taskID, l.ID, tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.moved, res.Moved)
			assert.Equal(t, tt.expected, titles(t, s, l.ID))
			if !tt.moved {
				assert.Equal(t, before.UpdatedAt, res.Task.UpdatedAt)
			}
		})
	}
}

func TestMoveRejectsForeignOrMissingList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b1 := mustBoard(t, s, "One")
	b2 := mustBoard(t, s, "Two")
	l1 := mustList(t, s, b1.ID, "Backlog")
	l2 := mustList(t, s, b2.ID, "Elsewhere")
	task := mustTask(t, s, l1.ID, "T1")

	_, err := s.MoveTask(ctx, task.ID, l2.ID, 0)
	assert.ErrorIs(t, err, models.ErrInvalidTarget)

	_, err = s.MoveTask(ctx, task.ID, 9999, 0)
	assert.ErrorIs(t, err, models.ErrInvalidTarget)

	_, err = s.MoveTask(ctx, 9999, l1.ID, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, []string{"T1"}, titles(t, s, l1.ID))
}

func TestConcurrentMovesToSameSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	backlog := mustList(t, s, b.ID, "Backlog")
	done := mustList(t, s, b.ID, "Done")
	t1 := mustTask(t, s, backlog.ID, "T1")
	t2 := mustTask(t, s, backlog.ID, "T2")

	var wg sync.WaitGroup
	results := make([]models.MoveResult, 2)
	errs := make([]error, 2)
	for i, id := range []int64{t1.ID, t2.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			results[i], errs[i] = s.MoveTask(ctx, id, done.ID, 0)
		}(i, id)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	tasks, err := s.ListTasks(ctx, done.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(0), tasks[0].Position)
	assert.Equal(t, int64(1), tasks[1].Position)
	assert.Empty(t, titles(t, s, backlog.ID))

	ids := []int64{tasks[0].ID, tasks[1].ID}
	assert.ElementsMatch(t, []int64{t1.ID, t2.ID}, ids)
	// Each move saw index 0 at its own commit; the earlier one was pushed down.
	assert.Equal(t, int64(0), results[0].Task.Position)
	assert.Equal(t, int64(0), results[1].Task.Position)
}

func TestCreateAtExplicitPositionShifts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	l := mustList(t, s, b.ID, "Backlog")
	mustTask(t, s, l.ID, "T1")
	mustTask(t, s, l.ID, "T2")

	one := int64(1)
	task, err := s.CreateTask(ctx, models.Task{ListID: l.ID, Title: "Inserted"}, &one)
	require.NoError(t, err)
	assert.Equal(t, int64(1), task.Position)
	assert.Equal(t, []string{"T1", "Inserted", "T2"}, titles(t, s, l.ID))

	far := int64(40)
	task, err = s.CreateTask(ctx, models.Task{ListID: l.ID, Title: "Last"}, &far)
	require.NoError(t, err)
	assert.Equal(t, int64(3), task.Position)
}

func TestDeleteCompacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	first := mustList(t, s, b.ID, "First")
	middle := mustList(t, s, b.ID, "Middle")
	last := mustList(t, s, b.ID, "Last")
	t1 := mustTask(t, s, middle.ID, "T1")
	mustTask(t, s, first.ID, "F1")
	f2 := mustTask(t, s, first.ID, "F2")
	mustTask(t, s, first.ID, "F3")

	deleted, err := s.DeleteTask(ctx, f2.ID)
	require.NoError(t, err)
	assert.Equal(t, f2.ID, deleted.ID)
	assert.Equal(t, []string{"F1", "F3"}, titles(t, s, first.ID))

	list, taskIDs, err := s.DeleteList(ctx, middle.ID)
	require.NoError(t, err)
	assert.Equal(t, middle.ID, list.ID)
	assert.Equal(t, []int64{t1.ID}, taskIDs)

	_, err = s.GetTask(ctx, t1.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	lists, err := s.ListLists(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, first.ID, lists[0].ID)
	assert.Equal(t, int64(0), lists[0].Position)
	assert.Equal(t, last.ID, lists[1].ID)
	assert.Equal(t, int64(1), lists[1].Position)
}

func TestMoveList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	a := mustList(t, s, b.ID, "A")
	mustList(t, s, b.ID, "B")
	mustList(t, s, b.ID, "C")

	lists, moved, err := s.MoveList(ctx, a.ID, 5)
	require.NoError(t, err)
	assert.True(t, moved)
	var names []string
	for i, l := range lists {
		assert.Equal(t, int64(i), l.Position)
		names = append(names, l.Title)
	}
	assert.Equal(t, []string{"B", "C", "A"}, names)

	_, moved, err = s.MoveList(ctx, a.ID, 2)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestRenumberRepairsGaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	l := mustList(t, s, b.ID, "Backlog")
	mustTask(t, s, l.ID, "T1")
	mustTask(t, s, l.ID, "T2")
	mustTask(t, s, l.ID, "T3")

	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET position = position * 10 WHERE list_id = ?`, l.ID)
	require.NoError(t, err)
	require.ErrorIs(t, verifyDense(ctx, s.db, tasksInList, l.ID), models.ErrConsistency)

	require.NoError(t, s.Renumber(ctx, b.ID))
	assert.Equal(t, []string{"T1", "T2", "T3"}, titles(t, s, l.ID))
}

func TestTornSequenceIsRolledBack(t *testing.T) {
	s := newTestStore(t)
	s.txRetries = 1
	ctx := context.Background()
	b := mustBoard(t, s, "Board")
	l := mustList(t, s, b.ID, "Backlog")
	mustTask(t, s, l.ID, "T1")
	mustTask(t, s, l.ID, "T2")

	attempts := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		attempts++
		if err := insertAt(ctx, tx, tasksInList, l.ID, 0); err != nil {
			return err
		}
		return verifyDense(ctx, tx, tasksInList, l.ID)
	})
	require.ErrorIs(t, err, models.ErrConsistency)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"T1", "T2"}, titles(t, s, l.ID))
}

// Random create/move/delete sequences must always leave every parent dense
// and never lose or duplicate a task.
func TestDensityAndConservationUnderRandomOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	b := mustBoard(t, s, "Board")

	var lists []models.List
	for i := 0; i < 3; i++ {
		lists = append(lists, mustList(t, s, b.ID, fmt.Sprintf("L%d", i)))
	}
	live := map[int64]struct{}{}

	for step := 0; step < 200; step++ {
		switch op := rng.Intn(10); {
		case op < 4 || len(live) == 0:
			pos := int64(rng.Intn(6)) - 1
			task, err := s.CreateTask(ctx, models.Task{ListID: lists[rng.Intn(len(lists))].ID, Title: fmt.Sprintf("T%d", step)}, &pos)
			require.NoError(t, err)
			live[task.ID] = struct{}{}
		case op < 9:
			id := pick(rng, live)
			before, err := s.GetTask(ctx, id)
			require.NoError(t, err)
			target := lists[rng.Intn(len(lists))]
			srcCount := len(mustTasks(t, s, before.ListID))
			dstCount := len(mustTasks(t, s, target.ID))

			res, err := s.MoveTask(ctx, id, target.ID, int64(rng.Intn(8))-2)
			require.NoError(t, err)
			assert.Equal(t, id, res.Task.ID)
			if before.ListID != target.ID {
				assert.Len(t, mustTasks(t, s, before.ListID), srcCount-1)
				assert.Len(t, mustTasks(t, s, target.ID), dstCount+1)
			}
		default:
			id := pick(rng, live)
			_, err := s.DeleteTask(ctx, id)
			require.NoError(t, err)
			delete(live, id)
		}

		total := 0
		for _, l := range lists {
			require.NoError(t, verifyDense(ctx, s.db, tasksInList, l.ID))
			total += len(mustTasks(t, s, l.ID))
		}
		require.Equal(t, len(live), total)
	}
	require.NoError(t, verifyDense(ctx, s.db, listsInBoard, b.ID))
}

func mustTasks(t *testing.T, s *Store, listID int64) []models.Task {
	t.Helper()
	tasks, err := s.ListTasks(context.Background(), listID)
	require.NoError(t, err)
	return tasks
}

func pick(rng *rand.Rand, set map[int64]struct{}) int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[rng.Intn(len(ids))]
}
