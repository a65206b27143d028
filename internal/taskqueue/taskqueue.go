// Package taskqueue implements the planner's ordered task list: exactly one
// task is current (in-progress) at a time, and insertion/auto-complete
// semantics preserve the ordering guarantees spec.md §5 requires.
package taskqueue

// Status is the lifecycle state of a planner task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one planner-produced subtask.
type Task struct {
	ID               uint32
	Description      string
	Status           Status
	AutoCompleteTool string // tool name whose success auto-completes this task, if any
}

// Queue is an ordered sequence of Tasks. At most one task has status
// InProgress at any time (the "current" task).
type Queue struct {
	tasks  []*Task
	nextID uint32
}

// New returns an empty task queue.
func New() *Queue {
	return &Queue{nextID: 1}
}

// IsEmpty reports whether no tasks have been defined.
func (q *Queue) IsEmpty() bool { return len(q.tasks) == 0 }

// Total returns the number of tasks in the queue.
func (q *Queue) Total() int { return len(q.tasks) }

// CompletedCount returns how many tasks have status Completed.
func (q *Queue) CompletedCount() int {
	n := 0
	for _, t := range q.tasks {
		if t.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// CurrentTask returns the in-progress task, if any.
func (q *Queue) CurrentTask() *Task {
	for _, t := range q.tasks {
		if t.Status == StatusInProgress {
			return t
		}
	}
	return nil
}

// AllComplete reports whether every task has status Completed (and at least
// one task exists).
func (q *Queue) AllComplete() bool {
	if len(q.tasks) == 0 {
		return false
	}
	for _, t := range q.tasks {
		if t.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Append adds new tasks at the end of the queue in pending status and
// returns their assigned ids.
func (q *Queue) Append(descriptions ...string) []uint32 {
	ids := make([]uint32, 0, len(descriptions))
	for _, d := range descriptions {
		t := &Task{ID: q.nextID, Description: d, Status: StatusPending}
		q.nextID++
		q.tasks = append(q.tasks, t)
		ids = append(ids, t.ID)
	}
	return ids
}

// InsertAfterCurrent inserts new tasks immediately after the current
// in-progress task (or at the front if none is current), so they run next
// without displacing the active task.
func (q *Queue) InsertAfterCurrent(descriptions ...string) []uint32 {
	insertAt := 0
	for i, t := range q.tasks {
		if t.Status == StatusInProgress {
			insertAt = i + 1
			break
		}
	}

	newTasks := make([]*Task, 0, len(descriptions))
	ids := make([]uint32, 0, len(descriptions))
	for _, d := range descriptions {
		t := &Task{ID: q.nextID, Description: d, Status: StatusPending}
		q.nextID++
		newTasks = append(newTasks, t)
		ids = append(ids, t.ID)
	}

	merged := make([]*Task, 0, len(q.tasks)+len(newTasks))
	merged = append(merged, q.tasks[:insertAt]...)
	merged = append(merged, newTasks...)
	merged = append(merged, q.tasks[insertAt:]...)
	q.tasks = merged
	return ids
}

// PopNext marks the first pending task in-progress and returns it. If a
// task is already in-progress, it is returned unchanged (the caller must
// complete it before popping the next one).
func (q *Queue) PopNext() *Task {
	if cur := q.CurrentTask(); cur != nil {
		return cur
	}
	for _, t := range q.tasks {
		if t.Status == StatusPending {
			t.Status = StatusInProgress
			return t
		}
	}
	return nil
}

// CompleteCurrent marks the in-progress task Completed and returns its id.
// Calling this when no task is current is a no-op (idempotent with repeat
// completion calls, per spec.md §8 "task_fully_completed called twice has
// the same effect as once").
func (q *Queue) CompleteCurrent() (uint32, bool) {
	cur := q.CurrentTask()
	if cur == nil {
		return 0, false
	}
	cur.Status = StatusCompleted
	return cur.ID, true
}

// FailCurrent marks the in-progress task Failed and returns its id.
func (q *Queue) FailCurrent() (uint32, bool) {
	cur := q.CurrentTask()
	if cur == nil {
		return 0, false
	}
	cur.Status = StatusFailed
	return cur.ID, true
}

// GetTask returns the task with the given id, if present.
func (q *Queue) GetTask(id uint32) *Task {
	for _, t := range q.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// DeleteTask removes a task by id. It reports whether the task was found
// and whether the deleted task was the current (in-progress) one — callers
// use the latter to decide whether to cancel an in-flight execution.
func (q *Queue) DeleteTask(id uint32) (deleted bool, wasCurrent bool) {
	for i, t := range q.tasks {
		if t.ID == id {
			wasCurrent = t.Status == StatusInProgress
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return true, wasCurrent
		}
	}
	return false, false
}

// AutoCompleteOnToolSuccess completes the current task if its configured
// AutoCompleteTool matches toolName, returning the completed task's id.
func (q *Queue) AutoCompleteOnToolSuccess(toolName string) (uint32, bool) {
	cur := q.CurrentTask()
	if cur == nil || cur.AutoCompleteTool == "" || cur.AutoCompleteTool != toolName {
		return 0, false
	}
	cur.Status = StatusCompleted
	return cur.ID, true
}

// Tasks returns a snapshot slice of the queue's tasks in order.
func (q *Queue) Tasks() []*Task {
	out := make([]*Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
