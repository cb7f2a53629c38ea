package facilitator

import "sync"

// TaskStatus is the facilitator-side lifecycle state of a delegated task.
type TaskStatus string

const (
	TaskDispatched TaskStatus = "dispatched"
	TaskAcked      TaskStatus = "acked"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is one delegated unit of work, keyed by task_id.
type Task struct {
	TaskID       string
	AgentID      string
	Goal         string
	Format       string
	Deadline     int64
	Status       TaskStatus
	DispatchedAt int64
}

// taskTable tracks every task this facilitator has dispatched. The worker
// goroutine writes dispatches; the reader goroutine applies completions.
type taskTable struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newTaskTable() *taskTable {
	return &taskTable{tasks: make(map[string]*Task)}
}

func (t *taskTable) dispatch(task Task) {
	task.Status = TaskDispatched
	t.mu.Lock()
	t.tasks[task.TaskID] = &task
	t.mu.Unlock()
}

// ack moves a Dispatched task to Acked when the agent's ack disclosure is
// observed on the approved timeline.
func (t *taskTable) ack(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok || task.Status != TaskDispatched {
		return false
	}
	task.Status = TaskAcked
	return true
}

// complete marks an open task Completed and returns it. Terminal tasks stay
// as they are.
func (t *taskTable) complete(taskID string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok || (task.Status != TaskDispatched && task.Status != TaskAcked) {
		return Task{}, false
	}
	task.Status = TaskCompleted
	return *task, true
}

// cancel marks an open task Cancelled (an externally observed mic_revoke
// for a task that never completed).
func (t *taskTable) cancel(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok || (task.Status != TaskDispatched && task.Status != TaskAcked) {
		return false
	}
	task.Status = TaskCancelled
	return true
}

// sweepDeadlines fails open tasks whose mic window elapsed with no result.
// Returns the failed tasks for logging.
func (t *taskTable) sweepDeadlines(now, windowSecs int64) []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	var failed []Task
	for _, task := range t.tasks {
		if task.Status != TaskDispatched && task.Status != TaskAcked {
			continue
		}
		if now-task.DispatchedAt > windowSecs {
			task.Status = TaskFailed
			failed = append(failed, *task)
		}
	}
	return failed
}

func (t *taskTable) get(taskID string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}
