package facilitator

import "testing"

func dispatched(t *testing.T) *taskTable {
	t.Helper()
	tbl := newTaskTable()
	tbl.dispatch(Task{TaskID: "t1", AgentID: "math", Goal: "add", DispatchedAt: 100})
	return tbl
}

func TestTaskTable_DispatchSetsStatus(t *testing.T) {
	// A dispatched task starts in Dispatched
	tbl := dispatched(t)
	task, ok := tbl.get("t1")
	if !ok || task.Status != TaskDispatched {
		t.Fatalf("task = %+v, want dispatched", task)
	}
}

func TestTaskTable_AckTransition(t *testing.T) {
	// An observed ack moves Dispatched to Acked; repeated acks are no-ops
	tbl := dispatched(t)
	if !tbl.ack("t1") {
		t.Fatal("expected ack to apply")
	}
	if tbl.ack("t1") {
		t.Error("expected second ack to be a no-op")
	}
	task, _ := tbl.get("t1")
	if task.Status != TaskAcked {
		t.Errorf("status = %q, want acked", task.Status)
	}
}

func TestTaskTable_CompleteFromDispatchedOrAcked(t *testing.T) {
	// A result disclosure completes a task from either open state
	tbl := dispatched(t)
	if _, ok := tbl.complete("t1"); !ok {
		t.Fatal("expected completion from Dispatched")
	}
	task, _ := tbl.get("t1")
	if task.Status != TaskCompleted {
		t.Errorf("status = %q, want completed", task.Status)
	}
	if _, ok := tbl.complete("t1"); ok {
		t.Error("expected completion of terminal task to be a no-op")
	}
}

func TestTaskTable_CancelOpenTask(t *testing.T) {
	// An external revoke cancels an open task but never a completed one
	tbl := dispatched(t)
	if !tbl.cancel("t1") {
		t.Fatal("expected cancel to apply")
	}
	task, _ := tbl.get("t1")
	if task.Status != TaskCancelled {
		t.Errorf("status = %q, want cancelled", task.Status)
	}
}

func TestTaskTable_SweepDeadlinesFailsStale(t *testing.T) {
	// Open tasks past the mic window fail; completed tasks are untouched
	tbl := newTaskTable()
	tbl.dispatch(Task{TaskID: "t1", AgentID: "math", DispatchedAt: 100})
	tbl.dispatch(Task{TaskID: "t2", AgentID: "math", DispatchedAt: 100})
	tbl.complete("t2")

	failed := tbl.sweepDeadlines(401, 300)
	if len(failed) != 1 || failed[0].TaskID != "t1" {
		t.Fatalf("failed = %+v, want [t1]", failed)
	}
	task, _ := tbl.get("t1")
	if task.Status != TaskFailed {
		t.Errorf("t1 status = %q, want failed", task.Status)
	}
	task, _ = tbl.get("t2")
	if task.Status != TaskCompleted {
		t.Errorf("t2 status = %q, want completed", task.Status)
	}
}

func TestTaskTable_UnknownTask(t *testing.T) {
	// Operations on unknown task ids are no-ops
	tbl := newTaskTable()
	if tbl.ack("zz") || tbl.cancel("zz") {
		t.Error("expected no-ops for unknown id")
	}
	if _, ok := tbl.complete("zz"); ok {
		t.Error("expected completion of unknown id to report false")
	}
}
