package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/engineerr"
	"github.com/chquant/channelhf/internal/obsmetrics"
)

func testConfig() config.BatchConfig {
	cfg := config.DefaultBatchConfig()
	cfg.MaxTasks = 2
	cfg.TTLSeconds = 3600
	cfg.MaxInFlight = 4
	cfg.MaxReturnSamples = 5
	cfg.MaxComboExamples = 3
	cfg.ComboTopN = 2
	return cfg
}

func TestManager_CreateTaskAssignsUniqueIDs(t *testing.T) {
	m := NewManager(testConfig())
	id1 := m.CreateTask(10, nil)
	id2 := m.CreateTask(10, nil)
	if id1 == id2 {
		t.Fatal("expected distinct task IDs")
	}
}

func TestManager_MetricsGaugeTracksRunningTasks(t *testing.T) {
	m := NewManager(testConfig())
	reg := obsmetrics.New()
	m.SetMetrics(reg)

	id1 := m.CreateTask(1, nil)
	id2 := m.CreateTask(1, nil)
	if got := reg.Snapshot()["batch_tasks_running"]; got != 2 {
		t.Fatalf("batch_tasks_running after 2 creates = %v, want 2", got)
	}

	if err := m.MarkCompleted(id1); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if got := reg.Snapshot()["batch_tasks_running"]; got != 1 {
		t.Errorf("batch_tasks_running after 1 completion = %v, want 1", got)
	}

	if err := m.MarkCancelled(id2); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	if got := reg.Snapshot()["batch_tasks_running"]; got != 0 {
		t.Errorf("batch_tasks_running after cancel = %v, want 0", got)
	}

	// idempotent completion must not double-decrement.
	if err := m.MarkCompleted(id1); err != nil {
		t.Fatalf("repeat MarkCompleted: %v", err)
	}
	if got := reg.Snapshot()["batch_tasks_running"]; got != 0 {
		t.Errorf("batch_tasks_running after idempotent re-complete = %v, want 0", got)
	}
}

func TestManager_UpdateProgressIncrementsDoneAndCapsAtTotal(t *testing.T) {
	m := NewManager(testConfig())
	id := m.CreateTask(2, nil)

	if err := m.UpdateProgress(id, &JobResult{Return: 0.1, Win: true}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := m.UpdateProgress(id, &JobResult{Return: -0.05}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := m.UpdateProgress(id, &JobResult{Return: 0.2}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	status, err := m.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Done != 2 {
		t.Errorf("Done = %d, want 2 (capped at Total)", status.Done)
	}
	if status.Aggregation.CountReturn != 3 {
		t.Errorf("CountReturn = %d, want 3", status.Aggregation.CountReturn)
	}
}

func TestManager_ReturnSampleBoundedByConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReturnSamples = 2
	m := NewManager(cfg)
	id := m.CreateTask(100, nil)

	for i := 0; i < 10; i++ {
		_ = m.UpdateProgress(id, &JobResult{Return: float64(i)})
	}

	status, _ := m.GetStatus(id)
	if len(status.Aggregation.ReturnSample) != 2 {
		t.Errorf("ReturnSample length = %d, want 2", len(status.Aggregation.ReturnSample))
	}
	if status.Aggregation.CountReturn != 10 {
		t.Errorf("CountReturn = %d, want 10 (unbounded running count)", status.Aggregation.CountReturn)
	}
}

func TestManager_ComboTopRanksByAverageReturn(t *testing.T) {
	m := NewManager(testConfig())
	id := m.CreateTask(10, nil)

	_ = m.UpdateProgress(id, &JobResult{Combo: "a", Return: 0.10, Win: true})
	_ = m.UpdateProgress(id, &JobResult{Combo: "a", Return: 0.20, Win: true})
	_ = m.UpdateProgress(id, &JobResult{Combo: "b", Return: 0.50, Win: true})
	_ = m.UpdateProgress(id, &JobResult{Combo: "c", Return: -0.10, Win: false})

	status, _ := m.GetStatus(id)
	top := status.Aggregation.ComboTop(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 combos in the leaderboard, got %d", len(top))
	}
	if top[0].Combo != "b" {
		t.Errorf("top combo = %q, want %q (highest avg return)", top[0].Combo, "b")
	}
}

func TestManager_RequestCancelThenMarkCancelled(t *testing.T) {
	m := NewManager(testConfig())
	id := m.CreateTask(5, nil)

	if err := m.RequestCancel(id); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	status, _ := m.GetStatus(id)
	if status.Status != StatusCancelling {
		t.Errorf("status = %q, want %q", status.Status, StatusCancelling)
	}

	if err := m.MarkCancelled(id); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	status, _ = m.GetStatus(id)
	if status.Status != StatusCancelled {
		t.Errorf("status = %q, want %q", status.Status, StatusCancelled)
	}
}

func TestManager_MarkCompletedRefusedAfterCancelled(t *testing.T) {
	m := NewManager(testConfig())
	id := m.CreateTask(5, nil)

	_ = m.MarkCancelled(id)
	if err := m.MarkCompleted(id); !errors.Is(err, engineerr.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestManager_RequestCancelOnUnknownTaskReturnsNotFound(t *testing.T) {
	m := NewManager(testConfig())
	if err := m.RequestCancel("does-not-exist"); !errors.Is(err, engineerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_RequestCancelOnCompletedReturnsAlreadyCompleted(t *testing.T) {
	m := NewManager(testConfig())
	id := m.CreateTask(5, nil)
	_ = m.MarkCompleted(id)

	if err := m.RequestCancel(id); !errors.Is(err, engineerr.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestManager_MaxTasksEvictsOldestByUpdatedAt(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTasks = 2
	m := NewManager(cfg)

	idOld := m.CreateTask(1, nil)
	m.tasks[idOld].UpdatedAt = time.Now().Add(-time.Hour)
	idMid := m.CreateTask(1, nil)
	_ = idMid

	idNew := m.CreateTask(1, nil) // pushes the manager over MaxTasks, evicting idOld

	if _, err := m.GetStatus(idOld); !errors.Is(err, engineerr.ErrNotFound) {
		t.Error("expected the oldest task to have been evicted")
	}
	if _, err := m.GetStatus(idNew); err != nil {
		t.Errorf("expected the newest task to survive, got %v", err)
	}
}

func TestManager_TTLEvictsOnRead(t *testing.T) {
	cfg := testConfig()
	cfg.TTLSeconds = 60
	m := NewManager(cfg)
	id := m.CreateTask(1, nil)
	m.tasks[id].UpdatedAt = time.Now().Add(-2 * time.Hour)

	if _, err := m.GetStatus(id); !errors.Is(err, engineerr.ErrNotFound) {
		t.Error("expected the expired task to be evicted on read")
	}
}

func TestRunOrchestrated_StreamsEveryCompletion(t *testing.T) {
	m := NewManager(testConfig())
	id := m.CreateTask(3, nil)

	jobs := []Job{
		{Symbol: "A", Combo: "p1", Run: func(ctx context.Context) (JobResult, error) {
			return JobResult{Symbol: "A", Combo: "p1", Return: 0.1, Win: true}, nil
		}},
		{Symbol: "B", Combo: "p1", Run: func(ctx context.Context) (JobResult, error) {
			return JobResult{}, errors.New("boom")
		}},
		{Symbol: "C", Combo: "p1", Run: func(ctx context.Context) (JobResult, error) {
			return JobResult{Symbol: "C", Combo: "p1", Return: -0.2}, nil
		}},
	}

	var completions int
	var errCount int
	err := m.RunOrchestrated(context.Background(), id, jobs, func(res JobResult, jobErr error) {
		completions++
		if jobErr != nil {
			errCount++
		}
	})
	if err != nil {
		t.Fatalf("RunOrchestrated: %v", err)
	}
	if completions != 3 {
		t.Errorf("completions = %d, want 3", completions)
	}
	if errCount != 1 {
		t.Errorf("errCount = %d, want 1", errCount)
	}

	status, _ := m.GetStatus(id)
	if status.Done != 3 {
		t.Errorf("Done = %d, want 3", status.Done)
	}
}

func TestRunOrchestrated_StopsDispatchingAfterCancel(t *testing.T) {
	m := NewManager(testConfig())
	id := m.CreateTask(5, nil)
	_ = m.RequestCancel(id)

	dispatched := 0
	jobs := []Job{
		{Run: func(ctx context.Context) (JobResult, error) {
			dispatched++
			return JobResult{}, nil
		}},
		{Run: func(ctx context.Context) (JobResult, error) {
			dispatched++
			return JobResult{}, nil
		}},
	}

	_ = m.RunOrchestrated(context.Background(), id, jobs, nil)
	if dispatched != 0 {
		t.Errorf("dispatched = %d, want 0 once cancellation was requested before any job ran", dispatched)
	}
}
