// Package batch implements the Batch Task Manager: lifecycle tracking and
// bounded in-memory aggregation for a symbol x parameter-grid backtest
// sweep. State is guarded by a single mutex, mirroring the
// CircuitBreaker's "mu sync.Mutex, all accessors lock it" convention this
// lineage uses for any shared, concurrently-touched component.
package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/engineerr"
	"github.com/chquant/channelhf/internal/obsmetrics"
	"github.com/google/uuid"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCancelling Status = "running_cancel_requested"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// JobResult is one completed symbol x combo job, folded into a task's
// aggregation by UpdateProgress.
type JobResult struct {
	Symbol string
	Combo  string // parameter-set label, e.g. "channel_period=20,stop_loss_mul=0.95"
	Return float64
	Win    bool
}

// ComboStat accumulates running sums for one parameter combination.
type ComboStat struct {
	SumReturn float64
	Count     int
	WinCount  int
	Examples  []JobResult // bounded to BatchConfig.MaxComboExamples across the whole task
}

// ComboSummary is one row of the top-N combo leaderboard.
type ComboSummary struct {
	Label     string
	Combo     string
	AvgReturn float64
	WinRate   float64
	Samples   int
}

// Aggregation holds the running, memory-bounded statistics for one task.
type Aggregation struct {
	SumReturn    float64
	CountReturn  int
	SumWinRate   float64
	CountWinRate int
	ReturnSample []float64 // bounded to BatchConfig.MaxReturnSamples

	combos       map[string]*ComboStat
	comboExample int // total examples stored across all combos, bounded to MaxComboExamples
}

// ComboTop returns the top-n parameter combinations ranked by average
// return, descending.
func (a Aggregation) ComboTop(n int) []ComboSummary {
	out := make([]ComboSummary, 0, len(a.combos))
	for combo, stat := range a.combos {
		if stat.Count == 0 {
			continue
		}
		out = append(out, ComboSummary{
			Label:     combo,
			Combo:     combo,
			AvgReturn: stat.SumReturn / float64(stat.Count),
			WinRate:   float64(stat.WinCount) / float64(stat.Count),
			Samples:   stat.Count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AvgReturn > out[j].AvgReturn })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Task is one batch run's lifecycle and aggregation state.
type Task struct {
	ID              string
	Status          Status
	Done            int
	Total           int
	GridMetadata    map[string]any
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Aggregation     Aggregation
}

// StatusView is the read-only projection GetStatus returns.
type StatusView struct {
	Status       Status
	Done         int
	Total        int
	Aggregation  Aggregation
	GridMetadata map[string]any
}

// Manager tracks every in-flight and recently-finished batch task.
type Manager struct {
	mu      sync.Mutex
	cfg     config.BatchConfig
	tasks   map[string]*Task
	metrics *obsmetrics.Registry
}

// NewManager builds a Manager bounded by cfg's max task count, TTL, and
// aggregation limits.
func NewManager(cfg config.BatchConfig) *Manager {
	return &Manager{cfg: cfg, tasks: make(map[string]*Task)}
}

// SetMetrics attaches a Prometheus registry; CreateTask/MarkCompleted/
// MarkCancelled then keep its BatchTasksRunning gauge in sync. Optional —
// a Manager with no registry set behaves exactly as before.
func (m *Manager) SetMetrics(reg *obsmetrics.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = reg
}

// CreateTask registers a new task with total expected jobs, evicting the
// oldest task by UpdatedAt if the manager is at MaxTasks, and returns its
// freshly-generated task ID.
func (m *Manager) CreateTask(total int, gridMetadata map[string]any) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked()
	if len(m.tasks) >= m.cfg.MaxTasks {
		m.evictOldestLocked()
	}

	id := uuid.New().String()
	now := time.Now()
	m.tasks[id] = &Task{
		ID:           id,
		Status:       StatusRunning,
		Total:        total,
		GridMetadata: gridMetadata,
		CreatedAt:    now,
		UpdatedAt:    now,
		Aggregation:  Aggregation{combos: make(map[string]*ComboStat)},
	}
	if m.metrics != nil {
		m.metrics.BatchTasksRunning.Inc()
	}
	return id
}

// UpdateProgress increments done (capped at total), refreshes UpdatedAt,
// and folds res into the aggregation when the task is still running
// (including running-with-cancel-requested) and res is non-nil.
func (m *Manager) UpdateProgress(taskID string, res *JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return engineerr.ErrNotFound
	}

	t.UpdatedAt = time.Now()
	if t.Done < t.Total {
		t.Done++
	}

	if res != nil && (t.Status == StatusRunning || t.Status == StatusCancelling) {
		m.foldResult(t, *res)
	}
	return nil
}

func (m *Manager) foldResult(t *Task, res JobResult) {
	agg := &t.Aggregation

	agg.SumReturn += res.Return
	agg.CountReturn++
	if len(agg.ReturnSample) < m.cfg.MaxReturnSamples {
		agg.ReturnSample = append(agg.ReturnSample, res.Return)
	}

	win := 0.0
	if res.Win {
		win = 1.0
	}
	agg.SumWinRate += win
	agg.CountWinRate++

	if res.Combo == "" {
		return
	}
	stat, ok := agg.combos[res.Combo]
	if !ok {
		stat = &ComboStat{}
		agg.combos[res.Combo] = stat
	}
	stat.Count++
	stat.SumReturn += res.Return
	if res.Win {
		stat.WinCount++
	}
	if agg.comboExample < m.cfg.MaxComboExamples {
		stat.Examples = append(stat.Examples, res)
		agg.comboExample++
	}
}

// RequestCancel marks a task for cooperative cancellation. Orchestrators
// observe GetStatus and stop dispatching new jobs; in-flight jobs still
// call UpdateProgress until MarkCancelled finalizes the task.
func (m *Manager) RequestCancel(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return engineerr.ErrNotFound
	}
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		return engineerr.ErrAlreadyCompleted
	}

	t.CancelRequested = true
	t.Status = StatusCancelling
	t.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted transitions a task to its terminal completed state.
// Refused if the task was already cancelled; idempotent once completed.
func (m *Manager) MarkCompleted(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return engineerr.ErrNotFound
	}
	if t.Status == StatusCancelled {
		return engineerr.ErrAlreadyCompleted
	}
	if t.Status != StatusCompleted && m.metrics != nil {
		m.metrics.BatchTasksRunning.Dec()
	}
	t.Status = StatusCompleted
	t.UpdatedAt = time.Now()
	return nil
}

// MarkCancelled transitions a task to its terminal cancelled state.
// Refused if the task was already completed; idempotent once cancelled.
func (m *Manager) MarkCancelled(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return engineerr.ErrNotFound
	}
	if t.Status == StatusCompleted {
		return engineerr.ErrAlreadyCompleted
	}
	if t.Status != StatusCancelled && m.metrics != nil {
		m.metrics.BatchTasksRunning.Dec()
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	return nil
}

// GetStatus returns the current status view for taskID, first running TTL
// cleanup so expired tasks never appear stale.
func (m *Manager) GetStatus(taskID string) (StatusView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked()
	t, ok := m.tasks[taskID]
	if !ok {
		return StatusView{}, engineerr.ErrNotFound
	}
	return StatusView{
		Status:       t.Status,
		Done:         t.Done,
		Total:        t.Total,
		Aggregation:  t.Aggregation,
		GridMetadata: t.GridMetadata,
	}, nil
}

// evictExpiredLocked removes every task whose UpdatedAt is older than
// TTLSeconds. Callers must hold m.mu.
func (m *Manager) evictExpiredLocked() {
	if m.cfg.TTLSeconds <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(m.cfg.TTLSeconds) * time.Second)
	for id, t := range m.tasks {
		if t.UpdatedAt.Before(cutoff) {
			delete(m.tasks, id)
		}
	}
}

// cancelRequested reports whether taskID has been flagged for cooperative
// cancellation. Used by the orchestrator between dispatches.
func (m *Manager) cancelRequested(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	return ok && t.CancelRequested
}

// evictOldestLocked removes the single oldest-by-UpdatedAt task. Callers
// must hold m.mu and have already confirmed the manager is at capacity.
func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	first := true
	for id, t := range m.tasks {
		if first || t.UpdatedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = t.UpdatedAt
			first = false
		}
	}
	if oldestID != "" {
		delete(m.tasks, oldestID)
	}
}
