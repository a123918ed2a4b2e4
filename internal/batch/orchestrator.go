package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one symbol x parameter-combination unit of work the orchestrator
// dispatches. Run should itself respect ctx cancellation where feasible.
type Job struct {
	Symbol string
	Combo  string
	Run    func(ctx context.Context) (JobResult, error)
}

// RunOrchestrated drains jobs through a worker pool bounded at
// min(BatchConfig.MaxInFlight, 16), folding each completed job into the task's
// aggregation and invoking onResult once per completion (the NDJSON sink
// in the CLI layer streams exactly this). Dispatch stops as soon as the
// task is flagged for cancellation; jobs already in flight are allowed to
// finish. Per-job errors are recorded as a zero-value UpdateProgress call
// and reported via onResult, never aborting the remaining jobs.
func (m *Manager) RunOrchestrated(ctx context.Context, taskID string, jobs []Job, onResult func(JobResult, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := m.cfg.MaxInFlight
	if limit > 16 {
		limit = 16
	}
	g.SetLimit(limit)

	for _, job := range jobs {
		if m.cancelRequested(taskID) {
			break
		}
		job := job
		g.Go(func() error {
			res, err := job.Run(gctx)
			if err != nil {
				_ = m.UpdateProgress(taskID, nil)
				if onResult != nil {
					onResult(JobResult{Symbol: job.Symbol, Combo: job.Combo}, err)
				}
				return nil
			}
			_ = m.UpdateProgress(taskID, &res)
			if onResult != nil {
				onResult(res, nil)
			}
			return nil
		})
	}
	return g.Wait()
}
