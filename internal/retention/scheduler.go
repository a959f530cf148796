package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"envds.org/internal/auth"
	"envds.org/internal/obs"
)

// Scheduler runs sweeps on a cron schedule. All scheduled sweeps run on
// the cron goroutine, which serializes invocations in-process; nothing
// prevents a concurrent manual sweep from an admin, per the documented
// coordination constraint.
type Scheduler struct {
	cron *cron.Cron
	exec *Executor
}

// NewScheduler validates the cron expression (standard five-field
// syntax) and registers the sweep job.
func NewScheduler(exec *Executor, spec string) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		exec: exec,
	}
	_, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduled execution.
func (s *Scheduler) Start() {
	s.cron.Start()
	obs.LogRequest(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "info",
		"msg":   "retention scheduler started",
	})
}

// Stop halts the scheduler without interrupting a sweep in flight.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) run() {
	res, err := s.exec.Sweep(context.Background(), auth.System)
	if err != nil {
		obs.Warn("scheduled sweep failed", map[string]any{"error": err.Error()})
		return
	}
	obs.LogRequest(map[string]any{
		"ts":            time.Now().UTC().Format(time.RFC3339Nano),
		"level":         "info",
		"msg":           "retention sweep completed",
		"expired_found": res.ExpiredFound,
		"archived":      res.Archived,
		"deleted":       res.Deleted,
		"failed":        res.Failed,
	})
}
