package runs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically resumes polling for runs whose poller was lost, e.g.
// across a process restart. Background polling is in-memory; the run rows
// are the durable record, and the sweep is the recovery path for them.
type Sweeper struct {
	ctrl      *Controller
	schedule  string
	olderThan time.Duration
	cron      *cron.Cron
}

func NewSweeper(ctrl *Controller, schedule string, olderThan time.Duration) *Sweeper {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if olderThan <= 0 {
		olderThan = 10 * time.Minute
	}
	return &Sweeper{
		ctrl:      ctrl,
		schedule:  schedule,
		olderThan: olderThan,
		cron:      cron.New(),
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("orphaned run sweeper started", "schedule", s.schedule, "older_than", s.olderThan)
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.ctrl.ResumeOrphans(ctx, s.olderThan); err != nil {
		slog.Error("orphaned run sweep failed", "error", err)
	}
}
