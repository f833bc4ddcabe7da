// workers/scheduler.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler runs one gocron job per refresh worker. Jobs are singletons: a
// tick that arrives while the previous run is still going is rescheduled
// instead of stacking up.
type Scheduler struct {
	sched   gocron.Scheduler
	logger  *zap.Logger
	jobs    map[string]gocron.Job
	workers map[string]*RefreshWorker
}

func NewScheduler(logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		sched:   sched,
		logger:  logger.Named("scheduler"),
		jobs:    make(map[string]gocron.Job),
		workers: make(map[string]*RefreshWorker),
	}, nil
}

// Add registers w to run every interval, starting immediately once the
// scheduler is started. ctx bounds every run of the worker.
func (s *Scheduler) Add(ctx context.Context, w *RefreshWorker, every time.Duration) error {
	if _, dup := s.workers[w.Class()]; dup {
		return fmt.Errorf("worker %q already scheduled", w.Class())
	}
	job, err := s.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			err := w.RunOnce(ctx)
			if err != nil && !errors.Is(err, ErrRefreshInFlight) && ctx.Err() == nil {
				s.logger.Debug("refresh run ended with error", zap.String("class", w.Class()), zap.Error(err))
			}
		}),
		gocron.WithName(w.Class()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule %s refresh: %w", w.Class(), err)
	}
	s.jobs[w.Class()] = job
	s.workers[w.Class()] = w
	s.logger.Info("refresh scheduled", zap.String("class", w.Class()), zap.Duration("every", every))
	return nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Trigger runs the named worker now, outside its regular interval.
func (s *Scheduler) Trigger(class string) error {
	job, ok := s.jobs[class]
	if !ok {
		return fmt.Errorf("no refresh worker for %q", class)
	}
	return job.RunNow()
}

// Statuses reports every worker, ordered by class.
func (s *Scheduler) Statuses() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

// Shutdown stops scheduling and waits for running jobs to return.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
