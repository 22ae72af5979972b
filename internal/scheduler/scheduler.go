// Package scheduler implements the single min-heap job scheduler described
// in §4.5: one sleep loop per scheduler service, a wakeup channel signalled
// on every add/remove, and interval/cron triggers for repeating jobs.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/resource"
)

const (
	defaultMinDelay     = 10 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultDefaultDelay = 5 * time.Second

	// behindScheduleThreshold is how far past NextRun a dispatch can run
	// before it's logged as behind schedule, per §4.5 step "runJob".
	behindScheduleThreshold = time.Second
)

// Options configures a new scheduler Service.
type Options struct {
	Logger *zerolog.Logger

	// MinDelay/MaxDelay/DefaultDelay bound the sleep-loop wait per §4.5 step
	// 5. Zero values use the package defaults.
	MinDelay     time.Duration
	MaxDelay     time.Duration
	DefaultDelay time.Duration

	Emitter     resource.Emitter
	JoinTimeout time.Duration
}

// Service is the scheduler resource: a Resource (role service) whose Serve
// loop is the min-heap dispatch loop. Construct one instance; every owner's
// Scheduler facade shares it.
type Service struct {
	*resource.Service

	mu   sync.Mutex
	heap jobHeap
	byID map[int64]*ScheduledJob

	nextID atomic.Int64
	wake   chan struct{}

	minDelay, maxDelay, defaultDelay time.Duration
}

// New constructs a scheduler Service in NotStarted status.
func New(opts Options) *Service {
	if opts.MinDelay <= 0 {
		opts.MinDelay = defaultMinDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = defaultDefaultDelay
	}

	log := hlog.Named("scheduler")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	s := &Service{
		byID:         make(map[int64]*ScheduledJob),
		wake:         make(chan struct{}, 1),
		minDelay:     opts.MinDelay,
		maxDelay:     opts.MaxDelay,
		defaultDelay: opts.DefaultDelay,
	}
	heap.Init(&s.heap)

	s.Service = resource.NewService(resource.ServiceOptions{
		Options: resource.Options{
			ClassName:   "scheduler",
			Role:        resource.RoleService,
			Emitter:     opts.Emitter,
			Logger:      &log,
			JoinTimeout: opts.JoinTimeout,
		},
		Serve: s.serve,
	})
	return s
}

func (s *Service) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddJob registers a job and returns its assigned id. The first NextRun is
// computed from trigger.NextRunTime(time.Now()).
func (s *Service) AddJob(owner string, trigger Trigger, run Job, args map[string]any, repeating bool) int64 {
	id := s.nextID.Add(1)
	next := trigger.NextRunTime(time.Now())
	job := &ScheduledJob{
		ID:        id,
		Owner:     owner,
		NextRun:   next.Truncate(time.Second),
		nanos:     next.UnixNano(),
		Trigger:   trigger,
		Run:       run,
		Args:      args,
		Repeating: repeating,
	}

	s.mu.Lock()
	heap.Push(&s.heap, job)
	s.byID[id] = job
	s.mu.Unlock()

	s.signalWake()
	return id
}

// RemoveJob cancels and removes the job with the given id. Returns false if
// no such job is registered.
func (s *Service) RemoveJob(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[id]
	if !ok {
		return false
	}
	job.cancelled = true
	delete(s.byID, id)
	if job.index >= 0 {
		heap.Remove(&s.heap, job.index)
	}
	return true
}

// RemoveAllJobs cancels and removes every job registered under owner, for
// app-handler and service-watcher bulk cleanup.
func (s *Service) RemoveAllJobs(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.byID {
		if job.Owner != owner {
			continue
		}
		job.cancelled = true
		delete(s.byID, id)
		if job.index >= 0 {
			heap.Remove(&s.heap, job.index)
		}
		n++
	}
	return n
}

// Len returns the number of currently scheduled jobs, for tests and metrics.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Service) popDue(now time.Time) []*ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*ScheduledJob
	for len(s.heap) > 0 && !s.heap[0].NextRun.After(now) {
		job := heap.Pop(&s.heap).(*ScheduledJob)
		delete(s.byID, job.ID)
		due = append(due, job)
	}
	return due
}

func (s *Service) computeDelay(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) == 0 {
		return s.defaultDelay
	}
	delay := s.heap[0].NextRun.Sub(now)
	if delay < s.minDelay {
		return s.minDelay
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

// serve is the scheduler's single sleep/dispatch loop, per §4.5.
func (s *Service) serve(ctx context.Context) error {
	s.MarkReady("dispatch loop started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		due := s.popDue(time.Now())
		if len(due) > 0 {
			for _, job := range due {
				job := job
				s.TaskBucket.Spawn(ctx, fmt.Sprintf("scheduler.job.%d", job.ID), func(ctx context.Context) error {
					s.dispatchAndLog(ctx, job)
					return nil
				})
			}
			continue
		}

		delay := s.computeDelay(time.Now())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatchAndLog runs a due job and, if it repeats, reschedules it. Both
// steps happen on the same spawned goroutine so a job's own runtime never
// blocks the scheduler's dispatch loop.
func (s *Service) dispatchAndLog(ctx context.Context, job *ScheduledJob) {
	s.runJob(ctx, job)
	if job.Repeating && !job.cancelled {
		s.rescheduleJob(job)
	}
}

func (s *Service) runJob(ctx context.Context, job *ScheduledJob) {
	behind := time.Since(job.NextRun)
	if behind > behindScheduleThreshold {
		s.Logger().Warn().Int64("job_id", job.ID).Str("owner", job.Owner).
			Dur("behind_by", behind).Msg("scheduled job is behind schedule")
	}

	defer func() {
		if r := recover(); r != nil {
			s.Logger().Error().Int64("job_id", job.ID).Str("owner", job.Owner).
				Interface("panic", r).Msg("scheduled job panicked")
		}
	}()

	if err := job.Run(ctx, job.Args); err != nil {
		if ctx.Err() != nil {
			s.Logger().Debug().Int64("job_id", job.ID).Err(err).Msg("scheduled job ended on cancellation")
			return
		}
		s.Logger().Error().Int64("job_id", job.ID).Str("owner", job.Owner).Err(err).Msg("scheduled job failed")
	}
}

// rescheduleJob computes the job's next run and pushes it back onto the
// heap. A trigger that fails to advance strictly past the previous NextRun
// is a logic error: the job is logged and dropped rather than looped
// forever, per §4.5.
func (s *Service) rescheduleJob(job *ScheduledJob) {
	next := job.Trigger.NextRunTime(job.NextRun)
	if !next.After(job.NextRun) {
		s.Logger().Error().Int64("job_id", job.ID).Str("owner", job.Owner).
			Time("previous_next_run", job.NextRun).Time("computed_next_run", next).
			Msg("trigger did not advance past previous run, dropping job")
		return
	}

	s.mu.Lock()
	if job.cancelled {
		s.mu.Unlock()
		return
	}
	job.nanos = next.UnixNano()
	job.NextRun = next.Truncate(time.Second)
	heap.Push(&s.heap, job)
	s.byID[job.ID] = job
	s.mu.Unlock()

	s.signalWake()
}
