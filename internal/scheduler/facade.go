package scheduler

import "time"

// Scheduler is a per-owner façade over a shared Service: every job it
// schedules is tagged with owner so RemoveAll can do bulk cleanup when that
// owner (an app instance, typically) unloads.
type Scheduler struct {
	svc   *Service
	owner string
}

// NewFacade returns a Scheduler bound to owner over the shared service svc.
func NewFacade(svc *Service, owner string) *Scheduler {
	return &Scheduler{svc: svc, owner: owner}
}

// Schedule is the base primitive every convenience wrapper below calls.
func (s *Scheduler) Schedule(trigger Trigger, run Job, args map[string]any, repeating bool) int64 {
	return s.svc.AddJob(s.owner, trigger, run, args, repeating)
}

// RunIn schedules run to fire once, after delay.
func (s *Scheduler) RunIn(delay time.Duration, run Job, args map[string]any) int64 {
	return s.Schedule(IntervalTrigger{Start: time.Now().Add(delay)}, run, args, false)
}

// RunOnce schedules run to fire once, at the given absolute time.
func (s *Scheduler) RunOnce(at time.Time, run Job, args map[string]any) int64 {
	return s.Schedule(IntervalTrigger{Start: at}, run, args, false)
}

// RunEvery schedules run to fire repeatedly every interval, starting one
// interval from now.
func (s *Scheduler) RunEvery(interval time.Duration, run Job, args map[string]any) int64 {
	return s.Schedule(IntervalTrigger{Seconds: interval.Seconds()}, run, args, true)
}

// RunCron schedules run to fire repeatedly according to a 6-field cron
// expression (second minute hour day-of-month month day-of-week); an empty
// field defaults to "*".
func (s *Scheduler) RunCron(second, minute, hour, dayOfMonth, month, dayOfWeek string, run Job, args map[string]any) int64 {
	trigger := &CronTrigger{
		Second: second, Minute: minute, Hour: hour,
		DayOfMonth: dayOfMonth, Month: month, DayOfWeek: dayOfWeek,
	}
	return s.Schedule(trigger, run, args, true)
}

// RemoveJob cancels a single job by id.
func (s *Scheduler) RemoveJob(id int64) bool { return s.svc.RemoveJob(id) }

// RemoveAllJobs cancels every job this façade has scheduled.
func (s *Scheduler) RemoveAllJobs() int { return s.svc.RemoveAllJobs(s.owner) }
