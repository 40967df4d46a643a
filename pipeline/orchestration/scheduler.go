package orchestration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aios-systems/aios/core"
)

// ScheduledTask is one entry in the scheduler: a named binding between a
// schedule spec and a workflow to run, per §4.3.4.
type ScheduledTask struct {
	Name       string
	WorkflowID string
	Schedule   string
	Enabled    bool

	NextRun  time.Time
	RunCount int

	schedule cron.Schedule
	interval time.Duration
}

// Scheduler is the lightweight in-process timer service of §4.3.4: a 30s
// ticker that invokes any task whose next_run has arrived. Not durable
// across restarts — next_run times are recomputed from each task's
// schedule at startup. Runs as its own goroutine, started and stopped
// via context, generalized from a single periodic job to a multi-task
// timer table.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*ScheduledTask

	dispatch func(ctx context.Context, workflowID string) error
	logger   core.Logger

	tickInterval time.Duration
	stop         chan struct{}
	done         chan struct{}
}

// NewScheduler builds a scheduler that invokes workflowID via dispatch on
// every fired task.
func NewScheduler(dispatch func(ctx context.Context, workflowID string) error, logger core.Logger) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Scheduler{
		tasks:        map[string]*ScheduledTask{},
		dispatch:     dispatch,
		logger:       logger,
		tickInterval: 30 * time.Second,
	}
}

// Schedule registers or replaces a task, parsing spec into either a
// cron.Schedule (daily/weekly) or a fixed interval and computing its
// first next_run from now.
func (s *Scheduler) Schedule(name, workflowID, spec string) error {
	task, err := parseSchedule(name, workflowID, spec)
	if err != nil {
		return err
	}
	task.NextRun = task.computeNext(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = task
	return nil
}

// Unschedule removes a task by name.
func (s *Scheduler) Unschedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
}

// parseSchedule translates a schedule spec into a ScheduledTask.
// `interval:Nm|Nh|Nd` is computed directly; `daily:HH:MM` and
// `weekly:ddd:HH:MM` are translated into a standard 5-field cron
// expression and parsed via robfig/cron so Next(now) does the
// day/month-rollover arithmetic.
func parseSchedule(name, workflowID, spec string) (*ScheduledTask, error) {
	task := &ScheduledTask{Name: name, WorkflowID: workflowID, Schedule: spec, Enabled: true}

	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid schedule spec %q", spec)
	}
	kind, rest := parts[0], parts[1]

	switch kind {
	case "interval":
		d, err := parseIntervalDuration(rest)
		if err != nil {
			return nil, err
		}
		task.interval = d

	case "daily":
		hh, mm, err := parseHHMM(rest)
		if err != nil {
			return nil, err
		}
		cronExpr := fmt.Sprintf("%d %d * * *", mm, hh)
		sched, err := cron.ParseStandard(cronExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid daily schedule %q: %w", spec, err)
		}
		task.schedule = sched

	case "weekly":
		weekParts := strings.SplitN(rest, ":", 2)
		if len(weekParts) != 2 {
			return nil, fmt.Errorf("invalid weekly schedule %q", spec)
		}
		dow, err := weekdayNumber(weekParts[0])
		if err != nil {
			return nil, err
		}
		hh, mm, err := parseHHMM(weekParts[1])
		if err != nil {
			return nil, err
		}
		cronExpr := fmt.Sprintf("%d %d * * %d", mm, hh, dow)
		sched, err := cron.ParseStandard(cronExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid weekly schedule %q: %w", spec, err)
		}
		task.schedule = sched

	case "event":
		// Event-triggered tasks have no next_run; Fire invokes them directly.

	default:
		return nil, fmt.Errorf("unknown schedule kind %q", kind)
	}

	return task, nil
}

func parseIntervalDuration(rest string) (time.Duration, error) {
	if len(rest) < 2 {
		return 0, fmt.Errorf("invalid interval %q", rest)
	}
	unit := rest[len(rest)-1]
	n, err := strconv.Atoi(rest[:len(rest)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", rest, err)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval unit %q", string(unit))
	}
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid HH:MM %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return hh, mm, nil
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

func weekdayNumber(name string) (int, error) {
	if n, ok := weekdayNames[strings.ToLower(name)]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// computeNext returns the task's next run time after from.
func (t *ScheduledTask) computeNext(from time.Time) time.Time {
	if t.schedule != nil {
		return t.schedule.Next(from)
	}
	if t.interval > 0 {
		return from.Add(t.interval)
	}
	return time.Time{}
}

// Start runs the scheduler's tick loop until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := time.NewTicker(s.tickInterval)

	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

// tick invokes every enabled task whose next_run has arrived, per
// §4.3.4's "on tick: for each enabled task whose next_run ≤ now, invoke"
// rule.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*ScheduledTask, 0)
	for _, task := range s.tasks {
		if task.Enabled && !task.NextRun.IsZero() && !task.NextRun.After(now) {
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		if err := s.dispatch(ctx, task.WorkflowID); err != nil {
			s.logger.Error("scheduled task dispatch failed", map[string]interface{}{
				"task": task.Name, "workflow": task.WorkflowID, "error": err.Error(),
			})
		}
		s.mu.Lock()
		task.RunCount++
		task.NextRun = task.computeNext(now)
		s.mu.Unlock()
	}
}

// Fire invokes every enabled task bound to eventName directly, bypassing
// next_run, per §4.3.4's event-trigger rule.
func (s *Scheduler) Fire(ctx context.Context, eventName string) {
	s.mu.Lock()
	var targets []*ScheduledTask
	for _, task := range s.tasks {
		if task.Enabled && strings.HasPrefix(task.Schedule, "event:") && strings.TrimPrefix(task.Schedule, "event:") == eventName {
			targets = append(targets, task)
		}
	}
	s.mu.Unlock()

	for _, task := range targets {
		if err := s.dispatch(ctx, task.WorkflowID); err != nil {
			s.logger.Error("event-triggered task dispatch failed", map[string]interface{}{
				"task": task.Name, "event": eventName, "error": err.Error(),
			})
		}
		s.mu.Lock()
		task.RunCount++
		s.mu.Unlock()
	}
}

// Tasks returns a snapshot of every registered task.
func (s *Scheduler) Tasks() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}
