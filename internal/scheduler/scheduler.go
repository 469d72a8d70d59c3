package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Job is one unit of periodic work. The context is cancelled by Stop.
type Job func(ctx context.Context) error

// Status is a snapshot of a scheduler for the ops API.
type Status struct {
	Name      string        `json:"name"`
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	LastRun   time.Time     `json:"last_run"`
	NextRun   time.Time     `json:"next_run"`
	LastError string        `json:"last_error,omitempty"`
}

// Scheduler runs a job on a fixed interval. Ticks that arrive while the
// previous run is still going are skipped, and manual runs never overlap
// scheduled ones.
type Scheduler struct {
	name      string
	interval  time.Duration
	job       Job
	cron      *cron.Cron
	entryID   cron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	lastErr   error
	mu        sync.RWMutex
	runMu     sync.Mutex
}

// New creates a new scheduler
func New(name string, interval time.Duration, job Job) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
	}
}

// Start starts the scheduler. A stopped scheduler can be started again.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
	))

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.WithFields(logrus.Fields{
		"scheduler": s.name,
		"interval":  s.interval.String(),
	}).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	// Cancel context to stop any running operations
	s.cancel()
	ctx := s.cron.Stop()
	s.isRunning = false
	s.mu.Unlock()

	// The running job takes mu when it finishes, so wait unlocked.
	select {
	case <-ctx.Done():
		logrus.WithField("scheduler", s.name).Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.WithField("scheduler", s.name).Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) tick() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	_ = s.run(ctx)
}

// RunOnce runs the job immediately with ctx, outside the schedule
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) error {
	s.wg.Add(1)
	defer s.wg.Done()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	err := s.job(ctx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		logrus.WithField("scheduler", s.name).Errorf("Scheduled run failed: %v", err)
	}
	return err
}

// NextRun returns the time of the next scheduled run
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns when the job last finished, scheduled or manual
func (s *Scheduler) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	st := Status{
		Name:     s.name,
		Running:  s.IsRunning(),
		Interval: s.interval,
		LastRun:  s.LastRun(),
		NextRun:  s.NextRun(),
	}

	s.mu.RLock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()
	return st
}

// Wait waits for in-flight runs to return
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
