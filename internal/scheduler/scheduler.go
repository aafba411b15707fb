// Package scheduler drives periodic agent cycles. One goroutine per
// job, interval triggers, and single-flight semantics: a tick that
// fires while the previous run is still going is dropped, and the
// ticker's one-slot buffer coalesces any backlog into a single
// make-up run.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JobFunc is one scheduled cycle. The context is the scheduler's base
// context: removing a job lets an in-flight run complete, stopping the
// scheduler cancels it.
type JobFunc func(ctx context.Context) error

// JobSpec describes a job to schedule. Adding a spec replaces any
// existing job with the same ID or Name.
type JobSpec struct {
	ID             string
	Name           string
	Interval       time.Duration
	Agent          bool
	RunImmediately bool
	Run            JobFunc
}

// JobInfo is the status view of one scheduled job.
type JobInfo struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run,omitempty"`
	Trigger string     `json:"trigger"`
}

// Status is the scheduler status snapshot.
type Status struct {
	Running      bool      `json:"running"`
	Jobs         []JobInfo `json:"jobs"`
	ActiveAgents int       `json:"active_agents"`
}

// Config bounds misfire handling and shutdown drain.
type Config struct {
	MisfireGrace time.Duration
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MisfireGrace == 0 {
		c.MisfireGrace = 60 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 10 * time.Second
	}
	return c
}

type job struct {
	spec    JobSpec
	runMu   *sync.Mutex // shared across replacements of the same name
	cancel  context.CancelFunc
	nextRun time.Time
}

// Scheduler runs interval jobs, at most one instance of each at a time.
type Scheduler struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*job        // by ID
	byName  map[string]string      // name → ID
	locks   map[string]*sync.Mutex // name → single-flight lock, survives replacement
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a stopped scheduler. Jobs may be added before Start; they
// begin ticking once the scheduler runs.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		logger: log.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]*job),
		byName: make(map[string]string),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Start begins ticking all registered jobs. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	for _, j := range s.jobs {
		s.launchLocked(j)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop cancels all jobs and waits up to the drain window for in-flight
// cycles. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn().Msg("Scheduler drain window elapsed with cycles still in flight")
	}
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Add registers a job, replacing any existing job with the same ID or
// Name. If the scheduler is running the job starts ticking at once.
func (s *Scheduler) Add(spec JobSpec) error {
	if spec.ID == "" || spec.Name == "" {
		return fmt.Errorf("job needs both id and name")
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", spec.Name)
	}
	if spec.Run == nil {
		return fmt.Errorf("job %s: missing run function", spec.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID, ok := s.byName[spec.Name]; ok {
		s.removeLocked(oldID)
	}
	if _, ok := s.jobs[spec.ID]; ok {
		s.removeLocked(spec.ID)
	}

	// The single-flight lock outlives replacement so a new job never
	// overlaps an in-flight cycle of its predecessor.
	lock, ok := s.locks[spec.Name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[spec.Name] = lock
	}

	j := &job{spec: spec, runMu: lock, nextRun: time.Now().Add(spec.Interval)}
	if spec.RunImmediately {
		j.nextRun = time.Now()
	}
	s.jobs[spec.ID] = j
	s.byName[spec.Name] = spec.ID
	if s.running {
		s.launchLocked(j)
	}
	s.logger.Info().
		Str("job_id", spec.ID).
		Str("name", spec.Name).
		Dur("interval", spec.Interval).
		Msg("Job scheduled")
	return nil
}

// Remove unschedules a job by ID. An in-flight cycle completes.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// RemoveByName unschedules a job by its name.
func (s *Scheduler) RemoveByName(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[name]
	if !ok {
		return false
	}
	return s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) bool {
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	delete(s.jobs, id)
	if s.byName[j.spec.Name] == id {
		delete(s.byName, j.spec.Name)
	}
	s.logger.Info().Str("job_id", id).Str("name", j.spec.Name).Msg("Job removed")
	return true
}

// Has reports whether a job with the given ID is scheduled.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// RunNow triggers one cycle of the named job outside its schedule,
// honoring single-flight against the ticking loop.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	id, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no job named %q", name)
	}
	j := s.jobs[id]
	s.mu.Unlock()

	if !j.runMu.TryLock() {
		return fmt.Errorf("job %q already running", name)
	}
	defer j.runMu.Unlock()
	return j.spec.Run(ctx)
}

// Status reports the scheduler state, its jobs ordered by name, and
// the number of scheduled agent jobs.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Jobs: make([]JobInfo, 0, len(s.jobs))}
	for _, j := range s.jobs {
		info := JobInfo{
			ID:      j.spec.ID,
			Name:    j.spec.Name,
			Trigger: fmt.Sprintf("interval[%s]", j.spec.Interval),
		}
		if s.running {
			next := j.nextRun
			info.NextRun = &next
		}
		st.Jobs = append(st.Jobs, info)
		if j.spec.Agent {
			st.ActiveAgents++
		}
	}
	sort.Slice(st.Jobs, func(a, b int) bool { return st.Jobs[a].Name < st.Jobs[b].Name })
	return st
}

// launchLocked starts the ticking goroutine for a job. Caller holds s.mu.
func (s *Scheduler) launchLocked(j *job) {
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	j.cancel = cancel
	j.nextRun = time.Now().Add(j.spec.Interval)
	if j.spec.RunImmediately {
		j.nextRun = time.Now()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if j.spec.RunImmediately {
			s.invoke(s.baseCtx, j)
		}

		ticker := time.NewTicker(j.spec.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case tick := <-ticker.C:
				// A tick stuck behind a slow cycle beyond the grace
				// window is a misfire, not a make-up run.
				if time.Since(tick) > s.cfg.MisfireGrace {
					s.logger.Warn().
						Str("name", j.spec.Name).
						Time("fired_at", tick).
						Msg("Skipping misfired run")
					s.setNextRun(j)
					continue
				}
				s.invoke(s.baseCtx, j)
			}
		}
	}()
}

// invoke runs one cycle under the job's single-flight lock. The run
// receives the scheduler base context so removal does not kill it.
func (s *Scheduler) invoke(ctx context.Context, j *job) {
	if !j.runMu.TryLock() {
		s.logger.Debug().Str("name", j.spec.Name).Msg("Cycle still running, tick dropped")
		s.setNextRun(j)
		return
	}
	defer j.runMu.Unlock()

	s.setNextRun(j)
	start := time.Now()
	if err := j.spec.Run(ctx); err != nil {
		s.logger.Error().
			Err(err).
			Str("name", j.spec.Name).
			Dur("elapsed", time.Since(start)).
			Msg("Cycle failed")
		return
	}
	s.logger.Debug().
		Str("name", j.spec.Name).
		Dur("elapsed", time.Since(start)).
		Msg("Cycle complete")
}

func (s *Scheduler) setNextRun(j *job) {
	s.mu.Lock()
	j.nextRun = time.Now().Add(j.spec.Interval)
	s.mu.Unlock()
}
