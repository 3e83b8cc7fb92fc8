package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs named background jobs on cron expressions. Descriptors
// such as "@every 10m" and "@daily" are accepted.
type Scheduler struct {
	logger  *zap.Logger
	parser  cron.Parser
	c       *cron.Cron
	loc     *time.Location
	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	stopped bool
	// triggered runs started outside the cron loop
	wg sync.WaitGroup
}

func NewScheduler(timezone string, logger *zap.Logger) (*Scheduler, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		logger:  logger,
		parser:  parser,
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		loc:     loc,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Location is the timezone schedules are evaluated in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Add registers fn under name. Job runs never overlap with themselves.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.run(name, fn)
	}))
	s.entries[name] = s.c.Schedule(schedule, job)
	s.logger.Info("Scheduled job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start begins running jobs until ctx is cancelled or Stop is called.
// A stopped scheduler does not start again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.ctx = ctx
	s.c.Start()
	jobs := len(s.entries)
	s.mu.Unlock()

	s.logger.Info("Scheduler started", zap.Int("jobs", jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop waits for running jobs to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	<-s.c.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Scheduler shutdown completed")
}

// Trigger runs a registered job once in the background. The run goes
// through the job's cron wrappers, so it is skipped while a scheduled run
// is still in progress, and Stop waits for it. After Stop it does nothing.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("job %s is not registered", name)
	}
	if s.stopped {
		return nil
	}

	job := s.c.Entry(id).WrappedJob
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()
	return nil
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(name string, fn func(ctx context.Context) error) {
	s.run(name, fn)
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", name),
			zap.Error(err),
			zap.Duration("duration", duration))
		return
	}

	s.logger.Debug("Scheduled job completed",
		zap.String("job", name),
		zap.Duration("duration", duration))
}
