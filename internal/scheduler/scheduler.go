// Package scheduler runs maintenance passes on fixed intervals inside the
// API server: coordinate enrichment and the rebuild of derived tables.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a named pass run every Interval. A zero interval disables it.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs one at a time. A job whose turn comes while another is
// running waits for it.
type Scheduler struct {
	jobs     []Job
	logger   *logrus.Logger
	jobMutex sync.Mutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	mu   sync.Mutex
	runs map[string]int
}

func NewScheduler(logger *logrus.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	enabled := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			enabled = append(enabled, j)
		}
	}
	return &Scheduler{
		jobs:   enabled,
		logger: logger,
		runs:   make(map[string]int),
	}
}

// Jobs returns the names of the enabled jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Start launches one ticker per job. Jobs stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.WithField("jobs", s.Jobs()).Info("Scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Runs returns how many times the named job has completed, failed runs included.
func (s *Scheduler) Runs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name]
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	log := s.logger.WithField("job", job.Name)
	log.Info("Starting scheduled job")

	err := job.Run(ctx)

	s.mu.Lock()
	s.runs[job.Name]++
	s.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("Scheduled job failed")
		return
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Completed scheduled job")
}
