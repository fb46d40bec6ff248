package watch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/github"
	"github.com/prdigest/pr-digest/pkg/orchestrate"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// Runner generates the digest of the day before now.
type Runner interface {
	Run(ctx context.Context, now time.Time) (*orchestrate.RunResult, error)
}

// Scheduler runs the digest generator periodically
type Scheduler struct {
	repo         string
	runner       Runner
	interval     time.Duration
	log          *logrus.Entry
	stateManager *StateManager
	now          func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler creates a new watch scheduler
func NewScheduler(appCfg *config.AppConfig, runner Runner, interval time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		repo:         appCfg.Repository.FullName(),
		runner:       runner,
		interval:     interval,
		log:          log.WithField("component", "watch"),
		stateManager: NewStateManager(appCfg.StateDir),
		now:          time.Now,
	}
}

// Run starts the watch scheduler and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %s with interval %s", s.repo, FormatInterval(s.interval))
	s.logSchedule()

	s.runIfDue(ctx)

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runIfDue(ctx)
		}
	}
}

// runIfDue starts a generation run in the background when one is due and
// none is in flight.
func (s *Scheduler) runIfDue(ctx context.Context) {
	now := s.now()
	target, _ := github.TargetWindow(now)
	targetDate := target.Format(time.DateOnly)

	if !s.stateManager.ShouldRun(s.repo, s.interval, targetDate, now) {
		s.logNextRun()
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("Previous run still in progress, skipping tick")
		return
	}

	s.log.WithField("date", targetDate).Info("Running digest generation")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runOnce(ctx, now)
	}()
}

// runOnce runs the generator and records the outcome.
func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	result, err := s.runner.Run(ctx, now)

	target, _ := github.TargetWindow(now)
	digestDate := target.Format(time.DateOnly)
	entries := 0
	if result != nil {
		entries = result.Entries
	}

	switch {
	case err == nil:
		s.stateManager.UpdateRepoState(s.repo, now, true, digestDate, entries, "")
	case errors.Is(err, utils.ErrNoPullRequests):
		s.log.WithField("date", digestDate).Info("No merged pull requests, nothing to publish")
		s.stateManager.UpdateRepoState(s.repo, now, true, digestDate, 0, "")
	case errors.Is(err, context.Canceled):
		s.log.Warn("Run cancelled")
		return
	default:
		s.log.WithField("error_type", utils.CategorizeError(err)).Errorf("Digest generation failed: %v", err)
		s.stateManager.UpdateRepoState(s.repo, now, false, digestDate, entries, err.Error())
	}

	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun()
}

// calculateTickInterval returns how often to check whether a run is due
func (s *Scheduler) calculateTickInterval() time.Duration {
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	state, exists := s.stateManager.GetRepoState(s.repo)
	if !exists {
		s.log.Infof("  %s: never run, will run immediately", s.repo)
		return
	}
	status := "success"
	if !state.LastRunSuccess {
		status = "failed"
	}
	s.log.Infof("  %s: last run %v (%s, digest %s, %d PRs), next run %v",
		s.repo,
		state.LastRunTime.Format(time.RFC3339),
		status,
		state.LastDigestDate,
		state.Entries,
		s.stateManager.GetNextRunTime(s.repo, s.interval, s.now()).Format(time.RFC3339))
}

// logNextRun logs when the next run may occur
func (s *Scheduler) logNextRun() {
	now := s.now()
	next := s.stateManager.GetNextRunTime(s.repo, s.interval, now)
	until := max(next.Sub(now), 0)
	s.log.Infof("Next check: %s in %v (at %s)", s.repo, until.Round(time.Second), next.Format("15:04:05"))
}

// GetStatus returns the current status of the watched repository
func (s *Scheduler) GetStatus() RepoStatus {
	state, exists := s.stateManager.GetRepoState(s.repo)
	return RepoStatus{
		Repository:     s.repo,
		LastRunTime:    state.LastRunTime,
		LastRunSuccess: state.LastRunSuccess,
		LastDigestDate: state.LastDigestDate,
		Entries:        state.Entries,
		ErrorMessage:   state.ErrorMessage,
		NextRunTime:    s.stateManager.GetNextRunTime(s.repo, s.interval, s.now()),
		NeverRun:       !exists,
		Running:        s.running.Load(),
	}
}

// RepoStatus contains the status of the watched repository
type RepoStatus struct {
	Repository     string
	LastRunTime    time.Time
	LastRunSuccess bool
	LastDigestDate string
	Entries        int
	ErrorMessage   string
	NextRunTime    time.Time
	NeverRun       bool
	Running        bool
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	idx := strings.IndexByte(s, 'd')
	if idx <= 0 {
		return 0, fmt.Errorf("invalid interval format: %q (examples: 30m, 1h, 24h, 7d)", s)
	}
	days, err := strconv.Atoi(s[:idx])
	if err != nil || days < 0 {
		return 0, fmt.Errorf("invalid interval format: %q (examples: 30m, 1h, 24h, 7d)", s)
	}
	d := time.Duration(days) * 24 * time.Hour
	if rest := s[idx+1:]; rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %q", s)
		}
		d += extra
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %s", s)
	}
	return d, nil
}
