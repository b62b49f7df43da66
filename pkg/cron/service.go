package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/HKUDS/secretary-go/pkg/metrics"
	"github.com/HKUDS/secretary-go/pkg/resolver"
)

var (
	ErrNoDispatcher   = errors.New("cron: no dispatcher bound")
	ErrAlreadyStarted = errors.New("cron: already started")
	ErrInvalidTrigger = errors.New("cron: invalid trigger")
)

// DefaultGrace is how late a firing may run before it counts as missed.
const DefaultGrace = 60 * time.Second

// Dispatcher delivers a reminder text to a chat.
type Dispatcher func(ctx context.Context, chatID int64, text string) error

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGrace sets the misfire grace window.
func WithGrace(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

// WithLocation sets the zone weekly rules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDispatchTimeout bounds a single dispatch call.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Service) { s.dispatchTimeout = d }
}

// Service keeps reminder jobs on disk and fires each one from its own timer.
// It is safe for concurrent use.
type Service struct {
	storePath       string
	loc             *time.Location
	grace           time.Duration
	dispatchTimeout time.Duration
	now             func() time.Time
	logger          *zap.Logger
	metrics         *metrics.Metrics
	parser          cron.Parser

	mu       sync.Mutex
	jobs     map[string]*Job
	timers   map[string]*time.Timer
	dispatch Dispatcher
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewService creates a scheduler persisting to storePath.
func NewService(storePath string, opts ...Option) *Service {
	s := &Service{
		storePath:       storePath,
		loc:             time.Local,
		grace:           DefaultGrace,
		dispatchTimeout: 30 * time.Second,
		now:             time.Now,
		logger:          zap.NewNop(),
		parser:          cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		jobs:            make(map[string]*Job),
		timers:          make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("cron")
	return s
}

// SetDispatcher binds the delivery callback. It must be called before Start.
func (s *Service) SetDispatcher(fn Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = fn
}

// Start reloads persisted jobs and arms their timers.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatch == nil {
		return ErrNoDispatcher
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.loadLocked(); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true

	now := s.now()
	for _, job := range s.jobs {
		s.resumeLocked(job, now)
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("failed to save job store", zap.Error(err))
	}
	s.metrics.SetJobs(len(s.jobs))
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)), zap.Duration("grace", s.grace))
	return nil
}

// Stop disarms every timer and waits for in-flight dispatches.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// AddOneOff registers a job firing once at fireAt.
func (s *Service) AddOneOff(chatID int64, text string, fireAt time.Time, owner Owner, role Role) (Job, error) {
	if fireAt.IsZero() {
		return Job{}, fmt.Errorf("%w: zero fire time", ErrInvalidTrigger)
	}
	return s.add(chatID, text, Trigger{Kind: KindAt, AtMs: fireAt.UnixMilli()}, owner, role)
}

// AddRecurring registers a job firing at hour:minute on days until endDate
// (inclusive, optional).
func (s *Service) AddRecurring(chatID int64, text string, hour, minute int, days resolver.Days, endDate string, owner Owner, role Role) (Job, error) {
	if len(days) == 0 {
		return Job{}, fmt.Errorf("%w: no weekdays", ErrInvalidTrigger)
	}
	tr := Trigger{Kind: KindWeekly, Hour: hour, Minute: minute, Days: days.String(), EndDate: endDate}
	return s.add(chatID, text, tr, owner, role)
}

func (s *Service) add(chatID int64, text string, tr Trigger, owner Owner, role Role) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &Job{
		ID:          uuid.New().String()[:8],
		ChatID:      chatID,
		Text:        text,
		Trigger:     tr,
		Owner:       owner,
		Role:        role,
		CreatedAtMs: now.UnixMilli(),
	}

	switch tr.Kind {
	case KindAt:
		job.State.NextRunAtMs = tr.AtMs
	case KindWeekly:
		next, ok, err := s.nextWeekly(tr, now)
		if err != nil {
			return Job{}, err
		}
		if !ok {
			return Job{}, fmt.Errorf("%w: no firing before end date %s", ErrInvalidTrigger, tr.EndDate)
		}
		job.State.NextRunAtMs = next.UnixMilli()
	default:
		return Job{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, tr.Kind)
	}

	s.jobs[job.ID] = job
	if err := s.saveLocked(); err != nil {
		delete(s.jobs, job.ID)
		return Job{}, err
	}
	if s.started && !s.stopped {
		s.armLocked(job)
	}
	s.metrics.SetJobs(len(s.jobs))
	s.logger.Debug("job added",
		zap.String("id", job.ID),
		zap.String("role", string(role)),
		zap.Time("next", time.UnixMilli(job.State.NextRunAtMs).In(s.loc)))
	return *job, nil
}

// Cancel removes a job. Unknown ids return false.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeLocked(id) {
		return false
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("failed to save job store", zap.Error(err))
	}
	s.metrics.SetJobs(len(s.jobs))
	return true
}

// CancelOwner removes every job belonging to owner and returns their ids.
func (s *Service) CancelOwner(owner Owner) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, job := range s.jobs {
		if job.Owner == owner {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.removeLocked(id)
	}
	if len(ids) > 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Warn("failed to save job store", zap.Error(err))
		}
		s.metrics.SetJobs(len(s.jobs))
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) removeLocked(id string) bool {
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	delete(s.jobs, id)
	return true
}

// ListJobs returns copies of all jobs ordered by next run.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].State.NextRunAtMs != jobs[j].State.NextRunAtMs {
			return jobs[i].State.NextRunAtMs < jobs[j].State.NextRunAtMs
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// resumeLocked decides what a reloaded job does after a restart.
func (s *Service) resumeLocked(job *Job, now time.Time) {
	switch job.Trigger.Kind {
	case KindAt:
		due := time.UnixMilli(job.Trigger.AtMs)
		if now.Sub(due) > s.grace {
			s.logger.Warn("one-off reminder missed while offline",
				zap.String("id", job.ID), zap.Time("due", due.In(s.loc)))
			s.metrics.IncFiring(string(job.Role), StatusMissed)
			delete(s.jobs, job.ID)
			return
		}
		job.State.NextRunAtMs = job.Trigger.AtMs
	case KindWeekly:
		next, ok, err := s.nextWeekly(job.Trigger, s.resumeAfter(job, now))
		if err != nil || !ok {
			if err != nil {
				s.logger.Warn("dropping job with bad trigger", zap.String("id", job.ID), zap.Error(err))
			}
			delete(s.jobs, job.ID)
			return
		}
		job.State.NextRunAtMs = next.UnixMilli()
	default:
		s.logger.Warn("dropping job with unknown trigger", zap.String("id", job.ID))
		delete(s.jobs, job.ID)
		return
	}
	s.armLocked(job)
}

// resumeAfter is max(last run, now - grace): a firing already delivered is
// not repeated, one missed by less than the grace window still goes out.
func (s *Service) resumeAfter(job *Job, now time.Time) time.Time {
	after := now.Add(-s.grace)
	if job.State.LastRunAtMs > 0 {
		if last := time.UnixMilli(job.State.LastRunAtMs); last.After(after) {
			after = last
		}
	}
	return after
}

func (s *Service) weeklySchedule(tr Trigger) (cron.Schedule, error) {
	if tr.Hour < 0 || tr.Hour > 23 || tr.Minute < 0 || tr.Minute > 59 {
		return nil, fmt.Errorf("%w: time %02d:%02d", ErrInvalidTrigger, tr.Hour, tr.Minute)
	}
	sched, err := s.parser.Parse(fmt.Sprintf("%d %d * * %s", tr.Minute, tr.Hour, tr.Days))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = s.loc
	}
	return sched, nil
}

// nextWeekly returns the first firing strictly after after, and false when
// the rule has no firing left before its end date.
func (s *Service) nextWeekly(tr Trigger, after time.Time) (time.Time, bool, error) {
	sched, err := s.weeklySchedule(tr)
	if err != nil {
		return time.Time{}, false, err
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	if tr.EndDate != "" {
		end, err := time.ParseInLocation("2006-01-02", tr.EndDate, s.loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: end date %q", ErrInvalidTrigger, tr.EndDate)
		}
		if !next.Before(end.AddDate(0, 0, 1)) {
			return time.Time{}, false, nil
		}
	}
	return next, true, nil
}

func (s *Service) armLocked(job *Job) {
	if t, ok := s.timers[job.ID]; ok {
		t.Stop()
	}
	delay := time.UnixMilli(job.State.NextRunAtMs).Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })
}

func (s *Service) fire(id string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)

	now := s.now()
	due := time.UnixMilli(job.State.NextRunAtMs)
	if now.Before(due) {
		s.armLocked(job)
		s.mu.Unlock()
		return
	}
	snapshot := *job
	dispatch := s.dispatch
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	log := s.logger.With(zap.String("id", snapshot.ID), zap.Int64("chat_id", snapshot.ChatID), zap.String("role", string(snapshot.Role)))

	status, errText := StatusOK, ""
	if late := now.Sub(due); late > s.grace {
		status = StatusMissed
		log.Warn("reminder missed grace window", zap.Duration("late", late))
	} else if err := s.deliver(ctx, dispatch, snapshot); err != nil {
		status, errText = StatusError, err.Error()
		log.Error("reminder dispatch failed", zap.Error(err))
	} else {
		log.Info("reminder sent")
	}
	s.metrics.IncFiring(string(snapshot.Role), status)

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok = s.jobs[id]
	if !ok {
		return
	}
	job.State.LastRunAtMs = now.UnixMilli()
	job.State.LastStatus = status
	job.State.LastError = errText

	switch job.Trigger.Kind {
	case KindAt:
		delete(s.jobs, id)
	case KindWeekly:
		after := now
		if due.After(after) {
			after = due
		}
		next, ok, err := s.nextWeekly(job.Trigger, after)
		if err != nil || !ok {
			delete(s.jobs, id)
			log.Info("recurring reminder finished")
			break
		}
		job.State.NextRunAtMs = next.UnixMilli()
		if !s.stopped {
			s.armLocked(job)
		}
	}

	if err := s.saveLocked(); err != nil {
		log.Warn("failed to save job store", zap.Error(err))
	}
	s.metrics.SetJobs(len(s.jobs))
}

func (s *Service) deliver(ctx context.Context, dispatch Dispatcher, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()
	return dispatch(ctx, job.ChatID, job.Text)
}

func (s *Service) loadLocked() error {
	data, err := os.ReadFile(s.storePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read job store: %w", err)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("failed to parse job store %s: %w", s.storePath, err)
	}
	for i := range store.Jobs {
		job := store.Jobs[i]
		if _, exists := s.jobs[job.ID]; !exists {
			s.jobs[job.ID] = &job
		}
	}
	return nil
}

// saveLocked writes the job list through a temp file and rename so a crash
// never leaves a half-written store.
func (s *Service) saveLocked() error {
	store := Store{Version: 1, Jobs: make([]Job, 0, len(s.jobs))}
	for _, job := range s.jobs {
		store.Jobs = append(store.Jobs, *job)
	}
	sort.Slice(store.Jobs, func(i, j int) bool {
		if store.Jobs[i].CreatedAtMs != store.Jobs[j].CreatedAtMs {
			return store.Jobs[i].CreatedAtMs < store.Jobs[j].CreatedAtMs
		}
		return store.Jobs[i].ID < store.Jobs[j].ID
	})

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job store: %w", err)
	}
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save job store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save job store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save job store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.storePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save job store: %w", err)
	}
	return nil
}
