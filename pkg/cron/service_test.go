package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HKUDS/secretary-go/pkg/resolver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var saigon = time.FixedZone("ICT", 7*3600)

type sent struct {
	ChatID int64
	Text   string
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recorder) dispatch(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{chatID, text})
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// shiftedClock runs at real speed from base.
func shiftedClock(base time.Time) func() time.Time {
	start := time.Now()
	return func() time.Time { return base.Add(time.Since(start)) }
}

func newTestService(t *testing.T, path string, opts ...Option) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithLocation(saigon)}, opts...)
	s := NewService(path, opts...)
	s.SetDispatcher(rec.dispatch)
	return s, rec
}

func storePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "cron", "jobs.json")
}

func TestStartRequiresDispatcher(t *testing.T) {
	s := NewService(storePath(t))
	assert.ErrorIs(t, s.Start(), ErrNoDispatcher)

	s.SetDispatcher(func(context.Context, int64, string) error { return nil })
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
}

func TestOneOffFiresOnceAndIsRemoved(t *testing.T) {
	path := storePath(t)
	s, rec := newTestService(t, path)
	require.NoError(t, s.Start())
	defer s.Stop()

	_, err := s.AddOneOff(7, "Thưa anh, đã đến giờ họp rồi ạ.", time.Now().Add(30*time.Millisecond),
		Owner{Kind: OwnerTask, ID: 1}, RoleOnTime)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.ListJobs()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, sent{7, "Thưa anh, đã đến giờ họp rồi ạ."}, rec.msgs[0])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored Store
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Empty(t, stored.Jobs)
}

func TestCancelIsIdempotent(t *testing.T) {
	s, rec := newTestService(t, storePath(t))
	require.NoError(t, s.Start())
	defer s.Stop()

	job, err := s.AddOneOff(7, "x", time.Now().Add(50*time.Millisecond), Owner{Kind: OwnerTask, ID: 1}, RoleOnTime)
	require.NoError(t, err)

	assert.True(t, s.Cancel(job.ID))
	assert.False(t, s.Cancel(job.ID))
	assert.False(t, s.Cancel("missing"))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestCancelOwnerRemovesBothRoles(t *testing.T) {
	s, _ := newTestService(t, storePath(t))
	owner := Owner{Kind: OwnerRecurring, ID: 3}
	days := resolver.Days{time.Monday}

	_, err := s.AddRecurring(7, "early", 19, 45, days, "", owner, RoleEarly)
	require.NoError(t, err)
	_, err = s.AddRecurring(7, "on time", 20, 0, days, "", owner, RoleOnTime)
	require.NoError(t, err)
	_, err = s.AddRecurring(7, "other", 20, 0, days, "", Owner{Kind: OwnerRecurring, ID: 4}, RoleOnTime)
	require.NoError(t, err)

	assert.Len(t, s.CancelOwner(owner), 2)
	assert.Len(t, s.ListJobs(), 1)
	assert.Empty(t, s.CancelOwner(owner))
}

func TestLateFiringBeyondGraceIsMissed(t *testing.T) {
	s, rec := newTestService(t, storePath(t), WithGrace(time.Second))
	require.NoError(t, s.Start())
	defer s.Stop()

	_, err := s.AddOneOff(7, "late", time.Now().Add(-time.Minute), Owner{Kind: OwnerTask, ID: 1}, RoleOnTime)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.ListJobs()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, rec.count())
}

func writeStore(t *testing.T, path string, jobs ...Job) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(Store{Version: 1, Jobs: jobs})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestRestartOneOffWithinAndBeyondGrace(t *testing.T) {
	path := storePath(t)
	now := time.Now()
	writeStore(t, path,
		Job{ID: "recent", ChatID: 1, Text: "recent", Role: RoleOnTime,
			Trigger: Trigger{Kind: KindAt, AtMs: now.Add(-10 * time.Second).UnixMilli()}},
		Job{ID: "stale", ChatID: 1, Text: "stale", Role: RoleOnTime,
			Trigger: Trigger{Kind: KindAt, AtMs: now.Add(-5 * time.Minute).UnixMilli()}},
		Job{ID: "future", ChatID: 1, Text: "future", Role: RoleOnTime,
			Trigger: Trigger{Kind: KindAt, AtMs: now.Add(time.Hour).UnixMilli()}},
	)

	s, rec := newTestService(t, path)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "recent", rec.msgs[0].Text)

	require.Eventually(t, func() bool { return len(s.ListJobs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "future", s.ListJobs()[0].ID)
}

func TestRestartKeepsJobs(t *testing.T) {
	path := storePath(t)

	first, _ := newTestService(t, path)
	require.NoError(t, first.Start())
	a, err := first.AddOneOff(7, "a", time.Now().Add(time.Hour), Owner{Kind: OwnerTask, ID: 1}, RoleOnTime)
	require.NoError(t, err)
	b, err := first.AddRecurring(7, "b", 20, 0, resolver.Days{time.Monday, time.Wednesday}, "", Owner{Kind: OwnerRecurring, ID: 2}, RoleOnTime)
	require.NoError(t, err)
	first.Stop()

	second, rec := newTestService(t, path)
	require.NoError(t, second.Start())
	defer second.Stop()

	jobs := second.ListJobs()
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].ID, jobs[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	for _, j := range jobs {
		if j.ID == b.ID {
			assert.Equal(t, b.State.NextRunAtMs, j.State.NextRunAtMs)
			assert.Equal(t, Owner{Kind: OwnerRecurring, ID: 2}, j.Owner)
		}
	}
	assert.Zero(t, rec.count())
}

func TestWeeklyNextRunHonoursEndDate(t *testing.T) {
	s := NewService(storePath(t), WithLocation(saigon))
	tr := Trigger{Kind: KindWeekly, Hour: 20, Minute: 0, Days: "mon,wed", EndDate: "2025-12-17"}

	// Monday 2025-12-15 21:00 -> Wednesday 17th is the last firing.
	next, ok, err := s.nextWeekly(tr, time.Date(2025, 12, 15, 21, 0, 0, 0, saigon))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, time.Date(2025, 12, 17, 20, 0, 0, 0, saigon).Equal(next), "got %s", next)

	_, ok, err = s.nextWeekly(tr, time.Date(2025, 12, 17, 20, 0, 0, 0, saigon))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWeeklyRuleUsesConfiguredZone(t *testing.T) {
	s := NewService(storePath(t), WithLocation(saigon))
	tr := Trigger{Kind: KindWeekly, Hour: 6, Minute: 30, Days: "tue"}

	// Monday 23:00 UTC is already Tuesday 06:00 in Saigon.
	next, ok, err := s.nextWeekly(tr, time.Date(2025, 11, 24, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, time.Date(2025, 11, 25, 6, 30, 0, 0, saigon).Equal(next), "got %s", next)
}

func TestResumeAfterDoesNotRepeatDeliveredFiring(t *testing.T) {
	s := NewService(storePath(t), WithLocation(saigon))
	tr := Trigger{Kind: KindWeekly, Hour: 20, Minute: 0, Days: "mon"}
	now := time.Date(2025, 11, 24, 20, 0, 30, 0, saigon)

	delivered := &Job{Trigger: tr, State: JobState{LastRunAtMs: time.Date(2025, 11, 24, 20, 0, 0, 0, saigon).UnixMilli()}}
	next, ok, err := s.nextWeekly(tr, s.resumeAfter(delivered, now))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, time.Date(2025, 12, 1, 20, 0, 0, 0, saigon).Equal(next), "got %s", next)

	pending := &Job{Trigger: tr}
	next, ok, err = s.nextWeekly(tr, s.resumeAfter(pending, now))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, time.Date(2025, 11, 24, 20, 0, 0, 0, saigon).Equal(next), "got %s", next)
}

func TestAddRecurringPastEndDateFails(t *testing.T) {
	s := NewService(storePath(t), WithLocation(saigon),
		WithClock(func() time.Time { return time.Date(2025, 12, 20, 9, 0, 0, 0, saigon) }))

	_, err := s.AddRecurring(7, "x", 20, 0, resolver.Days{time.Monday}, "2025-12-17", Owner{}, RoleOnTime)
	assert.True(t, errors.Is(err, ErrInvalidTrigger))
	assert.Empty(t, s.ListJobs())
}

func TestWeeklyDispatchErrorKeepsSchedule(t *testing.T) {
	// Monday 19:59:59.9 in Saigon, running at real speed.
	clock := shiftedClock(time.Date(2025, 11, 24, 19, 59, 59, 900_000_000, saigon))
	s, rec := newTestService(t, storePath(t), WithClock(clock))
	rec.err = errors.New("telegram down")
	require.NoError(t, s.Start())
	defer s.Stop()

	job, err := s.AddRecurring(7, "họp", 20, 0, resolver.Days{time.Monday}, "", Owner{Kind: OwnerRecurring, ID: 1}, RoleOnTime)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		jobs := s.ListJobs()
		return len(jobs) == 1 && jobs[0].State.LastStatus == StatusError
	}, 2*time.Second, 10*time.Millisecond)

	got := s.ListJobs()[0]
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "telegram down", got.State.LastError)
	assert.True(t, time.Date(2025, 12, 1, 20, 0, 0, 0, saigon).Equal(time.UnixMilli(got.State.NextRunAtMs)))
}
