// Package briefing sends every registered user a morning summary of the
// day's schedule.
package briefing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/HKUDS/secretary-go/pkg/locale"
	"github.com/HKUDS/secretary-go/pkg/metrics"
	"github.com/HKUDS/secretary-go/pkg/store"
)

// Store is what the briefing reads.
type Store interface {
	Users(ctx context.Context) ([]store.User, error)
	TasksOn(ctx context.Context, userID int64, date string) ([]store.Task, error)
	Recurring(ctx context.Context, userID int64) ([]store.RecurringSchedule, error)
}

// Sender delivers a message to a chat.
type Sender func(ctx context.Context, chatID int64, text string) error

// Briefing is safe to Run once.
type Briefing struct {
	store   Store
	send    Sender
	catalog *locale.Catalog
	loc     *time.Location
	spec    string
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a briefing that fires daily at clock ("HH:MM") in loc.
func New(st Store, send Sender, catalog *locale.Catalog, loc *time.Location, clock string, logger *zap.Logger, m *metrics.Metrics) (*Briefing, error) {
	at, err := time.Parse("15:04", clock)
	if err != nil {
		return nil, fmt.Errorf("invalid briefing time %q: %w", clock, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Briefing{
		store:   st,
		send:    send,
		catalog: catalog,
		loc:     loc,
		spec:    fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour()),
		logger:  logger.Named("briefing"),
		metrics: m,
		now:     time.Now,
	}, nil
}

// Run fires the briefing on schedule until ctx is done.
func (b *Briefing) Run(ctx context.Context) error {
	runner := robfig.New(robfig.WithLocation(b.loc))
	if _, err := runner.AddFunc(b.spec, func() {
		sent, err := b.SendAll(ctx)
		if err != nil {
			b.logger.Error("briefing failed", zap.Error(err))
			return
		}
		b.logger.Info("briefing sent", zap.Int("recipients", sent))
	}); err != nil {
		return fmt.Errorf("failed to schedule briefing: %w", err)
	}

	runner.Start()
	b.logger.Info("briefing scheduled", zap.String("spec", b.spec), zap.String("location", b.loc.String()))
	<-ctx.Done()
	<-runner.Stop().Done()
	return nil
}

// SendAll sends today's briefing to every user with something scheduled.
// A failing recipient is logged and skipped. It returns how many users
// were reached.
func (b *Briefing) SendAll(ctx context.Context) (int, error) {
	users, err := b.store.Users(ctx)
	if err != nil {
		return 0, err
	}
	today := b.now().In(b.loc)

	sent := 0
	for _, u := range users {
		msg, ok, err := b.Compose(ctx, u, today)
		if err != nil {
			b.metrics.IncBriefing("error")
			b.logger.Warn("failed to compose briefing", zap.Int64("user_id", u.ID), zap.Error(err))
			continue
		}
		if !ok {
			b.metrics.IncBriefing("empty")
			continue
		}
		if err := b.send(ctx, u.ID, msg); err != nil {
			b.metrics.IncBriefing("error")
			b.logger.Warn("failed to send briefing", zap.Int64("user_id", u.ID), zap.Error(err))
			continue
		}
		b.metrics.IncBriefing("ok")
		sent++
	}
	return sent, nil
}

type line struct {
	clock string
	text  string
}

// Compose builds the user's briefing for day. ok is false when the user has
// nothing scheduled that day.
func (b *Briefing) Compose(ctx context.Context, u store.User, day time.Time) (msg string, ok bool, err error) {
	date := day.Format("2006-01-02")
	tasks, err := b.store.TasksOn(ctx, u.ID, date)
	if err != nil {
		return "", false, err
	}
	recurring, err := b.store.Recurring(ctx, u.ID)
	if err != nil {
		return "", false, err
	}

	var lines []line
	for _, t := range tasks {
		if t.Status != store.StatusPending {
			continue
		}
		clock := t.ScheduleTime.In(b.loc).Format("15:04")
		lines = append(lines, line{clock, b.catalog.T("task_line", "time", clock, "desc", locale.FormatDescription(t.Description))})
	}
	for _, r := range recurring {
		if !r.Days.Contains(day.Weekday()) || (r.EndDate != "" && date > r.EndDate) {
			continue
		}
		lines = append(lines, line{r.Time, b.catalog.T("recurring_line", "time", r.Time, "desc", locale.FormatDescription(r.Description))})
	}
	if len(lines) == 0 {
		return "", false, nil
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].clock < lines[j].clock })

	name := u.FirstName
	if name == "" {
		name = b.catalog.T("briefing_default_name")
	}
	var sb strings.Builder
	sb.WriteString(b.catalog.T("briefing_header", "name", name, "date", day.Format("02/01")))
	for _, l := range lines {
		sb.WriteString("\n")
		sb.WriteString(l.text)
	}
	sb.WriteString("\n\n")
	sb.WriteString(b.catalog.T("briefing_footer"))
	return sb.String(), true, nil
}
