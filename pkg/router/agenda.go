package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HKUDS/secretary-go/pkg/cron"
	"github.com/HKUDS/secretary-go/pkg/intent"
	"github.com/HKUDS/secretary-go/pkg/locale"
	"github.com/HKUDS/secretary-go/pkg/resolver"
	"github.com/HKUDS/secretary-go/pkg/store"
)

const dateLayout = "2006-01-02"

var errBadDate = errors.New("unrecognised date")

func displayDate(iso string) string {
	d, err := time.Parse(dateLayout, iso)
	if err != nil {
		return iso
	}
	return d.Format("02/01/2006")
}

// resolveDay maps a time range word to a calendar day in now's location.
// It accepts today, tomorrow, a weekday code (the next such day, today
// included) or a YYYY-MM-DD date.
func resolveDay(rng, specific string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rng = strings.ToLower(strings.TrimSpace(rng))
	switch rng {
	case "today", "":
		if specific == "" {
			return today, nil
		}
		fallthrough
	case "specific_date":
		d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(specific), now.Location())
		if err != nil {
			return time.Time{}, errBadDate
		}
		return d, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}
	if d, err := time.ParseInLocation(dateLayout, rng, now.Location()); err == nil {
		return d, nil
	}
	if w, err := resolver.ParseDayCode(rng); err == nil {
		ahead := (int(w) - int(today.Weekday()) + 7) % 7
		return today.AddDate(0, 0, ahead), nil
	}
	return time.Time{}, errBadDate
}

// covers reports whether a weekly schedule fires on day.
func covers(s store.RecurringSchedule, day time.Time) bool {
	if !s.Days.Contains(day.Weekday()) {
		return false
	}
	return s.EndDate == "" || day.Format(dateLayout) <= s.EndDate
}

type agendaItem struct {
	clock string
	line  string
}

// agenda lists what happens on day: tasks first by time, weekly schedules
// merged in by clock.
func (r *Router) agenda(ctx context.Context, userID int64, day time.Time, recurring []store.RecurringSchedule) ([]string, error) {
	tasks, err := r.store.TasksOn(ctx, userID, day.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	var items []agendaItem
	for _, t := range tasks {
		clock := t.ScheduleTime.Format("15:04")
		items = append(items, agendaItem{clock, r.catalog.T("task_line",
			"time", clock, "desc", locale.FormatDescription(t.Description))})
	}
	for _, s := range recurring {
		if covers(s, day) {
			items = append(items, agendaItem{s.Time, r.catalog.T("recurring_line",
				"time", s.Time, "desc", locale.FormatDescription(s.Description))})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].clock < items[j].clock })
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.line
	}
	return lines, nil
}

func (r *Router) check(ctx context.Context, t turn, in intent.CheckSchedule) (string, error) {
	userID := t.msg.UserID
	if kw := strings.TrimSpace(in.Keyword); kw != "" {
		return r.checkKeyword(ctx, userID, kw)
	}

	recurring, err := r.store.Recurring(ctx, userID)
	if err != nil {
		return "", storeErr(err)
	}

	rng := strings.ToLower(strings.TrimSpace(in.TimeRange))
	if rng == "week" || rng == "next_week" {
		return r.checkWeek(ctx, t, rng, recurring)
	}
	if rng == "" && in.SpecificDate == "" {
		return r.catalog.T("ask_date"), nil
	}

	day, err := resolveDay(rng, in.SpecificDate, t.now)
	if err != nil {
		return r.catalog.T("bad_date"), nil
	}
	lines, err := r.agenda(ctx, userID, day, recurring)
	if err != nil {
		return "", storeErr(err)
	}
	date, dayName := day.Format("02/01/2006"), r.catalog.DayName(day.Weekday())
	if len(lines) == 0 {
		return r.catalog.T("day_empty", "date", date, "day", dayName), nil
	}
	return r.catalog.T("day_header", "date", date, "day", dayName) + "\n" + strings.Join(lines, "\n"), nil
}

func (r *Router) checkWeek(ctx context.Context, t turn, rng string, recurring []store.RecurringSchedule) (string, error) {
	start := time.Date(t.now.Year(), t.now.Month(), t.now.Day(), 0, 0, 0, 0, t.now.Location())
	if rng == "next_week" {
		ahead := (int(time.Monday) - int(start.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		start = start.AddDate(0, 0, ahead)
	}

	var b strings.Builder
	b.WriteString(r.catalog.T("week_header"))
	found := false
	for i := 0; i < 7; i++ {
		day := start.AddDate(0, 0, i)
		lines, err := r.agenda(ctx, t.msg.UserID, day, recurring)
		if err != nil {
			return "", storeErr(err)
		}
		if len(lines) == 0 {
			continue
		}
		found = true
		b.WriteString("\n\n")
		b.WriteString(r.catalog.T("week_day", "day", r.catalog.DayName(day.Weekday()), "date", day.Format("02/01")))
		for _, l := range lines {
			b.WriteString("\n")
			b.WriteString(l)
		}
	}
	if !found {
		return r.catalog.T("week_empty"), nil
	}
	return b.String(), nil
}

func (r *Router) checkKeyword(ctx context.Context, userID int64, kw string) (string, error) {
	recurring, err := r.store.Recurring(ctx, userID)
	if err != nil {
		return "", storeErr(err)
	}
	tasks, err := r.store.Tasks(ctx, userID)
	if err != nil {
		return "", storeErr(err)
	}

	var lines []string
	for _, s := range recurring {
		if !store.ContainsFold(s.Description, kw) {
			continue
		}
		until := ""
		if s.EndDate != "" {
			until = r.catalog.T("until", "date", displayDate(s.EndDate))
		}
		lines = append(lines, r.catalog.T("keyword_recurring_line",
			"desc", locale.FormatDescription(s.Description), "time", s.Time,
			"days", r.catalog.DayNames(s.Days), "until", until))
	}
	for _, task := range tasks {
		if task.Status != store.StatusPending || !store.ContainsFold(task.Description, kw) {
			continue
		}
		lines = append(lines, r.catalog.T("keyword_task_line",
			"desc", locale.FormatDescription(task.Description), "when", task.ScheduleTime.Format(dateTimeLayout)))
	}
	if len(lines) == 0 {
		return r.catalog.T("keyword_none", "keyword", kw), nil
	}
	return r.catalog.T("keyword_header", "keyword", kw) + "\n" + strings.Join(lines, "\n"), nil
}

// delete removes schedules and cancels their jobs before replying.
func (r *Router) delete(ctx context.Context, t turn, in intent.DeleteSchedule) (string, error) {
	userID := t.msg.UserID
	switch {
	case in.All:
		tasks, recurring, err := r.deleteMatching(ctx, userID,
			func(store.Task) bool { return true },
			func(store.RecurringSchedule) bool { return true })
		if err != nil {
			return "", err
		}
		return r.catalog.T("deleted_all",
			"tasks", strconv.Itoa(len(tasks)), "recurring", strconv.Itoa(len(recurring))), nil

	case strings.TrimSpace(in.Description) != "":
		desc := strings.TrimSpace(in.Description)
		tasks, recurring, err := r.deleteMatching(ctx, userID,
			func(task store.Task) bool { return store.ContainsFold(task.Description, desc) },
			func(s store.RecurringSchedule) bool { return store.ContainsFold(s.Description, desc) })
		if err != nil {
			return "", err
		}
		if len(tasks)+len(recurring) == 0 {
			return r.catalog.T("delete_none", "desc", desc), nil
		}
		return r.catalog.T("deleted_keyword", "desc", locale.FormatDescription(desc)), nil

	case strings.TrimSpace(in.TimeRange) != "":
		day, err := resolveDay(in.TimeRange, "", t.now)
		if err != nil {
			return r.catalog.T("bad_date"), nil
		}
		date := day.Format(dateLayout)
		tasks, recurring, err := r.deleteMatching(ctx, userID,
			func(task store.Task) bool { return task.ScheduleTime.Format(dateLayout) == date },
			func(s store.RecurringSchedule) bool { return s.Days.Contains(day.Weekday()) })
		if err != nil {
			return "", err
		}
		reply := r.catalog.T("deleted_day", "date", day.Format("02/01/2006"), "tasks", strconv.Itoa(len(tasks)))
		if len(recurring) > 0 {
			reply += "\n" + r.catalog.T("deleted_day_recurring", "recurring", strconv.Itoa(len(recurring)))
		}
		return reply, nil

	default:
		return r.catalog.T("delete_ask"), nil
	}
}

// deleteMatching deletes the matching rows and cancels every job they own.
func (r *Router) deleteMatching(ctx context.Context, userID int64, matchTask func(store.Task) bool, matchRecurring func(store.RecurringSchedule) bool) ([]store.Task, []store.RecurringSchedule, error) {
	tasks, err := r.store.DeleteTasks(ctx, userID, matchTask)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	for _, task := range tasks {
		r.cancelOwner(cron.Owner{Kind: cron.OwnerTask, ID: task.ID})
	}

	recurring, err := r.store.DeleteRecurring(ctx, userID, matchRecurring)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	for _, s := range recurring {
		r.cancelOwner(cron.Owner{Kind: cron.OwnerRecurring, ID: s.ID})
	}
	return tasks, recurring, nil
}

func (r *Router) cancelOwner(owner cron.Owner) {
	if ids := r.scheduler.CancelOwner(owner); len(ids) > 0 {
		r.logger.Debug("jobs cancelled", zap.String("owner", fmt.Sprintf("%s/%d", owner.Kind, owner.ID)), zap.Strings("ids", ids))
	}
}

func (r *Router) setGoal(ctx context.Context, t turn, in intent.SetGoal) (string, error) {
	goal := strings.TrimSpace(in.Goal)
	if goal == "" {
		return r.catalog.T("clarify_default"), nil
	}
	if err := r.store.SetGoal(ctx, t.msg.UserID, goal); err != nil {
		return "", storeErr(err)
	}
	advice, err := r.oracle.AdviseGoal(ctx, t.msg.Content, t.history, goal)
	if err != nil || advice == "" {
		r.logger.Warn("goal advice unavailable", zap.Error(err))
		return r.catalog.T("goal_saved", "goal", goal), nil
	}
	return advice, nil
}

func (r *Router) logEvent(ctx context.Context, t turn, in intent.LogEvent) (string, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return r.catalog.T("clarify_default"), nil
	}
	at := t.now
	if in.StartTime != "" {
		parsed, err := resolver.ParseInstant(in.StartTime, r.loc)
		if err != nil {
			return "", &resolver.ClarificationNeeded{Reason: resolver.ReasonInvalid, Detail: err.Error()}
		}
		at = parsed
	}
	if _, err := r.store.AddTask(ctx, store.Task{
		UserID:       t.msg.UserID,
		Description:  desc,
		ScheduleTime: at,
		Status:       store.StatusLogged,
	}); err != nil {
		return "", storeErr(err)
	}
	return r.catalog.T("logged", "desc", locale.FormatDescription(desc)), nil
}

func (r *Router) chat(ctx context.Context, t turn) (string, error) {
	goal, err := r.store.Goal(ctx, t.msg.UserID)
	if err != nil {
		r.logger.Warn("goal unavailable for chat", zap.Error(err))
	}
	recurring, err := r.store.Recurring(ctx, t.msg.UserID)
	if err != nil {
		r.logger.Warn("schedules unavailable for chat", zap.Error(err))
	}
	lines := make([]string, 0, len(recurring))
	for _, s := range recurring {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", locale.FormatDescription(s.Description), s.Time, r.catalog.DayNames(s.Days)))
	}

	reply, err := r.oracle.Converse(ctx, t.msg.Content, t.history, goal, strings.Join(lines, "\n"))
	if err != nil {
		return "", err
	}
	return reply, nil
}
