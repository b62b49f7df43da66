package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/HKUDS/secretary-go/pkg/cron"
	"github.com/HKUDS/secretary-go/pkg/intent"
	"github.com/HKUDS/secretary-go/pkg/locale"
	"github.com/HKUDS/secretary-go/pkg/resolver"
	"github.com/HKUDS/secretary-go/pkg/store"
)

const dateTimeLayout = "15:04 02/01/2006"

// schedule runs the scheduling path: resolve, check for a duplicate,
// persist, register the early job and then the on-time job, and confirm.
func (r *Router) schedule(ctx context.Context, t turn, in intent.ScheduleReminder) (string, error) {
	if strings.TrimSpace(in.Description) == "" {
		return "", &resolver.ClarificationNeeded{Reason: resolver.ReasonInvalid, Detail: "reminder has no description"}
	}
	res, err := resolver.Resolve(resolver.Request{Intent: in, Text: t.text}, t.now)
	if err != nil {
		return "", err
	}
	if res.OnTime.Kind == resolver.OneOff && !res.OnTime.At.After(t.now) {
		return "", &resolver.ClarificationNeeded{Reason: resolver.ReasonInvalid, Detail: "resolved time " + res.OnTime.At.Format(dateTimeLayout) + " is in the past"}
	}
	desc := locale.FormatDescription(in.Description)

	dup, err := r.dup.Exists(ctx, t.msg.UserID, in.Description, res)
	if err != nil {
		return "", storeErr(err)
	}
	if dup {
		return r.duplicateNotice(desc, res), ErrDuplicateSchedule
	}

	owner, err := r.persist(ctx, t.msg.UserID, in.Description, res)
	if err != nil {
		return "", storeErr(err)
	}

	onText := strings.TrimSpace(in.ReminderMessage)
	if onText == "" {
		onText = r.catalog.T("reminder_default", "desc", desc)
	}
	earlyText := r.catalog.T("reminder_early", "minutes", strconv.Itoa(res.RemindBefore), "desc", desc)

	if res.Early != nil {
		if err := r.register(t.msg.ChatID, earlyText, *res.Early, owner, cron.RoleEarly); err != nil {
			return r.compensate(ctx, t, owner, desc, err)
		}
	}
	if err := r.register(t.msg.ChatID, onText, res.OnTime, owner, cron.RoleOnTime); err != nil {
		return r.compensate(ctx, t, owner, desc, err)
	}
	return r.confirmation(desc, res), nil
}

func (r *Router) persist(ctx context.Context, userID int64, description string, res resolver.Resolution) (cron.Owner, error) {
	on := res.OnTime
	if on.Kind == resolver.Weekly {
		row, err := r.store.AddRecurring(ctx, store.RecurringSchedule{
			UserID:      userID,
			Description: description,
			Days:        on.Days,
			Time:        on.Clock(),
			EndDate:     on.EndDate,
		})
		if err != nil {
			return cron.Owner{}, err
		}
		return cron.Owner{Kind: cron.OwnerRecurring, ID: row.ID}, nil
	}

	task, err := r.store.AddTask(ctx, store.Task{
		UserID:       userID,
		Description:  description,
		ScheduleTime: on.At,
		Status:       store.StatusPending,
	})
	if err != nil {
		return cron.Owner{}, err
	}
	return cron.Owner{Kind: cron.OwnerTask, ID: task.ID}, nil
}

func (r *Router) register(chatID int64, text string, tr resolver.Trigger, owner cron.Owner, role cron.Role) error {
	var err error
	if tr.Kind == resolver.Weekly {
		_, err = r.scheduler.AddRecurring(chatID, text, tr.Hour, tr.Minute, tr.Days, tr.EndDate, owner, role)
	} else {
		_, err = r.scheduler.AddOneOff(chatID, text, tr.At, owner, role)
	}
	if err != nil {
		return fmt.Errorf("failed to register %s job: %w", role, err)
	}
	return nil
}

// compensate undoes a half-finished schedule: jobs already registered for
// owner are cancelled and the persisted row is deleted.
func (r *Router) compensate(ctx context.Context, t turn, owner cron.Owner, desc string, cause error) (string, error) {
	r.scheduler.CancelOwner(owner)

	var err error
	switch owner.Kind {
	case cron.OwnerRecurring:
		_, err = r.store.DeleteRecurring(ctx, t.msg.UserID, func(s store.RecurringSchedule) bool { return s.ID == owner.ID })
	case cron.OwnerTask:
		_, err = r.store.DeleteTasks(ctx, t.msg.UserID, func(s store.Task) bool { return s.ID == owner.ID })
	}
	if err != nil {
		cause = fmt.Errorf("%w; compensating delete failed: %v", cause, err)
	}
	return r.catalog.T("scheduling_failed", "desc", desc), fmt.Errorf("%w: %w", ErrSchedulingFailed, cause)
}

func (r *Router) duplicateNotice(desc string, res resolver.Resolution) string {
	on := res.OnTime
	if on.Kind == resolver.Weekly {
		return r.catalog.T("duplicate_weekly", "desc", desc, "time", on.Clock(), "days", r.catalog.DayNames(on.Days))
	}
	return r.catalog.T("duplicate_once", "desc", desc, "when", on.At.Format(dateTimeLayout))
}

func (r *Router) confirmation(desc string, res resolver.Resolution) string {
	var b strings.Builder
	on := res.OnTime
	if on.Kind == resolver.Weekly {
		until := ""
		if on.EndDate != "" {
			until = r.catalog.T("until", "date", displayDate(on.EndDate))
		}
		b.WriteString(r.catalog.T("scheduled_weekly",
			"desc", desc, "time", on.Clock(), "days", r.catalog.DayNames(on.Days), "until", until))
	} else {
		b.WriteString(r.catalog.T("scheduled_once", "desc", desc, "when", on.At.Format(dateTimeLayout)))
	}
	if res.Early != nil {
		b.WriteString(r.catalog.T("with_early", "minutes", strconv.Itoa(res.RemindBefore)))
	}
	b.WriteString(r.catalog.T("done_suffix"))
	if res.Shifted {
		b.WriteString("\n")
		b.WriteString(r.catalog.T("shifted_notice"))
	}
	return b.String()
}
