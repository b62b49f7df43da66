// Package resolver turns the times a user states in a reminder request into
// unambiguous fire times. It performs no I/O: every decision depends only on
// the request and the supplied "now".
package resolver

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/HKUDS/secretary-go/pkg/intent"
)

const minutesPerDay = 24 * 60

// Reason tells the router which question to ask back.
type Reason string

const (
	ReasonMissingTime Reason = "missing_time"
	ReasonMissingDays Reason = "missing_days"
	ReasonMidnight    Reason = "midnight"
	ReasonMissingType Reason = "missing_type"
	ReasonInvalid     Reason = "invalid"
)

// ClarificationNeeded means the request cannot be turned into a trigger
// without asking the user. It is not a failure.
type ClarificationNeeded struct {
	Reason Reason
	Detail string
}

func (e *ClarificationNeeded) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("clarification needed: %s", e.Reason)
	}
	return fmt.Sprintf("clarification needed: %s: %s", e.Reason, e.Detail)
}

func clarify(reason Reason, format string, args ...interface{}) error {
	return &ClarificationNeeded{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// TriggerKind is the shape of a trigger.
type TriggerKind int

const (
	OneOff TriggerKind = iota
	Weekly
)

// Trigger is either an absolute instant or a weekly rule.
type Trigger struct {
	Kind    TriggerKind
	At      time.Time // OneOff
	Hour    int       // Weekly
	Minute  int       // Weekly
	Days    Days      // Weekly
	EndDate string    // Weekly, YYYY-MM-DD inclusive, optional
}

// Clock renders the time of day as HH:MM.
func (t Trigger) Clock() string {
	if t.Kind == OneOff {
		return t.At.Format("15:04")
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Resolution is an accepted request: the on-time trigger and, when the user
// asked for a heads-up, the early trigger of the same shape.
type Resolution struct {
	OnTime       Trigger
	Early        *Trigger
	RemindBefore int
	// Shifted is set when the time had already passed today and the
	// reminder moved to tomorrow.
	Shifted bool
}

// Request is a reminder intent plus the words the user typed. Text holds
// the current message, prefixed by the previous user turn only when the
// current message answers a clarification question.
type Request struct {
	Intent intent.ScheduleReminder
	Text   string
}

var (
	midnightPattern = regexp.MustCompile(`(^|[^0-9])(00:00|0h|0 giờ|24h|24 giờ|12h đêm|12 giờ đêm)|nửa đêm|midnight|khuya`)
	amPattern       = regexp.MustCompile(`sáng|\bam\b|a\.m|khuya|rạng sáng`)
	digitPattern    = regexp.MustCompile(`[0-9]`)
)

func hasMidnightMarker(text string) bool {
	return midnightPattern.MatchString(strings.ToLower(text))
}

func hasAMMarker(text string) bool {
	t := strings.ToLower(text)
	return amPattern.MatchString(t) || midnightPattern.MatchString(t)
}

func hasExplicitNumber(text string) bool {
	return digitPattern.MatchString(text) || hasMidnightMarker(text)
}

// Resolve applies the resolution rules in order: explicit time, midnight
// guard, AM/PM inference, day rollover and early trigger derivation.
func Resolve(req Request, now time.Time) (Resolution, error) {
	in := req.Intent
	if in.RemindBefore < 0 {
		return Resolution{}, clarify(ReasonInvalid, "remind_before_minutes %d is negative", in.RemindBefore)
	}

	switch in.Type {
	case intent.Recurring:
		return resolveWeekly(in)
	case intent.OneOff:
		return resolveOneOff(in, req.Text, now)
	case "":
		if len(in.Days) > 0 && in.Hour != nil {
			return resolveWeekly(in)
		}
		if in.RunDate != "" {
			return resolveOneOff(in, req.Text, now)
		}
		return Resolution{}, clarify(ReasonMissingType, "neither run_date nor days_of_week given")
	default:
		return Resolution{}, clarify(ReasonMissingType, "unknown schedule type %q", in.Type)
	}
}

func resolveWeekly(in intent.ScheduleReminder) (Resolution, error) {
	if in.Hour == nil {
		return Resolution{}, clarify(ReasonMissingTime, "recurring reminder has no hour")
	}
	hour := *in.Hour
	minute := 0
	if in.Minute != nil {
		minute = *in.Minute
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Resolution{}, clarify(ReasonInvalid, "time %d:%d out of range", hour, minute)
	}

	days, err := ParseDays(in.Days)
	if err != nil {
		return Resolution{}, clarify(ReasonInvalid, "%v", err)
	}
	if len(days) == 0 {
		return Resolution{}, clarify(ReasonMissingDays, "recurring reminder has no weekdays")
	}

	if in.EndDate != "" {
		if _, err := time.Parse("2006-01-02", in.EndDate); err != nil {
			return Resolution{}, clarify(ReasonInvalid, "end_date %q is not YYYY-MM-DD", in.EndDate)
		}
	}

	onTime := Trigger{Kind: Weekly, Hour: hour, Minute: minute, Days: days, EndDate: in.EndDate}
	res := Resolution{OnTime: onTime, RemindBefore: in.RemindBefore}
	if in.RemindBefore > 0 {
		early := EarlyWeekly(onTime, in.RemindBefore)
		res.Early = &early
	}
	return res, nil
}

// EarlyWeekly subtracts minutes from a weekly trigger. Every day boundary the
// subtraction crosses moves the early days back one weekday; the on-time
// trigger is left untouched.
func EarlyWeekly(on Trigger, minutes int) Trigger {
	total := on.Hour*60 + on.Minute - minutes
	daysBack := 0
	for total < 0 {
		total += minutesPerDay
		daysBack++
	}

	early := on
	early.Days = append(Days(nil), on.Days...)
	early.Hour = total / 60
	early.Minute = total % 60
	if daysBack > 0 {
		early.Days = on.Days.ShiftBack(daysBack)
	}
	return early
}

func resolveOneOff(in intent.ScheduleReminder, text string, now time.Time) (Resolution, error) {
	if in.RunDate == "" {
		return Resolution{}, clarify(ReasonMissingTime, "one-off reminder has no run_date")
	}
	if !hasExplicitNumber(text) {
		return Resolution{}, clarify(ReasonMissingTime, "no explicit time in %q", text)
	}

	at, err := ParseInstant(in.RunDate, now.Location())
	if err != nil {
		return Resolution{}, clarify(ReasonInvalid, "%v", err)
	}

	if at.Hour() == 0 && at.Minute() == 0 && !hasMidnightMarker(text) {
		return Resolution{}, clarify(ReasonMidnight, "00:00 without an explicit midnight")
	}

	if at.Hour() < 12 && !hasAMMarker(text) && at.Before(now) {
		if pm := at.Add(12 * time.Hour); pm.After(now) {
			at = pm
		}
	}

	res := Resolution{RemindBefore: in.RemindBefore}
	if at.Before(now) {
		at = at.AddDate(0, 0, 1)
		res.Shifted = true
	}
	res.OnTime = Trigger{Kind: OneOff, At: at}

	if in.RemindBefore > 0 {
		earlyAt := at.Add(-time.Duration(in.RemindBefore) * time.Minute)
		if earlyAt.After(now) {
			res.Early = &Trigger{Kind: OneOff, At: earlyAt}
		}
	}
	return res, nil
}

var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseInstant reads an ISO 8601 timestamp. Values without an offset are
// taken in loc and converted to it.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, s); err == nil {
				return t.In(loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
