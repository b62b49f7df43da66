package resolver

import (
	"fmt"
	"strings"
	"time"
)

// dayCodes lists weekday codes Monday first, matching the order users and the
// extraction model use.
var dayCodes = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// Days is a set of weekdays kept in canonical Monday-first order without
// duplicates.
type Days []time.Weekday

func dayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}

// DayCode returns the three letter code for a weekday.
func DayCode(w time.Weekday) string {
	return dayCodes[dayIndex(w)]
}

// ParseDayCode maps a code such as "mon" or "Monday" to a weekday.
func ParseDayCode(code string) (time.Weekday, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	if len(c) >= 3 {
		c = c[:3]
	}
	for i, dc := range dayCodes {
		if dc == c {
			return time.Weekday((i + 1) % 7), nil
		}
	}
	return 0, fmt.Errorf("unknown day code %q", code)
}

// ParseDays builds a canonical set from a list of day codes. The words
// "daily" and "everyday" expand to the whole week.
func ParseDays(codes []string) (Days, error) {
	var seen [7]bool
	for _, code := range codes {
		c := strings.ToLower(strings.TrimSpace(code))
		if c == "" {
			continue
		}
		if c == "daily" || c == "everyday" || c == "*" {
			for i := range seen {
				seen[i] = true
			}
			continue
		}
		w, err := ParseDayCode(c)
		if err != nil {
			return nil, err
		}
		seen[dayIndex(w)] = true
	}

	days := make(Days, 0, 7)
	for i, ok := range seen {
		if ok {
			days = append(days, time.Weekday((i+1)%7))
		}
	}
	return days, nil
}

// ParseDayList parses a comma separated list such as "mon,wed,fri".
func ParseDayList(s string) (Days, error) {
	if strings.TrimSpace(s) == "" {
		return Days{}, nil
	}
	return ParseDays(strings.Split(s, ","))
}

// Codes returns the day codes in canonical order.
func (d Days) Codes() []string {
	out := make([]string, len(d))
	for i, w := range d {
		out[i] = DayCode(w)
	}
	return out
}

// String renders the set as a comma separated list, the storage format.
func (d Days) String() string {
	return strings.Join(d.Codes(), ",")
}

// Contains reports whether w is in the set.
func (d Days) Contains(w time.Weekday) bool {
	for _, x := range d {
		if x == w {
			return true
		}
	}
	return false
}

// Equal reports whether both sets hold the same weekdays.
func (d Days) Equal(o Days) bool {
	return d.String() == o.String()
}

// ShiftBack moves every day n weekdays earlier (mon shifted by one is sun).
func (d Days) ShiftBack(n int) Days {
	n %= 7
	var seen [7]bool
	for _, w := range d {
		seen[(dayIndex(w)-n+7)%7] = true
	}
	out := make(Days, 0, len(d))
	for i, ok := range seen {
		if ok {
			out = append(out, time.Weekday((i+1)%7))
		}
	}
	return out
}
