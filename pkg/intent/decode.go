package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrMalformed is returned when the model output cannot be read as an intent
// record, even after repair.
var ErrMalformed = errors.New("malformed intent output")

type wireTurn struct {
	Intents []wireIntent `json:"intents"`
}

type wireIntent struct {
	Intent                 string   `json:"intent"`
	Description            string   `json:"description"`
	ReminderMessage        string   `json:"reminder_message"`
	Type                   string   `json:"type"`
	RunDate                string   `json:"run_date"`
	Hour                   *flexInt `json:"hour"`
	Minute                 *flexInt `json:"minute"`
	DaysOfWeek             dayList  `json:"days_of_week"`
	EndDate                string   `json:"end_date"`
	RemindBeforeMinutes    *flexInt `json:"remind_before_minutes"`
	ConversationalResponse string   `json:"conversational_response"`
	Message                string   `json:"message"`
	TimeRange              string   `json:"time_range"`
	SpecificDate           string   `json:"specific_date"`
	Keyword                string   `json:"keyword"`
	DeleteAll              flexBool `json:"delete_all"`
	Goal                   string   `json:"goal"`
	StartTime              string   `json:"start_time"`
}

// flexInt accepts 8, 8.0 and "8".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	if v != math.Trunc(v) {
		return fmt.Errorf("not an integer: %s", s)
	}
	*f = flexInt(v)
	return nil
}

// flexBool accepts true and "true".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`))
	*f = flexBool(s == "true" || s == "1" || s == "yes")
	return nil
}

// dayList accepts ["mon","wed"] and "mon,wed".
type dayList []string

func (d *dayList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '[' {
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*d = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			*d = append(*d, p)
		}
	}
	return nil
}

func (f *flexInt) ptr() *int {
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

// Decode reads the raw text the extraction model produced. Markdown fences
// and surrounding prose are tolerated, and near-JSON is repaired. An empty
// intent list decodes to a single chat intent.
func Decode(raw string) ([]Intent, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformed)
	}

	var turn wireTurn
	if err := json.Unmarshal([]byte(text), &turn); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(extractObject(text))
		if repairErr != nil || !strings.HasPrefix(strings.TrimSpace(repaired), "{") {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		turn = wireTurn{}
		if err := json.Unmarshal([]byte(repaired), &turn); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if len(turn.Intents) == 0 {
		return Fallback(), nil
	}

	intents := make([]Intent, 0, len(turn.Intents))
	for _, w := range turn.Intents {
		intents = append(intents, w.toIntent())
	}
	return intents, nil
}

func (w wireIntent) toIntent() Intent {
	reply := strings.TrimSpace(w.ConversationalResponse)
	switch Kind(strings.ToLower(strings.TrimSpace(w.Intent))) {
	case KindScheduleReminder:
		remind := 0
		if w.RemindBeforeMinutes != nil {
			remind = int(*w.RemindBeforeMinutes)
		}
		return ScheduleReminder{
			Description:     strings.TrimSpace(w.Description),
			ReminderMessage: strings.TrimSpace(w.ReminderMessage),
			Type:            ScheduleType(strings.ToLower(strings.TrimSpace(w.Type))),
			RunDate:         strings.TrimSpace(w.RunDate),
			Hour:            w.Hour.ptr(),
			Minute:          w.Minute.ptr(),
			Days:            []string(w.DaysOfWeek),
			EndDate:         strings.TrimSpace(w.EndDate),
			RemindBefore:    remind,
			Reply:           reply,
		}
	case KindCheckSchedule:
		return CheckSchedule{
			TimeRange:    strings.ToLower(strings.TrimSpace(w.TimeRange)),
			SpecificDate: strings.TrimSpace(w.SpecificDate),
			Keyword:      strings.TrimSpace(w.Keyword),
			Reply:        reply,
		}
	case KindDeleteSchedule:
		return DeleteSchedule{
			All:         bool(w.DeleteAll),
			Description: strings.TrimSpace(w.Description),
			TimeRange:   strings.ToLower(strings.TrimSpace(w.TimeRange)),
			Reply:       reply,
		}
	case KindSetGoal:
		return SetGoal{Goal: strings.TrimSpace(w.Goal), Reply: reply}
	case KindClarifySchedule:
		return ClarifySchedule{Message: strings.TrimSpace(w.Message), Reply: reply}
	case KindLogEvent:
		return LogEvent{
			Description: strings.TrimSpace(w.Description),
			StartTime:   strings.TrimSpace(w.StartTime),
			Reply:       reply,
		}
	default:
		return Chat{Reply: reply}
	}
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func extractObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	if start >= 0 {
		return text[start:]
	}
	return text
}
