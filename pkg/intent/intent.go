package intent

// Kind identifies what the user asked for in one intent.
type Kind string

const (
	KindScheduleReminder Kind = "schedule_reminder"
	KindCheckSchedule    Kind = "check_schedule"
	KindDeleteSchedule   Kind = "delete_schedule"
	KindSetGoal          Kind = "set_goal"
	KindClarifySchedule  Kind = "clarify_schedule"
	KindLogEvent         Kind = "log_event"
	KindChat             Kind = "chat"
)

// ScheduleType distinguishes single reminders from weekly ones.
type ScheduleType string

const (
	OneOff    ScheduleType = "one_off"
	Recurring ScheduleType = "recurring"
)

// Intent is one structured request extracted from a user turn.
type Intent interface {
	Kind() Kind
	// Response is the conversational sentence the model wants to say before
	// the technical answer. It may be empty.
	Response() string
}

// ScheduleReminder asks for a one-off or weekly reminder.
type ScheduleReminder struct {
	Description     string
	ReminderMessage string
	Type            ScheduleType
	RunDate         string // ISO 8601, one-off only
	Hour            *int
	Minute          *int
	Days            []string
	EndDate         string // YYYY-MM-DD
	RemindBefore    int
	Reply           string
}

func (ScheduleReminder) Kind() Kind         { return KindScheduleReminder }
func (i ScheduleReminder) Response() string { return i.Reply }

// CheckSchedule asks to list schedules for a range or keyword.
type CheckSchedule struct {
	TimeRange    string // today, tomorrow, week, next_week, specific_date or a day code
	SpecificDate string // YYYY-MM-DD
	Keyword      string
	Reply        string
}

func (CheckSchedule) Kind() Kind         { return KindCheckSchedule }
func (i CheckSchedule) Response() string { return i.Reply }

// DeleteSchedule removes schedules by keyword, by date or all at once.
type DeleteSchedule struct {
	All         bool
	Description string
	TimeRange   string
	Reply       string
}

func (DeleteSchedule) Kind() Kind         { return KindDeleteSchedule }
func (i DeleteSchedule) Response() string { return i.Reply }

// SetGoal records a long-term goal for the user.
type SetGoal struct {
	Goal  string
	Reply string
}

func (SetGoal) Kind() Kind         { return KindSetGoal }
func (i SetGoal) Response() string { return i.Reply }

// ClarifySchedule carries a question the model wants to ask back.
type ClarifySchedule struct {
	Message string
	Reply   string
}

func (ClarifySchedule) Kind() Kind         { return KindClarifySchedule }
func (i ClarifySchedule) Response() string { return i.Reply }

// LogEvent records something that happened, without a reminder.
type LogEvent struct {
	Description string
	StartTime   string // ISO 8601
	Reply       string
}

func (LogEvent) Kind() Kind         { return KindLogEvent }
func (i LogEvent) Response() string { return i.Reply }

// Chat is free conversation, handled by the persona.
type Chat struct {
	Reply string
}

func (Chat) Kind() Kind         { return KindChat }
func (i Chat) Response() string { return i.Reply }

// Fallback is the turn used when nothing structured could be extracted.
func Fallback() []Intent {
	return []Intent{Chat{}}
}

// IsChatOnly reports whether a turn carries nothing but conversation.
func IsChatOnly(intents []Intent) bool {
	if len(intents) == 0 {
		return true
	}
	return len(intents) == 1 && intents[0].Kind() == KindChat
}
