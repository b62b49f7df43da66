package cron

// TriggerKind is "at" for a single instant or "weekly" for a weekday rule.
type TriggerKind string

const (
	KindAt     TriggerKind = "at"
	KindWeekly TriggerKind = "weekly"
)

// Trigger definition.
type Trigger struct {
	Kind    TriggerKind `json:"kind"`
	AtMs    int64       `json:"atMs,omitempty"`
	Hour    int         `json:"hour,omitempty"`
	Minute  int         `json:"minute,omitempty"`
	Days    string      `json:"days,omitempty"`    // mon,wed
	EndDate string      `json:"endDate,omitempty"` // YYYY-MM-DD inclusive
}

// OwnerKind names the table a job's owner lives in.
type OwnerKind string

const (
	OwnerRecurring OwnerKind = "recurring"
	OwnerTask      OwnerKind = "task"
)

// Owner points a job back at the persisted schedule it belongs to.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   int64     `json:"id"`
}

// Role distinguishes the heads-up from the reminder itself.
type Role string

const (
	RoleOnTime Role = "on_time"
	RoleEarly  Role = "early"
)

// Job statuses.
const (
	StatusOK     = "ok"
	StatusError  = "error"
	StatusMissed = "missed"
)

// JobState runtime state.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Job is one registered reminder firing.
type Job struct {
	ID          string   `json:"id"`
	ChatID      int64    `json:"chatId"`
	Text        string   `json:"text"`
	Trigger     Trigger  `json:"trigger"`
	Owner       Owner    `json:"owner"`
	Role        Role     `json:"role"`
	State       JobState `json:"state"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

// Store is the on-disk job list.
type Store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}
