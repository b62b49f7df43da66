// Package store persists users, one-off tasks and recurring schedules in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HKUDS/secretary-go/pkg/resolver"
)

// Task statuses.
const (
	StatusPending = "pending"
	StatusLogged  = "logged"
)

// User is someone who has talked to the bot.
type User struct {
	ID        int64
	Username  string
	FirstName string
	Goals     string
	JoinedAt  time.Time
}

// Task is a one-off reminder or a logged event.
type Task struct {
	ID           int64
	UserID       int64
	Description  string
	ScheduleTime time.Time
	Status       string
	CreatedAt    time.Time
}

// RecurringSchedule is a weekly reminder rule.
type RecurringSchedule struct {
	ID          int64
	UserID      int64
	Description string
	Days        resolver.Days
	Time        string // HH:MM
	EndDate     string // YYYY-MM-DD, empty when open-ended
	CreatedAt   time.Time
}

// SQLiteStore is safe for concurrent use.
type SQLiteStore struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// Open opens (or creates) the database at path. Schedule times are rendered
// in loc so that date prefixes match the user's calendar.
func Open(path string, loc *time.Location) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &SQLiteStore{db: db, loc: loc, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id    INTEGER PRIMARY KEY,
			username   TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			goals      TEXT NOT NULL DEFAULT '',
			joined_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       INTEGER NOT NULL,
			description   TEXT    NOT NULL,
			schedule_time TEXT    NOT NULL,
			status        TEXT    NOT NULL DEFAULT 'pending',
			created_at    TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_time ON tasks (user_id, schedule_time)`,
		`CREATE TABLE IF NOT EXISTS recurring_schedules (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     INTEGER NOT NULL,
			description TEXT    NOT NULL,
			days        TEXT    NOT NULL,
			time        TEXT    NOT NULL,
			end_date    TEXT    NOT NULL DEFAULT '',
			created_at  TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recurring_user ON recurring_schedules (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp(t time.Time) string {
	return t.In(s.loc).Format(time.RFC3339)
}

// AddUser registers a user. Registering an existing user refreshes the
// names and keeps the goals.
func (s *SQLiteStore) AddUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, first_name, goals, joined_at)
		VALUES (?, ?, ?, '', ?)
		ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, first_name = excluded.first_name
	`, u.ID, u.Username, u.FirstName, s.stamp(s.now()))
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	return nil
}

// Users lists every registered user.
func (s *SQLiteStore) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, first_name, goals, joined_at FROM users ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var joined string
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.Goals, &joined); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.JoinedAt, _ = time.Parse(time.RFC3339, joined)
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetGoal stores the user's goal, registering the user if needed.
func (s *SQLiteStore) SetGoal(ctx context.Context, userID int64, goal string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, goals, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET goals = excluded.goals
	`, userID, goal, s.stamp(s.now()))
	if err != nil {
		return fmt.Errorf("failed to set goal: %w", err)
	}
	return nil
}

// Goal returns the user's goal, or "" when none is set.
func (s *SQLiteStore) Goal(ctx context.Context, userID int64) (string, error) {
	var goal string
	err := s.db.QueryRowContext(ctx, `SELECT goals FROM users WHERE user_id = ?`, userID).Scan(&goal)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get goal: %w", err)
	}
	return goal, nil
}

// AddTask inserts a one-off task and returns it with its ID.
func (s *SQLiteStore) AddTask(ctx context.Context, t Task) (Task, error) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	t.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (user_id, description, schedule_time, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.UserID, t.Description, s.stamp(t.ScheduleTime), t.Status, s.stamp(t.CreatedAt))
	if err != nil {
		return Task{}, fmt.Errorf("failed to insert task: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return Task{}, fmt.Errorf("failed to get inserted ID: %w", err)
	}
	return t, nil
}

const taskColumns = `id, user_id, description, schedule_time, status, created_at`

// Tasks returns every task of the user ordered by time.
func (s *SQLiteStore) Tasks(ctx context.Context, userID int64) ([]Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY schedule_time`, userID)
}

// TasksOn returns the tasks scheduled on date (YYYY-MM-DD).
func (s *SQLiteStore) TasksOn(ctx context.Context, userID int64, date string) ([]Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND schedule_time LIKE ? ORDER BY schedule_time`, userID, date+"%")
}

// TasksAt returns the tasks scheduled at exactly at.
func (s *SQLiteStore) TasksAt(ctx context.Context, userID int64, at time.Time) ([]Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND schedule_time = ?`, userID, s.stamp(at))
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

func (s *SQLiteStore) scanTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var t Task
		var scheduled, created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &scheduled, &t.Status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if at, err := time.Parse(time.RFC3339, scheduled); err == nil {
			t.ScheduleTime = at.In(s.loc)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, created)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTasks removes the user's tasks accepted by match and returns them.
func (s *SQLiteStore) DeleteTasks(ctx context.Context, userID int64, match func(Task) bool) ([]Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	all, err := s.scanTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var deleted []Task
	for _, t := range all {
		if !match(t) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, t.ID); err != nil {
			return nil, fmt.Errorf("failed to delete task %d: %w", t.ID, err)
		}
		deleted = append(deleted, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return deleted, nil
}

// AddRecurring inserts a weekly schedule and returns it with its ID.
func (s *SQLiteStore) AddRecurring(ctx context.Context, r RecurringSchedule) (RecurringSchedule, error) {
	r.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recurring_schedules (user_id, description, days, time, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.UserID, r.Description, r.Days.String(), r.Time, r.EndDate, s.stamp(r.CreatedAt))
	if err != nil {
		return RecurringSchedule{}, fmt.Errorf("failed to insert recurring schedule: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return RecurringSchedule{}, fmt.Errorf("failed to get inserted ID: %w", err)
	}
	return r, nil
}

const recurringColumns = `id, user_id, description, days, time, end_date, created_at`

// Recurring returns every weekly schedule of the user ordered by time.
func (s *SQLiteStore) Recurring(ctx context.Context, userID int64) ([]RecurringSchedule, error) {
	return s.queryRecurring(ctx, `SELECT `+recurringColumns+` FROM recurring_schedules
		WHERE user_id = ? ORDER BY time, id`, userID)
}

// RecurringAt returns the weekly schedules firing at clock on exactly days.
func (s *SQLiteStore) RecurringAt(ctx context.Context, userID int64, days resolver.Days, clock string) ([]RecurringSchedule, error) {
	return s.queryRecurring(ctx, `SELECT `+recurringColumns+` FROM recurring_schedules
		WHERE user_id = ? AND days = ? AND time = ?`, userID, days.String(), clock)
}

func (s *SQLiteStore) queryRecurring(ctx context.Context, query string, args ...interface{}) ([]RecurringSchedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring schedules: %w", err)
	}
	defer rows.Close()
	return scanRecurring(rows)
}

func scanRecurring(rows *sql.Rows) ([]RecurringSchedule, error) {
	var out []RecurringSchedule
	for rows.Next() {
		var r RecurringSchedule
		var days, created string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Description, &days, &r.Time, &r.EndDate, &created); err != nil {
			return nil, fmt.Errorf("failed to scan recurring schedule: %w", err)
		}
		parsed, err := resolver.ParseDayList(days)
		if err != nil {
			return nil, fmt.Errorf("recurring schedule %d: %w", r.ID, err)
		}
		r.Days = parsed
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecurring removes the user's weekly schedules accepted by match and
// returns them.
func (s *SQLiteStore) DeleteRecurring(ctx context.Context, userID int64, match func(RecurringSchedule) bool) ([]RecurringSchedule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+recurringColumns+` FROM recurring_schedules WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring schedules: %w", err)
	}
	all, err := scanRecurring(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var deleted []RecurringSchedule
	for _, r := range all {
		if !match(r) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_schedules WHERE id = ?`, r.ID); err != nil {
			return nil, fmt.Errorf("failed to delete recurring schedule %d: %w", r.ID, err)
		}
		deleted = append(deleted, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return deleted, nil
}

// ContainsFold reports whether sub occurs in s ignoring case. It folds the
// full Unicode range, unlike SQLite's LIKE.
func ContainsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
