// Package router routes the intents extracted from a user turn to the
// resolver, the store and the reminder scheduler, and composes the reply.
package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HKUDS/secretary-go/pkg/bus"
	"github.com/HKUDS/secretary-go/pkg/cron"
	"github.com/HKUDS/secretary-go/pkg/intent"
	"github.com/HKUDS/secretary-go/pkg/locale"
	"github.com/HKUDS/secretary-go/pkg/metrics"
	"github.com/HKUDS/secretary-go/pkg/resolver"
	"github.com/HKUDS/secretary-go/pkg/session"
	"github.com/HKUDS/secretary-go/pkg/store"
)

var (
	// ErrDuplicateSchedule means an equivalent schedule already exists.
	ErrDuplicateSchedule = errors.New("duplicate schedule")
	// ErrSchedulingFailed means a job could not be registered; the persisted
	// row has been removed again.
	ErrSchedulingFailed = errors.New("scheduling failed")
	// ErrStoreUnavailable wraps every store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store is the persistence the router needs.
type Store interface {
	AddUser(ctx context.Context, u store.User) error
	SetGoal(ctx context.Context, userID int64, goal string) error
	Goal(ctx context.Context, userID int64) (string, error)

	AddTask(ctx context.Context, t store.Task) (store.Task, error)
	Tasks(ctx context.Context, userID int64) ([]store.Task, error)
	TasksOn(ctx context.Context, userID int64, date string) ([]store.Task, error)
	TasksAt(ctx context.Context, userID int64, at time.Time) ([]store.Task, error)
	DeleteTasks(ctx context.Context, userID int64, match func(store.Task) bool) ([]store.Task, error)

	AddRecurring(ctx context.Context, r store.RecurringSchedule) (store.RecurringSchedule, error)
	Recurring(ctx context.Context, userID int64) ([]store.RecurringSchedule, error)
	RecurringAt(ctx context.Context, userID int64, days resolver.Days, clock string) ([]store.RecurringSchedule, error)
	DeleteRecurring(ctx context.Context, userID int64, match func(store.RecurringSchedule) bool) ([]store.RecurringSchedule, error)
}

// Scheduler registers and cancels reminder jobs.
type Scheduler interface {
	AddOneOff(chatID int64, text string, fireAt time.Time, owner cron.Owner, role cron.Role) (cron.Job, error)
	AddRecurring(chatID int64, text string, hour, minute int, days resolver.Days, endDate string, owner cron.Owner, role cron.Role) (cron.Job, error)
	CancelOwner(owner cron.Owner) []string
}

// Oracle is the language model behind the bot.
type Oracle interface {
	Extract(ctx context.Context, text string, history []session.Message) []intent.Intent
	Converse(ctx context.Context, text string, history []session.Message, goal, schedules string) (string, error)
	AdviseGoal(ctx context.Context, text string, history []session.Message, goal string) (string, error)
}

// Sessions keeps the conversation history.
type Sessions interface {
	Get(chatID int64) session.Session
	Append(chatID int64, role, content string) error
}

// Options configure a Router.
type Options struct {
	Location   *time.Location
	MaxHistory int
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Router handles user turns concurrently across chats and one at a time
// within a chat.
type Router struct {
	store     Store
	scheduler Scheduler
	oracle    Oracle
	sessions  Sessions
	catalog   *locale.Catalog
	dup       *DuplicateDetector

	loc        *time.Location
	maxHistory int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu    sync.Mutex
	chats map[int64]*chatState
	wg    sync.WaitGroup
}

// chatState serialises the turns of one chat. awaiting is set while the
// last reply asked the user to complete a reminder request.
type chatState struct {
	mu       sync.Mutex
	awaiting bool
}

// New creates a Router.
func New(st Store, sched Scheduler, oracle Oracle, sessions Sessions, catalog *locale.Catalog, opts Options) *Router {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		store:      st,
		scheduler:  sched,
		oracle:     oracle,
		sessions:   sessions,
		catalog:    catalog,
		dup:        NewDuplicateDetector(st),
		loc:        opts.Location,
		maxHistory: opts.MaxHistory,
		logger:     opts.Logger.Named("router"),
		metrics:    opts.Metrics,
		now:        opts.Now,
		chats:      make(map[int64]*chatState),
	}
}

func (r *Router) stateFor(chatID int64) *chatState {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		c = &chatState{}
		r.chats[chatID] = c
	}
	return c
}

// Run consumes inbound messages until ctx is done. Each message is handled
// in its own goroutine and the reply is published on the same channel.
func (r *Router) Run(ctx context.Context, b *bus.MessageBus) error {
	r.logger.Info("router started")
	inbound := b.ConsumeInbound()
	for {
		select {
		case msg := <-inbound:
			r.wg.Add(1)
			go func(m bus.InboundMessage) {
				defer r.wg.Done()
				reply := r.Handle(ctx, m)
				if reply == "" {
					return
				}
				out := bus.OutboundMessage{Channel: m.Channel, ChatID: m.ChatID, Content: reply}
				if err := b.PublishOutbound(ctx, out); err != nil {
					r.logger.Warn("reply dropped", zap.Int64("chat_id", m.ChatID), zap.Error(err))
				}
			}(msg)
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("router stopped")
			return nil
		}
	}
}

// turn carries what every intent handler needs about the current message.
type turn struct {
	msg     bus.InboundMessage
	history []session.Message
	// text is what the resolver reads. It holds the previous user turn too
	// when this message answers a clarification question.
	text string
	now  time.Time
}

// Handle processes one inbound message and returns the reply.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) string {
	if msg.Command == "start" {
		return r.start(ctx, msg)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return ""
	}

	state := r.stateFor(msg.ChatID)
	state.mu.Lock()
	defer state.mu.Unlock()

	sess := r.sessions.Get(msg.ChatID)
	t := turn{
		msg:     msg,
		history: sess.History(r.maxHistory),
		text:    content,
		now:     r.now().In(r.loc),
	}
	if prev, ok := sess.LastUserMessage(); ok && state.awaiting {
		t.text = prev.Content + "\n" + content
	}

	intents := r.oracle.Extract(ctx, content, t.history)
	parts := make([]string, 0, len(intents))
	state.awaiting = false
	for _, in := range intents {
		reply, asked := r.route(ctx, t, in)
		if asked {
			state.awaiting = true
		}
		if resp := strings.TrimSpace(in.Response()); resp != "" && in.Kind() != intent.KindChat {
			if reply == "" {
				reply = resp
			} else {
				reply = resp + "\n\n" + reply
			}
		}
		if reply != "" {
			parts = append(parts, reply)
		}
	}
	reply := strings.Join(parts, "\n\n")

	if err := r.sessions.Append(msg.ChatID, "user", content); err != nil {
		r.logger.Warn("failed to save session", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
	if reply != "" {
		if err := r.sessions.Append(msg.ChatID, "assistant", reply); err != nil {
			r.logger.Warn("failed to save session", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		}
	}
	return reply
}

func (r *Router) start(ctx context.Context, msg bus.InboundMessage) string {
	err := r.store.AddUser(ctx, store.User{ID: msg.UserID, Username: msg.Username, FirstName: msg.FirstName})
	if err != nil {
		r.logger.Error("failed to register user", zap.Int64("user_id", msg.UserID), zap.Error(err))
		return r.catalog.T("store_failed")
	}
	r.logger.Info("user registered", zap.Int64("user_id", msg.UserID), zap.String("username", msg.Username))
	name := msg.FirstName
	if name == "" {
		name = r.catalog.T("briefing_default_name")
	}
	return r.catalog.T("welcome", "name", name)
}

// route handles one intent. asked reports whether the reply is a question
// the user must answer to complete a reminder.
func (r *Router) route(ctx context.Context, t turn, in intent.Intent) (reply string, asked bool) {
	var err error
	switch v := in.(type) {
	case intent.ScheduleReminder:
		reply, err = r.schedule(ctx, t, v)
	case intent.CheckSchedule:
		reply, err = r.check(ctx, t, v)
	case intent.DeleteSchedule:
		reply, err = r.delete(ctx, t, v)
	case intent.SetGoal:
		reply, err = r.setGoal(ctx, t, v)
	case intent.LogEvent:
		reply, err = r.logEvent(ctx, t, v)
	case intent.ClarifySchedule:
		reply = v.Message
		if reply == "" {
			reply = r.catalog.T("clarify_default")
		}
		r.metrics.IncIntent(string(in.Kind()), "ok")
		return reply, true
	case intent.Chat:
		reply, err = r.chat(ctx, t)
	default:
		reply = r.catalog.T("clarify_default")
	}
	var cn *resolver.ClarificationNeeded
	if in.Kind() == intent.KindScheduleReminder && errors.As(err, &cn) {
		asked = true
	}
	return r.explain(t, in.Kind(), reply, err), asked
}

// explain turns a handler error into the user-facing sentence and counts
// the outcome.
func (r *Router) explain(t turn, kind intent.Kind, reply string, err error) string {
	var cn *resolver.ClarificationNeeded
	switch {
	case err == nil:
		r.metrics.IncIntent(string(kind), "ok")
		return reply
	case errors.As(err, &cn):
		r.metrics.IncIntent(string(kind), "clarify")
		r.logger.Debug("clarification needed", zap.String("reason", string(cn.Reason)), zap.String("detail", cn.Detail))
		return r.ask(cn.Reason)
	case errors.Is(err, ErrDuplicateSchedule):
		r.metrics.IncIntent(string(kind), "duplicate")
		return reply
	case errors.Is(err, ErrSchedulingFailed):
		r.metrics.IncIntent(string(kind), "scheduling_failed")
		r.logger.Error("scheduling failed", zap.Int64("chat_id", t.msg.ChatID), zap.Error(err))
		return reply
	case errors.Is(err, ErrStoreUnavailable):
		r.metrics.IncIntent(string(kind), "store_failed")
		r.logger.Error("store failed", zap.Int64("chat_id", t.msg.ChatID), zap.Error(err))
		return r.catalog.T("store_failed")
	default:
		r.metrics.IncIntent(string(kind), "error")
		r.logger.Error("intent failed", zap.String("kind", string(kind)), zap.Error(err))
		return r.catalog.T("extraction_failed")
	}
}

func (r *Router) ask(reason resolver.Reason) string {
	switch reason {
	case resolver.ReasonMissingTime:
		return r.catalog.T("ask_time")
	case resolver.ReasonMissingDays:
		return r.catalog.T("ask_days")
	case resolver.ReasonMidnight:
		return r.catalog.T("ask_midnight")
	case resolver.ReasonMissingType:
		return r.catalog.T("ask_type")
	default:
		return r.catalog.T("ask_invalid")
	}
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStoreUnavailable, err)
}
