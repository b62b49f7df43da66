// Package extractor talks to the language model: it turns a user turn into
// structured intents and produces the persona's free-form replies.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HKUDS/secretary-go/pkg/intent"
	"github.com/HKUDS/secretary-go/pkg/locale"
	"github.com/HKUDS/secretary-go/pkg/metrics"
	"github.com/HKUDS/secretary-go/pkg/providers"
	"github.com/HKUDS/secretary-go/pkg/session"
)

// Options tune model calls. Zero values fall back to sensible defaults.
type Options struct {
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
	// MaxHistory is how many past messages accompany each call.
	MaxHistory int
}

// Extractor wraps an LLM provider with the bot's prompts.
type Extractor struct {
	provider providers.LLMProvider
	catalog  *locale.Catalog
	loc      *time.Location
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates an Extractor. logger and m may be nil.
func New(p providers.LLMProvider, catalog *locale.Catalog, loc *time.Location, opts Options, logger *zap.Logger, m *metrics.Metrics) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		provider: p,
		catalog:  catalog,
		loc:      loc,
		opts:     opts,
		logger:   logger.Named("extractor"),
		metrics:  m,
		now:      time.Now,
	}
}

func (e *Extractor) timeVars() []string {
	now := e.now().In(e.loc)
	return []string{
		"now", now.Format("2006-01-02 15:04 (Monday)"),
		"timezone", e.loc.String(),
		"weekday", e.catalog.DayName(now.Weekday()),
	}
}

func (e *Extractor) messages(history []session.Message, text string) []providers.Message {
	if len(history) > e.opts.MaxHistory {
		history = history[len(history)-e.opts.MaxHistory:]
	}
	msgs := make([]providers.Message, 0, len(history)+1)
	for _, h := range history {
		role := providers.RoleUser
		if h.Role == providers.RoleAssistant {
			role = providers.RoleAssistant
		}
		msgs = append(msgs, providers.Message{Role: role, Content: h.Content})
	}
	return append(msgs, providers.Message{Role: providers.RoleUser, Content: text})
}

func (e *Extractor) call(ctx context.Context, system string, msgs []providers.Message, asJSON bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	resp, err := e.provider.Chat(ctx, providers.ChatRequest{
		System:      system,
		Messages:    msgs,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
		JSON:        asJSON,
	})
	if err != nil {
		return "", err
	}
	e.logger.Debug("model call",
		zap.String("finish_reason", resp.FinishReason),
		zap.Int("total_tokens", resp.Usage["total_tokens"]))
	return resp.Content, nil
}

// Extract returns the intents in text. It never fails: a provider error,
// a timeout or unreadable output all degrade to a single chat intent.
func (e *Extractor) Extract(ctx context.Context, text string, history []session.Message) []intent.Intent {
	system := e.catalog.Prompt("extraction", e.timeVars()...)
	raw, err := e.call(ctx, system, e.messages(history, text), true)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		e.metrics.IncExtraction(outcome)
		e.logger.Warn("extraction failed", zap.Error(err))
		return intent.Fallback()
	}

	intents, err := intent.Decode(raw)
	if err != nil {
		e.metrics.IncExtraction("malformed")
		e.logger.Warn("unreadable extraction output", zap.Error(err), zap.String("raw", truncate(raw, 500)))
		return intent.Fallback()
	}
	e.metrics.IncExtraction("ok")
	return intents
}

// Converse produces the persona's reply to text, given the user's goal and a
// listing of their recurring schedules.
func (e *Extractor) Converse(ctx context.Context, text string, history []session.Message, goal, schedules string) (string, error) {
	if goal == "" {
		goal = "-"
	}
	if schedules == "" {
		schedules = "-"
	}
	vars := append(e.timeVars(), "goal", goal, "schedules", schedules)
	system := e.catalog.Prompt("persona", vars...)

	content := text
	if goal != "-" {
		content = fmt.Sprintf("[User Goal: %s] %s", goal, text)
	}
	reply, err := e.call(ctx, system, e.messages(history, content), false)
	if err != nil {
		return "", fmt.Errorf("persona reply failed: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// AdviseGoal asks the persona to check a freshly set goal and suggest the
// next step of the study plan.
func (e *Extractor) AdviseGoal(ctx context.Context, text string, history []session.Message, goal string) (string, error) {
	system := e.catalog.Prompt("persona", append(e.timeVars(), "goal", goal, "schedules", "-")...)
	prompt := e.catalog.Prompt("goal_advice", "input", text, "goal", goal)
	reply, err := e.call(ctx, system, e.messages(history, prompt), false)
	if err != nil {
		return "", fmt.Errorf("goal advice failed: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
