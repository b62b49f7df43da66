// Package locale holds every user-facing sentence and prompt the bot uses.
// The catalog is embedded YAML so wording changes never touch Go code.
package locale

import (
	_ "embed"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/HKUDS/secretary-go/pkg/resolver"
)

//go:embed messages.yaml
var defaultCatalog []byte

// Catalog maps message keys to templates. Placeholders look like {name}.
type Catalog struct {
	Days     map[string]string `yaml:"days"`
	Messages map[string]string `yaml:"messages"`
	Prompts  map[string]string `yaml:"prompts"`
}

var required = []string{
	"welcome", "extraction_failed", "store_failed", "scheduling_failed",
	"reminder_default", "reminder_early",
	"ask_time", "ask_days", "ask_midnight", "ask_type", "ask_invalid", "clarify_default",
	"duplicate_weekly", "duplicate_once", "scheduled_weekly", "scheduled_once",
	"shifted_notice", "with_early", "done_suffix", "until", "logged",
	"keyword_none", "keyword_header", "keyword_recurring_line", "keyword_task_line",
	"week_header", "week_day", "week_empty", "day_header", "day_empty",
	"ask_date", "bad_date", "task_line", "recurring_line",
	"deleted_all", "deleted_keyword", "delete_none", "deleted_day",
	"deleted_day_recurring", "delete_ask", "goal_saved",
	"briefing_header", "briefing_footer", "briefing_default_name",
}

// Load parses a catalog and checks that every key the bot uses is present.
func Load(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	var missing []string
	for _, key := range required {
		if _, ok := c.Messages[key]; !ok {
			missing = append(missing, key)
		}
	}
	for _, key := range []string{"extraction", "persona", "goal_advice"} {
		if _, ok := c.Prompts[key]; !ok {
			missing = append(missing, "prompts."+key)
		}
	}
	for i := 0; i < 7; i++ {
		code := resolver.DayCode(time.Weekday(i))
		if _, ok := c.Days[code]; !ok {
			missing = append(missing, "days."+code)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("catalog is missing keys: %s", strings.Join(missing, ", "))
	}
	return &c, nil
}

// Default returns the embedded Vietnamese catalog.
func Default() *Catalog {
	c, err := Load(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func fill(tmpl string, kv []string) string {
	if len(kv) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// T renders a message. kv alternates placeholder names and values.
// Unknown keys render as the key itself.
func (c *Catalog) T(key string, kv ...string) string {
	tmpl, ok := c.Messages[key]
	if !ok {
		return key
	}
	return fill(tmpl, kv)
}

// Prompt renders a model prompt.
func (c *Catalog) Prompt(key string, kv ...string) string {
	return fill(c.Prompts[key], kv)
}

// DayName returns the display name of a weekday.
func (c *Catalog) DayName(w time.Weekday) string {
	return c.Days[resolver.DayCode(w)]
}

// DayNames joins the display names of a day set, Monday first.
func (c *Catalog) DayNames(days resolver.Days) string {
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = c.DayName(d)
	}
	return strings.Join(names, ", ")
}

// FormatDescription drops a leading "lịch " and capitalizes what remains.
func FormatDescription(desc string) string {
	d := strings.TrimSpace(desc)
	if len(d) >= len("lịch ") && strings.EqualFold(d[:len("lịch ")], "lịch ") {
		d = strings.TrimSpace(d[len("lịch "):])
	}
	if d == "" {
		return d
	}
	r, size := utf8.DecodeRuneInString(d)
	return string(unicode.ToUpper(r)) + d[size:]
}
