// Package extract turns raw generation output into entity records.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/ids"
)

// Strategy inspects raw output and returns a name when it recognises one.
type Strategy struct {
	Name string
	Find func(raw string) (string, bool)
}

var headingRe = regexp.MustCompile(`^#\s+(.+)$`)

// JSONName matches output that is a JSON object with a string "name" field.
var JSONName = Strategy{
	Name: "json_name",
	Find: func(raw string) (string, bool) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return "", false
		}
		name, ok := obj["name"].(string)
		name = strings.TrimSpace(name)
		return name, ok && name != ""
	},
}

// MarkdownHeading matches the first line that is a level-one heading.
var MarkdownHeading = Strategy{
	Name: "markdown_heading",
	Find: func(raw string) (string, bool) {
		for _, line := range strings.Split(raw, "\n") {
			m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
			if m == nil {
				continue
			}
			if name := strings.TrimSpace(m[1]); name != "" {
				return name, true
			}
		}
		return "", false
	},
}

// DefaultStrategies is the lookup order used by New.
var DefaultStrategies = []Strategy{JSONName, MarkdownHeading}

// Extractor builds entities from generation output.
type Extractor struct {
	strategies []Strategy
	now        func() time.Time
	newID      func(prefix string, now time.Time) string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithIDFunc overrides entity ID generation.
func WithIDFunc(fn func(prefix string, now time.Time) string) Option {
	return func(e *Extractor) { e.newID = fn }
}

// WithStrategies replaces the name lookup order.
func WithStrategies(s ...Strategy) Option {
	return func(e *Extractor) { e.strategies = s }
}

// New returns an Extractor using DefaultStrategies.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		strategies: DefaultStrategies,
		now:        time.Now,
		newID:      ids.Entity,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name runs the strategies in order and falls back to "New <Type>".
func (e *Extractor) Name(raw string, t content.Type) string {
	for _, s := range e.strategies {
		if name, ok := s.Find(raw); ok {
			return name
		}
	}
	return "New " + t.Label()
}

// Extract builds an entity from raw output. The entity always carries the
// full raw text and a freshly generated ID.
func (e *Extractor) Extract(raw string, t content.Type, universeID string) content.Entity {
	now := e.now().UTC()
	name := e.Name(raw, t)
	return content.Entity{
		ID:         e.newID(t.Prefix(), now),
		Name:       name,
		Title:      name,
		Markdown:   raw,
		Summary:    Summary(raw, DefaultSummaryLength),
		Type:       t.Label(),
		UniverseID: universeID,
		CreatedAt:  now,
	}
}

var std = New()

// Extract uses the package default Extractor.
func Extract(raw string, t content.Type, universeID string) content.Entity {
	return std.Extract(raw, t, universeID)
}
