package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/kalambet/canon/internal/content"
)

func fixedExtractor() *Extractor {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(
		WithClock(func() time.Time { return now }),
		WithIDFunc(func(prefix string, _ time.Time) string { return prefix + "fixed" }),
	)
}

func TestExtract_MarkdownHeading(t *testing.T) {
	raw := "# Zanthar\n\nSome body"
	e := Extract(raw, content.World, "u_1")

	if e.Name != "Zanthar" {
		t.Errorf("Name = %q, want %q", e.Name, "Zanthar")
	}
	if e.Title != "Zanthar" {
		t.Errorf("Title = %q, want %q", e.Title, "Zanthar")
	}
	if !strings.HasPrefix(e.ID, "w_") {
		t.Errorf("ID = %q, want w_ prefix", e.ID)
	}
	if e.Markdown != raw {
		t.Errorf("Markdown = %q, want raw input", e.Markdown)
	}
	if e.Type != "World" {
		t.Errorf("Type = %q, want World", e.Type)
	}
	if e.UniverseID != "u_1" {
		t.Errorf("UniverseID = %q, want u_1", e.UniverseID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestExtract_JSONName(t *testing.T) {
	raw := `{"name": "Orbital Forge"}`
	e := Extract(raw, content.Technology, "")

	if e.Name != "Orbital Forge" {
		t.Errorf("Name = %q, want %q", e.Name, "Orbital Forge")
	}
	if !strings.HasPrefix(e.ID, "t_") {
		t.Errorf("ID = %q, want t_ prefix", e.ID)
	}
	if e.Markdown != raw {
		t.Errorf("Markdown = %q, want raw JSON kept verbatim", e.Markdown)
	}
}

func TestExtract_JSONWinsOverHeading(t *testing.T) {
	// A JSON string value cannot hold a heading line, so build the
	// precedence case with a strategy list that sees both.
	raw := `{"name": "From JSON"}`
	e := New(WithStrategies(MarkdownHeading, JSONName)).Extract(raw, content.Culture, "")
	if e.Name != "From JSON" {
		t.Errorf("Name = %q, want %q", e.Name, "From JSON")
	}

	e = Extract(raw, content.Culture, "")
	if e.Name != "From JSON" {
		t.Errorf("default order Name = %q, want %q", e.Name, "From JSON")
	}
}

func TestExtract_Fallback(t *testing.T) {
	cases := map[content.Type]string{
		content.World:      "New World",
		content.Character:  "New Character",
		content.Culture:    "New Culture",
		content.Technology: "New Technology",
	}
	for typ, want := range cases {
		e := Extract("no heading here {not json", typ, "")
		if e.Name != want {
			t.Errorf("%s: Name = %q, want %q", typ, e.Name, want)
		}
		if !strings.HasPrefix(e.ID, typ.Prefix()) {
			t.Errorf("%s: ID = %q, want %s prefix", typ, e.ID, typ.Prefix())
		}
	}
}

func TestExtract_JSONWithoutNameFallsThrough(t *testing.T) {
	raw := `{"description": "a drifting station"}`
	e := Extract(raw, content.World, "")
	if e.Name != "New World" {
		t.Errorf("Name = %q, want %q", e.Name, "New World")
	}
	if e.Markdown != raw {
		t.Errorf("Markdown = %q, want raw JSON", e.Markdown)
	}
}

func TestExtract_JSONNonStringName(t *testing.T) {
	e := Extract(`{"name": 42}`, content.Character, "")
	if e.Name != "New Character" {
		t.Errorf("Name = %q, want fallback", e.Name)
	}
}

func TestMarkdownHeading_Rules(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"intro\n# Second Line\nbody", "Second Line", true},
		{"## Only Subheading\ntext", "", false},
		{"#NoSpace", "", false},
		{"# Trailing spaces   \r\nbody", "Trailing spaces", true},
		{"#\tTabbed", "Tabbed", true},
		{"# First\n# Second", "First", true},
		{"#\nNot a name", "", false},
	}
	for _, c := range cases {
		got, ok := MarkdownHeading.Find(c.raw)
		if ok != c.ok || got != c.want {
			t.Errorf("Find(%q) = (%q, %v), want (%q, %v)", c.raw, got, ok, c.want, c.ok)
		}
	}
}

func TestExtract_FreshIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		e := Extract("# Same", content.World, "")
		if seen[e.ID] {
			t.Fatalf("duplicate id %q", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestExtractor_InjectedClockAndID(t *testing.T) {
	e := fixedExtractor().Extract("# Veyra", content.Culture, "u_9")
	if e.ID != "cu_fixed" {
		t.Errorf("ID = %q, want cu_fixed", e.ID)
	}
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if !e.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, want)
	}
}
