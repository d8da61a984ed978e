package content

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownType is returned when a content type string is not one of the
// four generatable categories.
var ErrUnknownType = errors.New("unknown content type")

// ErrNotFound is returned when a requested universe or entity does not exist.
var ErrNotFound = errors.New("not found")

// Type is the category of generated content.
type Type string

const (
	World      Type = "world"
	Character  Type = "character"
	Culture    Type = "culture"
	Technology Type = "technology"
)

// Types lists every generatable type in display order.
var Types = []Type{World, Character, Culture, Technology}

var aliases = map[string]Type{
	"world":        World,
	"worlds":       World,
	"character":    Character,
	"characters":   Character,
	"culture":      Culture,
	"cultures":     Culture,
	"technology":   Technology,
	"technologies": Technology,
}

// ParseType accepts singular or plural forms in any case.
func ParseType(s string) (Type, error) {
	t, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case World, Character, Culture, Technology:
		return true
	}
	return false
}

// Prefix returns the entity ID prefix for t.
func (t Type) Prefix() string {
	switch t {
	case World:
		return "w_"
	case Character:
		return "ch_"
	case Culture:
		return "cu_"
	case Technology:
		return "t_"
	}
	return ""
}

// Label is the canonical persisted entity type: capitalized singular.
func (t Type) Label() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// Category is the plural graph category an entity of type t belongs to.
func (t Type) Category() string {
	switch t {
	case World:
		return "Worlds"
	case Character:
		return "Characters"
	case Culture:
		return "Cultures"
	case Technology:
		return "Technologies"
	}
	return ""
}

// Entity is a generated world, character, culture or technology.
type Entity struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Title      string    `json:"title"`
	Markdown   string    `json:"markdown"`
	Summary    string    `json:"summary"`
	Type       string    `json:"type"`
	UniverseID string    `json:"universeId,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Universe is the root of a generated setting.
type Universe struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CategoryInfo describes one of the four sections every universe has.
type CategoryInfo struct {
	Name        string
	Description string
}

// Categories returns the category set created alongside a new universe.
func Categories() []CategoryInfo {
	return []CategoryInfo{
		{Name: "Worlds", Description: "Explore planets, space stations, and other locations"},
		{Name: "Characters", Description: "Meet intelligent beings and their stories"},
		{Name: "Cultures", Description: "Discover cultures and their values"},
		{Name: "Technologies", Description: "Learn about advanced innovations"},
	}
}
