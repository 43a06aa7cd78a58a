// Package storage persists conversation state, candidate profiles and
// interview slot bookings.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrConflict is returned by Save when the stored state moved on since it was loaded.
	ErrConflict = errors.New("chat state was modified concurrently")
	// ErrSlotTaken is returned by Book when the slot already has a holder.
	ErrSlotTaken = errors.New("interview slot already booked")
)

// Key identifies one conversation.
type Key struct {
	Platform string
	UserID   string
}

func (k Key) String() string { return k.Platform + ":" + k.UserID }

// ChatState is the per-user pointer into the question graph. It holds data
// only; all behaviour lives in the engine.
type ChatState struct {
	Platform        string         `json:"platform"`
	UserID          string         `json:"user_id"`
	CurrentQuestion string         `json:"current_question,omitempty"`
	LastInteraction time.Time      `json:"last_interaction"`
	Context         map[string]any `json:"context,omitempty"`
	Turns           int            `json:"turns"`
	Version         int64          `json:"version"`
}

// NewChatState returns a fresh, unsaved state pointing at first.
func NewChatState(key Key, first string) *ChatState {
	return &ChatState{
		Platform:        key.Platform,
		UserID:          key.UserID,
		CurrentQuestion: first,
		Context:         map[string]any{},
	}
}

func (s *ChatState) Key() Key { return Key{Platform: s.Platform, UserID: s.UserID} }

// Clone copies the state and its context map. Context values are replaced,
// never mutated in place, so a shallow copy of the map is enough.
func (s *ChatState) Clone() *ChatState {
	out := *s
	out.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}
	return &out
}

// Reset points the state back at the terminal state and drops its context.
// Meant for maintenance jobs archiving stale conversations.
func Reset(s *ChatState) {
	s.CurrentQuestion = ""
	s.Context = map[string]any{}
}

// Person accumulates the answers a candidate gives during the flow.
type Person struct {
	Platform        string            `json:"platform"`
	UserID          string            `json:"user_id"`
	Name            string            `json:"name,omitempty"`
	Email           string            `json:"email,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	Skills          string            `json:"skills,omitempty"`
	Experience      string            `json:"experience,omitempty"`
	Location        string            `json:"location,omitempty"`
	Nationality     string            `json:"nationality,omitempty"`
	MigrationStatus string            `json:"migration_status,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (p *Person) Key() Key { return Key{Platform: p.Platform, UserID: p.UserID} }

// Set writes value into the named field. Unknown fields land in Extra.
func (p *Person) Set(field, value string) {
	switch normalizeField(field) {
	case "name", "nombre":
		p.Name = value
	case "email":
		p.Email = value
	case "phone", "telefono":
		p.Phone = value
	case "skills", "habilidades":
		p.Skills = value
	case "experience", "experiencia":
		p.Experience = value
	case "location", "ubicacion":
		p.Location = value
	case "nationality", "nacionalidad":
		p.Nationality = value
	case "migration_status":
		p.MigrationStatus = value
	case "":
	default:
		if p.Extra == nil {
			p.Extra = make(map[string]string)
		}
		p.Extra[normalizeField(field)] = value
	}
}

// Get reads the named field.
func (p *Person) Get(field string) string {
	switch normalizeField(field) {
	case "name", "nombre":
		return p.Name
	case "email":
		return p.Email
	case "phone", "telefono":
		return p.Phone
	case "skills", "habilidades":
		return p.Skills
	case "experience", "experiencia":
		return p.Experience
	case "location", "ubicacion":
		return p.Location
	case "nationality", "nacionalidad":
		return p.Nationality
	case "migration_status":
		return p.MigrationStatus
	default:
		return p.Extra[normalizeField(field)]
	}
}

func (p *Person) Clone() *Person {
	out := *p
	if p.Extra != nil {
		out.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

func normalizeField(field string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(field)), "-", "_")
}

// StateStore loads and saves chat states by key.
type StateStore interface {
	// Load returns the stored state, or a fresh unsaved one pointing at first.
	Load(ctx context.Context, key Key, first string) (*ChatState, error)
	// Save stores the state if nobody saved it since it was loaded and bumps
	// its version. It returns ErrConflict otherwise.
	Save(ctx context.Context, state *ChatState) error
}

// PersonStore loads and saves candidate profiles.
type PersonStore interface {
	LoadPerson(ctx context.Context, key Key) (*Person, error)
	SavePerson(ctx context.Context, person *Person) error
}

// SlotLedger records which interview slots are taken.
type SlotLedger interface {
	// Book assigns the slot to holder iff it is free.
	Book(ctx context.Context, jobID string, slot int, holder string) error
	// Release frees the slot if holder still owns it.
	Release(ctx context.Context, jobID string, slot int, holder string) error
	// Booked reports, for slots 0..n-1, whether each one is taken.
	Booked(ctx context.Context, jobID string, n int) ([]bool, error)
}

// Store bundles every persistence concern the engine needs.
type Store interface {
	StateStore
	PersonStore
	SlotLedger
}
