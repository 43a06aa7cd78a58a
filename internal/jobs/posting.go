// Package jobs holds the job pool, the skills matcher and interview booking.
package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownJob     = errors.New("unknown job posting")
	ErrSlotOutOfRange = errors.New("interview slot out of range")
)

// Posting is a job offer imported by the scraping jobs. It is read-only at
// conversation time; slot bookings live in a storage.SlotLedger.
type Posting struct {
	ID             string   `yaml:"id" json:"id"`
	Title          string   `yaml:"title" json:"title"`
	Company        string   `yaml:"company" json:"company"`
	RequiredSkills string   `yaml:"required_skills" json:"required_skills"`
	Salary         string   `yaml:"salary" json:"salary,omitempty"`
	Location       string   `yaml:"location" json:"location,omitempty"`
	Slots          []string `yaml:"slots" json:"slots,omitempty"`
}

// Label is the one-line description shown in menus.
func (p Posting) Label() string {
	parts := []string{p.Title}
	if p.Company != "" {
		parts = append(parts, p.Company)
	}
	if p.Location != "" {
		parts = append(parts, p.Location)
	}
	return strings.Join(parts, " · ")
}

// Pool is an ordered, immutable set of postings.
type Pool struct {
	postings []Posting
	index    map[string]int
}

type poolFile struct {
	Jobs []Posting `yaml:"jobs"`
}

// LoadPool reads a YAML job pool from path.
func LoadPool(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job pool %q: %w", path, err)
	}
	return ParsePool(data)
}

// ParsePool decodes a YAML job pool. An empty document is an empty pool.
func ParsePool(data []byte) (*Pool, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file poolFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding job pool: %w", err)
	}
	return NewPool(file.Jobs)
}

// NewPool validates ids and keeps the input order.
func NewPool(postings []Posting) (*Pool, error) {
	p := &Pool{
		postings: make([]Posting, 0, len(postings)),
		index:    make(map[string]int, len(postings)),
	}
	for i, posting := range postings {
		posting.ID = strings.TrimSpace(posting.ID)
		if posting.ID == "" {
			return nil, fmt.Errorf("job #%d has no id", i+1)
		}
		if _, dup := p.index[posting.ID]; dup {
			return nil, fmt.Errorf("duplicate job id %q", posting.ID)
		}
		p.index[posting.ID] = len(p.postings)
		p.postings = append(p.postings, posting)
	}
	return p, nil
}

func (p *Pool) Len() int { return len(p.postings) }

func (p *Pool) Get(id string) (Posting, bool) {
	idx, ok := p.index[id]
	if !ok {
		return Posting{}, false
	}
	return p.postings[idx], true
}

// All returns the postings in pool order.
func (p *Pool) All() []Posting {
	out := make([]Posting, len(p.postings))
	copy(out, p.postings)
	return out
}
