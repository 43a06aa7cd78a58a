// Package flow holds the static question graph a conversation walks through.
package flow

import (
	"strconv"
	"strings"

	"github.com/huntred/flowbot/internal/textutil"
)

// Graph is an immutable, validated question graph.
type Graph struct {
	businessUnit string
	menu         string
	messages     map[string]string

	order     []Question
	index     map[string]int
	decisions map[string]map[string]string
}

// BusinessUnit returns the tenant the flow belongs to.
func (g *Graph) BusinessUnit() string { return g.businessUnit }

// Messages returns the reply overrides declared by the flow.
func (g *Graph) Messages() map[string]string {
	out := make(map[string]string, len(g.messages))
	for k, v := range g.messages {
		out[k] = v
	}
	return out
}

// Len returns the number of questions, sub-questions included.
func (g *Graph) Len() int { return len(g.order) }

// Questions returns every question in natural order.
func (g *Graph) Questions() []Question {
	out := make([]Question, len(g.order))
	copy(out, g.order)
	return out
}

// First returns the id of the first question.
func (g *Graph) First() string {
	if len(g.order) == 0 {
		return ""
	}
	return g.order[0].ID
}

// Menu returns the persistent menu question, defaulting to the first question.
func (g *Graph) Menu() string {
	if g.menu != "" {
		return g.menu
	}
	return g.First()
}

// Get returns the question with the given id.
func (g *Graph) Get(id string) (Question, bool) {
	idx, ok := g.index[id]
	if !ok {
		return Question{}, false
	}
	return g.order[idx], true
}

// NextAfter returns the question following id in natural order.
func (g *Graph) NextAfter(id string) (string, bool) {
	idx, ok := g.index[id]
	if !ok || idx+1 >= len(g.order) {
		return "", false
	}
	return g.order[idx+1].ID, true
}

// FirstSubQuestion returns the first sub-question of id when id only
// introduces its sub-questions: a plain text question with no options,
// decision, field target or required answer.
func (g *Graph) FirstSubQuestion(id string) (string, bool) {
	q, ok := g.Get(id)
	if !ok || q.InputType != InputText || q.RequiresResponse || q.FieldTarget != "" ||
		len(q.Options) > 0 || len(g.decisions[id]) > 0 {
		return "", false
	}
	next, ok := g.NextAfter(id)
	if !ok {
		return "", false
	}
	if sub, _ := g.Get(next); sub.Parent != id {
		return "", false
	}
	return next, true
}

// NextOfType returns the first question of type t after from in natural
// order, wrapping around to the start of the graph.
func (g *Graph) NextOfType(from string, t InputType) (string, bool) {
	start := 0
	if idx, ok := g.index[from]; ok {
		start = idx + 1
	}
	for i := 0; i < len(g.order); i++ {
		q := g.order[(start+i)%len(g.order)]
		if q.InputType == t {
			return q.ID, true
		}
	}
	return "", false
}

// ResolveDecision maps an answer to the next question id through the
// question's decision map. A numeric answer on a question with options is
// read as a 1-based option index. It returns false when nothing is mapped.
func (g *Graph) ResolveDecision(id, answer string) (string, bool) {
	decision := g.decisions[id]
	if len(decision) == 0 {
		return "", false
	}

	key := textutil.Normalize(answer)
	if next, ok := decision[key]; ok {
		return next, true
	}

	q, ok := g.Get(id)
	if !ok || len(q.Options) == 0 {
		return "", false
	}
	n, err := strconv.Atoi(strings.TrimRight(key, ".)"))
	if err != nil || n < 1 || n > len(q.Options) {
		return "", false
	}
	next, ok := decision[textutil.Normalize(q.Options[n-1])]
	return next, ok
}
