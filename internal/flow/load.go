package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/huntred/flowbot/internal/textutil"
)

// Load reads and validates a YAML flow definition from path.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML flow definition.
func Parse(data []byte) (*Graph, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigurationError{Problems: []string{"flow definition is empty"}}
		}
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("decoding flow definition: %v", err)}}
	}

	return New(def)
}

// New flattens and validates a definition. Every problem found is reported
// in a single ConfigurationError.
func New(def Definition) (*Graph, error) {
	cfgErr := &ConfigurationError{}

	g := &Graph{
		businessUnit: strings.TrimSpace(def.BusinessUnit),
		menu:         strings.TrimSpace(def.MenuQuestion),
		messages:     def.Messages,
		index:        make(map[string]int),
		decisions:    make(map[string]map[string]string),
	}

	for _, spec := range def.Questions {
		g.order = append(g.order, spec.Question)
		g.order = append(g.order, flattenSubQuestions(spec, cfgErr)...)
	}

	if len(g.order) == 0 {
		cfgErr.add("flow has no questions")
		return nil, cfgErr
	}

	for i := range g.order {
		q := &g.order[i]
		q.ID = strings.TrimSpace(q.ID)
		if q.InputType == "" {
			q.InputType = InputText
		}

		if q.ID == "" {
			cfgErr.add(fmt.Sprintf("question #%d has no id", i+1))
			continue
		}
		if _, dup := g.index[q.ID]; dup {
			cfgErr.add(fmt.Sprintf("duplicate question id %q", q.ID))
			continue
		}
		g.index[q.ID] = i

		if !knownInputTypes[q.InputType] {
			cfgErr.add(fmt.Sprintf("question %q has unknown input type %q", q.ID, q.InputType))
		}
	}

	for _, q := range g.order {
		if len(q.Decision) == 0 {
			continue
		}
		normalized := make(map[string]string, len(q.Decision))
		for answer, target := range q.Decision {
			target = strings.TrimSpace(target)
			if _, ok := g.index[target]; !ok {
				cfgErr.add(fmt.Sprintf("question %q maps answer %q to unknown question %q", q.ID, answer, target))
				continue
			}
			key := textutil.Normalize(answer)
			if prev, ok := normalized[key]; ok && prev != target {
				cfgErr.add(fmt.Sprintf("question %q maps answer %q to both %q and %q", q.ID, key, prev, target))
				continue
			}
			normalized[key] = target
		}
		g.decisions[q.ID] = normalized
	}

	if g.menu != "" {
		if _, ok := g.index[g.menu]; !ok {
			cfgErr.add(fmt.Sprintf("menu question %q does not exist", g.menu))
		}
	}

	for _, q := range g.order {
		want, ok := typedChain[q.InputType]
		if !ok {
			continue
		}
		if _, found := g.NextOfType(q.ID, want); !found {
			cfgErr.add(fmt.Sprintf("question %q of type %s needs a %s question", q.ID, q.InputType, want))
		}
	}

	if err := cfgErr.errOrNil(); err != nil {
		return nil, err
	}
	return g, nil
}

// flattenSubQuestions orders the sub-questions of spec: top-level ones by
// sequence, each followed by its own children by sequence.
func flattenSubQuestions(spec QuestionSpec, cfgErr *ConfigurationError) []Question {
	if len(spec.SubQuestions) == 0 {
		return nil
	}

	parentID := strings.TrimSpace(spec.ID)
	var roots []SubQuestionSpec
	children := make(map[string][]SubQuestionSpec)
	for _, sub := range spec.SubQuestions {
		p := strings.TrimSpace(sub.ParentSubQuestion)
		if p == "" {
			roots = append(roots, sub)
			continue
		}
		children[p] = append(children[p], sub)
	}

	bySequence := func(s []SubQuestionSpec) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Sequence < s[j].Sequence })
	}
	bySequence(roots)

	out := make([]Question, 0, len(spec.SubQuestions))
	seen := make(map[string]bool, len(roots))
	for _, root := range roots {
		id := strings.TrimSpace(root.ID)
		seen[id] = true
		out = append(out, subQuestion(root, parentID))

		kids := children[id]
		bySequence(kids)
		for _, kid := range kids {
			out = append(out, subQuestion(kid, parentID))
		}
	}

	for p, kids := range children {
		if seen[p] {
			continue
		}
		for _, kid := range kids {
			if hasSubQuestion(spec.SubQuestions, p) {
				cfgErr.add(fmt.Sprintf("sub-question %q under %q nests deeper than one level via %q", kid.ID, parentID, p))
			} else {
				cfgErr.add(fmt.Sprintf("sub-question %q under %q names unknown parent sub-question %q", kid.ID, parentID, p))
			}
		}
	}

	return out
}

func subQuestion(spec SubQuestionSpec, parentID string) Question {
	q := spec.Question
	q.Parent = parentID
	q.ParentSubQuestion = strings.TrimSpace(spec.ParentSubQuestion)
	q.Sequence = spec.Sequence
	return q
}

func hasSubQuestion(subs []SubQuestionSpec, id string) bool {
	for _, sub := range subs {
		if strings.TrimSpace(sub.ID) == id {
			return true
		}
	}
	return false
}
