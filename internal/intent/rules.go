package intent

import (
	"context"

	"github.com/kljensen/snowball/spanish"

	"github.com/huntred/flowbot/internal/textutil"
)

// Pattern lists the phrases that trigger one intent.
type Pattern struct {
	Tag     Tag
	Phrases []string
}

// DefaultPatterns is the curated table used by the rule classifier.
var DefaultPatterns = []Pattern{
	{Tag: Greeting, Phrases: []string{"hola", "buenos días", "buenas tardes", "buenas noches", "buen día", "qué tal", "saludos", "hey", "hi", "hello"}},
	{Tag: Farewell, Phrases: []string{"adiós", "hasta luego", "hasta pronto", "hasta mañana", "nos vemos", "chao", "bye"}},
	{Tag: SearchJob, Phrases: []string{"busco trabajo", "buscar trabajo", "busco empleo", "buscar empleo", "vacantes", "vacante", "empleo", "trabajo"}},
	{Tag: Apply, Phrases: []string{"quiero aplicar", "postularme", "postular", "aplicar", "me interesa"}},
	{Tag: Help, Phrases: []string{"ayuda", "no entiendo", "help"}},
}

// fillerWords may surround an intent phrase without changing what the
// message says.
var fillerWords = []string{"gracias", "muchas", "bueno", "ok", "pues", "entonces", "ya", "y", "por", "todo"}

var (
	defaultRules = NewRules(nil)
	fillers      = stemSet(fillerWords)
)

type compiledPattern struct {
	tag     Tag
	phrases [][]string
}

// Rules matches lemmatised input against a fixed pattern table. It is a pure
// function of its input.
type Rules struct {
	patterns []compiledPattern
	entities *Extractor
}

// NewRules compiles patterns; nil selects DefaultPatterns.
func NewRules(patterns []Pattern) *Rules {
	if patterns == nil {
		patterns = DefaultPatterns
	}

	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		cp := compiledPattern{tag: p.Tag}
		for _, phrase := range p.Phrases {
			if lemmas := Lemmas(phrase); len(lemmas) > 0 {
				cp.phrases = append(cp.phrases, lemmas)
			}
		}
		compiled = append(compiled, cp)
	}

	return &Rules{patterns: compiled, entities: NewExtractor()}
}

func (r *Rules) Classify(_ context.Context, text string) (Result, error) {
	res := empty()

	lemmas := Lemmas(text)
	if len(lemmas) == 0 {
		return res, nil
	}

	for _, p := range r.patterns {
		for _, phrase := range p.phrases {
			if containsRun(lemmas, phrase) {
				res.Intents = append(res.Intents, p.tag)
				break
			}
		}
	}

	res.Entities = r.entities.Extract(text)
	return res, nil
}

// Standalone reports whether text says nothing but phrases of tag from
// DefaultPatterns, optionally with filler words around them. "gracias,
// adiós" is a standalone farewell, "Li Chao" is not.
func Standalone(text string, tag Tag) bool {
	return defaultRules.Standalone(text, tag)
}

// Standalone is the method form of the package level Standalone that uses
// the patterns of r.
func (r *Rules) Standalone(text string, tag Tag) bool {
	var phrases [][]string
	for _, p := range r.patterns {
		if p.tag == tag {
			phrases = append(phrases, p.phrases...)
		}
	}

	lemmas := Lemmas(text)
	matched := false
	for i := 0; i < len(lemmas); {
		if _, ok := fillers[lemmas[i]]; ok {
			i++
			continue
		}
		n := prefixLen(lemmas[i:], phrases)
		if n == 0 {
			return false
		}
		matched = true
		i += n
	}
	return matched
}

// prefixLen returns the length of the longest phrase that starts lemmas.
func prefixLen(lemmas []string, phrases [][]string) int {
	best := 0
	for _, phrase := range phrases {
		if len(phrase) > best && len(phrase) <= len(lemmas) && containsRun(lemmas[:len(phrase)], phrase) {
			best = len(phrase)
		}
	}
	return best
}

func stemSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		for _, lemma := range Lemmas(w) {
			set[lemma] = struct{}{}
		}
	}
	return set
}

// Lemmas tokenises text and reduces every token to its Spanish stem.
func Lemmas(text string) []string {
	tokens := textutil.Tokens(text)
	for i, tok := range tokens {
		tokens[i] = spanish.Stem(tok, true)
	}
	return tokens
}

func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, w := range needle {
			if haystack[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}
