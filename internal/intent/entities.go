package intent

import (
	"regexp"
	"sort"
	"strings"
)

type entityRule struct {
	label string
	re    *regexp.Regexp
	group int
}

// Extractor finds generic entities. Rules earlier in the list win when spans
// overlap.
type Extractor struct {
	rules []entityRule
}

func NewExtractor() *Extractor {
	return &Extractor{rules: []entityRule{
		{label: LabelEmail, re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
		{label: LabelDate, re: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)},
		{label: LabelDate, re: regexp.MustCompile(`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`)},
		{label: LabelDate, re: regexp.MustCompile(`(?i)\b\d{1,2} de (?:enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)\b`)},
		{label: LabelDate, re: regexp.MustCompile(`(?i)\b(?:pasado mañana|mañana|hoy|lunes|martes|miércoles|miercoles|jueves|viernes|sábado|sabado|domingo)\b`)},
		{label: LabelTime, re: regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?:\s?(?:am|pm))?\b`)},
		{label: LabelPhone, re: regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d`)},
		{label: LabelLocation, re: regexp.MustCompile(`\b(?:en|de|desde)\s+(\p{Lu}\p{L}+(?:\s+\p{Lu}\p{L}+)*)`), group: 1},
	}}
}

type span struct {
	start, end int
	entity     Entity
}

// Extract returns non-overlapping entities in text order.
func (e *Extractor) Extract(text string) []Entity {
	var accepted []span
	for _, rule := range e.rules {
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*rule.group], m[2*rule.group+1]
			if start < 0 || overlaps(accepted, start, end) {
				continue
			}
			accepted = append(accepted, span{
				start:  start,
				end:    end,
				entity: Entity{Text: strings.TrimSpace(text[start:end]), Label: rule.label},
			})
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })

	out := make([]Entity, 0, len(accepted))
	for _, s := range accepted {
		out = append(out, s.entity)
	}
	return out
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}
