// Package intent extracts coarse intents and generic entities from user text.
package intent

import "context"

// Tag names an intent.
type Tag string

const (
	Greeting  Tag = "saludo"
	Farewell  Tag = "despedida"
	SearchJob Tag = "buscar_empleo"
	Apply     Tag = "postular"
	Help      Tag = "ayuda"
)

// Known lists every tag a classifier may return, in reporting order.
var Known = []Tag{Greeting, Farewell, SearchJob, Apply, Help}

// Entity labels.
const (
	LabelDate     = "DATE"
	LabelTime     = "TIME"
	LabelEmail    = "EMAIL"
	LabelPhone    = "PHONE"
	LabelLocation = "LOC"
)

type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

type Result struct {
	Intents  []Tag    `json:"intents"`
	Entities []Entity `json:"entities"`
}

// Has reports whether tag fired.
func (r Result) Has(tag Tag) bool {
	for _, t := range r.Intents {
		if t == tag {
			return true
		}
	}
	return false
}

// Classifier turns raw text into intents and entities. Text that cannot be
// understood yields an empty Result, not an error; errors are reserved for
// classifiers backed by remote services.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

func empty() Result {
	return Result{Intents: []Tag{}, Entities: []Entity{}}
}
