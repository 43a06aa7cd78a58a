package flow

// InputType tells the engine how the answer to a question is handled.
type InputType string

const (
	InputText                 InputType = "text"
	InputName                 InputType = "name"
	InputEmail                InputType = "email"
	InputPhone                InputType = "phone"
	InputNumber               InputType = "number"
	InputSkills               InputType = "skills"
	InputSelectJob            InputType = "select_job"
	InputScheduleInterview    InputType = "schedule_interview"
	InputConfirmInterviewSlot InputType = "confirm_interview_slot"
)

var knownInputTypes = map[InputType]bool{
	InputText:                 true,
	InputName:                 true,
	InputEmail:                true,
	InputPhone:                true,
	InputNumber:               true,
	InputSkills:               true,
	InputSelectJob:            true,
	InputScheduleInterview:    true,
	InputConfirmInterviewSlot: true,
}

// typedChain lists which input type has to follow each special type.
var typedChain = map[InputType]InputType{
	InputSkills:            InputSelectJob,
	InputSelectJob:         InputScheduleInterview,
	InputScheduleInterview: InputConfirmInterviewSlot,
}

// Typed reports whether answers of this type are handled by a dedicated handler
// instead of decision resolution.
func (t InputType) Typed() bool {
	switch t {
	case InputSkills, InputSelectJob, InputScheduleInterview, InputConfirmInterviewSlot:
		return true
	default:
		return false
	}
}

// Question is one node of the graph. Sub-questions are questions too; they
// carry the id of their parent and their position under it.
type Question struct {
	ID               string            `yaml:"id"`
	Stage            int               `yaml:"stage"`
	Option           string            `yaml:"option"`
	Prompt           string            `yaml:"prompt"`
	InputType        InputType         `yaml:"input_type"`
	RequiresResponse bool              `yaml:"requires_response"`
	Decision         map[string]string `yaml:"decision"`
	FieldTarget      string            `yaml:"field_target"`
	Options          []string          `yaml:"options"`

	Parent            string `yaml:"-"`
	ParentSubQuestion string `yaml:"-"`
	Sequence          int    `yaml:"-"`
}

// IsSubQuestion reports whether q is nested under another question.
func (q Question) IsSubQuestion() bool { return q.Parent != "" }

// QuestionSpec is the authored form of a top-level question.
type QuestionSpec struct {
	Question     `yaml:",inline"`
	SubQuestions []SubQuestionSpec `yaml:"sub_questions"`
}

// SubQuestionSpec is the authored form of a sub-question.
type SubQuestionSpec struct {
	Question          `yaml:",inline"`
	Sequence          int    `yaml:"sequence"`
	ParentSubQuestion string `yaml:"parent_sub_question"`
}

// Definition is a whole flow as produced by the flow editor.
type Definition struct {
	BusinessUnit string            `yaml:"business_unit"`
	MenuQuestion string            `yaml:"menu_question"`
	Messages     map[string]string `yaml:"messages"`
	Questions    []QuestionSpec    `yaml:"questions"`
}
