package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/flow"
	"github.com/huntred/flowbot/internal/intent"
	"github.com/huntred/flowbot/internal/storage"
	"github.com/huntred/flowbot/internal/textutil"
)

const compensateTimeout = 3 * time.Second

var (
	errMalformedContext = errors.New("chat context is missing data for this question")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

type outcome struct {
	reply  Reply
	commit bool
}

type booking struct {
	jobID  string
	index  int
	holder string
}

// turn is the working copy of one conversation turn. Nothing it changes is
// visible until the engine commits it.
type turn struct {
	engine *Engine
	ctx    context.Context
	log    *zap.Logger
	key    storage.Key

	state       *storage.ChatState
	person      *storage.Person
	personDirty bool
	booked      *booking
}

func (t *turn) step(raw string) (outcome, error) {
	e := t.engine
	text := strings.TrimSpace(raw)
	norm := textutil.Normalize(text)

	if _, ok := e.menu[norm]; ok {
		return t.jump(e.graph.Menu(), ""), nil
	}

	res, err := e.classifier.Classify(t.ctx, text)
	if err != nil {
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return outcome{}, ctxErr
		}
		t.log.Warn("intent classification failed", zap.Error(err))
		res = intent.Result{}
	}

	if res.Has(intent.Farewell) && t.takesFarewell(text) {
		t.state.CurrentQuestion = ""
		return t.say(e.messages.Farewell), nil
	}

	if t.state.Turns == 0 && t.state.CurrentQuestion != "" {
		return t.jump(t.state.CurrentQuestion, e.messages.Greeting), nil
	}

	current := t.state.CurrentQuestion
	if current == "" {
		switch {
		case res.Has(intent.Greeting):
			return t.say(e.messages.IdleGreeting), nil
		case res.Has(intent.Help):
			return t.jump(e.graph.Menu(), ""), nil
		case res.Has(intent.SearchJob), res.Has(intent.Apply):
			if id, ok := e.graph.NextOfType("", flow.InputSkills); ok {
				return t.jump(id, ""), nil
			}
		}
		return t.jump(e.graph.First(), e.messages.Restart), nil
	}

	q, ok := e.graph.Get(current)
	if !ok {
		t.log.Warn("chat state points at an unknown question, restarting")
		return t.jump(e.graph.First(), e.messages.Restart), nil
	}

	switch q.InputType {
	case flow.InputSkills:
		return t.skills(q, text)
	case flow.InputSelectJob:
		return t.selectJob(q, text)
	case flow.InputScheduleInterview:
		return t.scheduleInterview(q, text)
	case flow.InputConfirmInterviewSlot:
		return t.confirmSlot(q, text)
	default:
		return t.generic(q, text), nil
	}
}

// takesFarewell reports whether a farewell ends the conversation. Free text
// and name answers may contain a farewell word ("Li Chao"), so there the
// message must be only the farewell.
func (t *turn) takesFarewell(text string) bool {
	q, ok := t.engine.graph.Get(t.state.CurrentQuestion)
	if !ok {
		return true
	}
	switch q.InputType {
	case flow.InputText, flow.InputName:
		return intent.Standalone(text, intent.Farewell)
	}
	return true
}

func (t *turn) generic(q flow.Question, text string) outcome {
	e := t.engine

	if text == "" {
		if q.RequiresResponse {
			return t.reprompt(q, e.messages.EmptyAnswer)
		}
	} else if problem := t.validate(q, text); problem != "" {
		return t.reprompt(q, problem)
	}

	answer := optionAnswer(q, text)
	if q.FieldTarget != "" && answer != "" {
		t.person.Set(q.FieldTarget, answer)
		t.personDirty = true
	}

	if next, ok := e.graph.ResolveDecision(q.ID, answer); ok {
		return t.jump(next, "")
	}
	if next, ok := e.graph.NextAfter(q.ID); ok {
		return t.jump(next, "")
	}

	t.state.CurrentQuestion = ""
	return t.say(e.messages.NoMoreQuestions)
}

// validate returns the re-prompt message for an invalid answer, or "".
func (t *turn) validate(q flow.Question, text string) string {
	m := t.engine.messages
	switch q.InputType {
	case flow.InputEmail:
		if !emailPattern.MatchString(text) {
			return m.InvalidEmail
		}
	case flow.InputPhone:
		if !validPhone(text) {
			return m.InvalidPhone
		}
	case flow.InputNumber:
		if _, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64); err != nil {
			return m.InvalidNumber
		}
	case flow.InputName:
		if !strings.ContainsFunc(text, unicode.IsLetter) {
			return m.InvalidName
		}
	}
	return ""
}

func validPhone(text string) bool {
	digits := 0
	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ' ', r == '-', r == '(', r == ')', r == '+', r == '.':
		default:
			return false
		}
	}
	return digits >= 8 && digits <= 15
}

// optionAnswer turns "2" into the second option label when q has options.
func optionAnswer(q flow.Question, text string) string {
	if len(q.Options) == 0 {
		return text
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(q.Options) {
		return text
	}
	return q.Options[n-1]
}

func (t *turn) jump(id, lead string) outcome {
	q, ok := t.engine.graph.Get(id)
	if !ok {
		t.state.CurrentQuestion = ""
		return t.say(paragraphs(lead, t.engine.messages.NoMoreQuestions))
	}
	if sub, ok := t.engine.graph.FirstSubQuestion(id); ok {
		return t.jump(sub, paragraphs(lead, q.Prompt))
	}
	t.state.CurrentQuestion = id
	return outcome{reply: questionReply(q, lead), commit: true}
}

// reprompt keeps the current question and repeats it after problem.
func (t *turn) reprompt(q flow.Question, problem string) outcome {
	return outcome{reply: questionReply(q, problem), commit: true}
}

func (t *turn) say(text string, options ...string) outcome {
	return outcome{reply: Reply{Text: text, Options: options}, commit: true}
}

// fail answers with an apology and drops every change made in the turn.
func (t *turn) fail(reason string, err error) outcome {
	t.log.Warn(reason, zap.Error(err))
	return outcome{reply: Reply{Text: t.engine.messages.Apology}}
}

// compensate releases a slot booked by a turn that is not being committed.
func (t *turn) compensate() {
	if t.booked == nil {
		return
	}
	b := t.booked
	t.booked = nil

	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), compensateTimeout)
	defer cancel()
	if err := t.engine.interviews.Release(ctx, b.jobID, b.index, b.holder); err != nil {
		t.log.Error("failed to release interview slot of an uncommitted turn",
			zap.String("job_id", b.jobID), zap.Int("slot", b.index), zap.Error(err))
		return
	}
	t.log.Info("released interview slot of an uncommitted turn",
		zap.String("job_id", b.jobID), zap.Int("slot", b.index))
}

func (t *turn) setContext(fc flowContext) {
	writeContext(t.state.Context, fc)
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", errMalformedContext, what)
}
