package engine

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/flow"
	"github.com/huntred/flowbot/internal/jobs"
	"github.com/huntred/flowbot/internal/storage"
	"github.com/huntred/flowbot/internal/textutil"
)

// skills stores the answer, ranks the pool against it and moves to the job
// selection question with the best matches.
func (t *turn) skills(q flow.Question, text string) (outcome, error) {
	e := t.engine
	if text == "" {
		return t.reprompt(q, e.messages.EmptyAnswer), nil
	}

	t.person.Set("skills", text)
	if q.FieldTarget != "" {
		t.person.Set(q.FieldTarget, text)
	}
	t.personDirty = true

	matches, err := e.matcher.Rank(t.ctx, text)
	if err != nil {
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return outcome{}, ctxErr
		}
		return t.fail("job ranking failed", err), nil
	}
	if len(matches) == 0 {
		return t.reprompt(q, e.messages.NoMatches), nil
	}
	if len(matches) > e.topN {
		matches = matches[:e.topN]
	}

	fc, err := readContext(t.state.Context)
	if err != nil {
		fc = flowContext{}
	}
	fc.RecommendedJobs = make([]string, len(matches))
	labels := make([]string, len(matches))
	for i, m := range matches {
		fc.RecommendedJobs[i] = m.Posting.ID
		labels[i] = m.Posting.Label()
	}
	fc.SelectedJob, fc.AvailableSlots, fc.BookedSlot = "", nil, ""
	t.setContext(fc)

	next, ok := e.graph.NextOfType(q.ID, flow.InputSelectJob)
	if !ok {
		return t.fail("flow has no job selection question", errMalformedContext), nil
	}
	t.state.CurrentQuestion = next
	t.log.Info("ranked job postings", zap.Strings("job_ids", fc.RecommendedJobs))
	return t.menu(next, e.messages.ChooseJob, labels, true), nil
}

// selectJob reads a 1-based choice among the recommended jobs.
func (t *turn) selectJob(q flow.Question, text string) (outcome, error) {
	e := t.engine
	fc, err := readContext(t.state.Context)
	if err != nil {
		return t.fail("cannot read chat context", err), nil
	}
	if len(fc.RecommendedJobs) == 0 {
		return t.fail("job selection without recommendations", missing(ctxRecommendedJobs)), nil
	}

	postings := make([]jobs.Posting, len(fc.RecommendedJobs))
	labels := make([]string, len(fc.RecommendedJobs))
	for i, id := range fc.RecommendedJobs {
		p, err := e.interviews.Posting(id)
		if err != nil {
			return t.fail("recommended job is not in the pool", err), nil
		}
		postings[i] = p
		labels[i] = p.Label()
	}

	n, ok := parseIndex(text)
	if !ok || n < 1 || n > len(postings) {
		return t.menu(q.ID, e.messages.InvalidSelection, labels, false), nil
	}
	posting := postings[n-1]

	fc.SelectedJob = posting.ID
	fc.AvailableSlots, fc.BookedSlot = nil, ""
	t.setContext(fc)

	next, ok := e.graph.NextOfType(q.ID, flow.InputScheduleInterview)
	if !ok {
		return t.fail("flow has no interview scheduling question", errMalformedContext), nil
	}
	t.log.Info("job selected", zap.String("job_id", posting.ID))
	return t.jump(next, fill(e.messages.JobSelected, posting.Title, "")), nil
}

// scheduleInterview lists the free slots of the selected job unless the
// answer routes elsewhere or declines the interview.
func (t *turn) scheduleInterview(q flow.Question, text string) (outcome, error) {
	e := t.engine
	if next, ok := e.graph.ResolveDecision(q.ID, text); ok {
		return t.jump(next, ""), nil
	}
	if declines(text) {
		t.log.Info("interview declined")
		t.state.CurrentQuestion = ""
		return t.say(e.messages.InterviewDeclined), nil
	}

	fc, err := readContext(t.state.Context)
	if err != nil {
		return t.fail("cannot read chat context", err), nil
	}
	if fc.SelectedJob == "" {
		return t.fail("interview scheduling without a selected job", missing(ctxSelectedJob)), nil
	}
	posting, err := e.interviews.Posting(fc.SelectedJob)
	if err != nil {
		return t.fail("selected job is not in the pool", err), nil
	}

	free, err := e.interviews.AvailableSlots(t.ctx, posting.ID)
	if err != nil {
		return outcome{}, err
	}
	if len(free) == 0 {
		return t.say(fill(e.messages.NoSlots, posting.Title, "")), nil
	}

	fc.AvailableSlots = free
	t.setContext(fc)

	next, ok := e.graph.NextOfType(q.ID, flow.InputConfirmInterviewSlot)
	if !ok {
		return t.fail("flow has no slot confirmation question", errMalformedContext), nil
	}
	t.state.CurrentQuestion = next
	return t.slotMenu(next, fill(e.messages.ChooseSlot, posting.Title, ""), posting, free, true), nil
}

// confirmSlot books the chosen slot. Losing the race for a slot is reported
// distinctly and the remaining slots are offered again.
func (t *turn) confirmSlot(q flow.Question, text string) (outcome, error) {
	e := t.engine
	fc, err := readContext(t.state.Context)
	if err != nil {
		return t.fail("cannot read chat context", err), nil
	}
	if fc.SelectedJob == "" {
		return t.fail("slot confirmation without a selected job", missing(ctxSelectedJob)), nil
	}
	posting, err := e.interviews.Posting(fc.SelectedJob)
	if err != nil {
		return t.fail("selected job is not in the pool", err), nil
	}
	if len(fc.AvailableSlots) == 0 {
		return t.say(fill(e.messages.NoSlots, posting.Title, "")), nil
	}
	for _, idx := range fc.AvailableSlots {
		if idx < 0 || idx >= len(posting.Slots) {
			return t.fail("stored slot is out of range", jobs.ErrSlotOutOfRange), nil
		}
	}

	n, ok := parseIndex(text)
	if !ok || n < 1 || n > len(fc.AvailableSlots) {
		return t.slotMenu(q.ID, e.messages.InvalidSelection, posting, fc.AvailableSlots, false), nil
	}
	index := fc.AvailableSlots[n-1]

	holder := t.key.String()
	label, err := e.interviews.Book(t.ctx, posting.ID, index, holder)
	switch {
	case errors.Is(err, storage.ErrSlotTaken):
		return t.slotTaken(q, posting, fc)
	case errors.Is(err, jobs.ErrSlotOutOfRange):
		return t.slotMenu(q.ID, e.messages.InvalidSelection, posting, fc.AvailableSlots, false), nil
	case errors.Is(err, jobs.ErrUnknownJob):
		return t.fail("selected job is not in the pool", err), nil
	case err != nil:
		return outcome{}, err
	}
	t.booked = &booking{jobID: posting.ID, index: index, holder: holder}

	fc.AvailableSlots = nil
	fc.BookedSlot = label
	t.setContext(fc)
	t.state.CurrentQuestion = ""

	t.log.Info("interview booked", zap.String("job_id", posting.ID), zap.Int("slot", index))
	return t.say(fill(e.messages.Confirmed, posting.Title, label)), nil
}

func (t *turn) slotTaken(q flow.Question, posting jobs.Posting, fc flowContext) (outcome, error) {
	e := t.engine
	free, err := e.interviews.AvailableSlots(t.ctx, posting.ID)
	if err != nil {
		return outcome{}, err
	}
	fc.AvailableSlots = free
	t.setContext(fc)

	if len(free) == 0 {
		return t.say(paragraphs(e.messages.SlotTaken, fill(e.messages.NoSlots, posting.Title, ""))), nil
	}
	return t.slotMenu(q.ID, e.messages.SlotTaken, posting, free, false), nil
}

func (t *turn) slotMenu(questionID, lead string, posting jobs.Posting, free []int, withPrompt bool) outcome {
	labels := make([]string, len(free))
	for i, idx := range free {
		labels[i] = posting.Slots[idx]
	}
	return t.menu(questionID, lead, labels, withPrompt)
}

// menu numbers labels under lead. The question prompt is shown unless the
// menu is repeated after a bad choice.
func (t *turn) menu(questionID, lead string, labels []string, withPrompt bool) outcome {
	prompt := ""
	if q, ok := t.engine.graph.Get(questionID); ok && withPrompt {
		prompt = q.Prompt
	}
	menu, options := numbered(labels)
	return outcome{reply: Reply{Text: paragraphs(prompt, lead, menu), Options: options}, commit: true}
}

var declinePhrases = map[string]struct{}{
	"no":           {},
	"nop":          {},
	"nel":          {},
	"no gracias":   {},
	"ahorita no":   {},
	"ahora no":     {},
	"todavia no":   {},
	"aun no":       {},
	"mejor no":     {},
	"por ahora no": {},
	"despues":      {},
	"mas tarde":    {},
}

// declines reports whether text is a plain no, ignoring case, accents and
// punctuation.
func declines(text string) bool {
	_, ok := declinePhrases[strings.Join(textutil.Tokens(text), " ")]
	return ok
}
