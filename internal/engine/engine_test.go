package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/huntred/flowbot/internal/flow"
	"github.com/huntred/flowbot/internal/intent"
	"github.com/huntred/flowbot/internal/jobs"
	"github.com/huntred/flowbot/internal/storage"
)

const testFlow = `
business_unit: huntred
menu_question: menu
questions:
  - id: start
    prompt: "¿Quieres registrarte?"
    requires_response: true
    options: ["Sí", "No"]
    decision:
      "sí": name
      "no": menu
  - id: menu
    prompt: "Menú principal"
    requires_response: true
    options: ["Registrarme", "Buscar vacantes"]
    decision:
      registrarme: name
      buscar vacantes: skills
  - id: name
    prompt: "¿Cuál es tu nombre?"
    input_type: name
    requires_response: true
    field_target: nombre
  - id: email
    prompt: "¿Cuál es tu correo?"
    input_type: email
    requires_response: true
    field_target: email
  - id: skills
    prompt: "Cuéntanos tus habilidades"
    input_type: skills
    requires_response: true
  - id: select_job
    prompt: "Elige una vacante"
    input_type: select_job
  - id: schedule
    prompt: "¿Agendamos una entrevista?"
    input_type: schedule_interview
  - id: confirm_slot
    prompt: "Elige un horario"
    input_type: confirm_interview_slot
`

const testPool = `
jobs:
  - id: job-01
    title: Desarrollador Python
    required_skills: python django
    slots: ["2024-06-03 10:00", "2024-06-03 12:00"]
  - id: job-02
    title: Backend Django
    required_skills: django rest python
    slots: ["2024-06-04 09:00"]
  - id: job-03
    title: Científico de datos
    required_skills: python pandas
  - id: job-04
    title: Ingeniero de datos
    required_skills: python spark
  - id: job-05
    title: QA automatizado
    required_skills: python selenium
  - id: job-06
    title: Analista BI
    required_skills: python sql
  - id: job-07
    title: Soldador
    required_skills: soldadura mig
`

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine *Engine
	store  *storage.Memory
}

func newFixture(t *testing.T, pool string, opts ...func(*Deps)) *fixture {
	t.Helper()

	graph, err := flow.Parse([]byte(testFlow))
	if err != nil {
		t.Fatalf("parse flow: %v", err)
	}
	postings, err := jobs.ParsePool([]byte(pool))
	if err != nil {
		t.Fatalf("parse pool: %v", err)
	}

	store := storage.NewMemory()
	deps := Deps{
		Graph:      graph,
		States:     store,
		People:     store,
		Classifier: intent.NewRules(nil),
		Matcher:    jobs.NewMatcher(postings, zap.NewNop()),
		Interviews: jobs.NewBoard(postings, store),
		Logger:     zap.NewNop(),
		Now:        func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&deps)
	}

	e, err := New(Config{}, deps)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{engine: e, store: store}
}

// withFlow replaces the test flow with src.
func withFlow(t *testing.T, src string) func(*Deps) {
	t.Helper()
	graph, err := flow.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse flow: %v", err)
	}
	return func(d *Deps) { d.Graph = graph }
}

func key(user string) storage.Key { return storage.Key{Platform: "telegram", UserID: user} }

// seed stores a state that already went through at least one turn.
func (f *fixture) seed(t *testing.T, user, question string, values map[string]any) {
	t.Helper()
	ctx := context.Background()
	state, err := f.store.Load(ctx, key(user), "start")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	state.CurrentQuestion = question
	state.Turns = 1
	for k, v := range values {
		state.Context[k] = v
	}
	if err := f.store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func (f *fixture) state(t *testing.T, user string) *storage.ChatState {
	t.Helper()
	state, err := f.store.Load(context.Background(), key(user), "start")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return state
}

func (f *fixture) send(user, text string) Reply {
	return f.engine.Handle(context.Background(), Inbound{Platform: "telegram", UserID: user, Text: text})
}

func TestFirstContactGreetsAndPromptsFirstQuestion(t *testing.T) {
	f := newFixture(t, testPool)

	reply := f.send("u1", "quiero registrarme")
	if !strings.Contains(reply.Text, DefaultMessages().Greeting) || !strings.Contains(reply.Text, "¿Quieres registrarte?") {
		t.Fatalf("unexpected first reply %q", reply.Text)
	}
	if len(reply.Options) != 2 {
		t.Fatalf("expected start options, got %v", reply.Options)
	}

	state := f.state(t, "u1")
	if state.CurrentQuestion != "start" || state.Turns != 1 {
		t.Fatalf("unexpected state %+v", state)
	}
	if !state.LastInteraction.Equal(fixedNow) {
		t.Fatalf("expected last interaction %v, got %v", fixedNow, state.LastInteraction)
	}
}

func TestGreetingWithoutActiveQuestion(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "", nil)

	reply := f.send("u1", "hola")
	if reply.Text != DefaultMessages().IdleGreeting {
		t.Fatalf("expected greeting, got %q", reply.Text)
	}
	if state := f.state(t, "u1"); state.CurrentQuestion != "" {
		t.Fatalf("greeting must not advance state, at %q", state.CurrentQuestion)
	}
}

func TestIdleInputRoutes(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{name: "job search jumps to skills", text: "busco trabajo", want: "skills"},
		{name: "apply jumps to skills", text: "quiero aplicar", want: "skills"},
		{name: "help opens the menu", text: "ayuda", want: "menu"},
		{name: "anything else restarts", text: "ok", want: "start"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testPool)
			f.seed(t, "u1", "", nil)

			if reply := f.send("u1", tc.text); reply.Text == "" {
				t.Fatal("empty reply")
			}
			if got := f.state(t, "u1").CurrentQuestion; got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMenuKeywordInterruptsAnyQuestion(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "email", nil)

	reply := f.send("u1", "  MENÚ ")
	if !strings.Contains(reply.Text, "Menú principal") {
		t.Fatalf("expected menu prompt, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "menu" {
		t.Fatalf("expected menu, got %q", got)
	}
}

func TestFarewellEndsConversation(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "email", nil)

	reply := f.send("u1", "adiós")
	if reply.Text != DefaultMessages().Farewell {
		t.Fatalf("expected farewell, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "" {
		t.Fatalf("expected terminal state, got %q", got)
	}
}

func TestFarewellWordInsideANameIsAnAnswer(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "name", nil)

	reply := f.send("u1", "Li Chao")
	if !strings.Contains(reply.Text, "¿Cuál es tu correo?") {
		t.Fatalf("expected the email prompt, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "email" {
		t.Fatalf("expected email, got %q", got)
	}
	person, err := f.store.LoadPerson(context.Background(), key("u1"))
	if err != nil {
		t.Fatalf("load person: %v", err)
	}
	if person.Name != "Li Chao" {
		t.Fatalf("expected the name to be stored, got %+v", person)
	}
}

func TestPlainFarewellAtNameEndsConversation(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "name", nil)

	if reply := f.send("u1", "Gracias, ¡chao!"); reply.Text != DefaultMessages().Farewell {
		t.Fatalf("expected farewell, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "" {
		t.Fatalf("expected terminal state, got %q", got)
	}
}

func TestGenericAnswersFillPersonAndFollowDecisions(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "start", nil)

	f.send("u1", "1")
	if got := f.state(t, "u1").CurrentQuestion; got != "name" {
		t.Fatalf("option 1 should resolve to name, got %q", got)
	}

	f.send("u1", "Ana López")
	if got := f.state(t, "u1").CurrentQuestion; got != "email" {
		t.Fatalf("expected natural order to email, got %q", got)
	}

	reply := f.send("u1", "no-es-correo")
	if !strings.Contains(reply.Text, DefaultMessages().InvalidEmail) {
		t.Fatalf("expected email re-prompt, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "email" {
		t.Fatalf("invalid email must not advance, got %q", got)
	}

	f.send("u1", "ana@example.com")
	if got := f.state(t, "u1").CurrentQuestion; got != "skills" {
		t.Fatalf("expected skills, got %q", got)
	}

	person, err := f.store.LoadPerson(context.Background(), key("u1"))
	if err != nil {
		t.Fatalf("load person: %v", err)
	}
	if person.Name != "Ana López" || person.Email != "ana@example.com" {
		t.Fatalf("unexpected person %+v", person)
	}
	if !person.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected person update time %v", person.UpdatedAt)
	}
}

func TestIntroductionQuestionOpensAtFirstSubQuestion(t *testing.T) {
	src := `
questions:
  - id: name
    prompt: "¿Cuál es tu nombre?"
    input_type: name
    requires_response: true
    field_target: nombre
  - id: contact
    prompt: "Ahora tus datos de contacto."
    sub_questions:
      - id: phone
        sequence: 1
        prompt: "¿Cuál es tu teléfono?"
        input_type: phone
        requires_response: true
        field_target: telefono
      - id: email
        sequence: 2
        prompt: "¿Cuál es tu correo?"
        input_type: email
        requires_response: true
        field_target: email
`
	f := newFixture(t, testPool, withFlow(t, src))
	f.seed(t, "u1", "name", nil)

	reply := f.send("u1", "Ana López")
	if !strings.Contains(reply.Text, "Ahora tus datos de contacto.") || !strings.Contains(reply.Text, "¿Cuál es tu teléfono?") {
		t.Fatalf("expected the introduction and the phone prompt, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "phone" {
		t.Fatalf("expected phone, got %q", got)
	}

	f.send("u1", "55 1234 5678")
	if got := f.state(t, "u1").CurrentQuestion; got != "email" {
		t.Fatalf("the phone answer should move to email, got %q", got)
	}
}

func TestRequiredAnswerIsRePrompted(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "name", nil)

	reply := f.send("u1", "   ")
	if !strings.Contains(reply.Text, DefaultMessages().EmptyAnswer) || !strings.Contains(reply.Text, "¿Cuál es tu nombre?") {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "name" {
		t.Fatalf("expected to stay at name, got %q", got)
	}
}

func TestLastQuestionEndsWithNoMoreQuestions(t *testing.T) {
	const flowDef = `
questions:
  - id: only
    prompt: "¿Comentarios?"
`
	graph, err := flow.Parse([]byte(flowDef))
	if err != nil {
		t.Fatalf("parse flow: %v", err)
	}
	f := newFixture(t, testPool, func(d *Deps) { d.Graph = graph })
	f.seed(t, "u1", "only", nil)

	reply := f.send("u1", "todo bien")
	if reply.Text != DefaultMessages().NoMoreQuestions {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "" {
		t.Fatalf("expected terminal, got %q", got)
	}
}

func TestSkillsRanksJobsIntoNumberedMenu(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "skills", nil)

	reply := f.send("u1", "python, django")

	state := f.state(t, "u1")
	if state.CurrentQuestion != "select_job" {
		t.Fatalf("expected select_job, got %q", state.CurrentQuestion)
	}
	recommended, ok := state.Context[ctxRecommendedJobs].([]string)
	if !ok || len(recommended) != DefaultTopN {
		t.Fatalf("expected %d recommended jobs, got %#v", DefaultTopN, state.Context[ctxRecommendedJobs])
	}
	if recommended[0] != "job-01" {
		t.Fatalf("expected job-01 first, got %v", recommended)
	}
	if len(reply.Options) != DefaultTopN {
		t.Fatalf("expected %d options, got %v", DefaultTopN, reply.Options)
	}
	for i := 1; i <= DefaultTopN; i++ {
		if !strings.Contains(reply.Text, fmt.Sprintf("%d. ", i)) {
			t.Fatalf("reply misses entry %d: %q", i, reply.Text)
		}
	}

	person, err := f.store.LoadPerson(context.Background(), key("u1"))
	if err != nil {
		t.Fatalf("load person: %v", err)
	}
	if person.Skills != "python, django" {
		t.Fatalf("skills not stored: %+v", person)
	}
}

func TestSkillsWithEmptyPoolStaysAtSkills(t *testing.T) {
	f := newFixture(t, "jobs: []\n")
	f.seed(t, "u1", "skills", nil)

	reply := f.send("u1", "python")
	if !strings.Contains(reply.Text, DefaultMessages().NoMatches) {
		t.Fatalf("expected no matches message, got %q", reply.Text)
	}
	state := f.state(t, "u1")
	if state.CurrentQuestion != "skills" {
		t.Fatalf("expected to stay at skills, got %q", state.CurrentQuestion)
	}
	if _, ok := state.Context[ctxRecommendedJobs]; ok {
		t.Fatal("no recommendations expected")
	}
}

func TestSelectJobOutOfRangeIsRePrompted(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "select_job", map[string]any{
		ctxRecommendedJobs: []string{"job-01", "job-02", "job-03"},
	})
	before := f.state(t, "u1")

	for _, input := range []string{"5", "0", "cinco", ""} {
		reply := f.send("u1", input)
		if !strings.Contains(strings.ToLower(reply.Text), "selección inválida") {
			t.Fatalf("input %q: expected invalid selection, got %q", input, reply.Text)
		}
		if len(reply.Options) != 3 {
			t.Fatalf("input %q: expected the menu again, got %v", input, reply.Options)
		}
	}

	after := f.state(t, "u1")
	if after.CurrentQuestion != "select_job" {
		t.Fatalf("expected select_job, got %q", after.CurrentQuestion)
	}
	if fmt.Sprint(after.Context) != fmt.Sprint(before.Context) {
		t.Fatalf("context changed: %v -> %v", before.Context, after.Context)
	}
}

func TestSelectJobThenScheduleListsFreeSlots(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "select_job", map[string]any{
		ctxRecommendedJobs: []string{"job-02", "job-01"},
	})

	reply := f.send("u1", "2) Desarrollador Python")
	if !strings.Contains(reply.Text, "Desarrollador Python") || !strings.Contains(reply.Text, "¿Agendamos una entrevista?") {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	state := f.state(t, "u1")
	if state.CurrentQuestion != "schedule" || state.Context[ctxSelectedJob] != "job-01" {
		t.Fatalf("unexpected state %+v", state)
	}

	if err := f.store.Book(context.Background(), "job-01", 0, "someone-else"); err != nil {
		t.Fatalf("book: %v", err)
	}

	reply = f.send("u1", "sí")
	state = f.state(t, "u1")
	if state.CurrentQuestion != "confirm_slot" {
		t.Fatalf("expected confirm_slot, got %q", state.CurrentQuestion)
	}
	if got := fmt.Sprint(state.Context[ctxAvailableSlots]); got != "[1]" {
		t.Fatalf("expected only slot 1 free, got %s", got)
	}
	if len(reply.Options) != 1 || !strings.Contains(reply.Text, "2024-06-03 12:00") {
		t.Fatalf("unexpected slot menu %q %v", reply.Text, reply.Options)
	}
}

func TestScheduleWithoutSlotsStays(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "schedule", map[string]any{ctxSelectedJob: "job-03"})

	reply := f.send("u1", "sí")
	if !strings.Contains(reply.Text, "no hay horarios") {
		t.Fatalf("expected no slots message, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "schedule" {
		t.Fatalf("expected to stay at schedule, got %q", got)
	}
}

func TestScheduleDeclineListsNoSlots(t *testing.T) {
	for _, text := range []string{"no", "No, gracias.", "ahorita no"} {
		t.Run(text, func(t *testing.T) {
			f := newFixture(t, testPool)
			f.seed(t, "u1", "schedule", map[string]any{ctxSelectedJob: "job-01"})

			reply := f.send("u1", text)
			if reply.Text != DefaultMessages().InterviewDeclined || len(reply.Options) != 0 {
				t.Fatalf("expected the decline message, got %q %v", reply.Text, reply.Options)
			}
			state := f.state(t, "u1")
			if state.CurrentQuestion != "" {
				t.Fatalf("expected terminal state, got %q", state.CurrentQuestion)
			}
			if _, ok := state.Context[ctxAvailableSlots]; ok {
				t.Fatalf("declined interview must not store slots, got %v", state.Context)
			}
		})
	}
}

func TestScheduleDecisionRoutesAnswer(t *testing.T) {
	src := strings.Replace(testFlow, `    input_type: schedule_interview
`, `    input_type: schedule_interview
    decision:
      "no": menu
`, 1)
	f := newFixture(t, testPool, withFlow(t, src))
	f.seed(t, "u1", "schedule", map[string]any{ctxSelectedJob: "job-01"})

	reply := f.send("u1", "NO")
	if !strings.Contains(reply.Text, "Menú principal") {
		t.Fatalf("expected the menu prompt, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "menu" {
		t.Fatalf("expected menu, got %q", got)
	}
}

func TestConfirmSlotBooksAndEnds(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "confirm_slot", map[string]any{
		ctxSelectedJob:    "job-01",
		ctxAvailableSlots: []int{0, 1},
	})

	reply := f.send("u1", "1")
	if !strings.Contains(reply.Text, "2024-06-03 10:00") {
		t.Fatalf("confirmation should name the slot, got %q", reply.Text)
	}

	state := f.state(t, "u1")
	if state.CurrentQuestion != "" {
		t.Fatalf("expected terminal, got %q", state.CurrentQuestion)
	}
	if state.Context[ctxBookedSlot] != "2024-06-03 10:00" {
		t.Fatalf("booked slot not recorded: %v", state.Context)
	}

	booked, err := f.store.Booked(context.Background(), "job-01", 2)
	if err != nil {
		t.Fatalf("booked: %v", err)
	}
	if !booked[0] || booked[1] {
		t.Fatalf("expected only slot 0 booked, got %v", booked)
	}
}

func TestConfirmSlotInvalidIndexIsRePrompted(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "confirm_slot", map[string]any{
		ctxSelectedJob:    "job-01",
		ctxAvailableSlots: []int{0, 1},
	})

	reply := f.send("u1", "3")
	if !strings.Contains(reply.Text, DefaultMessages().InvalidSelection) {
		t.Fatalf("expected invalid selection, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "confirm_slot" {
		t.Fatalf("expected confirm_slot, got %q", got)
	}
}

func TestConcurrentConfirmsBookSlotOnce(t *testing.T) {
	f := newFixture(t, testPool)
	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		f.seed(t, u, "confirm_slot", map[string]any{
			ctxSelectedJob:    "job-01",
			ctxAvailableSlots: []int{0, 1},
		})
	}

	var (
		mu      sync.Mutex
		replies = map[string]Reply{}
	)
	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			r := f.send(u, "1")
			mu.Lock()
			replies[u] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	taken := DefaultMessages().SlotTaken
	confirmed, lost := 0, 0
	for u, r := range replies {
		switch {
		case strings.Contains(r.Text, "quedó agendada"):
			confirmed++
			if f.state(t, u).CurrentQuestion != "" {
				t.Fatalf("winner %s should be terminal", u)
			}
		case strings.Contains(r.Text, taken):
			lost++
			if strings.Contains(r.Text, DefaultMessages().InvalidSelection) {
				t.Fatalf("loser %s got invalid selection instead of slot taken", u)
			}
			if f.state(t, u).CurrentQuestion != "confirm_slot" {
				t.Fatalf("loser %s should stay at confirm_slot", u)
			}
		default:
			t.Fatalf("unexpected reply for %s: %q", u, r.Text)
		}
	}
	if confirmed != 1 || lost != len(users)-1 {
		t.Fatalf("expected exactly one booking, got %d confirmed and %d lost", confirmed, lost)
	}
}

func TestMalformedContextApologisesWithoutCommit(t *testing.T) {
	cases := []struct {
		name     string
		question string
		values   map[string]any
	}{
		{name: "no recommendations", question: "select_job"},
		{name: "recommendations of wrong type", question: "select_job", values: map[string]any{ctxRecommendedJobs: "job-01"}},
		{name: "unknown recommended job", question: "select_job", values: map[string]any{ctxRecommendedJobs: []string{"job-99"}}},
		{name: "no selected job", question: "schedule"},
		{name: "unknown selected job", question: "confirm_slot", values: map[string]any{ctxSelectedJob: "job-99", ctxAvailableSlots: []int{0}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testPool)
			f.seed(t, "u1", tc.question, tc.values)
			before := f.state(t, "u1")

			reply := f.send("u1", "1")
			if reply.Text != DefaultMessages().Apology {
				t.Fatalf("expected apology, got %q", reply.Text)
			}
			after := f.state(t, "u1")
			if after.Version != before.Version || after.CurrentQuestion != tc.question {
				t.Fatalf("state must not be committed: %+v", after)
			}
		})
	}
}

func TestUnknownCurrentQuestionRestarts(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "removed-question", nil)

	reply := f.send("u1", "hola")
	if !strings.Contains(reply.Text, DefaultMessages().Restart) {
		t.Fatalf("expected restart, got %q", reply.Text)
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "start" {
		t.Fatalf("expected start, got %q", got)
	}
}

func TestHandleIsDeterministic(t *testing.T) {
	script := []string{"hola", "1", "Ana", "ana@example.com", "python django", "1", "sí", "1"}

	run := func() ([]Reply, *storage.ChatState) {
		f := newFixture(t, testPool)
		replies := make([]Reply, 0, len(script))
		for _, text := range script {
			replies = append(replies, f.send("u1", text))
		}
		return replies, f.state(t, "u1")
	}

	firstReplies, firstState := run()
	for i := 0; i < 3; i++ {
		replies, state := run()
		if fmt.Sprint(replies) != fmt.Sprint(firstReplies) {
			t.Fatalf("replies differ between runs:\n%v\n%v", firstReplies, replies)
		}
		if fmt.Sprint(state) != fmt.Sprint(firstState) {
			t.Fatalf("states differ between runs:\n%+v\n%+v", firstState, state)
		}
	}
	if firstState.CurrentQuestion != "" || firstState.Context[ctxBookedSlot] != "2024-06-03 10:00" {
		t.Fatalf("script should end with a booking, got %+v", firstState)
	}
}

func TestBurstFromOneUserLosesNoTurns(t *testing.T) {
	f := newFixture(t, testPool)
	f.seed(t, "u1", "", nil)

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if r := f.send("u1", "hola"); r.Text == "" {
				return errors.New("empty reply")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := f.state(t, "u1").Turns; got != n+1 {
		t.Fatalf("expected %d committed turns, got %d", n+1, got)
	}
	if f.engine.locks.size() != 0 {
		t.Fatal("key locks should be released after the burst")
	}
}

type failingStates struct {
	storage.StateStore
	err error
}

func (s failingStates) Save(context.Context, *storage.ChatState) error { return s.err }

func TestFailedSaveReleasesBookedSlot(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := newFixture(t, testPool)
	f.seed(t, "u1", "confirm_slot", map[string]any{
		ctxSelectedJob:    "job-01",
		ctxAvailableSlots: []int{0, 1},
	})

	failing := newFixture(t, testPool, func(d *Deps) {
		d.States = failingStates{StateStore: f.store, err: storage.ErrConflict}
		d.People = f.store
		d.Interviews = jobs.NewBoard(mustPool(t), f.store)
		d.Logger = zap.New(core)
	})

	reply := failing.send("u1", "1")
	if reply.Text != DefaultMessages().TryAgain {
		t.Fatalf("expected try again, got %q", reply.Text)
	}

	booked, err := f.store.Booked(context.Background(), "job-01", 2)
	if err != nil {
		t.Fatalf("booked: %v", err)
	}
	if booked[0] {
		t.Fatal("slot of an uncommitted turn must be released")
	}
	if logs.FilterMessage("released interview slot of an uncommitted turn").Len() != 1 {
		t.Fatalf("expected release log, got %v", logs.All())
	}
	if got := f.state(t, "u1").CurrentQuestion; got != "confirm_slot" {
		t.Fatalf("state must stay at confirm_slot, got %q", got)
	}
}

func mustPool(t *testing.T) *jobs.Pool {
	t.Helper()
	pool, err := jobs.ParsePool([]byte(testPool))
	if err != nil {
		t.Fatalf("parse pool: %v", err)
	}
	return pool
}

type slowClassifier struct{}

func (slowClassifier) Classify(ctx context.Context, _ string) (intent.Result, error) {
	<-ctx.Done()
	return intent.Result{}, ctx.Err()
}

func TestTimedOutTurnAsksToTryAgain(t *testing.T) {
	graph, err := flow.Parse([]byte(testFlow))
	if err != nil {
		t.Fatalf("parse flow: %v", err)
	}
	pool := mustPool(t)
	store := storage.NewMemory()

	e, err := New(Config{TurnTimeout: 20 * time.Millisecond}, Deps{
		Graph:      graph,
		States:     store,
		People:     store,
		Classifier: slowClassifier{},
		Matcher:    jobs.NewMatcher(pool, nil),
		Interviews: jobs.NewBoard(pool, store),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	reply := e.Handle(context.Background(), Inbound{Platform: "telegram", UserID: "u1", Text: "hola"})
	if reply.Text != DefaultMessages().TryAgain {
		t.Fatalf("expected try again, got %q", reply.Text)
	}

	state, err := store.Load(context.Background(), key("u1"), "start")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Version != 0 {
		t.Fatal("timed out turn must not be committed")
	}
}

func TestFlowMessagesOverrideDefaults(t *testing.T) {
	const flowDef = `
messages:
  farewell: "¡Hasta pronto!"
questions:
  - id: only
    prompt: "¿Comentarios?"
`
	graph, err := flow.Parse([]byte(flowDef))
	if err != nil {
		t.Fatalf("parse flow: %v", err)
	}
	f := newFixture(t, testPool, func(d *Deps) { d.Graph = graph })
	f.seed(t, "u1", "only", nil)

	if reply := f.send("u1", "adiós"); reply.Text != "¡Hasta pronto!" {
		t.Fatalf("expected overridden farewell, got %q", reply.Text)
	}
}

func TestNewRejectsUnknownMessageKeys(t *testing.T) {
	const flowDef = `
messages:
  farewel: "typo"
questions:
  - id: only
    prompt: "¿Comentarios?"
`
	graph, err := flow.Parse([]byte(flowDef))
	if err != nil {
		t.Fatalf("parse flow: %v", err)
	}
	store := storage.NewMemory()
	pool := mustPool(t)

	_, err = New(Config{}, Deps{
		Graph:      graph,
		States:     store,
		People:     store,
		Classifier: intent.NewRules(nil),
		Matcher:    jobs.NewMatcher(pool, nil),
		Interviews: jobs.NewBoard(pool, store),
	})
	if err == nil || !strings.Contains(err.Error(), "farewel") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}
