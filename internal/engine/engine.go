// Package engine runs one conversation turn at a time over the question
// graph: it reads the stored chat state, decides what the user's text means
// and commits the next state together with the reply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/flow"
	"github.com/huntred/flowbot/internal/intent"
	"github.com/huntred/flowbot/internal/jobs"
	"github.com/huntred/flowbot/internal/logger"
	"github.com/huntred/flowbot/internal/storage"
	"github.com/huntred/flowbot/internal/textutil"
)

const (
	DefaultTopN        = 5
	DefaultTurnTimeout = 10 * time.Second
	maxLogText         = 200
)

// DefaultMenuKeywords jump back to the menu from anywhere in the flow.
var DefaultMenuKeywords = []string{"menu", "inicio", "volver"}

// Inbound is one normalised user message.
type Inbound struct {
	Platform string
	UserID   string
	Text     string
}

// Reply is what the engine answers to one inbound message. Options are
// button labels for channels that render them.
type Reply struct {
	Text    string
	Options []string
}

// Ranker orders job postings by similarity to a skills text.
type Ranker interface {
	Rank(ctx context.Context, skills string) ([]jobs.Match, error)
}

// Interviews gives access to postings and their interview slots.
type Interviews interface {
	Posting(jobID string) (jobs.Posting, error)
	AvailableSlots(ctx context.Context, jobID string) ([]int, error)
	Book(ctx context.Context, jobID string, index int, holder string) (string, error)
	Release(ctx context.Context, jobID string, index int, holder string) error
}

// Config holds the tunables of the engine.
type Config struct {
	MenuKeywords []string
	TopN         int
	TurnTimeout  time.Duration
}

// Deps are the collaborators of the engine.
type Deps struct {
	Graph      *flow.Graph
	States     storage.StateStore
	People     storage.PersonStore
	Classifier intent.Classifier
	Matcher    Ranker
	Interviews Interviews
	Logger     *zap.Logger
	Now        func() time.Time
}

// Engine handles conversation turns. It is safe for concurrent use; turns
// of the same conversation are serialised.
type Engine struct {
	graph      *flow.Graph
	states     storage.StateStore
	people     storage.PersonStore
	classifier intent.Classifier
	matcher    Ranker
	interviews Interviews
	logger     *zap.Logger
	now        func() time.Time

	messages    Messages
	menu        map[string]struct{}
	topN        int
	turnTimeout time.Duration
	locks       *keyLock
}

func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Graph == nil:
		return nil, errors.New("engine: question graph is required")
	case deps.States == nil || deps.People == nil:
		return nil, errors.New("engine: state and person stores are required")
	case deps.Classifier == nil:
		return nil, errors.New("engine: intent classifier is required")
	case deps.Matcher == nil || deps.Interviews == nil:
		return nil, errors.New("engine: job matcher and interview board are required")
	}

	messages, err := MergeMessages(DefaultMessages(), deps.Graph.Messages())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	keywords := cfg.MenuKeywords
	if len(keywords) == 0 {
		keywords = DefaultMenuKeywords
	}
	menu := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if k = textutil.Normalize(k); k != "" {
			menu[k] = struct{}{}
		}
	}

	topN := cfg.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		graph:       deps.Graph,
		states:      deps.States,
		people:      deps.People,
		classifier:  deps.Classifier,
		matcher:     deps.Matcher,
		interviews:  deps.Interviews,
		logger:      logger.WithFields(deps.Logger, zap.String("component", "engine")),
		now:         now,
		messages:    messages,
		menu:        menu,
		topN:        topN,
		turnTimeout: timeout,
		locks:       newKeyLock(),
	}, nil
}

// Handle runs one turn. It always returns a reply with text; when the turn
// could not be committed the reply asks the user to try again and the stored
// state is left untouched.
func (e *Engine) Handle(ctx context.Context, in Inbound) Reply {
	key := storage.Key{Platform: in.Platform, UserID: in.UserID}
	log := logger.WithFields(e.logger, append(
		logger.ConversationFields(in.Platform, in.UserID),
		zap.String(logger.FieldTurnID, uuid.NewString()),
	)...)

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, key.String())
	if err != nil {
		log.Warn("gave up waiting for conversation lock", zap.Error(err))
		return Reply{Text: e.messages.TryAgain}
	}
	defer unlock()

	log.Debug("turn started", zap.String("text", logger.TruncateForLog(in.Text, maxLogText)))

	reply, err := e.run(ctx, log, key, in.Text)
	if err != nil {
		log.Warn("turn not committed", zap.Error(err))
		return Reply{Text: e.messages.TryAgain}
	}
	return reply
}

// TryAgain is the reply sent when a message could not be handled.
func (e *Engine) TryAgain() Reply {
	return Reply{Text: e.messages.TryAgain}
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, key storage.Key, text string) (Reply, error) {
	state, err := e.states.Load(ctx, key, e.graph.First())
	if err != nil {
		return Reply{}, fmt.Errorf("load chat state: %w", err)
	}
	person, err := e.people.LoadPerson(ctx, key)
	if err != nil {
		return Reply{}, fmt.Errorf("load person: %w", err)
	}

	t := &turn{
		engine: e,
		ctx:    ctx,
		log:    logger.WithFields(log, zap.String(logger.FieldQuestion, state.CurrentQuestion)),
		key:    key,
		state:  state.Clone(),
		person: person.Clone(),
	}

	out, err := t.step(text)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		t.compensate()
		return Reply{}, err
	}
	if !out.commit {
		t.compensate()
		return out.reply, nil
	}

	if err := e.commit(ctx, t); err != nil {
		t.compensate()
		return Reply{}, err
	}

	t.log.Info("turn committed",
		zap.String("next_question", t.state.CurrentQuestion),
		zap.Int("turns", t.state.Turns))
	return out.reply, nil
}

// commit saves the person first: rewriting the same answer on a retried
// turn is harmless, while a saved state with a lost answer is not.
func (e *Engine) commit(ctx context.Context, t *turn) error {
	t.state.Turns++
	t.state.LastInteraction = e.now().UTC()

	if t.personDirty {
		t.person.UpdatedAt = t.state.LastInteraction
		if err := e.people.SavePerson(ctx, t.person); err != nil {
			return fmt.Errorf("save person: %w", err)
		}
	}
	if err := e.states.Save(ctx, t.state); err != nil {
		return fmt.Errorf("save chat state: %w", err)
	}
	return nil
}
