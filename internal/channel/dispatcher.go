package channel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/huntred/flowbot/internal/engine"
	"github.com/huntred/flowbot/internal/logger"
)

const DefaultMaxConcurrentTurns = 16

// A message that arrives after shutdown still gets a reply within this time.
const lateReplyTimeout = 3 * time.Second

// tryAgainer is implemented by handlers with a configured try again reply.
type tryAgainer interface {
	TryAgain() engine.Reply
}

type delivery struct {
	ctx context.Context
	in  engine.Inbound
}

// Dispatcher runs turns asynchronously. Messages of one conversation are
// handled one at a time in arrival order; different conversations run in
// parallel up to the concurrency limit.
type Dispatcher struct {
	handler Handler
	gateway Gateway
	sem     *semaphore.Weighted
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[string][]delivery
	wg     sync.WaitGroup
}

func NewDispatcher(handler Handler, gateway Gateway, maxConcurrent int, log *zap.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentTurns
	}
	return &Dispatcher{
		handler: handler,
		gateway: gateway,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger.WithFields(log, zap.String("component", "dispatcher")),
		queues:  make(map[string][]delivery),
	}
}

// Submit queues in behind earlier messages of the same conversation. It
// never blocks on the turn itself.
func (d *Dispatcher) Submit(ctx context.Context, in engine.Inbound) {
	key := in.Platform + ":" + in.UserID

	d.mu.Lock()
	defer d.mu.Unlock()

	queue, draining := d.queues[key]
	d.queues[key] = append(queue, delivery{ctx: ctx, in: in})
	if !draining {
		d.wg.Add(1)
		go d.drain(key)
	}
}

// Wait blocks until every submitted message was handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		queue := d.queues[key]
		if len(queue) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		next := queue[0]
		d.queues[key] = queue[1:]
		d.mu.Unlock()

		d.process(next)
	}
}

func (d *Dispatcher) process(msg delivery) {
	log := logger.WithConversation(d.logger, msg.in.Platform, msg.in.UserID)

	if err := d.sem.Acquire(msg.ctx, 1); err != nil {
		log.Warn("context is done, asking to try again", zap.Error(err))
		d.tryAgain(msg, log)
		return
	}
	defer d.sem.Release(1)

	reply := d.handler.Handle(msg.ctx, msg.in)
	if err := Deliver(msg.ctx, d.gateway, msg.in, reply); err != nil {
		log.Warn("delivering reply", zap.Error(err))
	}
}

func (d *Dispatcher) tryAgain(msg delivery, log *zap.Logger) {
	reply := engine.Reply{Text: engine.DefaultMessages().TryAgain}
	if h, ok := d.handler.(tryAgainer); ok {
		reply = h.TryAgain()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(msg.ctx), lateReplyTimeout)
	defer cancel()
	if err := Deliver(ctx, d.gateway, msg.in, reply); err != nil {
		log.Warn("delivering reply", zap.Error(err))
	}
}
