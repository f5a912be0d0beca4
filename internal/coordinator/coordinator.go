// Package coordinator implements the Turn Coordinator: it serializes
// inbound messages for the same conversation through a per-conversation
// mailbox so a user's messages are always processed in arrival order, while
// capping the number of conversations processed concurrently across the
// whole process.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrelai/conductor/internal/infra"
	"github.com/kestrelai/conductor/internal/pipeline"
	"github.com/kestrelai/conductor/pkg/models"
)

// MailboxCapacity bounds how many inbound messages a single conversation's
// mailbox holds before Enqueue starts applying back pressure.
const MailboxCapacity = 32

// SessionResolver finds or creates the session a message belongs to.
type SessionResolver interface {
	Resolve(ctx context.Context, msg *models.Message) (*models.Session, error)
}

// mailbox is one conversation's serialized inbound queue.
type mailbox struct {
	ch     chan *models.Message
	cancel context.CancelFunc
}

// Coordinator owns one mailbox goroutine per active conversation and a
// process-wide worker cap shared across all of them.
type Coordinator struct {
	pipeline *pipeline.Pipeline
	sessions SessionResolver
	logger   *slog.Logger

	workers *infra.Semaphore

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	wg        sync.WaitGroup
}

// Config configures a Coordinator.
type Config struct {
	// MaxConcurrentTurns bounds how many turns run their pipeline at once
	// across every conversation. Default 16.
	MaxConcurrentTurns int64
}

// New creates a Coordinator dispatching into p, using sessions to resolve
// each inbound message to a conversation.
func New(p *pipeline.Pipeline, sessions SessionResolver, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.MaxConcurrentTurns <= 0 {
		cfg.MaxConcurrentTurns = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		pipeline:  p,
		sessions:  sessions,
		logger:    logger.With("component", "coordinator"),
		workers:   infra.NewSemaphore(cfg.MaxConcurrentTurns),
		mailboxes: make(map[string]*mailbox),
	}
}

// Enqueue hands msg to its conversation's mailbox, starting the mailbox's
// goroutine on first use. It blocks only as long as the mailbox channel is
// full; a stuck conversation doesn't block other conversations, only its
// own backlog.
func (c *Coordinator) Enqueue(ctx context.Context, msg *models.Message) error {
	session, err := c.sessions.Resolve(ctx, msg)
	if err != nil {
		return fmt.Errorf("coordinator: resolve session: %w", err)
	}
	msg.SessionID = session.ID

	box := c.mailboxForSession(session)
	select {
	case box.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) mailboxForSession(session *models.Session) *mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()

	if box, ok := c.mailboxes[session.ID]; ok {
		return box
	}

	ctx, cancel := context.WithCancel(context.Background())
	box := &mailbox{ch: make(chan *models.Message, MailboxCapacity), cancel: cancel}
	c.mailboxes[session.ID] = box

	c.wg.Add(1)
	go c.runMailbox(ctx, session, box)
	return box
}

func (c *Coordinator) runMailbox(ctx context.Context, session *models.Session, box *mailbox) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-box.ch:
			if !ok {
				return
			}
			c.runTurn(ctx, session, msg)
		}
	}
}

func (c *Coordinator) runTurn(ctx context.Context, session *models.Session, msg *models.Message) {
	if err := c.workers.Acquire(ctx, 1); err != nil {
		c.logger.Warn("turn dropped, could not acquire worker", "session_id", session.ID, "error", err)
		return
	}
	defer c.workers.Release(1)

	turn := pipeline.NewTurn(ctx, session, msg, c.logger)
	if err := c.pipeline.Run(ctx, turn); err != nil {
		c.logger.Warn("turn failed", "session_id", session.ID, "error", err)
	}
}

// Cancel stops the mailbox for conversationID. Messages already queued are
// discarded; in-flight turns are cancelled via their context.
func (c *Coordinator) Cancel(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if box, ok := c.mailboxes[conversationID]; ok {
		box.cancel()
		delete(c.mailboxes, conversationID)
	}
}

// Shutdown cancels every mailbox and waits for their goroutines to exit.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for id, box := range c.mailboxes {
		box.cancel()
		delete(c.mailboxes, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
