package contract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hezronokwach/harvest/internal/room"
)

const (
	contractTitle    = "Maize Supply Agreement (Draft)"
	contractFilename = "maize_supply_contract_final.pdf"
	historyLimit     = 50
)

// Coordinator watches the room for closing intent, runs term
// extraction, and drives the preview/approval/file-sharing exchange.
// It joins the room under its own identity; the actor runtimes silence
// themselves off the same contract events.
type Coordinator struct {
	sellerPersona string
	part          *room.Participant
	extractor     TermExtractor
	logger        *zap.Logger

	mu       sync.Mutex
	awaiting bool
	pending  Terms
	history  []string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator joins the room and starts watching for closing intent
// in the seller's speech.
func NewCoordinator(rm *room.Room, identity, sellerPersona string, extractor TermExtractor, opts ...Option) (*Coordinator, error) {
	part, err := rm.Join(identity)
	if err != nil {
		return nil, fmt.Errorf("contract coordinator failed to join room: %w", err)
	}

	c := &Coordinator{
		sellerPersona: sellerPersona,
		part:          part,
		extractor:     extractor,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	part.OnEvent(c.handleEvent)
	return c, nil
}

// AwaitingApproval reports whether a draft is pending human review.
func (c *Coordinator) AwaitingApproval() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

// PendingTerms returns the draft currently awaiting approval.
func (c *Coordinator) PendingTerms() Terms {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Close leaves the room.
func (c *Coordinator) Close() {
	c.part.Leave()
}

func (c *Coordinator) handleEvent(env room.Envelope) {
	switch ev := env.Event.(type) {
	case room.Speech:
		if !ev.IsFinal {
			return
		}
		c.remember(ev.Speaker, ev.Text)
		if ev.Speaker == c.sellerPersona && DetectSellerClosingIntent(ev.Text) {
			c.trigger("seller speech")
		}

	case room.BuyerSpeech:
		c.remember(ev.Speaker, ev.Text)
		if DetectCounterpartClosingIntent(ev.Text) {
			c.trigger("counterpart request")
		}

	case room.ContractApproved:
		c.onApproved()

	case room.ContractRejected:
		c.onRejected(ev.Reason)

	case room.FileShared:
		// Someone else shared the document; nothing left to approve.
		c.mu.Lock()
		c.awaiting = false
		c.mu.Unlock()
	}
}

func (c *Coordinator) remember(speaker, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, speaker+": "+text)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}

// trigger starts one extraction unless a draft is already in flight.
func (c *Coordinator) trigger(source string) {
	c.mu.Lock()
	if c.awaiting {
		c.mu.Unlock()
		c.logger.Debug("closing intent while already awaiting approval, skipping",
			zap.String("source", source))
		return
	}
	c.awaiting = true
	history := make([]string, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	c.logger.Info("closing intent detected, drafting contract",
		zap.String("source", source))
	go c.extractAndPreview(context.Background(), history)
}

// extractAndPreview broadcasts the drafting signal first so the
// frontend reacts instantly, then runs extraction and publishes either
// the preview or an error that resets the approval latch.
func (c *Coordinator) extractAndPreview(ctx context.Context, history []string) {
	c.publish(room.ContractIntent{Agent: c.sellerPersona, Status: "drafting"})

	terms, err := c.extractor.ExtractTerms(ctx, history)
	if err != nil {
		c.logger.Error("term extraction failed", zap.Error(err))
		c.publish(room.ContractPreviewError{
			Agent: c.sellerPersona,
			Error: truncate(err.Error(), 500),
		})
		c.mu.Lock()
		c.awaiting = false
		c.mu.Unlock()
		return
	}
	if terms.Empty() {
		c.logger.Warn("term extraction yielded no data, aborting preview")
		c.publish(room.ContractPreviewError{
			Agent:   c.sellerPersona,
			Error:   "empty_extraction",
			Message: "I couldn't catch the deal details clearly. Please mention price and quantity again.",
		})
		c.mu.Lock()
		c.awaiting = false
		c.mu.Unlock()
		return
	}

	filled := terms.FillDefaults()
	c.mu.Lock()
	c.pending = filled
	c.mu.Unlock()

	c.publish(room.ContractPreview{
		ContractID:   "ctr_" + uuid.NewString()[:8] + "_" + c.sellerPersona,
		Agent:        c.sellerPersona,
		ContractData: filled.Map(),
		Title:        contractTitle,
	})
}

func (c *Coordinator) onApproved() {
	c.mu.Lock()
	pending := c.pending
	c.awaiting = false
	c.mu.Unlock()

	c.logger.Info("contract approved, sharing final document")
	c.publish(room.FileShared{
		From:         c.sellerPersona,
		Filename:     contractFilename,
		URL:          "#",
		ContractData: pending.Map(),
	})
	c.publish(room.Speech{
		Speaker: c.sellerPersona,
		Text:    "I have sent over the final contract. Thank you for doing business with me.",
		IsFinal: true,
	})
}

func (c *Coordinator) onRejected(reason string) {
	c.mu.Lock()
	c.awaiting = false
	c.mu.Unlock()

	c.logger.Info("contract rejected", zap.String("reason", reason))
	text := "Understood, I will hold off on the paperwork. How would you like to proceed?"
	if strings.TrimSpace(reason) != "" {
		text = fmt.Sprintf("Understood, you mentioned: %s. Let us revisit those terms before I redo the paperwork.", reason)
	}
	c.publish(room.Speech{Speaker: c.sellerPersona, Text: text, IsFinal: true})
}

func (c *Coordinator) publish(ev room.Event) {
	if err := c.part.Publish(ev); err != nil {
		c.logger.Warn("contract broadcast failed",
			zap.String("event", string(ev.EventType())),
			zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
