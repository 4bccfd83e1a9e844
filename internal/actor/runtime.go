package actor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hezronokwach/harvest/internal/room"
	"github.com/hezronokwach/harvest/internal/state"
)

// Runtime binds one persona to the room: it exposes negotiation tools
// to the generation engine, folds inbound events into the local
// Negotiation, and on the seller side answers turn triggers.
//
// The orchestrating side holds the authoritative Negotiation; the other
// side holds a mirror updated only through inbound events. The Runtime
// does not care which it has been given.
type Runtime struct {
	persona string
	side    state.Side
	neg     *state.Negotiation
	part    *room.Participant
	gen     Generator
	buffer  *SpeechBuffer
	logger  *zap.Logger

	mu               sync.Mutex
	speaking         bool
	awaitingApproval bool
	lastHeard        string
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeLogger sets the runtime logger.
func WithRuntimeLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRuntime creates a runtime for one persona.
func NewRuntime(persona string, side state.Side, neg *state.Negotiation, part *room.Participant, gen Generator, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		persona: persona,
		side:    side,
		neg:     neg,
		part:    part,
		gen:     gen,
		buffer:  NewSpeechBuffer(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Persona returns the persona display name.
func (r *Runtime) Persona() string { return r.persona }

// Side returns which side of the table this persona sits on.
func (r *Runtime) Side() state.Side { return r.side }

// Buffer returns the spoken-text buffer the engine appends to.
func (r *Runtime) Buffer() *SpeechBuffer { return r.buffer }

// LastHeard returns the counterpart's most recent mirrored utterance.
func (r *Runtime) LastHeard() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHeard
}

// AwaitingApproval reports whether a contract preview is pending human
// review, which silences this actor.
func (r *Runtime) AwaitingApproval() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awaitingApproval
}

// SetAwaitingApproval flips the contract-approval silence latch.
func (r *Runtime) SetAwaitingApproval(v bool) {
	r.mu.Lock()
	r.awaitingApproval = v
	r.mu.Unlock()
}

// Tools returns the tool closures handed to the generation engine.
// Tool effects apply to this runtime's Negotiation and broadcast to the
// room before the enclosing reply settles.
func (r *Runtime) Tools() Toolset {
	return Toolset{
		ProposeOffer: r.proposeOffer,
		AcceptOffer:  r.acceptOffer,
	}
}

func (r *Runtime) proposeOffer(fields state.OfferFields) (state.Offer, error) {
	offer := r.neg.RecordOffer(r.side, fields)
	err := r.part.Publish(room.OfferUpdate{
		Agent: r.persona,
		Side:  r.side,
		Offer: offer,
	})
	if err != nil {
		// Local state already committed; the counterpart will see the
		// gap in offer history but the negotiation stays coherent.
		r.logger.Warn("failed to broadcast offer update",
			zap.String("persona", r.persona), zap.Error(err))
	}
	r.logger.Info("offer proposed",
		zap.String("persona", r.persona),
		zap.Float64("price", offer.Price),
		zap.Int("round", offer.RoundProposed))
	return offer, nil
}

func (r *Runtime) acceptOffer() error {
	counter := r.neg.Offer(r.side.Counterpart())
	if counter == nil {
		r.logger.Warn("accept_offer with no counterpart offer on the table",
			zap.String("persona", r.persona))
		return nil
	}
	if !r.neg.Accept(r.side, *counter) {
		return nil
	}
	if err := r.part.Publish(room.OfferAccepted{By: r.persona, Offer: *counter}); err != nil {
		r.logger.Warn("failed to broadcast acceptance",
			zap.String("persona", r.persona), zap.Error(err))
	}
	return nil
}

// Attach installs this runtime as the participant's event handler. Used
// by the non-orchestrating side; the orchestrator composes HandleEvent
// into its own handler instead.
func (r *Runtime) Attach() {
	r.part.OnEvent(r.HandleEvent)
}

// HandleEvent folds one inbound room event into local state. Safe to
// call for every event; irrelevant kinds are ignored. Handlers are
// idempotent and order-tolerant across publishers.
func (r *Runtime) HandleEvent(env room.Envelope) {
	switch ev := env.Event.(type) {
	case room.OfferUpdate:
		if ev.Side == r.side {
			// Own broadcast echoed back through an observer, or a
			// duplicate relay. Local state is already authoritative
			// for this side.
			return
		}
		r.neg.ApplyOffer(ev.Side, ev.Offer)

	case room.OfferAccepted:
		r.neg.Accept(r.side.Counterpart(), ev.Offer)

	case room.Timeline:
		r.neg.SetRound(ev.Round)

	case room.NegotiationComplete:
		r.neg.SetShuttingDown()

	case room.BuyerSpeech:
		r.mu.Lock()
		r.lastHeard = ev.Text
		r.mu.Unlock()

	case room.Speech:
		if ev.IsFinal && ev.Speaker != r.persona {
			r.mu.Lock()
			r.lastHeard = ev.Text
			r.mu.Unlock()
		}

	case room.ContractIntent, room.ContractPreview:
		r.SetAwaitingApproval(true)

	case room.ContractApproved, room.ContractRejected, room.FileShared:
		r.SetAwaitingApproval(false)

	case room.SellerTurn:
		if r.side == state.SideSeller {
			go r.takeTurn(ev.Instructions)
		}
	}
}

// GenerateTurn runs one locally-driven turn: generate, wait for the
// handle, then drain the speech buffer with the transcription-lag
// backoff. Used by the orchestrator for the buyer's turns.
func (r *Runtime) GenerateTurn(ctx context.Context, instructions string) (string, error) {
	if r.neg.ShuttingDown() {
		return "", fmt.Errorf("negotiation is shutting down")
	}

	handle, err := r.gen.GenerateReply(ctx, GenerateRequest{
		Instructions:       instructions,
		AllowInterruptions: false,
		Tools:              r.Tools(),
		Emit:               r.buffer.Append,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start generation for %s: %w", r.persona, err)
	}
	if _, err := handle.Wait(ctx); err != nil {
		return "", fmt.Errorf("generation failed for %s: %w", r.persona, err)
	}

	return AwaitSpokenText(ctx, r.buffer), nil
}

// takeTurn answers one SELLER_TURN trigger. The duplicate-trigger latch
// and the approval/shutdown guards run before generation starts; once
// past the guards, exactly one SELLER_DONE goes out, even when
// generation fails.
func (r *Runtime) takeTurn(instructions string) {
	if r.neg.ShuttingDown() {
		r.logger.Info("discarding turn trigger, negotiation shutting down",
			zap.String("persona", r.persona))
		return
	}

	r.mu.Lock()
	if r.speaking {
		r.mu.Unlock()
		r.logger.Warn("duplicate turn trigger while speaking, discarding",
			zap.String("persona", r.persona))
		return
	}
	r.speaking = true
	approvalPending := r.awaitingApproval
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.speaking = false
		r.mu.Unlock()
		if err := r.part.Publish(room.SellerDone{}); err != nil {
			r.logger.Error("failed to signal turn completion",
				zap.String("persona", r.persona), zap.Error(err))
		}
	}()

	if approvalPending {
		// A contract preview is in front of the human. Stay silent but
		// complete the turn so the round loop keeps moving.
		r.logger.Info("turn skipped, contract approval pending",
			zap.String("persona", r.persona))
		return
	}

	r.publishSpeechState(true)
	defer r.publishSpeechState(false)

	ctx := context.Background()
	handle, err := r.gen.GenerateReply(ctx, GenerateRequest{
		Instructions:       instructions,
		AllowInterruptions: false,
		Tools:              r.Tools(),
		Emit:               r.buffer.Append,
	})
	if err != nil {
		r.logger.Error("failed to start turn generation",
			zap.String("persona", r.persona), zap.Error(err))
		return
	}
	if _, err := handle.Wait(ctx); err != nil {
		r.logger.Error("turn generation failed",
			zap.String("persona", r.persona), zap.Error(err))
		return
	}

	text := AwaitSpokenText(ctx, r.buffer)
	if err := r.part.Publish(room.Speech{Speaker: r.persona, Text: text, IsFinal: true}); err != nil {
		r.logger.Warn("failed to broadcast speech",
			zap.String("persona", r.persona), zap.Error(err))
	}
}

// Say broadcasts a line as this persona without running the engine.
// Used for acceptance confirmations and closing statements.
func (r *Runtime) Say(text string) {
	if err := r.part.Publish(room.Speech{Speaker: r.persona, Text: text, IsFinal: true}); err != nil {
		r.logger.Warn("failed to broadcast speech",
			zap.String("persona", r.persona), zap.Error(err))
	}
}

func (r *Runtime) publishSpeechState(speaking bool) {
	st := "idle"
	if speaking {
		st = "speaking"
	}
	if err := r.part.Publish(room.SpeechState{Agent: r.persona, State: st, IsSpeaking: speaking}); err != nil {
		r.logger.Debug("failed to broadcast speech state",
			zap.String("persona", r.persona), zap.Error(err))
	}
}
