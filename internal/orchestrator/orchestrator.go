// Package orchestrator runs the negotiation round loop from the buyer
// side: it triggers the seller's turns over the room, drives the
// buyer's turns locally, applies the acceptance policy after each turn,
// and guarantees exactly one terminal broadcast per negotiation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hezronokwach/harvest/internal/actor"
	"github.com/hezronokwach/harvest/internal/policy"
	"github.com/hezronokwach/harvest/internal/room"
	"github.com/hezronokwach/harvest/internal/state"
)

// ErrTurnTimeout reports a seller turn that never completed.
var ErrTurnTimeout = errors.New("seller turn timed out")

// Observer receives orchestration telemetry. Implemented by the metrics
// collector; a nil observer disables reporting.
type Observer interface {
	NegotiationStarted()
	NegotiationCompleted(outcome string, rounds int)
	TurnCompleted(wait time.Duration)
	TurnTimedOut()
}

// Config tunes the round loop.
type Config struct {
	MaxRounds       int           `yaml:"max_rounds" json:"max_rounds"`
	TurnTimeout     time.Duration `yaml:"turn_timeout" json:"turn_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ParticipantWait time.Duration `yaml:"participant_wait" json:"participant_wait"`

	SellerPersona  string `yaml:"seller_persona" json:"seller_persona"`
	BuyerPersona   string `yaml:"buyer_persona" json:"buyer_persona"`
	SellerIdentity string `yaml:"seller_identity" json:"seller_identity"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:       10,
		TurnTimeout:     60 * time.Second,
		PollInterval:    200 * time.Millisecond,
		ParticipantWait: 30 * time.Second,
		SellerPersona:   "Halima",
		BuyerPersona:    "Alex",
		SellerIdentity:  "halima",
	}
}

// turnToken is the single-use completion channel for one seller turn.
// A fresh token is created before every trigger and never reused.
type turnToken struct {
	done chan struct{}
	once sync.Once
}

func (t *turnToken) complete() bool {
	fired := false
	t.once.Do(func() {
		close(t.done)
		fired = true
	})
	return fired
}

// Orchestrator owns the authoritative Negotiation and the round loop.
type Orchestrator struct {
	cfg    Config
	neg    *state.Negotiation
	pol    *policy.Policy
	buyer  *actor.Runtime
	part   *room.Participant
	rm     *room.Room
	store  state.SessionStore
	obs    Observer
	logger *zap.Logger

	mu      sync.Mutex
	pending *turnToken

	finishOnce sync.Once
	startedAt  time.Time

	// Accessed only from the Run goroutine.
	lastBuyerText string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSessionStore records the terminal summary on completion.
func WithSessionStore(store state.SessionStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithObserver attaches telemetry.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// New wires the orchestrator to the buyer runtime's participant and
// installs the composite event handler: state folds first, then turn
// completion.
func New(cfg Config, neg *state.Negotiation, pol *policy.Policy, buyer *actor.Runtime, part *room.Participant, rm *room.Room, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		neg:    neg,
		pol:    pol,
		buyer:  buyer,
		part:   part,
		rm:     rm,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	part.OnEvent(func(env room.Envelope) {
		buyer.HandleEvent(env)
		if _, ok := env.Event.(room.SellerDone); ok {
			o.completeTurn(env.Origin)
		}
	})
	return o
}

// Stop aborts the negotiation from outside the loop. The loop observes
// the latch at its next boundary; the terminal broadcast still goes out.
func (o *Orchestrator) Stop() {
	o.neg.SetShuttingDown()
}

// Run executes the negotiation to a terminal outcome. It returns the
// outcome and any fatal error; ordinary no-deal exhaustion is not an
// error.
func (o *Orchestrator) Run(ctx context.Context) (state.Outcome, error) {
	o.startedAt = time.Now()
	if o.obs != nil {
		o.obs.NegotiationStarted()
	}

	if err := o.waitForParticipants(ctx); err != nil {
		o.logger.Error("participants never assembled", zap.Error(err))
		o.neg.SetShuttingDown()
		o.finalize(ctx, state.OutcomeTimedOut)
		return state.OutcomeTimedOut, err
	}

	o.publishTimeline()

	for {
		if o.neg.ShuttingDown() {
			o.finalize(ctx, state.OutcomeTimedOut)
			return o.neg.Outcome(), nil
		}
		if accepted, _ := o.neg.AcceptedOffer(); accepted != nil {
			o.finalize(ctx, state.OutcomeAccepted)
			return state.OutcomeAccepted, nil
		}
		if o.neg.Round() >= o.neg.MaxRounds() {
			o.closeWithoutDeal(ctx)
			o.finalize(ctx, state.OutcomeExhausted)
			return state.OutcomeExhausted, nil
		}

		o.logger.Info("round starting",
			zap.Int("round", o.neg.Round()+1),
			zap.Int("max_rounds", o.neg.MaxRounds()))

		// Seller turn.
		if err := o.sellerTurn(ctx, o.sellerInstructions()); err != nil {
			o.logger.Error("seller turn failed", zap.Error(err))
			o.neg.SetShuttingDown()
			o.finalize(ctx, state.OutcomeTimedOut)
			return state.OutcomeTimedOut, err
		}

		if o.checkSellerOffer(ctx) {
			o.finalize(ctx, state.OutcomeAccepted)
			return state.OutcomeAccepted, nil
		}
		if accepted, _ := o.neg.AcceptedOffer(); accepted != nil {
			o.finalize(ctx, state.OutcomeAccepted)
			return state.OutcomeAccepted, nil
		}
		if o.neg.ShuttingDown() {
			continue
		}

		// Buyer turn.
		text, err := o.buyer.GenerateTurn(ctx, o.buyerInstructions())
		if err != nil {
			if ctx.Err() != nil {
				o.neg.SetShuttingDown()
				o.finalize(ctx, state.OutcomeTimedOut)
				return state.OutcomeTimedOut, err
			}
			o.logger.Error("buyer turn failed, continuing", zap.Error(err))
			text = actor.PlaceholderUtterance
		}
		o.lastBuyerText = text
		o.publish(room.BuyerSpeech{Speaker: o.cfg.BuyerPersona, Text: text})

		if o.checkBuyerOffer(ctx) {
			o.finalize(ctx, state.OutcomeAccepted)
			return state.OutcomeAccepted, nil
		}
		if accepted, _ := o.neg.AcceptedOffer(); accepted != nil {
			o.finalize(ctx, state.OutcomeAccepted)
			return state.OutcomeAccepted, nil
		}

		o.neg.AdvanceRound()
		o.publishTimeline()
	}
}

// waitForParticipants polls until the seller joins the room.
func (o *Orchestrator) waitForParticipants(ctx context.Context) error {
	deadline := time.Now().Add(o.cfg.ParticipantWait)
	for {
		if o.rm.Has(o.cfg.SellerIdentity) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("seller %q did not join within %s", o.cfg.SellerIdentity, o.cfg.ParticipantWait)
		}
		o.logger.Debug("waiting for seller to join",
			zap.Strings("present", o.rm.Participants()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// sellerTurn publishes one turn trigger and blocks until completion or
// timeout. The token is installed before the trigger goes out so an
// arbitrarily fast completion cannot be lost.
func (o *Orchestrator) sellerTurn(ctx context.Context, instructions string) error {
	token := &turnToken{done: make(chan struct{})}
	o.mu.Lock()
	o.pending = token
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.pending == token {
			o.pending = nil
		}
		o.mu.Unlock()
	}()

	o.publish(room.SellerTurn{Instructions: instructions})
	start := time.Now()

	select {
	case <-token.done:
		if o.obs != nil {
			o.obs.TurnCompleted(time.Since(start))
		}
		return nil
	case <-time.After(o.cfg.TurnTimeout):
		if o.obs != nil {
			o.obs.TurnTimedOut()
		}
		return fmt.Errorf("%w after %s", ErrTurnTimeout, o.cfg.TurnTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// completeTurn resolves the outstanding turn token. Completions from
// anyone but the seller identity, with no turn outstanding, or for an
// already-resolved token, are discarded. The origin check keeps a
// bridge client from resolving a live turn early.
func (o *Orchestrator) completeTurn(origin string) {
	if origin != o.cfg.SellerIdentity {
		o.logger.Warn("discarding turn completion from unexpected origin",
			zap.String("origin", origin),
			zap.String("expected", o.cfg.SellerIdentity))
		return
	}

	o.mu.Lock()
	token := o.pending
	o.mu.Unlock()

	if token == nil {
		o.logger.Warn("discarding turn completion with no turn outstanding",
			zap.String("origin", origin))
		return
	}
	if !token.complete() {
		o.logger.Warn("discarding duplicate turn completion",
			zap.String("origin", origin))
	}
}

// checkSellerOffer applies the buyer-side acceptance policy to the
// seller's current offer, committing and announcing on success.
func (o *Orchestrator) checkSellerOffer(ctx context.Context) bool {
	offer := o.neg.Offer(state.SideSeller)
	dec := o.pol.EvaluateSellerOffer(o.neg.Round(), offer)
	if !dec.Accepted {
		o.logger.Info("buyer holding", zap.String("reason", dec.Reason))
		return false
	}
	if !o.neg.Accept(state.SideBuyer, *offer) {
		return false
	}

	o.logger.Info("buyer accepts seller offer",
		zap.Float64("price", offer.Price),
		zap.Int("round", o.neg.Round()))
	o.publish(room.OfferAccepted{By: o.cfg.BuyerPersona, Offer: *offer})
	o.buyer.Say(buyerAcceptance(*offer))
	o.publish(room.DealFinalized{By: o.cfg.BuyerPersona, Summary: dealSummary(*offer)})
	return true
}

// checkBuyerOffer applies the seller-side acceptance policy to the
// buyer's current offer. The orchestrator evaluates on the seller's
// behalf because it holds the authoritative state; the acceptance is
// attributed to the seller persona.
func (o *Orchestrator) checkBuyerOffer(ctx context.Context) bool {
	offer := o.neg.Offer(state.SideBuyer)
	dec := o.pol.EvaluateBuyerOffer(o.neg.Round(), offer, o.neg.Concessions(state.SideBuyer))
	if !dec.Accepted {
		o.logger.Info("seller holding", zap.String("reason", dec.Reason))
		return false
	}
	if !o.neg.Accept(state.SideSeller, *offer) {
		return false
	}

	o.logger.Info("seller accepts buyer offer",
		zap.Float64("price", offer.Price),
		zap.Int("round", o.neg.Round()))
	o.publish(room.OfferAccepted{By: o.cfg.SellerPersona, Offer: *offer})
	o.publish(room.Speech{Speaker: o.cfg.SellerPersona, Text: sellerAcceptance(*offer), IsFinal: true})
	o.publish(room.DealFinalized{By: o.cfg.SellerPersona, Summary: dealSummary(*offer)})
	return true
}

// closeWithoutDeal gives the seller one closing turn after the rounds
// run out. A timeout here is logged and swallowed, the negotiation is
// already over.
func (o *Orchestrator) closeWithoutDeal(ctx context.Context) {
	if err := o.sellerTurn(ctx, noDealInstructions); err != nil {
		o.logger.Warn("no-deal closing turn did not complete", zap.Error(err))
	}
}

// finalize emits the terminal broadcast and records the session summary.
// Exactly one NEGOTIATION_COMPLETE goes out per negotiation regardless
// of how many exit paths race here.
func (o *Orchestrator) finalize(ctx context.Context, outcome state.Outcome) {
	o.finishOnce.Do(func() {
		o.neg.Finish(outcome)
		final := o.neg.Outcome()

		o.publish(room.NegotiationComplete{})

		accepted, by := o.neg.AcceptedOffer()
		o.logger.Info("negotiation finished",
			zap.String("outcome", string(final)),
			zap.Int("rounds", o.neg.Round()),
			zap.Int("turns", o.neg.Turn()))

		if o.store != nil {
			record := &state.SessionRecord{
				Room:          o.rm.Name(),
				Outcome:       final,
				Rounds:        o.neg.Round(),
				Turns:         o.neg.Turn(),
				AcceptedOffer: accepted,
				AcceptedBy:    by,
				StartedAt:     o.startedAt,
				EndedAt:       time.Now(),
			}
			if err := o.store.Save(ctx, record); err != nil {
				o.logger.Error("failed to record session summary", zap.Error(err))
			}
		}
		if o.obs != nil {
			o.obs.NegotiationCompleted(string(final), o.neg.Round())
		}
	})
}

func (o *Orchestrator) publishTimeline() {
	o.publish(room.Timeline{
		Turn:      o.neg.Turn(),
		Round:     o.neg.Round(),
		MaxRounds: o.neg.MaxRounds(),
	})
}

// publish sends a broadcast, logging and swallowing failures; transport
// errors never abort the round loop.
func (o *Orchestrator) publish(ev room.Event) {
	if err := o.part.Publish(ev); err != nil {
		o.logger.Warn("broadcast failed",
			zap.String("event", string(ev.EventType())),
			zap.Error(err))
	}
}
