package state

import (
	"sync"

	"go.uber.org/zap"
)

// Outcome is the terminal classification of a negotiation.
type Outcome string

const (
	OutcomeNegotiating Outcome = "NEGOTIATING"
	OutcomeAccepted    Outcome = "ACCEPTED"
	OutcomeExhausted   Outcome = "EXHAUSTED"
	OutcomeTimedOut    Outcome = "TIMED_OUT"
)

// Terminal reports whether the outcome ends the negotiation.
func (o Outcome) Terminal() bool {
	return o != OutcomeNegotiating
}

// Negotiation is the shared state of one active negotiation. It is owned
// by the orchestrating process and passed by reference into the
// orchestrator and the offer-recording tools; it is never a package
// global. The counterpart process keeps its own mirror instance, updated
// only by replaying broadcast events.
type Negotiation struct {
	mu sync.Mutex

	round     int
	turn      int
	maxRounds int

	offers      map[Side]*Offer
	concessions map[Side]ConcessionSet

	accepted     *Offer
	acceptedBy   Side
	outcome      Outcome
	shuttingDown bool

	logger *zap.Logger
}

// NewNegotiation creates negotiation state for a fresh session. maxRounds
// must be positive; the round counter starts at 0.
func NewNegotiation(maxRounds int, logger *zap.Logger) *Negotiation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Negotiation{
		maxRounds: maxRounds,
		offers:    map[Side]*Offer{},
		concessions: map[Side]ConcessionSet{
			SideSeller: {},
			SideBuyer:  {},
		},
		outcome: OutcomeNegotiating,
		logger:  logger,
	}
}

// Round returns the current round counter.
func (n *Negotiation) Round() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.round
}

// Turn returns the display turn counter (two turns per round).
func (n *Negotiation) Turn() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.turn
}

// MaxRounds returns the configured round ceiling.
func (n *Negotiation) MaxRounds() int {
	return n.maxRounds
}

// AdvanceRound increments the round counter after a full seller+buyer
// exchange. The turn counter is derived, not independently mutated.
func (n *Negotiation) AdvanceRound() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.round++
	n.turn = n.round * 2
}

// SetRound overwrites the round counter from a timeline event. Only the
// mirror instance on the non-orchestrating side uses this; the
// authoritative instance advances exclusively through AdvanceRound.
func (n *Negotiation) SetRound(round int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if round < n.round {
		// Stale or reordered timeline; the counter never moves backwards.
		return
	}
	n.round = round
	n.turn = round * 2
}

// RecordOffer commits an actor's proposed fields: the price is rounded to
// 2 decimals, the offer is stamped with the current round, the changed
// levers relative to the side's previous offer are folded into its
// concession set, and the side's current-offer pointer is replaced.
func (n *Negotiation) RecordOffer(side Side, f OfferFields) Offer {
	n.mu.Lock()
	defer n.mu.Unlock()
	offer := Offer{
		Price:            roundPrice(f.Price),
		DeliveryIncluded: f.DeliveryIncluded,
		TransportPaidBy:  f.TransportPaidBy,
		PaymentTerms:     f.PaymentTerms,
		RoundProposed:    n.round,
	}
	n.applyOfferLocked(side, offer)
	return offer
}

// ApplyOffer replays an already-stamped offer received from the other
// process. Concession accounting is recomputed locally so mirrors and
// the authoritative copy agree without trusting remote bookkeeping.
func (n *Negotiation) ApplyOffer(side Side, offer Offer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	offer.Price = roundPrice(offer.Price)
	n.applyOfferLocked(side, offer)
}

func (n *Negotiation) applyOfferLocked(side Side, offer Offer) {
	if prev := n.offers[side]; prev != nil {
		for _, attr := range changedAttributes(*prev, offer) {
			n.concessions[side].Add(attr)
		}
	}
	o := offer
	n.offers[side] = &o
	n.logger.Info("offer recorded",
		zap.String("side", string(side)),
		zap.Float64("price", offer.Price),
		zap.Bool("delivery_included", offer.DeliveryIncluded),
		zap.String("payment_terms", string(offer.PaymentTerms)),
		zap.Int("round", offer.RoundProposed))
}

// Offer returns a copy of the side's current offer, or nil if the side
// has not proposed yet.
func (n *Negotiation) Offer(side Side) *Offer {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offers[side] == nil {
		return nil
	}
	o := *n.offers[side]
	return &o
}

// Concessions returns a copy of the side's concession set.
func (n *Negotiation) Concessions(side Side) ConcessionSet {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.concessions[side].clone()
}

// Accept records the accepted offer. The first writer wins; later calls
// are no-ops and return false, so a race between the policy check and an
// actor-invoked accept tool cannot overwrite the deal.
func (n *Negotiation) Accept(by Side, offer Offer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.accepted != nil {
		n.logger.Warn("duplicate acceptance ignored", zap.String("by", string(by)))
		return false
	}
	o := offer
	n.accepted = &o
	n.acceptedBy = by
	n.outcome = OutcomeAccepted
	return true
}

// AcceptedOffer returns a copy of the accepted offer and the accepting
// side, or nil if no deal has been reached.
func (n *Negotiation) AcceptedOffer() (*Offer, Side) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.accepted == nil {
		return nil, ""
	}
	o := *n.accepted
	return &o, n.acceptedBy
}

// SetShuttingDown latches the shutdown flag. It is checked at every loop
// boundary and before dispatching new generation work.
func (n *Negotiation) SetShuttingDown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shuttingDown = true
}

// ShuttingDown reports whether the shutdown latch is set.
func (n *Negotiation) ShuttingDown() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shuttingDown
}

// Finish marks the negotiation terminal. An already-accepted negotiation
// stays ACCEPTED regardless of the requested outcome.
func (n *Negotiation) Finish(outcome Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outcome == OutcomeAccepted {
		return
	}
	n.outcome = outcome
}

// Outcome returns the current classification.
func (n *Negotiation) Outcome() Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outcome
}
