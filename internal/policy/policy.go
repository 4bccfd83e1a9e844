// Package policy holds the acceptance rules for a negotiation: the
// per-round price bands each side will tolerate and the gates that keep
// either actor from closing a deal too early or too cheaply. Every
// threshold lives in Config so sessions can be tuned without touching
// the evaluation logic.
package policy

import (
	"fmt"

	"github.com/hezronokwach/harvest/internal/state"
)

// Config enumerates every tunable acceptance threshold in one place.
type Config struct {
	// BuyerBasePrice and BuyerPriceStep define the buyer's softening
	// ceiling: the buyer accepts seller prices up to base + round*step.
	BuyerBasePrice float64 `yaml:"buyer_base_price"`
	BuyerPriceStep float64 `yaml:"buyer_price_step"`

	// SellerBasePrice and SellerPriceStep define the seller's conceding
	// floor: the seller accepts buyer prices down to base - round*step.
	SellerBasePrice float64 `yaml:"seller_base_price"`
	SellerPriceStep float64 `yaml:"seller_price_step"`

	// MinRound is the earliest round in which either side may accept.
	MinRound int `yaml:"min_round"`

	// MinBuyerConcessions is the number of distinct levers the buyer must
	// have moved on before the seller will accept a buyer offer.
	MinBuyerConcessions int `yaml:"min_buyer_concessions"`
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		BuyerBasePrice:      1.10,
		BuyerPriceStep:      0.03,
		SellerBasePrice:     1.35,
		SellerPriceStep:     0.02,
		MinRound:            2,
		MinBuyerConcessions: 2,
	}
}

// Decision is the result of one acceptance evaluation.
type Decision struct {
	Accepted bool
	Reason   string
}

// Policy evaluates offers against the configured thresholds.
type Policy struct {
	cfg Config
}

// New creates a policy from the given configuration.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// AcceptablePrice returns the price the given side would tolerate at the
// given round. The buyer's ceiling rises linearly as rounds pass; the
// seller's floor falls linearly.
func (p *Policy) AcceptablePrice(round int, side state.Side) float64 {
	if side == state.SideSeller {
		return p.cfg.SellerBasePrice - float64(round)*p.cfg.SellerPriceStep
	}
	return p.cfg.BuyerBasePrice + float64(round)*p.cfg.BuyerPriceStep
}

// EvaluateSellerOffer is the buyer-side check of the seller's current
// offer. All conditions must hold: past the early-round floor, fresh this
// round, within the buyer's price ceiling, delivery included, and
// deferred payment.
func (p *Policy) EvaluateSellerOffer(round int, offer *state.Offer) Decision {
	if offer == nil {
		return Decision{Reason: "no seller offer on the table"}
	}
	if round < p.cfg.MinRound {
		return Decision{Reason: fmt.Sprintf("too early to accept (round %d < %d)", round, p.cfg.MinRound)}
	}
	if offer.RoundProposed != round {
		return Decision{Reason: fmt.Sprintf("offer is stale (proposed round %d, current %d)", offer.RoundProposed, round)}
	}
	ceiling := p.AcceptablePrice(round, state.SideBuyer)
	if offer.Price > ceiling {
		return Decision{Reason: fmt.Sprintf("price %.2f above buyer ceiling %.2f", offer.Price, ceiling)}
	}
	if !offer.DeliveryIncluded {
		return Decision{Reason: "delivery not included"}
	}
	if !offer.PaymentTerms.CreditTerms() {
		return Decision{Reason: fmt.Sprintf("payment terms %q not deferred", offer.PaymentTerms)}
	}
	return Decision{Accepted: true, Reason: "seller offer within buyer band"}
}

// EvaluateBuyerOffer is the seller-side check of the buyer's current
// offer. Besides the price floor and deferred payment, the buyer must
// have conceded on more than one lever so the seller does not fold on a
// lucky single round.
func (p *Policy) EvaluateBuyerOffer(round int, offer *state.Offer, buyerConcessions state.ConcessionSet) Decision {
	if offer == nil {
		return Decision{Reason: "no buyer offer on the table"}
	}
	if round < p.cfg.MinRound {
		return Decision{Reason: fmt.Sprintf("too early to accept (round %d < %d)", round, p.cfg.MinRound)}
	}
	if offer.RoundProposed != round {
		return Decision{Reason: fmt.Sprintf("offer is stale (proposed round %d, current %d)", offer.RoundProposed, round)}
	}
	floor := p.AcceptablePrice(round, state.SideSeller)
	if offer.Price < floor {
		return Decision{Reason: fmt.Sprintf("price %.2f below seller floor %.2f", offer.Price, floor)}
	}
	if !offer.PaymentTerms.CreditTerms() {
		return Decision{Reason: fmt.Sprintf("payment terms %q not deferred", offer.PaymentTerms)}
	}
	if buyerConcessions.Count() < p.cfg.MinBuyerConcessions {
		return Decision{Reason: fmt.Sprintf("buyer conceded on %d lever(s), need %d",
			buyerConcessions.Count(), p.cfg.MinBuyerConcessions)}
	}
	return Decision{Accepted: true, Reason: "buyer offer within seller band"}
}
