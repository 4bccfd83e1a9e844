package orchestrator

import (
	"fmt"
	"strings"

	"github.com/hezronokwach/harvest/internal/state"
)

const noDealInstructions = "It looks like we couldn't reach an agreement this time. " +
	"Thank you for the discussion. Close the conversation politely."

// staleAfterRounds is how many rounds an offer's price may stand before
// the next turn demands an adjustment.
const staleAfterRounds = 2

func describeOffer(offer *state.Offer) string {
	if offer == nil {
		return "none yet"
	}
	return fmt.Sprintf("$%.2f per kg, %s, transport paid by %s, payment %s (round %d)",
		offer.Price,
		deliveryPhrase(offer.DeliveryIncluded),
		offer.TransportPaidBy,
		offer.PaymentTerms.Human(),
		offer.RoundProposed)
}

func deliveryPhrase(included bool) string {
	if included {
		return "including delivery"
	}
	return "excluding delivery"
}

// sellerInstructions builds the seller's turn directive from the
// authoritative state: offers so far, round pressure, and the forcing
// clauses for opening, stale prices, and the endgame.
func (o *Orchestrator) sellerInstructions() string {
	round := o.neg.Round()
	maxRounds := o.neg.MaxRounds()
	sellerOffer := o.neg.Offer(state.SideSeller)
	buyerOffer := o.neg.Offer(state.SideBuyer)

	var b strings.Builder
	heard := o.lastBuyerText
	if heard == "" {
		heard = "Introductions phase."
	}
	fmt.Fprintf(&b, "%s last said: %q\n", o.cfg.BuyerPersona, heard)
	fmt.Fprintf(&b, "Current offers:\n%s: %s\n%s: %s\n",
		o.cfg.SellerPersona, describeOffer(sellerOffer),
		o.cfg.BuyerPersona, describeOffer(buyerOffer))
	fmt.Fprintf(&b, "You are in round %d of %d. As rounds progress, push toward closure.\n",
		round+1, maxRounds)

	if round >= maxRounds-2 {
		b.WriteString("This is one of the final rounds. Prioritize either reaching agreement or clearly walking away.\n")
	}
	if sellerOffer != nil && round-sellerOffer.RoundProposed >= staleAfterRounds {
		b.WriteString("You have not changed your price recently. You MUST adjust the price in this turn.\n")
	}
	if round == maxRounds-1 {
		b.WriteString("This is the final round. You must either accept, make a final offer, or clearly walk away. Do not hedge or prolong the negotiation.\n")
	}

	if round == 0 {
		b.WriteString("You are starting the negotiation. " +
			"You MUST make an initial concrete offer now. " +
			"You MUST call propose_offer exactly once in this turn. " +
			"Do NOT describe prices, delivery, or payment terms unless you call the tool.\n")
	} else {
		b.WriteString("Respond naturally. Only call propose_offer if you are making a concrete counter-offer.\n")
	}
	return b.String()
}

// buyerInstructions builds the buyer's turn directive, mirroring the
// stale-price forcing clause on the buyer's own offer.
func (o *Orchestrator) buyerInstructions() string {
	round := o.neg.Round()
	sellerOffer := o.neg.Offer(state.SideSeller)
	buyerOffer := o.neg.Offer(state.SideBuyer)

	var b strings.Builder
	fmt.Fprintf(&b, "%s just proposed this offer: %s\n",
		o.cfg.SellerPersona, describeOffer(sellerOffer))
	fmt.Fprintf(&b, "Your last offer: %s\n", describeOffer(buyerOffer))
	fmt.Fprintf(&b, "Speak naturally to %s. Do not narrate your actions. ",
		o.cfg.SellerPersona)
	b.WriteString("If accepting, say \"That sounds good\" and confirm terms. " +
		"If countering, just say the new terms.\n")

	if buyerOffer != nil && round-buyerOffer.RoundProposed >= staleAfterRounds {
		b.WriteString("You have not changed your price recently. You MUST adjust the price in this turn.\n")
	}
	return b.String()
}

// buyerAcceptance is the buyer's spoken confirmation of a deal.
func buyerAcceptance(offer state.Offer) string {
	return fmt.Sprintf(
		"That sounds good. I accept your offer at $%.2f per kilogram, %s, with payment in %s. We have a deal. Thank you.",
		offer.Price, deliveryPhrase(offer.DeliveryIncluded), offer.PaymentTerms.Human())
}

// sellerAcceptance is the seller's spoken confirmation of a deal.
func sellerAcceptance(offer state.Offer) string {
	return fmt.Sprintf(
		"That works for me. I accept your offer at $%.2f per kilogram, %s, with payment in %s. Thank you, I look forward to working together.",
		offer.Price, deliveryPhrase(offer.DeliveryIncluded), offer.PaymentTerms.Human())
}

func dealSummary(offer state.Offer) string {
	return fmt.Sprintf("deal closed at $%.2f per kg, %s, payment %s",
		offer.Price, deliveryPhrase(offer.DeliveryIncluded), offer.PaymentTerms.Human())
}
