package actor

import "github.com/hezronokwach/harvest/internal/state"

// DemoSellerScript is a converging seller: the asking price drops each
// round until it crosses the buyer's widening ceiling in round four.
func DemoSellerScript() []ScriptStep {
	offer := func(price float64) *state.OfferFields {
		return &state.OfferFields{
			Price:            price,
			DeliveryIncluded: true,
			TransportPaidBy:  state.TransportSeller,
			PaymentTerms:     state.PaymentNet7,
		}
	}
	return []ScriptStep{
		{Text: "Welcome! My maize is top grade. I can do 1.35 per kilogram with delivery included.", Propose: offer(1.35)},
		{Text: "For a serious buyer like you, 1.29 with delivery and payment in 7 days.", Propose: offer(1.29)},
		{Text: "You drive a hard bargain. 1.23 is as close as I can get today.", Propose: offer(1.23)},
		{Text: "Final stretch then, 1.18 with delivery included and payment in 7 days.", Propose: offer(1.18)},
		{Text: "A pity we could not agree this season. Thank you for the discussion."},
	}
}

// DemoBuyerScript counters upward without ever crossing the seller's
// floor, so the deal closes on the seller's converging offer.
func DemoBuyerScript() []ScriptStep {
	offer := func(price float64, terms state.PaymentTerms) *state.OfferFields {
		return &state.OfferFields{
			Price:           price,
			TransportPaidBy: state.TransportBuyer,
			PaymentTerms:    terms,
		}
	}
	return []ScriptStep{
		{Text: "That is far too high. I can do 1.10 cash on collection.", Propose: offer(1.10, state.PaymentCash)},
		{Text: "Still steep. 1.14 with payment in 7 days.", Propose: offer(1.14, state.PaymentNet7)},
		{Text: "Getting closer. 1.17, payment in 7 days.", Propose: offer(1.17, state.PaymentNet7)},
	}
}
