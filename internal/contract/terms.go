// Package contract implements the deal-closing flow: detecting closing
// intent in the conversation, extracting structured terms, and walking
// the drafted contract through human approval.
package contract

import (
	"context"
	"fmt"

	"github.com/hezronokwach/harvest/internal/state"
)

// Terms is the structured shape of a drafted maize supply contract.
type Terms struct {
	Buyer    string `json:"buyer"`
	Product  string `json:"product"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Delivery string `json:"delivery"`
	Payment  string `json:"payment"`
}

// Empty reports whether extraction yielded nothing meaningful.
func (t Terms) Empty() bool {
	return t.Buyer == "" && t.Product == "" && t.Price == "" &&
		t.Quantity == "" && t.Delivery == "" && t.Payment == ""
}

// FillDefaults replaces missing fields with neutral placeholders so a
// preview never shows blank rows.
func (t Terms) FillDefaults() Terms {
	def := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	return Terms{
		Buyer:    def(t.Buyer, "Alex"),
		Product:  def(t.Product, "Maize"),
		Price:    def(t.Price, "Negotiated"),
		Quantity: def(t.Quantity, "Negotiated"),
		Delivery: def(t.Delivery, "Discussed"),
		Payment:  def(t.Payment, "Discussed"),
	}
}

// Map renders the terms as the wire shape used by contract previews.
func (t Terms) Map() map[string]string {
	return map[string]string{
		"buyer":    t.Buyer,
		"product":  t.Product,
		"price":    t.Price,
		"quantity": t.Quantity,
		"delivery": t.Delivery,
		"payment":  t.Payment,
	}
}

// TermExtractor derives contract terms from the conversation so far.
// Real deployments back this with a tool-calling language model; the
// NegotiationExtractor derives terms from shared state instead.
type TermExtractor interface {
	ExtractTerms(ctx context.Context, history []string) (Terms, error)
}

// NegotiationExtractor builds terms deterministically from negotiation
// state, preferring the accepted offer over the seller's latest one.
type NegotiationExtractor struct {
	neg          *state.Negotiation
	buyerPersona string
	product      string
}

// NewNegotiationExtractor creates a state-backed extractor.
func NewNegotiationExtractor(neg *state.Negotiation, buyerPersona, product string) *NegotiationExtractor {
	return &NegotiationExtractor{neg: neg, buyerPersona: buyerPersona, product: product}
}

// ExtractTerms implements TermExtractor.
func (e *NegotiationExtractor) ExtractTerms(ctx context.Context, history []string) (Terms, error) {
	offer, _ := e.neg.AcceptedOffer()
	if offer == nil {
		offer = e.neg.Offer(state.SideSeller)
	}
	if offer == nil {
		return Terms{}, nil
	}

	delivery := "Buyer arranges transport"
	if offer.DeliveryIncluded {
		delivery = "Included, transport paid by " + string(offer.TransportPaidBy)
	}
	return Terms{
		Buyer:    e.buyerPersona,
		Product:  e.product,
		Price:    fmt.Sprintf("$%.2f/kg", offer.Price),
		Delivery: delivery,
		Payment:  offer.PaymentTerms.Human(),
	}, nil
}
