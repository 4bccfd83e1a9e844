package state

import "math"

// Side identifies one of the two negotiating actors.
type Side string

const (
	SideSeller Side = "seller"
	SideBuyer  Side = "buyer"
)

// Counterpart returns the opposite side.
func (s Side) Counterpart() Side {
	if s == SideSeller {
		return SideBuyer
	}
	return SideSeller
}

// Valid reports whether the side is one of the two known actors.
func (s Side) Valid() bool {
	return s == SideSeller || s == SideBuyer
}

// TransportPayer identifies who covers transport costs in an offer.
type TransportPayer string

const (
	TransportSeller TransportPayer = "seller"
	TransportBuyer  TransportPayer = "buyer"
)

// Valid reports whether the payer is a known value.
func (p TransportPayer) Valid() bool {
	return p == TransportSeller || p == TransportBuyer
}

// PaymentTerms is the payment timing lever of an offer. The wire labels
// ("cash", "7_days", "14_days") match what the frontend and the offer
// tool schema use.
type PaymentTerms string

const (
	PaymentCash  PaymentTerms = "cash"
	PaymentNet7  PaymentTerms = "7_days"
	PaymentNet14 PaymentTerms = "14_days"
)

// Valid reports whether the terms are a known value.
func (t PaymentTerms) Valid() bool {
	return t == PaymentCash || t == PaymentNet7 || t == PaymentNet14
}

// CreditTerms reports whether payment is deferred (net-7 or net-14).
// Both acceptance gates require deferred payment.
func (t PaymentTerms) CreditTerms() bool {
	return t == PaymentNet7 || t == PaymentNet14
}

// Human returns a speakable form of the terms ("7 days" instead of "7_days").
func (t PaymentTerms) Human() string {
	switch t {
	case PaymentNet7:
		return "7 days"
	case PaymentNet14:
		return "14 days"
	default:
		return string(t)
	}
}

// OfferFields are the raw levers an actor proposes through the offer tool,
// before the negotiation stamps and normalizes them.
type OfferFields struct {
	Price            float64        `json:"price"`
	DeliveryIncluded bool           `json:"delivery_included"`
	TransportPaidBy  TransportPayer `json:"transport_paid_by"`
	PaymentTerms     PaymentTerms   `json:"payment_terms"`
}

// Offer is a committed multi-lever offer. It is immutable once recorded;
// a newer offer from the same side replaces the side's current-offer
// pointer rather than mutating this value.
type Offer struct {
	Price            float64        `json:"price"`
	DeliveryIncluded bool           `json:"delivery_included"`
	TransportPaidBy  TransportPayer `json:"transport_paid_by"`
	PaymentTerms     PaymentTerms   `json:"payment_terms"`
	RoundProposed    int            `json:"round"`
}

// offerAttributes are the lever names tracked for concession accounting.
var offerAttributes = []string{"price", "delivery_included", "transport_paid_by", "payment_terms"}

// changedAttributes returns the names of levers whose value differs
// between two consecutive offers from the same side.
func changedAttributes(prev, next Offer) []string {
	var changed []string
	if prev.Price != next.Price {
		changed = append(changed, "price")
	}
	if prev.DeliveryIncluded != next.DeliveryIncluded {
		changed = append(changed, "delivery_included")
	}
	if prev.TransportPaidBy != next.TransportPaidBy {
		changed = append(changed, "transport_paid_by")
	}
	if prev.PaymentTerms != next.PaymentTerms {
		changed = append(changed, "payment_terms")
	}
	return changed
}

// roundPrice normalizes a price to exactly 2 decimals, matching how
// offers are displayed and compared everywhere else.
func roundPrice(p float64) float64 {
	return math.Round(p*100) / 100
}

// ConcessionSet tracks which levers a side has moved on at least once.
// It only grows within a negotiation.
type ConcessionSet map[string]struct{}

// Add marks an attribute as conceded.
func (c ConcessionSet) Add(attr string) {
	c[attr] = struct{}{}
}

// Has reports whether the attribute was ever conceded.
func (c ConcessionSet) Has(attr string) bool {
	_, ok := c[attr]
	return ok
}

// Count returns the number of distinct conceded attributes.
func (c ConcessionSet) Count() int {
	return len(c)
}

// Names returns the conceded attribute names in a stable lever order.
func (c ConcessionSet) Names() []string {
	var names []string
	for _, attr := range offerAttributes {
		if c.Has(attr) {
			names = append(names, attr)
		}
	}
	return names
}

func (c ConcessionSet) clone() ConcessionSet {
	out := make(ConcessionSet, len(c))
	for k := range c {
		out[k] = struct{}{}
	}
	return out
}
