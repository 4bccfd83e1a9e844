// Package room implements the broadcast channel that connects the two
// negotiating actors and any number of passive observers: a typed event
// vocabulary with a validating JSON codec, an in-process reliable
// fan-out bus, and a websocket bridge for browser observers.
package room

import (
	"encoding/json"
	"fmt"

	"github.com/hezronokwach/harvest/internal/state"
)

// EventType discriminates the wire shape of a broadcast event. The mixed
// casing is part of the wire contract with the frontend.
type EventType string

const (
	// Negotiation progress, visible to observers.
	EventOfferUpdate         EventType = "offer_update"
	EventTimeline            EventType = "negotiation_timeline"
	EventNegotiationComplete EventType = "NEGOTIATION_COMPLETE"
	EventOfferAccepted       EventType = "OFFER_ACCEPTED"
	EventDealFinalized       EventType = "DEAL_FINALIZED"

	// Turn handoff between the actor processes. Delivered on the same
	// channel as everything else; observers simply ignore them.
	EventSellerTurn EventType = "SELLER_TURN"
	EventSellerDone EventType = "SELLER_DONE"

	// Speech mirroring so the counterpart can "hear" the other actor.
	EventBuyerSpeech EventType = "BUYER_SPEECH"
	EventSpeech      EventType = "SPEECH"
	EventSpeechState EventType = "SPEECH_STATE"
	EventThought     EventType = "thought"

	// Contract drafting and approval flow.
	EventContractIntent       EventType = "CONTRACT_INTENT"
	EventContractPreview      EventType = "CONTRACT_PREVIEW"
	EventContractPreviewError EventType = "CONTRACT_PREVIEW_ERROR"
	EventContractApproved     EventType = "CONTRACT_APPROVED"
	EventContractRejected     EventType = "CONTRACT_REJECTED"
	EventFileShared           EventType = "FILE_SHARED"

	// Presence-room call signaling.
	EventCallOffer    EventType = "CALL_OFFER"
	EventCallAccepted EventType = "CALL_ACCEPTED"
	EventCallDeclined EventType = "CALL_DECLINED"
)

// Event is one tagged variant of the broadcast vocabulary.
type Event interface {
	EventType() EventType
}

// Validator is implemented by events that carry structured fields worth
// checking at the channel boundary.
type Validator interface {
	Validate() error
}

// OfferUpdate announces a new or changed offer from one actor.
type OfferUpdate struct {
	Agent string      `json:"agent"`
	Side  state.Side  `json:"side"`
	Offer state.Offer `json:"offer"`
}

func (OfferUpdate) EventType() EventType { return EventOfferUpdate }

// Validate checks the enum-valued fields.
func (e OfferUpdate) Validate() error {
	if !e.Side.Valid() {
		return fmt.Errorf("offer_update: invalid side %q", e.Side)
	}
	if !e.Offer.PaymentTerms.Valid() {
		return fmt.Errorf("offer_update: invalid payment_terms %q", e.Offer.PaymentTerms)
	}
	if !e.Offer.TransportPaidBy.Valid() {
		return fmt.Errorf("offer_update: invalid transport_paid_by %q", e.Offer.TransportPaidBy)
	}
	if e.Offer.Price <= 0 {
		return fmt.Errorf("offer_update: non-positive price %v", e.Offer.Price)
	}
	return nil
}

// Timeline reports round/turn progress for observers.
type Timeline struct {
	Turn      int `json:"turn"`
	Round     int `json:"round"`
	MaxRounds int `json:"max_rounds"`
}

func (Timeline) EventType() EventType { return EventTimeline }

// Validate checks counter sanity.
func (e Timeline) Validate() error {
	if e.Round < 0 || e.Turn < 0 || e.MaxRounds <= 0 {
		return fmt.Errorf("negotiation_timeline: invalid counters round=%d turn=%d max=%d", e.Round, e.Turn, e.MaxRounds)
	}
	return nil
}

// NegotiationComplete is the terminal signal, emitted exactly once per
// negotiation regardless of exit path.
type NegotiationComplete struct{}

func (NegotiationComplete) EventType() EventType { return EventNegotiationComplete }

// OfferAccepted records an explicit acceptance.
type OfferAccepted struct {
	By    string      `json:"by"`
	Offer state.Offer `json:"offer"`
}

func (OfferAccepted) EventType() EventType { return EventOfferAccepted }

// DealFinalized summarizes the closed deal for observers.
type DealFinalized struct {
	By      string `json:"by"`
	Summary string `json:"summary"`
}

func (DealFinalized) EventType() EventType { return EventDealFinalized }

// SellerTurn instructs the seller actor to take its turn.
type SellerTurn struct {
	Instructions string `json:"instructions"`
}

func (SellerTurn) EventType() EventType { return EventSellerTurn }

// Validate rejects empty instructions.
func (e SellerTurn) Validate() error {
	if e.Instructions == "" {
		return fmt.Errorf("SELLER_TURN: empty instructions")
	}
	return nil
}

// SellerDone signals the seller finished its turn, including tool effects.
type SellerDone struct{}

func (SellerDone) EventType() EventType { return EventSellerDone }

// BuyerSpeech mirrors the buyer's spoken text to the seller process.
type BuyerSpeech struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (BuyerSpeech) EventType() EventType { return EventBuyerSpeech }

// Speech is a finalized transcript line from either actor.
type Speech struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

func (Speech) EventType() EventType { return EventSpeech }

// SpeechState mirrors an actor's speaking status for waveform syncing.
type SpeechState struct {
	Agent      string `json:"agent"`
	State      string `json:"state"`
	IsSpeaking bool   `json:"is_speaking"`
}

func (SpeechState) EventType() EventType { return EventSpeechState }

// Thought is a tactical aside shown alongside the transcript.
type Thought struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

func (Thought) EventType() EventType { return EventThought }

// ContractIntent signals drafting has started, before extraction runs.
type ContractIntent struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

func (ContractIntent) EventType() EventType { return EventContractIntent }

// ContractPreview carries the extracted draft terms for approval.
type ContractPreview struct {
	ContractID   string            `json:"contract_id"`
	Agent        string            `json:"agent"`
	ContractData map[string]string `json:"contract_data"`
	Title        string            `json:"title"`
}

func (ContractPreview) EventType() EventType { return EventContractPreview }

// ContractPreviewError reports a failed or empty extraction.
type ContractPreviewError struct {
	Agent   string `json:"agent"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (ContractPreviewError) EventType() EventType { return EventContractPreviewError }

// ContractApproved is the human approval of a previewed draft.
type ContractApproved struct {
	ContractID string `json:"contract_id,omitempty"`
}

func (ContractApproved) EventType() EventType { return EventContractApproved }

// ContractRejected is the human rejection, with optional feedback.
type ContractRejected struct {
	Reason string `json:"reason,omitempty"`
}

func (ContractRejected) EventType() EventType { return EventContractRejected }

// FileShared announces the finalized contract document.
type FileShared struct {
	From         string            `json:"from"`
	Filename     string            `json:"filename"`
	URL          string            `json:"url"`
	ContractData map[string]string `json:"contract_data,omitempty"`
}

func (FileShared) EventType() EventType { return EventFileShared }

// CallOffer rings a persona in its presence room.
type CallOffer struct {
	From string `json:"from"`
}

func (CallOffer) EventType() EventType { return EventCallOffer }

// CallAccepted notifies the caller which room to join.
type CallAccepted struct {
	By   string `json:"by"`
	Room string `json:"room"`
}

func (CallAccepted) EventType() EventType { return EventCallAccepted }

// CallDeclined notifies the caller the callee declined.
type CallDeclined struct {
	By string `json:"by"`
}

func (CallDeclined) EventType() EventType { return EventCallDeclined }

// Encode marshals an event into its wire shape with the type
// discriminator injected.
func Encode(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.EventType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to reshape %s event: %w", ev.EventType(), err)
	}
	t, _ := json.Marshal(ev.EventType())
	fields["type"] = t
	return json.Marshal(fields)
}

// Decode validates the discriminator and unmarshals the payload into its
// concrete variant. Unknown types and malformed payloads are errors;
// handlers log and drop them rather than guessing.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to read event discriminator: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch head.Type {
	case EventOfferUpdate:
		ev, err = decodeInto[OfferUpdate](data)
	case EventTimeline:
		ev, err = decodeInto[Timeline](data)
	case EventNegotiationComplete:
		ev = NegotiationComplete{}
	case EventOfferAccepted:
		ev, err = decodeInto[OfferAccepted](data)
	case EventDealFinalized:
		ev, err = decodeInto[DealFinalized](data)
	case EventSellerTurn:
		ev, err = decodeInto[SellerTurn](data)
	case EventSellerDone:
		ev = SellerDone{}
	case EventBuyerSpeech:
		ev, err = decodeInto[BuyerSpeech](data)
	case EventSpeech:
		ev, err = decodeInto[Speech](data)
	case EventSpeechState:
		ev, err = decodeInto[SpeechState](data)
	case EventThought:
		ev, err = decodeInto[Thought](data)
	case EventContractIntent:
		ev, err = decodeInto[ContractIntent](data)
	case EventContractPreview:
		ev, err = decodeInto[ContractPreview](data)
	case EventContractPreviewError:
		ev, err = decodeInto[ContractPreviewError](data)
	case EventContractApproved:
		ev, err = decodeInto[ContractApproved](data)
	case EventContractRejected:
		ev, err = decodeInto[ContractRejected](data)
	case EventFileShared:
		ev, err = decodeInto[FileShared](data)
	case EventCallOffer:
		ev, err = decodeInto[CallOffer](data)
	case EventCallAccepted:
		ev, err = decodeInto[CallAccepted](data)
	case EventCallDeclined:
		ev, err = decodeInto[CallDeclined](data)
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, err
	}

	if v, ok := ev.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// decodeInto rejects payloads whose field types do not match the variant,
// not just syntax errors; several variants carry no Validator, so this is
// their only boundary check.
func decodeInto[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", ev.EventType(), err)
	}
	return ev, nil
}
