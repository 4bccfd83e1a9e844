// Package actor hosts the per-persona runtime: the generation engine
// adapter, the spoken-text buffer, the negotiation tools exposed to the
// engine, and the seller-side turn driver.
package actor

import (
	"context"
	"sync"

	"github.com/hezronokwach/harvest/internal/state"
)

// Toolset is the set of negotiation actions an engine may invoke while
// producing a reply. Tool effects commit to shared state before the
// reply's speech handle settles.
type Toolset struct {
	// ProposeOffer records a concrete multi-lever offer and broadcasts
	// it to the room.
	ProposeOffer func(fields state.OfferFields) (state.Offer, error)

	// AcceptOffer accepts the counterpart's current offer. It is a
	// no-op when the counterpart has not offered yet.
	AcceptOffer func() error
}

// GenerateRequest describes one reply generation.
type GenerateRequest struct {
	Instructions       string
	AllowInterruptions bool
	Tools              Toolset

	// Emit receives finalized speech segments as they are produced.
	// May be nil.
	Emit func(text string)
}

// Generator is the conversational engine behind a persona. Real engines
// live outside this module; ScriptedGenerator covers demos and tests.
type Generator interface {
	GenerateReply(ctx context.Context, req GenerateRequest) (*SpeechHandle, error)
}

// SpeechHandle settles once the reply's text is finalized and all tool
// invocations have committed. Resolve is idempotent; the first call wins.
type SpeechHandle struct {
	once sync.Once
	done chan struct{}
	text string
	err  error
}

// NewSpeechHandle returns an unresolved handle.
func NewSpeechHandle() *SpeechHandle {
	return &SpeechHandle{done: make(chan struct{})}
}

// Resolve settles the handle. Later calls are no-ops.
func (h *SpeechHandle) Resolve(text string, err error) {
	h.once.Do(func() {
		h.text = text
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the handle settles or the context ends.
func (h *SpeechHandle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.text, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolved reports whether the handle has settled.
func (h *SpeechHandle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
