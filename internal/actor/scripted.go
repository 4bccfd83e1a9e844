package actor

import (
	"context"
	"sync"
	"time"

	"github.com/hezronokwach/harvest/internal/state"
)

// ScriptStep is one pre-planned reply for a ScriptedGenerator.
type ScriptStep struct {
	Text    string
	Propose *state.OfferFields
	Accept  bool
}

// ScriptedGenerator is a deterministic in-process engine that walks a
// fixed list of steps, invoking tools and emitting text the way a real
// engine would. It backs demos and orchestrator tests.
type ScriptedGenerator struct {
	mu    sync.Mutex
	steps []ScriptStep
	idx   int
	delay time.Duration
}

// ScriptedOption configures a ScriptedGenerator.
type ScriptedOption func(*ScriptedGenerator)

// WithStepDelay simulates speaking time before each reply settles.
func WithStepDelay(d time.Duration) ScriptedOption {
	return func(g *ScriptedGenerator) { g.delay = d }
}

// NewScriptedGenerator creates an engine that replays the given steps in
// order. Past the end of the script it repeats the last step's text
// without tool calls.
func NewScriptedGenerator(steps []ScriptStep, opts ...ScriptedOption) *ScriptedGenerator {
	g := &ScriptedGenerator{steps: steps}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StepsTaken returns how many replies have been generated.
func (g *ScriptedGenerator) StepsTaken() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idx
}

// GenerateReply implements Generator.
func (g *ScriptedGenerator) GenerateReply(ctx context.Context, req GenerateRequest) (*SpeechHandle, error) {
	g.mu.Lock()
	var step ScriptStep
	if g.idx < len(g.steps) {
		step = g.steps[g.idx]
	} else if len(g.steps) > 0 {
		step = ScriptStep{Text: g.steps[len(g.steps)-1].Text}
	}
	g.idx++
	delay := g.delay
	g.mu.Unlock()

	handle := NewSpeechHandle()
	go func() {
		if delay > 0 {
			select {
			case <-ctx.Done():
				handle.Resolve("", ctx.Err())
				return
			case <-time.After(delay):
			}
		}

		if step.Propose != nil && req.Tools.ProposeOffer != nil {
			if _, err := req.Tools.ProposeOffer(*step.Propose); err != nil {
				handle.Resolve("", err)
				return
			}
		}
		if step.Accept && req.Tools.AcceptOffer != nil {
			if err := req.Tools.AcceptOffer(); err != nil {
				handle.Resolve("", err)
				return
			}
		}
		if req.Emit != nil && step.Text != "" {
			req.Emit(step.Text)
		}
		handle.Resolve(step.Text, nil)
	}()
	return handle, nil
}
