package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hezronokwach/harvest/internal/room"
	"github.com/hezronokwach/harvest/internal/state"
)

func sellerFields(price float64) state.OfferFields {
	return state.OfferFields{
		Price:            price,
		DeliveryIncluded: true,
		TransportPaidBy:  state.TransportSeller,
		PaymentTerms:     state.PaymentNet7,
	}
}

type roomRecorder struct {
	mu     sync.Mutex
	events []room.Envelope
	seen   chan struct{}
}

func joinRecorder(t *testing.T, r *room.Room, identity string) *roomRecorder {
	t.Helper()
	p, err := r.Join(identity)
	require.NoError(t, err)
	rec := &roomRecorder{seen: make(chan struct{}, 64)}
	p.OnEvent(func(env room.Envelope) {
		rec.mu.Lock()
		rec.events = append(rec.events, env)
		rec.mu.Unlock()
		rec.seen <- struct{}{}
	})
	return rec
}

func (r *roomRecorder) wait(t *testing.T, n int) []room.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]room.Envelope, len(r.events))
	copy(out, r.events)
	return out
}

func (r *roomRecorder) byType(et room.EventType) []room.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []room.Event
	for _, env := range r.events {
		if env.Event.EventType() == et {
			out = append(out, env.Event)
		}
	}
	return out
}

func newTestRuntime(t *testing.T, r *room.Room, persona string, side state.Side, gen Generator) (*Runtime, *state.Negotiation) {
	t.Helper()
	neg := state.NewNegotiation(10, nil)
	p, err := r.Join(persona)
	require.NoError(t, err)
	rt := NewRuntime(persona, side, neg, p, gen)
	return rt, neg
}

// TestProposeOfferRecordsAndBroadcasts verifies the propose_offer tool
// commits locally and announces to the room.
func TestProposeOfferRecordsAndBroadcasts(t *testing.T) {
	r := room.New("test")
	defer r.Close()
	rec := joinRecorder(t, r, "observer")

	rt, neg := newTestRuntime(t, r, "halima", state.SideSeller, nil)

	offer, err := rt.Tools().ProposeOffer(sellerFields(1.3456))
	require.NoError(t, err)
	assert.Equal(t, 1.35, offer.Price)

	local := neg.Offer(state.SideSeller)
	require.NotNil(t, local)
	assert.Equal(t, offer, *local)

	got := rec.wait(t, 1)
	update, ok := got[0].Event.(room.OfferUpdate)
	require.True(t, ok)
	assert.Equal(t, "halima", update.Agent)
	assert.Equal(t, state.SideSeller, update.Side)
	assert.Equal(t, offer, update.Offer)
}

// TestAcceptOfferNoOpWithoutCounterpartOffer verifies the guard.
func TestAcceptOfferNoOpWithoutCounterpartOffer(t *testing.T) {
	r := room.New("test")
	defer r.Close()
	rec := joinRecorder(t, r, "observer")

	rt, neg := newTestRuntime(t, r, "alex", state.SideBuyer, nil)

	require.NoError(t, rt.Tools().AcceptOffer())
	accepted, _ := neg.AcceptedOffer()
	assert.Nil(t, accepted)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.byType(room.EventOfferAccepted))
}

// TestAcceptOfferAcceptsCounterpartOffer verifies acceptance commits and
// broadcasts.
func TestAcceptOfferAcceptsCounterpartOffer(t *testing.T) {
	r := room.New("test")
	defer r.Close()
	rec := joinRecorder(t, r, "observer")

	rt, neg := newTestRuntime(t, r, "alex", state.SideBuyer, nil)
	neg.ApplyOffer(state.SideSeller, state.Offer{
		Price:            1.25,
		DeliveryIncluded: true,
		TransportPaidBy:  state.TransportSeller,
		PaymentTerms:     state.PaymentNet7,
	})

	require.NoError(t, rt.Tools().AcceptOffer())

	accepted, by := neg.AcceptedOffer()
	require.NotNil(t, accepted)
	assert.Equal(t, 1.25, accepted.Price)
	assert.Equal(t, state.SideBuyer, by)

	got := rec.wait(t, 1)
	acc, ok := got[0].Event.(room.OfferAccepted)
	require.True(t, ok)
	assert.Equal(t, "alex", acc.By)
}

// TestHandleEventFoldsCounterpartState verifies the mirror update paths.
func TestHandleEventFoldsCounterpartState(t *testing.T) {
	r := room.New("test")
	defer r.Close()

	rt, neg := newTestRuntime(t, r, "halima", state.SideSeller, nil)

	buyerOffer := state.Offer{
		Price:           1.12,
		TransportPaidBy: state.TransportSeller,
		PaymentTerms:    state.PaymentNet7,
		RoundProposed:   1,
	}
	rt.HandleEvent(room.Envelope{Origin: "alex", Event: room.OfferUpdate{
		Agent: "alex", Side: state.SideBuyer, Offer: buyerOffer,
	}})
	got := neg.Offer(state.SideBuyer)
	require.NotNil(t, got)
	assert.Equal(t, 1.12, got.Price)

	rt.HandleEvent(room.Envelope{Origin: "alex", Event: room.Timeline{Turn: 6, Round: 3, MaxRounds: 10}})
	assert.Equal(t, 3, neg.Round())

	rt.HandleEvent(room.Envelope{Origin: "alex", Event: room.BuyerSpeech{Speaker: "alex", Text: "too high"}})
	assert.Equal(t, "too high", rt.LastHeard())

	rt.HandleEvent(room.Envelope{Origin: "alex", Event: room.NegotiationComplete{}})
	assert.True(t, neg.ShuttingDown())
}

// TestHandleEventIgnoresOwnSideOffer verifies echoed own-side updates do
// not clobber local state.
func TestHandleEventIgnoresOwnSideOffer(t *testing.T) {
	r := room.New("test")
	defer r.Close()

	rt, neg := newTestRuntime(t, r, "halima", state.SideSeller, nil)
	_, err := rt.Tools().ProposeOffer(sellerFields(1.35))
	require.NoError(t, err)

	rt.HandleEvent(room.Envelope{Origin: "bridge", Event: room.OfferUpdate{
		Agent: "halima", Side: state.SideSeller,
		Offer: state.Offer{Price: 9.99, TransportPaidBy: state.TransportSeller, PaymentTerms: state.PaymentCash},
	}})

	got := neg.Offer(state.SideSeller)
	require.NotNil(t, got)
	assert.Equal(t, 1.35, got.Price)
}

// TestHandleEventTogglesApprovalLatch verifies the contract silence
// latch transitions.
func TestHandleEventTogglesApprovalLatch(t *testing.T) {
	r := room.New("test")
	defer r.Close()

	rt, _ := newTestRuntime(t, r, "halima", state.SideSeller, nil)
	assert.False(t, rt.AwaitingApproval())

	rt.HandleEvent(room.Envelope{Origin: "alex", Event: room.ContractIntent{Agent: "alex", Status: "drafting"}})
	assert.True(t, rt.AwaitingApproval())

	rt.HandleEvent(room.Envelope{Origin: "frontend", Event: room.ContractApproved{}})
	assert.False(t, rt.AwaitingApproval())

	rt.HandleEvent(room.Envelope{Origin: "alex", Event: room.ContractPreview{ContractID: "c-1", Agent: "alex"}})
	assert.True(t, rt.AwaitingApproval())

	rt.HandleEvent(room.Envelope{Origin: "frontend", Event: room.ContractRejected{Reason: "wrong price"}})
	assert.False(t, rt.AwaitingApproval())
}

// TestSellerTurnPublishesSpeechAndDone verifies the full trigger path:
// generation, tool commit, speech broadcast, completion signal.
func TestSellerTurnPublishesSpeechAndDone(t *testing.T) {
	r := room.New("test")
	defer r.Close()
	rec := joinRecorder(t, r, "alex")

	gen := NewScriptedGenerator([]ScriptStep{
		{Text: "I can offer 1.30 with delivery.", Propose: ptrFields(sellerFields(1.30))},
	})
	rt, neg := newTestRuntime(t, r, "halima", state.SideSeller, gen)
	rt.Attach()

	rt.HandleEvent(room.Envelope{Origin: "alex", Event: room.SellerTurn{Instructions: "make an opening offer"}})

	assert.Eventually(t, func() bool {
		return len(rec.byType(room.EventSellerDone)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, neg.Offer(state.SideSeller))
	speeches := rec.byType(room.EventSpeech)
	require.Len(t, speeches, 1)
	assert.Equal(t, "I can offer 1.30 with delivery.", speeches[0].(room.Speech).Text)

	// Offer update must precede the completion signal at the receiver.
	rec.mu.Lock()
	var offerIdx, doneIdx int
	for i, env := range rec.events {
		switch env.Event.EventType() {
		case room.EventOfferUpdate:
			offerIdx = i
		case room.EventSellerDone:
			doneIdx = i
		}
	}
	rec.mu.Unlock()
	assert.Less(t, offerIdx, doneIdx)
}

// TestSellerTurnDiscardedWhenShuttingDown verifies no completion signal
// goes out for triggers after shutdown.
func TestSellerTurnDiscardedWhenShuttingDown(t *testing.T) {
	r := room.New("test")
	defer r.Close()
	rec := joinRecorder(t, r, "alex")

	gen := NewScriptedGenerator([]ScriptStep{{Text: "hello"}})
	rt, neg := newTestRuntime(t, r, "halima", state.SideSeller, gen)
	neg.SetShuttingDown()

	rt.takeTurn("speak")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.byType(room.EventSellerDone))
	assert.Zero(t, gen.StepsTaken())
}

// TestSellerTurnDuplicateTriggerDiscarded verifies the speaking latch
// produces exactly one generation and one completion for overlapping
// triggers.
func TestSellerTurnDuplicateTriggerDiscarded(t *testing.T) {
	r := room.New("test")
	defer r.Close()
	rec := joinRecorder(t, r, "alex")

	gen := NewScriptedGenerator(
		[]ScriptStep{{Text: "slow reply"}},
		WithStepDelay(200*time.Millisecond))
	rt, _ := newTestRuntime(t, r, "halima", state.SideSeller, gen)

	go rt.takeTurn("first trigger")
	time.Sleep(50 * time.Millisecond)
	rt.takeTurn("duplicate trigger")

	assert.Eventually(t, func() bool {
		return len(rec.byType(room.EventSellerDone)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.byType(room.EventSellerDone), 1)
	assert.Equal(t, 1, gen.StepsTaken())
}

// TestSellerTurnSilentWhileAwaitingApproval verifies a pending contract
// preview suppresses speech but still completes the turn.
func TestSellerTurnSilentWhileAwaitingApproval(t *testing.T) {
	r := room.New("test")
	defer r.Close()
	rec := joinRecorder(t, r, "alex")

	gen := NewScriptedGenerator([]ScriptStep{{Text: "should not be spoken"}})
	rt, _ := newTestRuntime(t, r, "halima", state.SideSeller, gen)
	rt.SetAwaitingApproval(true)

	rt.takeTurn("speak")

	got := rec.wait(t, 1)
	assert.Equal(t, room.SellerDone{}, got[0].Event)
	assert.Zero(t, gen.StepsTaken())
	assert.Empty(t, rec.byType(room.EventSpeech))
}

func ptrFields(f state.OfferFields) *state.OfferFields { return &f }
