package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []Envelope
	seen   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 64)}
}

func (r *recorder) handle(env Envelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []Envelope {
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
	out := make([]Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// TestPublishExcludesSelf verifies a publisher never receives its own
// broadcast.
func TestPublishExcludesSelf(t *testing.T) {
	r := New("test")
	defer r.Close()

	seller, err := r.Join("halima")
	require.NoError(t, err)
	buyer, err := r.Join("alex")
	require.NoError(t, err)

	sellerRec := newRecorder()
	buyerRec := newRecorder()
	seller.OnEvent(sellerRec.handle)
	buyer.OnEvent(buyerRec.handle)

	require.NoError(t, seller.Publish(SellerDone{}))

	got := buyerRec.wait(t, 1)
	assert.Equal(t, "halima", got[0].Origin)
	assert.Equal(t, SellerDone{}, got[0].Event)

	// The publisher's own queue stays empty.
	time.Sleep(50 * time.Millisecond)
	sellerRec.mu.Lock()
	assert.Empty(t, sellerRec.events)
	sellerRec.mu.Unlock()
}

// TestPublishOrderPerPublisher verifies one publisher's events arrive in
// publish order at each receiver.
func TestPublishOrderPerPublisher(t *testing.T) {
	r := New("test")
	defer r.Close()

	seller, err := r.Join("halima")
	require.NoError(t, err)
	buyer, err := r.Join("alex")
	require.NoError(t, err)

	rec := newRecorder()
	buyer.OnEvent(rec.handle)

	require.NoError(t, seller.Publish(Speech{Speaker: "halima", Text: "first", IsFinal: true}))
	require.NoError(t, seller.Publish(Speech{Speaker: "halima", Text: "second", IsFinal: true}))
	require.NoError(t, seller.Publish(SellerDone{}))

	got := rec.wait(t, 3)
	require.Len(t, got, 3)
	assert.Equal(t, Speech{Speaker: "halima", Text: "first", IsFinal: true}, got[0].Event)
	assert.Equal(t, Speech{Speaker: "halima", Text: "second", IsFinal: true}, got[1].Event)
	assert.Equal(t, SellerDone{}, got[2].Event)
}

// TestPublishHookCountsOncePerPublish verifies the publish hook fires
// once per accepted broadcast, regardless of receiver count, and not at
// all for rejected events.
func TestPublishHookCountsOncePerPublish(t *testing.T) {
	var mu sync.Mutex
	var types []EventType
	r := New("test", WithPublishHook(func(ev Event) {
		mu.Lock()
		types = append(types, ev.EventType())
		mu.Unlock()
	}))
	defer r.Close()

	seller, err := r.Join("halima")
	require.NoError(t, err)
	_, err = r.Join("alex")
	require.NoError(t, err)
	_, err = r.Join("observer")
	require.NoError(t, err)

	require.NoError(t, seller.Publish(SellerDone{}))
	require.NoError(t, seller.Publish(Speech{Speaker: "halima", Text: "hi", IsFinal: true}))
	assert.Error(t, seller.Publish(SellerTurn{}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventSellerDone, EventSpeech}, types)
}

// TestJoinRejectsDuplicateIdentity verifies identity uniqueness.
func TestJoinRejectsDuplicateIdentity(t *testing.T) {
	r := New("test")
	defer r.Close()

	_, err := r.Join("halima")
	require.NoError(t, err)

	_, err = r.Join("halima")
	assert.ErrorContains(t, err, "already joined")
}

// TestJoinRejectsEmptyIdentity verifies the identity guard.
func TestJoinRejectsEmptyIdentity(t *testing.T) {
	r := New("test")
	defer r.Close()

	_, err := r.Join("")
	assert.Error(t, err)
}

// TestPublishValidatesEvents verifies malformed events are rejected at
// the channel boundary instead of reaching handlers.
func TestPublishValidatesEvents(t *testing.T) {
	r := New("test")
	defer r.Close()

	p, err := r.Join("alex")
	require.NoError(t, err)

	err = p.Publish(SellerTurn{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty instructions")
}

// TestSlowParticipantDropsEvents verifies overflow triggers the drop
// hook rather than blocking the publisher.
func TestSlowParticipantDropsEvents(t *testing.T) {
	var mu sync.Mutex
	var droppedFor []string

	r := New("test",
		WithInboxSize(1),
		WithDropHook(func(identity string, ev Event) {
			mu.Lock()
			droppedFor = append(droppedFor, identity)
			mu.Unlock()
		}))
	defer r.Close()

	seller, err := r.Join("halima")
	require.NoError(t, err)

	slow, err := r.Join("observer")
	require.NoError(t, err)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	slow.OnEvent(func(Envelope) {
		started <- struct{}{}
		<-release
	})

	// First event occupies the handler, second fills the queue, third
	// overflows.
	require.NoError(t, seller.Publish(SellerDone{}))
	<-started
	require.NoError(t, seller.Publish(SellerDone{}))
	require.NoError(t, seller.Publish(SellerDone{}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(droppedFor) == 1 && droppedFor[0] == "observer"
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
}

// TestLeaveStopsDelivery verifies departed participants receive nothing.
func TestLeaveStopsDelivery(t *testing.T) {
	r := New("test")
	defer r.Close()

	seller, err := r.Join("halima")
	require.NoError(t, err)
	buyer, err := r.Join("alex")
	require.NoError(t, err)

	rec := newRecorder()
	buyer.OnEvent(rec.handle)
	buyer.Leave()

	assert.False(t, r.Has("alex"))
	require.NoError(t, seller.Publish(SellerDone{}))

	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	assert.Empty(t, rec.events)
	rec.mu.Unlock()
}

// TestClosedRoomRejectsJoinAndPublish verifies lifecycle guards.
func TestClosedRoomRejectsJoinAndPublish(t *testing.T) {
	r := New("test")
	p, err := r.Join("halima")
	require.NoError(t, err)

	r.Close()

	_, err = r.Join("alex")
	assert.ErrorContains(t, err, "closed")
	assert.ErrorContains(t, p.Publish(SellerDone{}), "closed")
}
