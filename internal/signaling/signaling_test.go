package signaling

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hezronokwach/harvest/internal/actor"
	"github.com/hezronokwach/harvest/internal/metrics"
	"github.com/hezronokwach/harvest/internal/orchestrator"
	"github.com/hezronokwach/harvest/internal/policy"
	"github.com/hezronokwach/harvest/internal/room"
	"github.com/hezronokwach/harvest/internal/state"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	ended      []string
	fail       bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, roomName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("dispatch refused")
	}
	f.dispatched = append(f.dispatched, roomName)
	return nil
}

func (f *fakeDispatcher) End(roomName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, roomName)
}

// TestRoomNameDerivation covers the naming helpers.
func TestRoomNameDerivation(t *testing.T) {
	assert.Equal(t, "presence-halima", PresenceRoomName("Halima"))
	assert.Equal(t, "call-market_day_7", CallRoomName("Market Day 7"))
}

// TestStartCallIsIdempotent verifies repeated starts dispatch once.
func TestStartCallIsIdempotent(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewService(fd, nil)
	defer s.Close()

	status, err := s.StartCall(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, status)

	status, err = s.StartCall(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRunning, status)

	fd.mu.Lock()
	assert.Equal(t, []string{"call-1"}, fd.dispatched)
	fd.mu.Unlock()
	assert.Equal(t, []string{"call-1"}, s.ActiveCalls())
}

// TestStartCallFailureReleasesSlot verifies a failed dispatch frees the
// room for another attempt.
func TestStartCallFailureReleasesSlot(t *testing.T) {
	fd := &fakeDispatcher{fail: true}
	s := NewService(fd, nil)
	defer s.Close()

	_, err := s.StartCall(context.Background(), "call-1")
	require.Error(t, err)
	assert.Empty(t, s.ActiveCalls())

	fd.mu.Lock()
	fd.fail = false
	fd.mu.Unlock()
	status, err := s.StartCall(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, status)
}

// TestEndCallStopsDispatcher verifies teardown reaches the dispatcher
// exactly once.
func TestEndCallStopsDispatcher(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewService(fd, nil)
	defer s.Close()

	_, err := s.StartCall(context.Background(), "call-1")
	require.NoError(t, err)

	s.EndCall("call-1")
	s.EndCall("call-1")
	s.EndCall("never-started")

	fd.mu.Lock()
	assert.Equal(t, []string{"call-1"}, fd.ended)
	fd.mu.Unlock()
	assert.Empty(t, s.ActiveCalls())
}

func connectPresence(t *testing.T, s *Service, persona string) *websocket.Conn {
	t.Helper()
	bridge, err := s.PresenceBridge(persona)
	require.NoError(t, err)

	srv := httptest.NewServer(bridge)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.PersonaOnline(persona) },
		2*time.Second, 10*time.Millisecond)
	return conn
}

// TestOfferReachesOnlineTarget verifies the offer lands in the target's
// presence room and offline targets short-circuit.
func TestOfferReachesOnlineTarget(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewService(fd, nil)
	defer s.Close()

	status, err := s.Offer(context.Background(), "Alex", "Halima")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, status)

	conn := connectPresence(t, s, "Halima")

	status, err = s.Offer(context.Background(), "Alex", "Halima")
	require.NoError(t, err)
	assert.Equal(t, StatusOfferSent, status)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := room.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, room.CallOffer{From: "Alex"}, ev)
}

// TestAcceptDispatchesAndNotifiesCaller covers the full accept flow.
func TestAcceptDispatchesAndNotifiesCaller(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewService(fd, nil)
	defer s.Close()

	callerConn := connectPresence(t, s, "Alex")

	status, callRoom, err := s.Accept(context.Background(), "Alex", "Halima", "Meeting 42")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, status)
	assert.Equal(t, "call-meeting_42", callRoom)

	callerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := callerConn.ReadMessage()
	require.NoError(t, err)
	ev, err := room.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, room.CallAccepted{By: "Halima", Room: "call-meeting_42"}, ev)

	// A second accept for the same meeting does not re-dispatch.
	status, _, err = s.Accept(context.Background(), "Alex", "Halima", "Meeting 42")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRunning, status)
	fd.mu.Lock()
	assert.Equal(t, []string{"call-meeting_42"}, fd.dispatched)
	fd.mu.Unlock()
}

// TestDeclineNotifiesCaller verifies the decline signal.
func TestDeclineNotifiesCaller(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewService(fd, nil)
	defer s.Close()

	callerConn := connectPresence(t, s, "Alex")

	require.NoError(t, s.Decline(context.Background(), "Alex", "Halima"))

	callerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := callerConn.ReadMessage()
	require.NoError(t, err)
	ev, err := room.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, room.CallDeclined{By: "Halima"}, ev)
}

// TestInProcessDispatcherRunsNegotiationToCompletion wires the real
// assembly with scripted engines and waits for the accepted outcome.
func TestInProcessDispatcherRunsNegotiationToCompletion(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.TurnTimeout = 2 * time.Second
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ParticipantWait = time.Second

	store := state.NewInMemorySessionStore()
	collector := metrics.NewCollector()
	d := NewInProcessDispatcher(cfg, policy.DefaultConfig(),
		func() actor.Generator { return actor.NewScriptedGenerator(actor.DemoSellerScript()) },
		func() actor.Generator { return actor.NewScriptedGenerator(actor.DemoBuyerScript()) },
		WithSessionStore(store),
		WithObserver(collector))
	defer d.Close()

	require.NoError(t, d.Dispatch(context.Background(), "call-demo"))

	_, ok := d.Bridge("call-demo")
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		record, err := store.Get(context.Background(), "call-demo")
		return err == nil && record.Outcome == state.OutcomeAccepted
	}, 5*time.Second, 25*time.Millisecond)

	record, err := store.Get(context.Background(), "call-demo")
	require.NoError(t, err)
	require.NotNil(t, record.AcceptedOffer)
	assert.Equal(t, 1.18, record.AcceptedOffer.Price)
	assert.Equal(t, state.SideBuyer, record.AcceptedBy)

	// Dispatching the same room twice is refused.
	assert.Error(t, d.Dispatch(context.Background(), "call-demo"))

	// Channel traffic landed on the collector by event type.
	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `harvest_room_events_total{type="offer_update"}`)
	assert.Contains(t, body, `harvest_room_events_total{type="SELLER_DONE"}`)
	assert.Contains(t, body, `harvest_negotiations_completed_total{outcome="ACCEPTED"} 1`)
}

// TestDispatchConcurrentSameRoom verifies two racing dispatches for one
// room resolve to exactly one running call.
func TestDispatchConcurrentSameRoom(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.TurnTimeout = 2 * time.Second
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ParticipantWait = time.Second

	d := NewInProcessDispatcher(cfg, policy.DefaultConfig(),
		func() actor.Generator { return actor.NewScriptedGenerator(actor.DemoSellerScript()) },
		func() actor.Generator { return actor.NewScriptedGenerator(actor.DemoBuyerScript()) })
	defer d.Close()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.Dispatch(context.Background(), "call-race")
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one dispatch must win the room")

	_, ok := d.Bridge("call-race")
	assert.True(t, ok)
}
