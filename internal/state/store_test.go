package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(room string) *SessionRecord {
	return &SessionRecord{
		Room:    room,
		Outcome: OutcomeAccepted,
		Rounds:  3,
		Turns:   6,
		AcceptedOffer: &Offer{
			Price:            1.18,
			DeliveryIncluded: true,
			TransportPaidBy:  TransportSeller,
			PaymentTerms:     PaymentNet7,
			RoundProposed:    3,
		},
		AcceptedBy: SideBuyer,
		StartedAt:  time.Now().Add(-2 * time.Minute).UTC().Truncate(time.Second),
		EndedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

// TestInMemorySessionStore exercises the full CRUD surface.
func TestInMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore()
	defer store.Close()

	_, err := store.Get(ctx, "call-missing")
	assert.Error(t, err)

	rec := sampleRecord("call-alpha")
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "call-alpha")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, got.Outcome)
	require.NotNil(t, got.AcceptedOffer)
	assert.Equal(t, 1.18, got.AcceptedOffer.Price)

	// Stored copy must be isolated from the caller's struct.
	rec.Rounds = 99
	got, err = store.Get(ctx, "call-alpha")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Rounds)

	require.NoError(t, store.Save(ctx, sampleRecord("call-beta")))
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, "call-alpha"))
	_, err = store.Get(ctx, "call-alpha")
	assert.Error(t, err)
}

// TestInMemorySessionStoreRejectsEmptyRoom verifies the room-name guard.
func TestInMemorySessionStoreRejectsEmptyRoom(t *testing.T) {
	store := NewInMemorySessionStore()
	assert.Error(t, store.Save(context.Background(), &SessionRecord{}))
	assert.Error(t, store.Save(context.Background(), nil))
}

// TestRedisSessionStore runs the same surface against miniredis.
func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := NewRedisSessionStore(&RedisSessionStoreConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "harvest:session:",
		TTL:       time.Hour,
	}, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(ctx, "call-missing")
	assert.Error(t, err)

	rec := sampleRecord("call-alpha")
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "call-alpha")
	require.NoError(t, err)
	assert.Equal(t, rec.Rounds, got.Rounds)
	assert.Equal(t, rec.AcceptedBy, got.AcceptedBy)
	require.NotNil(t, got.AcceptedOffer)
	assert.Equal(t, rec.AcceptedOffer.PaymentTerms, got.AcceptedOffer.PaymentTerms)

	require.NoError(t, store.Save(ctx, sampleRecord("call-beta")))
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, "call-beta"))
	all, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// TestRedisSessionStoreConnectFailure verifies a bad address surfaces as an error.
func TestRedisSessionStoreConnectFailure(t *testing.T) {
	_, err := NewRedisSessionStore(&RedisSessionStoreConfig{
		Addr: "127.0.0.1:1",
	}, nil)
	assert.Error(t, err)
}
