package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCollectorCounts verifies the counter families advance.
func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.NegotiationStarted()
	c.NegotiationStarted()
	c.NegotiationCompleted("ACCEPTED", 3)
	c.NegotiationCompleted("EXHAUSTED", 10)
	c.TurnCompleted(250 * time.Millisecond)
	c.TurnTimedOut()
	c.EventPublished("offer_update")
	c.EventPublished("offer_update")
	c.EventDropped("SPEECH")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.negotiationsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.negotiationsCompleted.WithLabelValues("ACCEPTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.negotiationsCompleted.WithLabelValues("EXHAUSTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnTimeouts))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsPublished.WithLabelValues("offer_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsDropped.WithLabelValues("SPEECH")))
}

// TestHandlerServesRegistry verifies the scrape endpoint renders the
// families.
func TestHandlerServesRegistry(t *testing.T) {
	c := NewCollector()
	c.NegotiationStarted()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "harvest_negotiations_started_total 1")
}
