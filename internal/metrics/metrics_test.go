package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	before := testutil.ToFloat64(gatewayCalls.WithLabelValues("push_to_tags", OutcomeOK))
	ObserveGatewayCall("push_to_tags", OutcomeOK, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(gatewayCalls.WithLabelValues("push_to_tags", OutcomeOK)))

	sentBefore := testutil.ToFloat64(deliveries.WithLabelValues("ios", "sent"))
	ObserveDeliveries("ios", 3, 1)
	assert.Equal(t, sentBefore+3, testutil.ToFloat64(deliveries.WithLabelValues("ios", "sent")))

	ObserveChunk("add_tags", OutcomeError)
	assert.GreaterOrEqual(t, testutil.ToFloat64(chunkOutcomes.WithLabelValues("add_tags", OutcomeError)), 1.0)
}

func TestHandler(t *testing.T) {
	ObserveCommand("tags", OutcomeOK)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pusher_pipeline_commands_total")
}
