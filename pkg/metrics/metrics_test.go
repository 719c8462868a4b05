package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(Config{Registry: prometheus.NewRegistry()})
}

func TestRegistry_RecordingMethodsDoNotPanic(t *testing.T) {
	r := newTestRegistry(t)

	r.RecordLockWait("session", 5*time.Millisecond)
	r.RecordLockHold("session", 10*time.Millisecond)
	r.RecordLockContention("meeting")
	r.SetActiveSessions(3)
	r.SetActiveMeetings(1)
	r.RecordHandlerInvocation("conversation", "sync", "ok", 2*time.Millisecond)
	r.RecordBusSubscriber("MEETING_STARTED", "audit-log", time.Millisecond, false)
	r.RecordWait("send_and_wait", "replied", 50*time.Millisecond)
	r.RecordTurnTimeoutFire("advanced")
}

func TestRegistry_HandlerExposesMetrics(t *testing.T) {
	r := newTestRegistry(t)
	r.RecordWait("send_and_wait", "replied", 50*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentmesh_wait_duration_seconds")
}

func TestDefaultLatencyBuckets_IsSortedAndNonEmpty(t *testing.T) {
	buckets := DefaultLatencyBuckets()
	require.NotEmpty(t, buckets)
	for i := 1; i < len(buckets); i++ {
		assert.Less(t, buckets[i-1], buckets[i])
	}
}

func TestNew_UsesProvidedRegistryAsGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(Config{Registry: reg})
	assert.Same(t, reg, r.Gatherer())
}
