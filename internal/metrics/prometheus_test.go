package metrics

import (
	"io/ioutil"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderExposesSeries(t *testing.T) {
	r := NewPrometheusRecorder()
	r.IncCounter("connect_success", map[string]string{"provider": "injected"})
	r.ObserveLatency("connect", 120*time.Millisecond, map[string]string{"provider": "injected"})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := ioutil.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mint_widget_events_total{provider="injected",type="connect_success"} 1`)
	assert.Contains(t, string(body), `mint_widget_latency_seconds_count{operation="connect",provider="injected"} 1`)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncCounter("x", nil)
	r.ObserveLatency("x", time.Second, nil)
}
