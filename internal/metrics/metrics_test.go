package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveRPC("mainnet", "getSlot", 10*time.Millisecond, nil)
	m.ObserveRPC("mainnet", "getSlot", 10*time.Millisecond, errors.New("boom"))
	m.ObserveSlotCheck("testnet", "skipped")
	m.ObserveDelivery("telegram", "skipSlots", "sent")
	m.ObserveJob("delinquency", time.Second, nil)
	m.SetPendingChecks(map[string]int{"mainnet": 4})
	m.IncBusEvent("epoch-changed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcCalls.WithLabelValues("mainnet", "getSlot", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slotChecks.WithLabelValues("testnet", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("telegram", "skipSlots", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("delinquency", "ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.pendingChecks.WithLabelValues("mainnet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busEvents.WithLabelValues("epoch-changed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRPC("mainnet", "getSlot", time.Second, nil)
		m.ObserveSlotCheck("mainnet", "produced")
		m.ObserveDelivery("sms", "delinquent", "failed")
		m.ObserveJob("x", time.Second, nil)
		m.SetPendingChecks(nil)
		m.IncBusEvent("x")
	})
}
