package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveExtrinsic("create", "ok", time.Now())
	m.ObserveExtrinsic("create", "ok", time.Now())
	m.ObserveExtrinsic("transfer", "NotOwner", time.Now())
	m.SetNextKittyID(2)
	m.IncrementBatches()

	require.Equal(t, 2.0, testutil.ToFloat64(m.Extrinsics.WithLabelValues("create", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Extrinsics.WithLabelValues("transfer", "NotOwner")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.NextKittyID))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Batches))
	require.Equal(t, 2, testutil.CollectAndCount(m.ExtrinsicDuration))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveExtrinsic("create", "ok", time.Now())
	m.SetNextKittyID(1)
	m.IncrementBatches()
}
