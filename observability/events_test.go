package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"rwalend/core/types"
)

type payloadEvent struct{ evt *types.Event }

func (p payloadEvent) EventType() string   { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

// value reads the current value of a gauge or counter.
func value(t *testing.T, metric prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, metric.Write(&out))
	if out.Gauge != nil {
		return out.Gauge.GetValue()
	}
	return out.Counter.GetValue()
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "lending.deposited" }

func TestEventMetricsRecordsIndices(t *testing.T) {
	sink := NewEventMetrics()
	sink.Emit(payloadEvent{&types.Event{
		Type: "lending.indices_updated",
		Attributes: map[string]string{
			"liquidityIndex": "1050000000000000000000000000",
			"usageIndex":     "1100000000000000000000000000",
			"liquidityRate":  "45000000000000000000000000",
			"usageRate":      "56250000000000000000000000",
		},
	}})
	m := Lending()
	require.InDelta(t, 1.05, value(t, m.indices.WithLabelValues("liquidity")), 1e-12)
	require.InDelta(t, 1.1, value(t, m.indices.WithLabelValues("usage")), 1e-12)
	require.InDelta(t, 0.05625, value(t, m.rates.WithLabelValues("borrow")), 1e-12)
}

func TestEventMetricsCountsTransitions(t *testing.T) {
	sink := NewEventMetrics()
	m := Lending()
	before := value(t, m.liquidations.WithLabelValues("initiated"))
	sink.Emit(payloadEvent{&types.Event{Type: "lending.liquidation.initiated", Attributes: map[string]string{}}})
	sink.Emit(bareEvent{})
	sink.Emit(nil)
	require.Equal(t, before+1, value(t, m.liquidations.WithLabelValues("initiated")))

	skipped := value(t, m.rebalances.WithLabelValues("withdraw", "false"))
	sink.Emit(payloadEvent{&types.Event{Type: "lending.vault.rebalance_skipped", Attributes: map[string]string{"direction": "withdraw"}}})
	require.Equal(t, skipped+1, value(t, m.rebalances.WithLabelValues("withdraw", "false")))
}

func TestObserveOutcome(t *testing.T) {
	m := Lending()
	before := value(t, m.operations.WithLabelValues("borrow", "success"))
	m.Observe("borrow", "", 0)
	require.Equal(t, before+1, value(t, m.operations.WithLabelValues("borrow", "success")))

	var nilMetrics *lendingMetrics
	nilMetrics.Observe("borrow", "", 0)
	nilMetrics.SetUtilization("1")
}

func TestRayRatio(t *testing.T) {
	v, ok := rayRatio("500000000000000000000000000")
	require.True(t, ok)
	require.InDelta(t, 0.5, v, 1e-15)
	_, ok = rayRatio("not a number")
	require.False(t, ok)
}
