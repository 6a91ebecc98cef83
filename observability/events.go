package observability

import (
	"strings"

	"rwalend/core/events"
	"rwalend/core/types"
)

// EventMetrics is an events.Emitter that turns committed lending events into
// metric updates.
type EventMetrics struct {
	metrics *lendingMetrics
}

// NewEventMetrics returns a sink feeding the lending registry.
func NewEventMetrics() *EventMetrics {
	return &EventMetrics{metrics: Lending()}
}

var _ events.Emitter = (*EventMetrics)(nil)

// Emit implements events.Emitter. Events without a canonical payload are
// ignored.
func (s *EventMetrics) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok || payload.Event() == nil {
		return
	}
	s.record(payload.Event())
}

func (s *EventMetrics) record(evt *types.Event) {
	attrs := evt.Attributes
	switch {
	case evt.Type == "lending.indices_updated":
		s.metrics.SetIndex("liquidity", attrs["liquidityIndex"])
		s.metrics.SetIndex("usage", attrs["usageIndex"])
		s.metrics.SetRate("supply", attrs["liquidityRate"])
		s.metrics.SetRate("borrow", attrs["usageRate"])
	case strings.HasPrefix(evt.Type, "lending.liquidation."):
		s.metrics.RecordLiquidation(strings.TrimPrefix(evt.Type, "lending.liquidation."))
	case evt.Type == "lending.vault.rebalanced":
		s.metrics.RecordRebalance(attrs["direction"], true)
	case evt.Type == "lending.vault.rebalance_skipped":
		s.metrics.RecordRebalance(attrs["direction"], false)
	}
}
