// Package metrics records switch events and latencies.
package metrics

import "time"

// Event names recorded by the switch.
const (
	EventReceived        = "received"
	EventRejected        = "rejected"
	EventDuplicate       = "duplicate"
	EventLegDispatched   = "leg_dispatched"
	EventLegSettled      = "leg_settled"
	EventResponded       = "responded"
	EventCorrelationMiss = "correlation_miss"
	EventProtocolError   = "protocol_error"
	EventUnreachable     = "upstream_unreachable"
	EventEvicted         = "evicted"
	EventReconciliation  = "reconciliation"
	EventReversal        = "reversal"
	EventLookup          = "lookup"
)

// Label keys understood by the recorders.
const (
	LabelLeg    = "leg"
	LabelResult = "result"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
	SetGauge(name string, value float64)
}
