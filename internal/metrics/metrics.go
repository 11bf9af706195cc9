// Package metrics holds the prometheus collectors exposed on the
// observability server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrderTransitions counts lifecycle outcomes per event:
	// applied, recorded (no status change) or conflict.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackforge",
		Name:      "order_transitions_total",
		Help:      "Order lifecycle transitions by event and outcome.",
	}, []string{"event", "outcome"})

	// WebhookCallbacks counts gateway callbacks by outcome:
	// processed, duplicate, ignored, invalid_signature, unknown_reference, error.
	WebhookCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackforge",
		Name:      "webhook_callbacks_total",
		Help:      "Payment gateway callbacks by outcome.",
	}, []string{"outcome"})

	// ProvisioningOutcomes counts finished provisioning sagas.
	ProvisioningOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackforge",
		Name:      "provisioning_outcomes_total",
		Help:      "Finished provisioning tasks by outcome.",
	}, []string{"outcome"})
)
