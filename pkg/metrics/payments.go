package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records gateway notification and charge outcomes.
type PaymentMetrics struct {
	notifications *prometheus.CounterVec
	charges       *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_total",
		Help: "Gateway notifications received, by outcome.",
	}, []string{"outcome"})
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_charges_total",
		Help: "Merchant-initiated charges attempted, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(notifications, charges)
	return &PaymentMetrics{
		notifications: notifications,
		charges:       charges,
	}
}

// IncNotification increments the notification counter for the given outcome.
func (m *PaymentMetrics) IncNotification(outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCharge increments the charge counter for the given outcome.
func (m *PaymentMetrics) IncCharge(outcome string) {
	if m == nil || m.charges == nil {
		return
	}
	m.charges.WithLabelValues(normalizeLabel(outcome)).Inc()
}
