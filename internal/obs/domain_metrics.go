package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ItemOperationsTotal counts pre-sale item mutations by operation and outcome.
	ItemOperationsTotal *prometheus.CounterVec
	// UnitsMovedTotal counts units assigned to or released from deliveries.
	UnitsMovedTotal *prometheus.CounterVec
	// PaymentsRecordedTotal counts payment recording attempts by outcome.
	PaymentsRecordedTotal *prometheus.CounterVec
	// PaymentAmountRecorded accumulates accepted payment amounts in minor units.
	PaymentAmountRecorded prometheus.Counter
	// CASConflictsTotal counts optimistic concurrency retries per aggregate.
	CASConflictsTotal *prometheus.CounterVec
	// OverdueSweepDuration records overdue sweep latency in milliseconds.
	OverdueSweepDuration prometheus.Histogram
	// OverduePlans reports the number of plans flagged overdue by the last sweep.
	OverduePlans prometheus.Gauge
	// EventsPublishedTotal counts outbound domain event deliveries.
	EventsPublishedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ItemOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presale_item_operations_total",
			Help:      "Count of pre-sale item mutations by operation and outcome.",
		}, []string{"operation", "result"})
		UnitsMovedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presale_units_moved_total",
			Help:      "Units assigned to or released from deliveries.",
		}, []string{"direction"})
		PaymentsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presale_payments_recorded_total",
			Help:      "Count of payment recording attempts by outcome.",
		}, []string{"result"})
		PaymentAmountRecorded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presale_payment_amount_minor_total",
			Help:      "Sum of accepted payments in minor currency units.",
		})
		CASConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presale_cas_conflicts_total",
			Help:      "Optimistic concurrency conflicts by aggregate.",
		}, []string{"aggregate"})
		OverdueSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "presale_overdue_sweep_duration_ms",
			Help:      "Latency of the overdue sweep in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 15000},
		})
		OverduePlans = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presale_overdue_plans",
			Help:      "Plans with overdue installments as of the last sweep.",
		})
		EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presale_events_published_total",
			Help:      "Domain events handed to outbound transports by outcome.",
		}, []string{"transport", "result"})

		mustRegisterCollector(reg, ItemOperationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ItemOperationsTotal = v
			}
		})
		mustRegisterCollector(reg, UnitsMovedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				UnitsMovedTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentsRecordedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentsRecordedTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentAmountRecorded, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PaymentAmountRecorded = v
			}
		})
		mustRegisterCollector(reg, CASConflictsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CASConflictsTotal = v
			}
		})
		mustRegisterCollector(reg, OverdueSweepDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				OverdueSweepDuration = v
			}
		})
		mustRegisterCollector(reg, OverduePlans, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				OverduePlans = v
			}
		})
		mustRegisterCollector(reg, EventsPublishedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				EventsPublishedTotal = v
			}
		})
	})
}

// ObserveItemOperation increments the item operation counter when metrics are registered.
func ObserveItemOperation(operation string, err error) {
	if ItemOperationsTotal == nil {
		return
	}
	ItemOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

// ObserveUnitsMoved records units moving in ("assigned") or out ("released").
func ObserveUnitsMoved(direction string, count int) {
	if UnitsMovedTotal == nil || count <= 0 {
		return
	}
	UnitsMovedTotal.WithLabelValues(direction).Add(float64(count))
}

// ObservePayment records a payment attempt and, on success, its amount.
func ObservePayment(amount int64, err error) {
	if PaymentsRecordedTotal != nil {
		PaymentsRecordedTotal.WithLabelValues(resultLabel(err)).Inc()
	}
	if err == nil && PaymentAmountRecorded != nil && amount > 0 {
		PaymentAmountRecorded.Add(float64(amount))
	}
}

// ObserveCASConflict counts a lost compare-and-swap for aggregate.
func ObserveCASConflict(aggregate string) {
	if CASConflictsTotal == nil {
		return
	}
	CASConflictsTotal.WithLabelValues(aggregate).Inc()
}

// ObserveOverdueSweep records a finished sweep and the overdue plans it saw.
func ObserveOverdueSweep(d time.Duration, overdue int) {
	if OverdueSweepDuration != nil {
		OverdueSweepDuration.Observe(DurationMillis(d))
	}
	if OverduePlans != nil {
		OverduePlans.Set(float64(overdue))
	}
}

// ObserveEventPublish counts an outbound event delivery.
func ObserveEventPublish(transport string, err error) {
	if EventsPublishedTotal == nil {
		return
	}
	EventsPublishedTotal.WithLabelValues(transport, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
