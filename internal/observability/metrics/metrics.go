package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics counts appointment lifecycle transitions and OTP outcomes.
type BookingMetrics struct {
	transitions   *prometheus.CounterVec
	otpChecks     *prometheus.CounterVec
	slotConflicts prometheus.Counter
	otpSends      *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "appointment_transitions_total",
			Help:      "Appointment state changes by resulting status",
		}, []string{"status"}),
		otpChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "otp_verifications_total",
			Help:      "OTP verification attempts by result",
		}, []string{"result"}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Reservations rejected because the slot was already held",
		}),
		otpSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "otp_sends_total",
			Help:      "OTP deliveries by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.otpChecks, m.slotConflicts, m.otpSends)
	return m
}

func (m *BookingMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveOTPCheck(result string) {
	if m == nil {
		return
	}
	m.otpChecks.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *BookingMetrics) ObserveOTPSend(ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.otpSends.WithLabelValues(outcome).Inc()
}

// HTTPMetrics records request counts and latency per route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telehealth",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, status).Inc()
	m.latency.WithLabelValues(route, method).Observe(seconds)
}
