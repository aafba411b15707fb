package broker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Breaker thresholds shared by every venue.
const (
	breakerMinRequests     = 5
	breakerFailureRatio    = 0.6
	breakerOpenTimeout     = 30 * time.Second
	breakerHalfOpenMaxReqs = 3
	breakerCountInterval   = 10 * time.Second
)

var (
	breakerStateGauge  *prometheus.GaugeVec
	breakerTripsTotal  *prometheus.CounterVec
	breakerMetricsOnce sync.Once
)

func initBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		breakerStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradehawk_broker_circuit_state",
				Help: "Circuit breaker state per venue (0=closed, 1=open, 2=half_open)",
			},
			[]string{"venue"},
		)
		breakerTripsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradehawk_broker_circuit_trips_total",
				Help: "Circuit breaker open transitions per venue",
			},
			[]string{"venue"},
		)
	})
}

// BreakerSet lazily creates one circuit breaker per venue so a flapping
// data provider cannot take order placement down with it.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	passthrough bool
}

// NewBreakerSet returns a set with the shared venue thresholds.
func NewBreakerSet() *BreakerSet {
	initBreakerMetrics()
	return &BreakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// NewPassthroughBreakerSet never trips. Tests use it to exercise other
// components without the breaker in the way.
func NewPassthroughBreakerSet() *BreakerSet {
	initBreakerMetrics()
	return &BreakerSet{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		passthrough: true,
	}
}

// Get returns the breaker for a venue, creating it on first use.
func (s *BreakerSet) Get(venue string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[venue]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        venue,
		MaxRequests: breakerHalfOpenMaxReqs,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerState(name, to)
		},
	}
	if s.passthrough {
		settings.ReadyToTrip = func(gobreaker.Counts) bool { return false }
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	s.breakers[venue] = cb
	recordBreakerState(venue, cb.State())
	return cb
}

// Execute runs fn through the venue's breaker.
func (s *BreakerSet) Execute(venue string, fn func() (interface{}, error)) (interface{}, error) {
	return s.Get(venue).Execute(fn)
}

func recordBreakerState(venue string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
		breakerTripsTotal.WithLabelValues(venue).Inc()
	case gobreaker.StateHalfOpen:
		v = 2
	}
	breakerStateGauge.WithLabelValues(venue).Set(v)
}
