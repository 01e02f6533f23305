package snapshot

import (
	"context"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/resilience"
)

// NewBreaker creates a circuit breaker for snapshot store calls that exports
// its state on m. m may be nil.
func NewBreaker(name string, m *metrics.Metrics) *resilience.CircuitBreaker {
	cfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(resilience.StateClosed))
		cfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return resilience.NewCircuitBreaker(name, cfg)
}

// guardedStore routes calls through a circuit breaker so a failing object
// store is not hammered by every maintenance tick and reload.
type guardedStore struct {
	next Store
	cb   *resilience.CircuitBreaker
}

// WithCircuitBreaker wraps s. Missing snapshots are an answer, not a failure,
// and do not count against the breaker.
func WithCircuitBreaker(s Store, cb *resilience.CircuitBreaker) Store {
	return &guardedStore{next: s, cb: cb}
}

func (g *guardedStore) Put(ctx context.Context, name string, data []byte) error {
	return g.cb.Execute(func() error {
		return g.next.Put(ctx, name, data)
	})
}

func (g *guardedStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	var notFound error
	err := g.cb.Execute(func() error {
		var err error
		rc, err = g.next.Get(ctx, name)
		if isMissing(err) {
			notFound = err
			return nil
		}
		return err
	})
	if notFound != nil {
		return nil, notFound
	}
	return rc, err
}

func (g *guardedStore) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := g.cb.Execute(func() error {
		var err error
		ok, err = g.next.Exists(ctx, name)
		return err
	})
	return ok, err
}

func (g *guardedStore) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}
