package broker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig tunes the breaker wrapping the Adapter's control-plane calls.
type CircuitBreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// CircuitBreaker wraps an Adapter so that sustained broker failures
// stop retrying instead of piling up bounded-backoff attempts
// forever, per spec §4.4/§5's "stops retry on sustained failure".
type CircuitBreaker struct {
	next Adapter
	cb   *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(next Adapter, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "broker-adapter",
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

func (c *CircuitBreaker) Provision(ctx context.Context, ep Endpoint, ttl, length *int64) (Credentials, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.next.Provision(ctx, ep, ttl, length)
	})
	if err != nil {
		return Credentials{}, err
	}
	return res.(Credentials), nil
}

func (c *CircuitBreaker) Deprovision(ctx context.Context, ep Endpoint) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.next.Deprovision(ctx, ep)
	})
	return err
}

func (c *CircuitBreaker) SetPassword(ctx context.Context, ep Endpoint, newPassword string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.next.SetPassword(ctx, ep, newPassword)
	})
	return err
}

func (c *CircuitBreaker) SetTTLLength(ctx context.Context, ep Endpoint, ttl, length *int64) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.next.SetTTLLength(ctx, ep, ttl, length)
	})
	return err
}

func (c *CircuitBreaker) Stats(ctx context.Context, ep Endpoint, queue string) (Stats, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.next.Stats(ctx, ep, queue)
	})
	if err != nil {
		return Stats{}, err
	}
	return res.(Stats), nil
}

// OpenSender and OpenReceiver are not wrapped: a long-lived handle's
// own internal reconnect-with-backoff (not a single call that trips
// the breaker) governs its availability — only the control-plane
// calls (provision/deprovision/set-password/set-ttl-length/stats) that directly gate on the
// broker being reachable right now are breaker-guarded.
func (c *CircuitBreaker) OpenSender(ctx context.Context, ep Endpoint, queue string) (Sender, error) {
	return c.next.OpenSender(ctx, ep, queue)
}

func (c *CircuitBreaker) OpenReceiver(ctx context.Context, ep Endpoint, queue string, handler Handler) (Receiver, error) {
	return c.next.OpenReceiver(ctx, ep, queue, handler)
}

var _ Adapter = (*CircuitBreaker)(nil)
