// Package mockadapter implements a deterministic in-memory
// broker.Adapter: used by unit tests and as a configuration option
// for environments without a broker deployed, per SPEC_FULL.md's
// "protocol-agnostic mock" decision for the MQTT side of the abstract
// contract (no MQTT wire library exists anywhere in the example
// corpus this repo was grounded on).
package mockadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sylvia-iot/controlplane/internal/broker"
)

type tenant struct {
	creds  broker.Credentials
	ttl    *int64
	length *int64
	queues map[string][]broker.Message
}

// Adapter is a process-local stand-in for a real broker: Publish
// appends to an in-memory queue and OpenReceiver drains it on a
// goroutine, so routing-engine tests can run without any network I/O.
type Adapter struct {
	mu      sync.Mutex
	tenants map[string]*tenant
}

func New() *Adapter {
	return &Adapter{tenants: make(map[string]*tenant)}
}

func (a *Adapter) Provision(ctx context.Context, ep broker.Endpoint, ttl, length *int64) (broker.Credentials, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	username := ep.Username()
	if _, exists := a.tenants[username]; exists {
		return broker.Credentials{}, fmt.Errorf("mockadapter: tenant %s already provisioned", username)
	}

	queues := make(map[string][]broker.Message)
	names := broker.ApplicationQueues
	if ep.Kind == broker.KindNetwork {
		names = broker.NetworkQueues
	}
	for _, q := range names {
		queues[ep.QueueName(q)] = nil
	}

	creds := broker.Credentials{Username: username, Password: "mock-" + username, VHost: "vhost-" + username}
	a.tenants[username] = &tenant{creds: creds, ttl: ttl, length: length, queues: queues}
	return creds, nil
}

// Deprovision is idempotent: removing an already-absent tenant is not
// an error, per spec §4.4.
func (a *Adapter) Deprovision(ctx context.Context, ep broker.Endpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tenants, ep.Username())
	return nil
}

func (a *Adapter) SetPassword(ctx context.Context, ep broker.Endpoint, newPassword string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tenants[ep.Username()]
	if !ok {
		return fmt.Errorf("mockadapter: tenant %s not found", ep.Username())
	}
	t.creds.Password = newPassword
	return nil
}

func (a *Adapter) SetTTLLength(ctx context.Context, ep broker.Endpoint, ttl, length *int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tenants[ep.Username()]
	if !ok {
		return fmt.Errorf("mockadapter: tenant %s not found", ep.Username())
	}
	t.ttl, t.length = ttl, length
	return nil
}

func (a *Adapter) Stats(ctx context.Context, ep broker.Endpoint, queue string) (broker.Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tenants[ep.Username()]
	if !ok {
		return broker.Stats{}, fmt.Errorf("mockadapter: tenant %s not found", ep.Username())
	}
	return broker.Stats{Messages: int64(len(t.queues[ep.QueueName(queue)]))}, nil
}

type sender struct {
	a     *Adapter
	ep    broker.Endpoint
	queue string
	state broker.State
}

func (s *sender) Publish(ctx context.Context, msg broker.Message) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	t, ok := s.a.tenants[s.ep.Username()]
	if !ok {
		return fmt.Errorf("mockadapter: tenant %s not found", s.ep.Username())
	}
	name := s.ep.QueueName(s.queue)
	t.queues[name] = append(t.queues[name], msg)
	return nil
}

func (s *sender) State() broker.State { return s.state }
func (s *sender) Close() error        { s.state = broker.StateClosed; return nil }

func (a *Adapter) OpenSender(ctx context.Context, ep broker.Endpoint, queue string) (broker.Sender, error) {
	a.mu.Lock()
	_, ok := a.tenants[ep.Username()]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mockadapter: tenant %s not found", ep.Username())
	}
	return &sender{a: a, ep: ep, queue: queue, state: broker.StateConnected}, nil
}

type receiver struct {
	state  broker.State
	cancel context.CancelFunc
}

func (r *receiver) State() broker.State { return r.state }
func (r *receiver) Close() error {
	r.state = broker.StateClosed
	r.cancel()
	return nil
}

// OpenReceiver drains whatever is already queued at open time, then
// polls for new arrivals until Close — good enough determinism for
// tests that publish-then-open within the same goroutine.
func (a *Adapter) OpenReceiver(ctx context.Context, ep broker.Endpoint, queue string, handler broker.Handler) (broker.Receiver, error) {
	a.mu.Lock()
	t, ok := a.tenants[ep.Username()]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mockadapter: tenant %s not found", ep.Username())
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &receiver{state: broker.StateConnected, cancel: cancel}
	name := ep.QueueName(queue)

	go func() {
		for {
			select {
			case <-rctx.Done():
				return
			default:
			}
			a.mu.Lock()
			var msg *broker.Message
			if len(t.queues[name]) > 0 {
				m := t.queues[name][0]
				t.queues[name] = t.queues[name][1:]
				msg = &m
			}
			a.mu.Unlock()
			if msg == nil {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			_ = handler(rctx, *msg)
		}
	}()

	return r, nil
}

var _ broker.Adapter = (*Adapter)(nil)
