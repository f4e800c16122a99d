// Package controlbus implements the Control Bus (C6) of spec §4.5:
// one logical broadcast channel per resource kind, carrying
// invalidation messages between horizontally-scaled instances.
// Delivery is at-least-once and fanned out to every instance
// including the sender; consumers must treat application as
// idempotent. Ordering is per-sender FIFO only — no global order.
//
// Grounded on the teacher's internal/cluster/coordinator.go: a
// Redis pub/sub event loop subscribing once per process, a tagged
// JSON envelope, and per-event-type handler registration. Here the
// single "ovncp:cluster:events" channel becomes one channel per
// resource kind, and the free-form Event.Data map becomes a typed
// sum type over Operation.
package controlbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind is a resource kind that owns its own broadcast channel.
type Kind string

const (
	KindUnit         Kind = "unit"
	KindApplication  Kind = "application"
	KindNetwork      Kind = "network"
	KindDevice       Kind = "device"
	KindDeviceRoute  Kind = "device-route"
	KindNetworkRoute Kind = "network-route"
)

func channelName(k Kind) string { return "ctrlbus:" + string(k) }

// Operation tags which payload variant a Message carries — the "sealed
// sum type with a string tag" modeling of spec §9.
type Operation string

const (
	OpDelUnit         Operation = "del-unit"
	OpDelApplication  Operation = "del-application"
	OpDelNetwork      Operation = "del-network"
	OpDelDevice       Operation = "del-device"
	OpDelDeviceBulk   Operation = "del-device-bulk"
	OpDelDeviceRoute  Operation = "del-device-route"
	OpDelNetworkRoute Operation = "del-network-route"
)

// DeviceKeys is the minimum identifying information a consumer needs
// to compute a device/device-route cache invalidation, per spec §4.5's
// `del-device` example.
type DeviceKeys struct {
	UnitID      string `json:"unitId"`
	UnitCode    string `json:"unitCode"`
	NetworkID   string `json:"networkId"`
	NetworkCode string `json:"networkCode"`
	NetworkAddr string `json:"networkAddr"`
	DeviceID    string `json:"deviceId"`
}

// DeviceBulkKeys is the `del-device-bulk` variant's payload.
type DeviceBulkKeys struct {
	UnitID       string   `json:"unitId"`
	UnitCode     string   `json:"unitCode"`
	NetworkID    string   `json:"networkId"`
	NetworkCode  string   `json:"networkCode"`
	NetworkAddrs []string `json:"networkAddrs"`
	DeviceIDs    []string `json:"deviceIds"`
}

// ResourceKeys identifies one unit/application/network/route row —
// enough to drive a cache.Delete by the keys that index it.
type ResourceKeys struct {
	UnitID        string `json:"unitId,omitempty"`
	UnitCode      string `json:"unitCode,omitempty"`
	ApplicationID string `json:"applicationId,omitempty"`
	NetworkID     string `json:"networkId,omitempty"`
	NetworkCode   string `json:"networkCode,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
	RouteID       string `json:"routeId,omitempty"`
}

// Message is the envelope published on a Kind's channel: `operation`
// selects which of the payload fields below is populated. Marshaling
// goes through marshal() below, not encoding/json directly, so the
// struct carries no json field tags.
type Message struct {
	Operation  Operation
	SenderID   string
	Device     *DeviceKeys
	DeviceBulk *DeviceBulkKeys
	Resource   *ResourceKeys
}

// rawMessage lets Device and DeviceBulk share the wire-level "new"
// field while keeping distinct Go types — they're structurally
// different (singular vs slice fields) so a naive single struct would
// have to make every field a slice.
type rawMessage struct {
	Operation Operation       `json:"operation"`
	SenderID  string          `json:"senderId"`
	New       json.RawMessage `json:"new,omitempty"`
	Resource  *ResourceKeys   `json:"resource,omitempty"`
}

// Decode parses a raw payload into a Message, picking the right
// concrete type for `new` based on Operation — the "keep the
// tag-to-variant mapping in one place" guidance of spec §9.
func Decode(payload []byte) (Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Message{}, fmt.Errorf("controlbus: invalid envelope: %w", err)
	}
	msg := Message{Operation: raw.Operation, SenderID: raw.SenderID, Resource: raw.Resource}
	switch raw.Operation {
	case OpDelDevice:
		var d DeviceKeys
		if len(raw.New) > 0 {
			if err := json.Unmarshal(raw.New, &d); err != nil {
				return Message{}, fmt.Errorf("controlbus: invalid del-device payload: %w", err)
			}
		}
		msg.Device = &d
	case OpDelDeviceBulk:
		var d DeviceBulkKeys
		if len(raw.New) > 0 {
			if err := json.Unmarshal(raw.New, &d); err != nil {
				return Message{}, fmt.Errorf("controlbus: invalid del-device-bulk payload: %w", err)
			}
		}
		msg.DeviceBulk = &d
	case OpDelUnit, OpDelApplication, OpDelNetwork, OpDelDeviceRoute, OpDelNetworkRoute:
		// Resource is already populated from the top-level field.
	default:
		return Message{}, fmt.Errorf("controlbus: unknown operation %q", raw.Operation)
	}
	return msg, nil
}

func (m Message) marshal() ([]byte, error) {
	raw := rawMessage{Operation: m.Operation, SenderID: m.SenderID, Resource: m.Resource}
	switch {
	case m.Device != nil:
		b, err := json.Marshal(m.Device)
		if err != nil {
			return nil, err
		}
		raw.New = b
	case m.DeviceBulk != nil:
		b, err := json.Marshal(m.DeviceBulk)
		if err != nil {
			return nil, err
		}
		raw.New = b
	}
	return json.Marshal(raw)
}

// Handler reacts to one decoded Message on a given Kind's channel.
type Handler func(ctx context.Context, kind Kind, msg Message)

// Bus publishes and subscribes to the per-kind channels over Redis
// pub/sub, mirroring the teacher's single-channel Coordinator
// event loop but keyed per resource kind instead of one global topic.
type Bus struct {
	redis    *redis.Client
	logger   *zap.Logger
	senderID string
	stopCh   chan struct{}
}

func New(redisClient *redis.Client, logger *zap.Logger, senderID string) *Bus {
	return &Bus{redis: redisClient, logger: logger, senderID: senderID, stopCh: make(chan struct{})}
}

// Publish broadcasts msg on kind's channel; msg.SenderID is
// overwritten with the bus's own instance id.
func (b *Bus) Publish(ctx context.Context, kind Kind, msg Message) error {
	msg.SenderID = b.senderID
	data, err := msg.marshal()
	if err != nil {
		return fmt.Errorf("controlbus: failed to marshal message: %w", err)
	}
	if err := b.redis.Publish(ctx, channelName(kind), data).Err(); err != nil {
		return fmt.Errorf("controlbus: failed to publish on %s: %w", kind, err)
	}
	return nil
}

// Subscribe starts one goroutine per kind, invoking handler for every
// message received — including ones this instance sent, per spec
// §4.5's "fanned out to every running instance including the sender".
// It returns immediately; each goroutine opens its own subscription,
// and delivery runs in the background until ctx is done or Close is called.
func (b *Bus) Subscribe(ctx context.Context, kinds []Kind, handler Handler) {
	for _, kind := range kinds {
		go b.subscribeLoop(ctx, kind, handler)
	}
}

func (b *Bus) subscribeLoop(ctx context.Context, kind Kind, handler Handler) {
	pubsub := b.redis.Subscribe(ctx, channelName(kind))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				b.logger.Error("controlbus: dropping malformed message",
					zap.String("kind", string(kind)), zap.Error(err))
				continue
			}
			handler(ctx, kind, msg)
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops all subscriber goroutines started by Subscribe.
func (b *Bus) Close() {
	close(b.stopCh)
}
