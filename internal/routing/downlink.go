package routing

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// downlinkIn is an application's downlink command: the device can be
// addressed directly by id, or by its (network_code, network_addr)
// pair, per spec §4.6 downlink step 1.
type downlinkIn struct {
	CorrelationID string  `json:"correlationId"`
	DeviceID      *string `json:"deviceId,omitempty"`
	NetworkCode   *string `json:"networkCode,omitempty"`
	NetworkAddr   *string `json:"networkAddr,omitempty"`
	TTL           *int64  `json:"ttl,omitempty"`
	Data          string  `json:"data"`
}

// downlinkResp is the immediate, synchronous acknowledgement the
// engine returns on the application's dldata-resp queue (step 5,
// issued eagerly here rather than deferred to the result pipeline).
type downlinkResp struct {
	CorrelationID string `json:"correlationId"`
	Result        string `json:"result"`
	Error         string `json:"error,omitempty"`
}

// downlinkOut is what the engine forwards to the device's owning
// network on its dldata queue.
type downlinkOut struct {
	CorrelationID string    `json:"correlationId"`
	DeviceID      string    `json:"deviceId"`
	NetworkAddr   string    `json:"networkAddr"`
	Profile       string    `json:"profile"`
	Data          string    `json:"data"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// downlinkResultIn is what a network gateway reports back on its
// dldata-result queue once it has attempted delivery to the device.
type downlinkResultIn struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	Data          string `json:"data,omitempty"`
}

// downlinkResultOut is the same report relayed to the originating
// application's dldata-result queue.
type downlinkResultOut struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	Data          string `json:"data,omitempty"`
}

func (e *Engine) respond(ctx context.Context, app broker.Endpoint, queue string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("routing: failed to marshal response", zap.String("queue", queue), zap.Error(err))
		return
	}
	sender, err := e.adapter.OpenSender(ctx, app, queue)
	if err != nil {
		e.logger.Error("routing: failed to open response sender", zap.String("queue", queue), zap.Error(err))
		return
	}
	if err := sender.Publish(ctx, broker.Message{Body: body}); err != nil {
		e.logger.Error("routing: failed to publish response", zap.String("queue", queue), zap.Error(err))
	}
}

// handleDownlink implements spec §4.6's Downlink pipeline.
func (e *Engine) handleDownlink(ctx context.Context, app broker.Endpoint, msg broker.Message) error {
	var in downlinkIn
	if err := json.Unmarshal(msg.Body, &in); err != nil {
		e.logger.Warn("routing: dropping malformed downlink message",
			zap.String("application", app.EndpointID), zap.Error(err))
		return nil
	}

	dev, err := e.resolveDownlinkDevice(ctx, app, in)
	if err != nil {
		if apperr.Is(err, apperr.KindParameter) || apperr.Is(err, apperr.KindNotFound) {
			e.respond(ctx, app, "dldata-resp", downlinkResp{CorrelationID: in.CorrelationID, Result: "error", Error: "not_found"})
			return nil
		}
		return err
	}

	if !e.deviceVisibleToApplication(ctx, app.EndpointID, dev) {
		e.respond(ctx, app, "dldata-resp", downlinkResp{CorrelationID: in.CorrelationID, Result: "error", Error: "not_found"})
		return nil
	}

	ttl := e.downlinkTTL(in.TTL)
	now := time.Now()
	buf := &models.DownlinkBuffer{
		CorrelationID: in.CorrelationID,
		ApplicationID: app.EndpointID,
		NetworkID:     dev.NetworkID,
		DeviceID:      dev.DeviceID,
		UnitID:        dev.UnitID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := e.stores.Buffers.Add(ctx, buf); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			e.respond(ctx, app, "dldata-resp", downlinkResp{CorrelationID: in.CorrelationID, Result: "error", Error: "already_exists"})
			return nil
		}
		return err
	}

	netEP, err := e.networkEndpoint(ctx, dev.NetworkID)
	if err != nil {
		e.respond(ctx, app, "dldata-resp", downlinkResp{CorrelationID: in.CorrelationID, Result: "error", Error: "internal"})
		return err
	}
	out := downlinkOut{
		CorrelationID: in.CorrelationID,
		DeviceID:      dev.DeviceID,
		NetworkAddr:   dev.NetworkAddr,
		Profile:       dev.Profile,
		Data:          in.Data,
		ExpiresAt:     buf.ExpiresAt,
	}
	body, err := json.Marshal(out)
	if err != nil {
		return err
	}
	sender, err := e.adapter.OpenSender(ctx, netEP, "dldata")
	if err != nil {
		e.respond(ctx, app, "dldata-resp", downlinkResp{CorrelationID: in.CorrelationID, Result: "error", Error: "internal"})
		return err
	}
	if err := sender.Publish(ctx, broker.Message{Body: body}); err != nil {
		e.respond(ctx, app, "dldata-resp", downlinkResp{CorrelationID: in.CorrelationID, Result: "error", Error: "internal"})
		return err
	}

	e.respond(ctx, app, "dldata-resp", downlinkResp{CorrelationID: in.CorrelationID, Result: "ok"})
	return nil
}

// resolveDownlinkDevice implements spec §4.6 downlink step 1: lookup
// by id reads the device store directly, lookup by address goes through
// resolveDevice (the device cache, falling back to the stores).
func (e *Engine) resolveDownlinkDevice(ctx context.Context, app broker.Endpoint, in downlinkIn) (*models.Device, error) {
	if in.DeviceID != nil {
		return e.stores.Devices.Get(ctx, *in.DeviceID)
	}
	if in.NetworkCode == nil || in.NetworkAddr == nil {
		return nil, apperr.Parameter(apperr.CodeParam, "deviceId or (networkCode, networkAddr) is required")
	}
	// A network_addr lookup is always scoped to the calling
	// application's own unit — a public network's devices are only
	// ever addressed by device_id, per spec §4.6 step 2's visibility
	// rule.
	return e.resolveDevice(ctx, app.UnitCode, *in.NetworkCode, *in.NetworkAddr)
}

// deviceVisibleToApplication implements spec §4.6 downlink step 2:
// same-unit ownership, or a public-network device with an explicit
// network-route or device-route binding to this application.
func (e *Engine) deviceVisibleToApplication(ctx context.Context, applicationID string, dev *models.Device) bool {
	app, err := e.stores.Applications.Get(ctx, applicationID)
	if err != nil {
		return false
	}
	if app.UnitID == dev.UnitID {
		return true
	}
	if dev.UnitCode != nil {
		return false // not a public-network device
	}

	if routes, err := e.stores.DeviceRoutes.ListByDevice(ctx, dev.DeviceID); err == nil {
		for _, r := range routes {
			if r.ApplicationID == applicationID {
				return true
			}
		}
	}
	if routes, err := e.stores.NetworkRoutes.ListByNetwork(ctx, dev.NetworkID); err == nil {
		for _, r := range routes {
			if r.ApplicationID == applicationID {
				return true
			}
		}
	}
	return false
}

// handleDownlinkResult implements spec §4.6's Downlink result
// pipeline: look up and atomically consume the buffered correlation,
// then relay the outcome to the originating application.
func (e *Engine) handleDownlinkResult(ctx context.Context, net broker.Endpoint, msg broker.Message) error {
	var in downlinkResultIn
	if err := json.Unmarshal(msg.Body, &in); err != nil {
		e.logger.Warn("routing: dropping malformed downlink-result message",
			zap.String("network", net.EndpointID), zap.Error(err))
		return nil
	}

	buf, err := e.stores.Buffers.Get(ctx, in.CorrelationID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil // expired or duplicate result: ack-drop
		}
		return err
	}
	if err := e.stores.Buffers.Del(ctx, in.CorrelationID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}

	appEP, err := e.applicationEndpoint(ctx, buf.ApplicationID)
	if err != nil {
		e.logger.Error("routing: failed to resolve result's target application",
			zap.String("application", buf.ApplicationID), zap.Error(err))
		return nil // the buffer is already consumed; nothing to retry
	}
	e.respond(ctx, appEP, "dldata-result", downlinkResultOut{
		CorrelationID: in.CorrelationID,
		Status:        in.Status,
		Data:          in.Data,
	})
	return nil
}
