package routing

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/broker"
)

// uplinkIn is what a network gateway publishes on its uldata queue:
// it knows the device only by its on-the-wire address, never by id.
type uplinkIn struct {
	NetworkAddr string    `json:"networkAddr"`
	Time        time.Time `json:"time"`
	Data        string    `json:"data"`
}

// uplinkOut is what the engine republishes on each target
// application's uldata queue: the same payload, now resolved to a
// device identity and profile.
type uplinkOut struct {
	DataID      string    `json:"dataId"`
	Time        time.Time `json:"time"`
	DeviceID    string    `json:"deviceId"`
	NetworkID   string    `json:"networkId"`
	NetworkCode string    `json:"networkCode"`
	NetworkAddr string    `json:"networkAddr"`
	Profile     string    `json:"profile"`
	Data        string    `json:"data"`
}

// handleUplink implements spec §4.6's Uplink pipeline. net is the
// network endpoint the message arrived on; its unit_code (empty for
// a public network) together with the payload's network_addr and the
// endpoint's own network_code identify the device.
func (e *Engine) handleUplink(ctx context.Context, net broker.Endpoint, msg broker.Message) error {
	var in uplinkIn
	if err := json.Unmarshal(msg.Body, &in); err != nil {
		e.logger.Warn("routing: dropping malformed uplink message",
			zap.String("network", net.EndpointID), zap.Error(err))
		return nil // ack-drop: a malformed frame will never parse differently on redelivery
	}

	dev, err := e.resolveDevice(ctx, net.UnitCode, net.EndpointCode, in.NetworkAddr)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil // definite non-existence: ack-drop per step 1
		}
		return err // transient: leave unacked for redelivery
	}

	targets, err := e.uplinkTargets(ctx, dev)
	if err != nil {
		return err
	}

	out := uplinkOut{
		DataID:      in.Time.Format(time.RFC3339Nano) + "-" + dev.DeviceID,
		Time:        in.Time,
		DeviceID:    dev.DeviceID,
		NetworkID:   dev.NetworkID,
		NetworkCode: dev.NetworkCode,
		NetworkAddr: dev.NetworkAddr,
		Profile:     dev.Profile,
		Data:        in.Data,
	}
	body, err := json.Marshal(out)
	if err != nil {
		return err
	}

	// Best-effort fan-out: one application's publish failure must
	// never block delivery to the others, and must never NACK the
	// inbound uldata message (step 3/4).
	for _, t := range targets {
		appEP, aerr := e.applicationEndpoint(ctx, t.ApplicationID)
		if aerr != nil {
			e.logger.Error("routing: failed to resolve uplink target application",
				zap.String("application", t.ApplicationID), zap.Error(aerr))
			continue
		}
		sender, serr := e.adapter.OpenSender(ctx, appEP, "uldata")
		if serr != nil {
			e.logger.Error("routing: failed to open uplink sender",
				zap.String("application", t.ApplicationID), zap.Error(serr))
			continue
		}
		if perr := sender.Publish(ctx, broker.Message{Body: body}); perr != nil {
			e.logger.Error("routing: failed to publish uplink",
				zap.String("application", t.ApplicationID), zap.Error(perr))
		}
	}

	return nil
}
