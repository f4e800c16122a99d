package routing

import (
	"context"
	"encoding/json"

	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// BulkOperation names one of the four ctrl-queue notifications spec
// §4.6's closing paragraph describes: a bulk create/delete against a
// network, either as an explicit address list or an address range.
type BulkOperation string

const (
	OpAddDeviceBulk      BulkOperation = "add-device-bulk"
	OpDelDeviceBulk      BulkOperation = "del-device-bulk"
	OpAddDeviceBulkRange BulkOperation = "add-device-bulk-range"
	OpDelDeviceBulkRange BulkOperation = "del-device-bulk-range"
)

// ctrlMessage is the single envelope published on a network's ctrl
// queue; NetworkAddrs carries the explicit-list variants and
// StartAddr/EndAddr the range variants, never both.
type ctrlMessage struct {
	Operation    BulkOperation `json:"operation"`
	NetworkAddrs []string      `json:"networkAddrs,omitempty"`
	StartAddr    string        `json:"startAddr,omitempty"`
	EndAddr      string        `json:"endAddr,omitempty"`
}

// NotifyDeviceBulk publishes a single ctrl-queue message so the
// network's owning gateway can update its own address table in one
// shot instead of one device at a time, per spec §4.6's final
// paragraph. It is called by the Resource Manager (C8) after a bulk
// device create/delete has committed.
func (e *Engine) NotifyDeviceBulk(ctx context.Context, net *models.Network, op BulkOperation, networkAddrs []string) error {
	return e.publishCtrl(ctx, net, ctrlMessage{Operation: op, NetworkAddrs: networkAddrs})
}

// NotifyDeviceBulkRange is the range-addressed variant: networkAddrs
// is never materialized, only its bounds are sent.
func (e *Engine) NotifyDeviceBulkRange(ctx context.Context, net *models.Network, op BulkOperation, startAddr, endAddr string) error {
	return e.publishCtrl(ctx, net, ctrlMessage{Operation: op, StartAddr: startAddr, EndAddr: endAddr})
}

func (e *Engine) publishCtrl(ctx context.Context, net *models.Network, msg ctrlMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var unitCode string
	if net.UnitID != nil {
		unit, err := e.stores.Units.Get(ctx, *net.UnitID)
		if err != nil {
			return err
		}
		unitCode = unit.Code
	}

	ep := broker.Endpoint{
		Kind:         broker.KindNetwork,
		EndpointID:   net.NetworkID,
		EndpointCode: net.Code,
		UnitCode:     unitCode,
		HostURI:      net.HostURI,
		Scheme:       net.Scheme,
	}
	sender, err := e.adapter.OpenSender(ctx, ep, "ctrl")
	if err != nil {
		return err
	}
	return sender.Publish(ctx, broker.Message{Body: body})
}
