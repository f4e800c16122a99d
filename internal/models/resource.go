package models

import "time"

// Scheme is the wire protocol an application/network endpoint speaks.
type Scheme string

const (
	SchemeAMQP Scheme = "amqp"
	SchemeMQTT Scheme = "mqtt"
)

// Unit is a tenant: it owns applications, unit-scoped networks, and devices.
type Unit struct {
	UnitID    string   `json:"unitId" db:"unit_id"`
	Code      string   `json:"code" db:"code"`
	OwnerID   string   `json:"ownerId" db:"owner_id"`
	MemberIDs []string `json:"memberIds" db:"member_ids"`
	Name      string   `json:"name" db:"name"`
	Info      Info     `json:"info" db:"info"`
	Timestamps
}

// IsMember reports whether userID is the owner or a listed member.
func (u *Unit) IsMember(userID string) bool {
	if u.OwnerID == userID {
		return true
	}
	for _, m := range u.MemberIDs {
		if m == userID {
			return true
		}
	}
	return false
}

// Application is an external consumer endpoint with its own MQ credentials.
// It always belongs to exactly one unit.
type Application struct {
	ApplicationID  string  `json:"applicationId" db:"application_id"`
	Code           string  `json:"code" db:"code"`
	UnitID         string  `json:"unitId" db:"unit_id"`
	HostURI        string  `json:"hostUri" db:"host_uri"`
	Scheme         Scheme  `json:"scheme" db:"scheme"`
	Name           string  `json:"name" db:"name"`
	Info           Info    `json:"info" db:"info"`
	TTL            *int64  `json:"ttl,omitempty" db:"ttl"`
	QueueLengthMax *int64  `json:"queueLengthMax,omitempty" db:"queue_length_max"`
	Timestamps
}

// Network is an external gateway endpoint. A nil UnitID means the
// network is public: unit-less, visible to all admins/managers.
type Network struct {
	NetworkID      string  `json:"networkId" db:"network_id"`
	Code           string  `json:"code" db:"code"`
	UnitID         *string `json:"unitId,omitempty" db:"unit_id"`
	HostURI        string  `json:"hostUri" db:"host_uri"`
	Scheme         Scheme  `json:"scheme" db:"scheme"`
	Name           string  `json:"name" db:"name"`
	Info           Info    `json:"info" db:"info"`
	TTL            *int64  `json:"ttl,omitempty" db:"ttl"`
	QueueLengthMax *int64  `json:"queueLengthMax,omitempty" db:"queue_length_max"`
	Timestamps
}

// IsPublic reports whether the network has no owning unit.
func (n *Network) IsPublic() bool {
	return n.UnitID == nil
}

// UnitScope returns the unit code used as a cache/name scope: the
// network's owning unit code, or "" for a public network.
func UnitScope(unitCode *string) string {
	if unitCode == nil {
		return ""
	}
	return *unitCode
}

// Device is an addressable identity at (network, network_addr) through
// which uplink/downlink payloads flow.
type Device struct {
	DeviceID    string  `json:"deviceId" db:"device_id"`
	UnitID      string  `json:"unitId" db:"unit_id"`
	UnitCode    *string `json:"unitCode,omitempty" db:"unit_code"`
	NetworkID   string  `json:"networkId" db:"network_id"`
	NetworkCode string  `json:"networkCode" db:"network_code"`
	NetworkAddr string  `json:"networkAddr" db:"network_addr"`
	Profile     string  `json:"profile" db:"profile"`
	Name        string  `json:"name" db:"name"`
	Info        Info    `json:"info" db:"info"`
	Timestamps
}

// DeviceRoute is an explicit uplink/downlink binding between one
// device and one application.
type DeviceRoute struct {
	RouteID       string `json:"routeId" db:"route_id"`
	DeviceID      string `json:"deviceId" db:"device_id"`
	ApplicationID string `json:"applicationId" db:"application_id"`
	NetworkID     string `json:"networkId" db:"network_id"`
	UnitID        string `json:"unitId" db:"unit_id"`
	Profile       string `json:"profile" db:"profile"`
	Timestamps
}

// NetworkRoute forwards uplink traffic for every device on NetworkID
// to ApplicationID, without a per-device row.
type NetworkRoute struct {
	RouteID       string `json:"routeId" db:"route_id"`
	NetworkID     string `json:"networkId" db:"network_id"`
	ApplicationID string `json:"applicationId" db:"application_id"`
	UnitID        string `json:"unitId" db:"unit_id"`
	Timestamps
}

// DownlinkBuffer pairs an application-generated downlink correlation
// with the device it targets, so a network's result can be routed
// back to the right application.
type DownlinkBuffer struct {
	CorrelationID string    `json:"correlationId" db:"correlation_id"`
	ApplicationID string    `json:"applicationId" db:"application_id"`
	NetworkID     string    `json:"networkId" db:"network_id"`
	DeviceID      string    `json:"deviceId" db:"device_id"`
	UnitID        string    `json:"unitId" db:"unit_id"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt     time.Time `json:"expiresAt" db:"expires_at"`
}

// Expired reports whether the result can no longer be correlated.
func (b *DownlinkBuffer) Expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}
