package radio

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BroadcastID is the string form of BroadcastNum used in packet ids.
const BroadcastID = "^all"

// NodeID renders a node number as "!xxxxxxxx"; the broadcast number
// renders as "^all".
func NodeID(num uint32) string {
	if num == BroadcastNum {
		return BroadcastID
	}
	return fmt.Sprintf("!%08x", num)
}

// ParseNodeID accepts "!xxxxxxxx", "0x..." or a decimal node number.
// "^all" parses to BroadcastNum.
func ParseNodeID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return 0, fmt.Errorf("empty node id")
	case s == BroadcastID:
		return BroadcastNum, nil
	case strings.HasPrefix(s, "!"):
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node id %q: %w", s, err)
		}
		return uint32(v), nil
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node id %q: %w", s, err)
		}
		return uint32(v), nil
	default:
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node id %q: %w", s, err)
		}
		return uint32(v), nil
	}
}

// DeviceInfo identifies the locally attached radio.
type DeviceInfo struct {
	MyNodeNum       uint32 `json:"my_node_num"`
	FirmwareVersion string `json:"firmware_version"`
	HWModel         string `json:"hw_model"`
}

// Node is one NodeDB record. Binary fields are hex encoded so the record
// can be serialized as-is.
// @Description Meshtastic mesh network node
type Node struct {
	Num        uint32 `json:"num"`
	ID         string `json:"id" example:"!a1b2c3d4"`
	LongName   string `json:"long_name,omitempty" example:"Base Station"`
	ShortName  string `json:"short_name,omitempty" example:"BASE"`
	MacAddr    string `json:"macaddr,omitempty" example:"a1b2c3d4e5f6"`
	HWModel    string `json:"hw_model,omitempty" example:"HELTEC_V3"`
	Role       string `json:"role,omitempty" example:"CLIENT"`
	PublicKey  string `json:"public_key,omitempty"`
	IsLicensed bool   `json:"is_licensed,omitempty"`

	Latitude   *float64 `json:"latitude,omitempty" example:"52.3676"`
	Longitude  *float64 `json:"longitude,omitempty" example:"4.9041"`
	Altitude   *int32   `json:"altitude,omitempty" example:"10"`
	SatsInView uint32   `json:"sats_in_view,omitempty"`

	BatteryLevel       *uint32  `json:"battery_level,omitempty" example:"85"`
	Voltage            *float32 `json:"voltage,omitempty" example:"4.1"`
	ChannelUtilization *float32 `json:"channel_utilization,omitempty"`
	AirUtilTx          *float32 `json:"air_util_tx,omitempty"`
	UptimeSeconds      *uint32  `json:"uptime_seconds,omitempty"`

	SNR        float32 `json:"snr,omitempty" example:"10.5"`
	LastHeard  int64   `json:"last_heard,omitempty"`
	HopsAway   *uint32 `json:"hops_away,omitempty"`
	Channel    uint32  `json:"channel,omitempty"`
	ViaMQTT    bool    `json:"via_mqtt,omitempty"`
	IsFavorite bool    `json:"is_favorite,omitempty"`
}

// LastHeardTime returns LastHeard as a time, or the zero time if unknown.
func (n Node) LastHeardTime() time.Time {
	if n.LastHeard == 0 {
		return time.Time{}
	}
	return time.Unix(n.LastHeard, 0).UTC()
}

func (n *Node) applyUser(u *User) {
	if u == nil {
		return
	}
	if u.ID != "" {
		n.ID = u.ID
	}
	n.LongName = u.LongName
	n.ShortName = u.ShortName
	if len(u.MacAddr) > 0 {
		n.MacAddr = hex.EncodeToString(u.MacAddr)
	}
	if len(u.PublicKey) > 0 {
		n.PublicKey = hex.EncodeToString(u.PublicKey)
	}
	n.HWModel = HWModelName(u.HWModel)
	n.Role = RoleName(u.Role)
	n.IsLicensed = u.IsLicensed
}

func (n *Node) applyPosition(p *Position) {
	if p == nil {
		return
	}
	if lat, ok := p.Latitude(); ok {
		n.Latitude = &lat
	}
	if lon, ok := p.Longitude(); ok {
		n.Longitude = &lon
	}
	if p.Altitude != nil {
		alt := *p.Altitude
		n.Altitude = &alt
	}
	if p.SatsInView != 0 {
		n.SatsInView = p.SatsInView
	}
}

func (n *Node) applyDeviceMetrics(m *DeviceMetrics) {
	if m == nil {
		return
	}
	if m.BatteryLevel != nil {
		n.BatteryLevel = m.BatteryLevel
	}
	if m.Voltage != nil {
		n.Voltage = m.Voltage
	}
	if m.ChannelUtilization != nil {
		n.ChannelUtilization = m.ChannelUtilization
	}
	if m.AirUtilTx != nil {
		n.AirUtilTx = m.AirUtilTx
	}
	if m.UptimeSeconds != nil {
		n.UptimeSeconds = m.UptimeSeconds
	}
}

func nodeFromInfo(ni *NodeInfo) *Node {
	n := &Node{
		Num:        ni.Num,
		ID:         NodeID(ni.Num),
		SNR:        ni.SNR,
		LastHeard:  int64(ni.LastHeard),
		HopsAway:   ni.HopsAway,
		Channel:    ni.Channel,
		ViaMQTT:    ni.ViaMQTT,
		IsFavorite: ni.IsFavorite,
	}
	n.applyUser(ni.User)
	n.applyPosition(ni.Position)
	n.applyDeviceMetrics(ni.DeviceMetrics)
	return n
}
