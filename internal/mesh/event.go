package mesh

import (
	"encoding/json"
	"time"
)

// Kind identifies an event type on the bus and on the wire.
type Kind string

const (
	KindMessage         Kind = "message"
	KindPosition        Kind = "position"
	KindTelemetry       Kind = "telemetry"
	KindNodeUpdate      Kind = "node_update"
	KindTraceroute      Kind = "traceroute"
	KindTracerouteError Kind = "traceroute_error"
	KindAck             Kind = "ack"
	KindRouting         Kind = "routing"
	KindNeighborInfo    Kind = "neighbor_info"
	KindWaypoint        Kind = "waypoint"
	KindAdmin           Kind = "admin"
	KindRangeTest       Kind = "range_test"
	KindStoreForward    Kind = "store_forward"
	KindDetectionSensor Kind = "detection_sensor"
	KindPaxCounter      Kind = "paxcounter"
	KindRawUnknown      Kind = "raw_unknown"
	KindConnection      Kind = "connection"
	KindBroadcast       Kind = "broadcast_progress"
)

// Payload is implemented by every event body.
type Payload interface {
	Kind() Kind
}

// Event is an immutable value delivered to every subscriber.
type Event struct {
	Kind Kind
	Time time.Time
	Data Payload
}

// NewEvent stamps p with now.
func NewEvent(now time.Time, p Payload) Event {
	return Event{Kind: p.Kind(), Time: now.UTC(), Data: p}
}

// MarshalJSON renders the frontend wire form {"type": kind, "data": payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind    `json:"type"`
		Data Payload `json:"data"`
	}{e.Kind, e.Data})
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ============================================================================
// Payloads
// ============================================================================

// MessagePayload is a received text message.
type MessagePayload struct {
	FromNodeID string  `json:"from_node_id"`
	ToNodeID   string  `json:"to_node_id"`
	Channel    uint32  `json:"channel"`
	Text       string  `json:"text"`
	PacketID   uint32  `json:"packet_id,omitempty"`
	Broadcast  bool    `json:"is_broadcast"`
	RxSNR      float32 `json:"rx_snr,omitempty"`
	RxRSSI     int32   `json:"rx_rssi,omitempty"`
	HopsAway   *uint32 `json:"hops_away,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

func (MessagePayload) Kind() Kind { return KindMessage }

// PositionPayload is a position report.
type PositionPayload struct {
	NodeID        string   `json:"node_id"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Altitude      *int32   `json:"altitude"`
	SatsInView    uint32   `json:"sats_in_view,omitempty"`
	GroundSpeed   *uint32  `json:"ground_speed,omitempty"`
	PrecisionBits uint32   `json:"precision_bits,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

func (PositionPayload) Kind() Kind { return KindPosition }

// Telemetry subtypes.
const (
	TelemetryDevice      = "device"
	TelemetryEnvironment = "environment"
	TelemetryAirQuality  = "air_quality"
	TelemetryPower       = "power"
)

// TelemetryPayload carries one metrics group. Only the fields of Type are set.
type TelemetryPayload struct {
	NodeID string `json:"node_id"`
	Type   string `json:"type"`

	BatteryLevel       *uint32  `json:"battery_level,omitempty"`
	Voltage            *float32 `json:"voltage,omitempty"`
	ChannelUtilization *float32 `json:"channel_utilization,omitempty"`
	AirUtilTx          *float32 `json:"air_util_tx,omitempty"`
	UptimeSeconds      *uint32  `json:"uptime_seconds,omitempty"`

	Temperature        *float32 `json:"temperature,omitempty"`
	RelativeHumidity   *float32 `json:"relative_humidity,omitempty"`
	BarometricPressure *float32 `json:"barometric_pressure,omitempty"`
	GasResistance      *float32 `json:"gas_resistance,omitempty"`
	Current            *float32 `json:"current,omitempty"`
	IAQ                *uint32  `json:"iaq,omitempty"`
	Lux                *float32 `json:"lux,omitempty"`
	WindDirection      *uint32  `json:"wind_direction,omitempty"`
	WindSpeed          *float32 `json:"wind_speed,omitempty"`

	PM10Standard  *uint32 `json:"pm10_standard,omitempty"`
	PM25Standard  *uint32 `json:"pm25_standard,omitempty"`
	PM100Standard *uint32 `json:"pm100_standard,omitempty"`
	CO2           *uint32 `json:"co2,omitempty"`

	Ch1Voltage *float32 `json:"ch1_voltage,omitempty"`
	Ch1Current *float32 `json:"ch1_current,omitempty"`
	Ch2Voltage *float32 `json:"ch2_voltage,omitempty"`
	Ch2Current *float32 `json:"ch2_current,omitempty"`
	Ch3Voltage *float32 `json:"ch3_voltage,omitempty"`
	Ch3Current *float32 `json:"ch3_current,omitempty"`

	Timestamp string `json:"timestamp"`
}

func (TelemetryPayload) Kind() Kind { return KindTelemetry }

// NodeUpdatePayload is a NODEINFO announcement.
type NodeUpdatePayload struct {
	NodeID    string `json:"id"`
	LongName  string `json:"long_name"`
	ShortName string `json:"short_name"`
	HWModel   string `json:"hw_model"`
	Role      string `json:"role,omitempty"`
	MacAddr   string `json:"macaddr,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (NodeUpdatePayload) Kind() Kind { return KindNodeUpdate }

// TraceroutePayload is a completed route discovery. SNR values are in dB.
type TraceroutePayload struct {
	FromNodeID string    `json:"from_node_id"`
	ToNodeID   string    `json:"to_node_id"`
	Route      []string  `json:"route"`
	RouteBack  []string  `json:"route_back"`
	SNRTowards []float64 `json:"snr_towards"`
	SNRBack    []float64 `json:"snr_back"`
	Timestamp  string    `json:"timestamp"`
}

func (TraceroutePayload) Kind() Kind { return KindTraceroute }

// TracerouteErrorPayload reports a traceroute that failed or timed out.
type TracerouteErrorPayload struct {
	Destination string `json:"destination"`
	Error       string `json:"error"`
	RequestID   string `json:"request_id,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func (TracerouteErrorPayload) Kind() Kind { return KindTracerouteError }

// AckPayload resolves one outstanding direct message.
type AckPayload struct {
	ToNodeID  string `json:"to_node_id"`
	Text      string `json:"text"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	SendID    string `json:"send_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (AckPayload) Kind() Kind { return KindAck }

// RoutingPayload is a routing control packet seen on the mesh.
type RoutingPayload struct {
	FromNodeID  string `json:"from_node_id"`
	ToNodeID    string `json:"to_node_id"`
	RequestID   uint32 `json:"request_id,omitempty"`
	ErrorReason string `json:"error_reason"`
	Timestamp   string `json:"timestamp"`
}

func (RoutingPayload) Kind() Kind { return KindRouting }

// Neighbor is one entry of a NeighborInfoPayload.
type Neighbor struct {
	NodeID string  `json:"node_id"`
	SNR    float32 `json:"snr"`
}

// NeighborInfoPayload lists the nodes a node hears directly.
type NeighborInfoPayload struct {
	NodeID                string     `json:"node_id"`
	LastSentByID          string     `json:"last_sent_by_id,omitempty"`
	BroadcastIntervalSecs uint32     `json:"broadcast_interval_secs,omitempty"`
	Neighbors             []Neighbor `json:"neighbors"`
	Timestamp             string     `json:"timestamp"`
}

func (NeighborInfoPayload) Kind() Kind { return KindNeighborInfo }

// WaypointPayload is a shared map waypoint.
type WaypointPayload struct {
	FromNodeID  string   `json:"from_node_id"`
	ID          uint32   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Expire      uint32   `json:"expire,omitempty"`
	LockedTo    string   `json:"locked_to,omitempty"`
	Icon        uint32   `json:"icon,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

func (WaypointPayload) Kind() Kind { return KindWaypoint }

// AdminPayload notes an admin message without interpreting it.
type AdminPayload struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Variant    int    `json:"variant"`
	Timestamp  string `json:"timestamp"`
}

func (AdminPayload) Kind() Kind { return KindAdmin }

// RangeTestPayload is a range test beacon.
type RangeTestPayload struct {
	FromNodeID string  `json:"from_node_id"`
	Text       string  `json:"text"`
	RxSNR      float32 `json:"rx_snr,omitempty"`
	RxRSSI     int32   `json:"rx_rssi,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

func (RangeTestPayload) Kind() Kind { return KindRangeTest }

// StoreForwardPayload is a store & forward router exchange.
type StoreForwardPayload struct {
	FromNodeID string `json:"from_node_id"`
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func (StoreForwardPayload) Kind() Kind { return KindStoreForward }

// DetectionSensorPayload is a detection sensor alert text.
type DetectionSensorPayload struct {
	FromNodeID string `json:"from_node_id"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

func (DetectionSensorPayload) Kind() Kind { return KindDetectionSensor }

// PaxCounterPayload is a people counter sample.
type PaxCounterPayload struct {
	NodeID    string `json:"node_id"`
	WiFi      uint32 `json:"wifi"`
	BLE       uint32 `json:"ble"`
	Uptime    uint32 `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

func (PaxCounterPayload) Kind() Kind { return KindPaxCounter }

// RawUnknownPayload carries a packet on an unhandled port, or one whose
// payload failed to decode.
type RawUnknownPayload struct {
	FromNodeID  string  `json:"from_node_id"`
	ToNodeID    string  `json:"to_node_id"`
	PortNum     string  `json:"portnum"`
	Payload     string  `json:"payload"`
	Channel     uint32  `json:"channel"`
	RxSNR       float32 `json:"rx_snr,omitempty"`
	RxRSSI      int32   `json:"rx_rssi,omitempty"`
	DecodeError string  `json:"decode_error,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

func (RawUnknownPayload) Kind() Kind { return KindRawUnknown }

// ConnectionPayload reports link lifecycle changes.
type ConnectionPayload struct {
	Connected       bool   `json:"connected"`
	DeviceName      string `json:"device_name,omitempty"`
	MyNodeNum       uint32 `json:"my_node_num,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	HWModel         string `json:"hw_model,omitempty"`
	Reconnecting    bool   `json:"reconnecting,omitempty"`
	Attempt         int    `json:"attempt,omitempty"`
	MaxAttempts     int    `json:"max_attempts,omitempty"`
	Unexpected      bool   `json:"unexpected,omitempty"`
	Reset           bool   `json:"reset,omitempty"`
	ReconnectFailed bool   `json:"reconnect_failed,omitempty"`
	Error           string `json:"error,omitempty"`
	Timestamp       string `json:"timestamp"`
}

func (ConnectionPayload) Kind() Kind { return KindConnection }

// BroadcastProgressPayload reports the progress of a DM fan-out to all nodes.
type BroadcastProgressPayload struct {
	Status    string `json:"status"` // started, sending, completed
	Current   int    `json:"current,omitempty"`
	Total     int    `json:"total"`
	NodeID    string `json:"node_id,omitempty"`
	NodeName  string `json:"node_name,omitempty"`
	Sent      int    `json:"sent,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (BroadcastProgressPayload) Kind() Kind { return KindBroadcast }
