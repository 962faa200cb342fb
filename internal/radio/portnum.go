package radio

import "fmt"

// ============================================================================
// Port Number Constants and Names
// ============================================================================

// PortNum is the application-layer payload tag carried in Data.portnum.
type PortNum int32

const (
	PortUnknown         PortNum = 0
	PortTextMessage     PortNum = 1
	PortRemoteHardware  PortNum = 2
	PortPosition        PortNum = 3
	PortNodeInfo        PortNum = 4
	PortRouting         PortNum = 5
	PortAdmin           PortNum = 6
	PortWaypoint        PortNum = 8
	PortDetectionSensor PortNum = 10
	PortReply           PortNum = 32
	PortPaxCounter      PortNum = 34
	PortSerial          PortNum = 64
	PortStoreForward    PortNum = 65
	PortRangeTest       PortNum = 66
	PortTelemetry       PortNum = 67
	PortTraceroute      PortNum = 70
	PortNeighborInfo    PortNum = 71
	PortPrivate         PortNum = 256
)

var portNames = map[PortNum]string{
	PortUnknown:         "UNKNOWN_APP",
	PortTextMessage:     "TEXT_MESSAGE_APP",
	PortRemoteHardware:  "REMOTE_HARDWARE_APP",
	PortPosition:        "POSITION_APP",
	PortNodeInfo:        "NODEINFO_APP",
	PortRouting:         "ROUTING_APP",
	PortAdmin:           "ADMIN_APP",
	PortWaypoint:        "WAYPOINT_APP",
	PortDetectionSensor: "DETECTION_SENSOR_APP",
	PortReply:           "REPLY_APP",
	PortPaxCounter:      "PAXCOUNTER_APP",
	PortSerial:          "SERIAL_APP",
	PortStoreForward:    "STORE_FORWARD_APP",
	PortRangeTest:       "RANGE_TEST_APP",
	PortTelemetry:       "TELEMETRY_APP",
	PortTraceroute:      "TRACEROUTE_APP",
	PortNeighborInfo:    "NEIGHBORINFO_APP",
	PortPrivate:         "PRIVATE_APP",
}

// String returns the Meshtastic enum name, e.g. "TEXT_MESSAGE_APP".
func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PORTNUM_%d", int32(p))
}

// ============================================================================
// Routing Error Reasons
// ============================================================================

// RoutingError is Routing.Error from mesh.proto.
type RoutingError int32

const (
	RoutingErrorNone RoutingError = 0
)

var routingErrorNames = map[RoutingError]string{
	0:  "NONE",
	1:  "NO_ROUTE",
	2:  "GOT_NAK",
	3:  "TIMEOUT",
	4:  "NO_INTERFACE",
	5:  "MAX_RETRANSMIT",
	6:  "NO_CHANNEL",
	7:  "TOO_LARGE",
	8:  "NO_RESPONSE",
	9:  "DUTY_CYCLE_LIMIT",
	32: "BAD_REQUEST",
	33: "NOT_AUTHORIZED",
	34: "PKI_FAILED",
	35: "PKI_UNKNOWN_PUBKEY",
	36: "ADMIN_BAD_SESSION_KEY",
	37: "ADMIN_PUBLIC_KEY_UNAUTHORIZED",
}

func (e RoutingError) String() string {
	if name, ok := routingErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ROUTING_ERROR_%d", int32(e))
}

// ============================================================================
// Store & Forward request/response names
// ============================================================================

var storeForwardNames = map[uint32]string{
	0: "UNSET", 1: "ROUTER_ERROR", 2: "ROUTER_HEARTBEAT", 3: "ROUTER_PING",
	4: "ROUTER_PONG", 5: "ROUTER_BUSY", 6: "ROUTER_HISTORY", 7: "ROUTER_STATS",
	8: "ROUTER_TEXT_DIRECT", 9: "ROUTER_TEXT_BROADCAST",
	64: "CLIENT_ERROR", 65: "CLIENT_HISTORY", 66: "CLIENT_STATS",
	67: "CLIENT_PING", 68: "CLIENT_PONG", 106: "CLIENT_ABORT",
}

// StoreForwardName returns the StoreAndForward.RequestResponse enum name.
func StoreForwardName(rr uint32) string {
	if name, ok := storeForwardNames[rr]; ok {
		return name
	}
	return fmt.Sprintf("RR_%d", rr)
}

// ============================================================================
// Device Roles
// ============================================================================

var roleNames = map[uint32]string{
	0: "CLIENT", 1: "CLIENT_MUTE", 2: "ROUTER", 3: "ROUTER_CLIENT",
	4: "REPEATER", 5: "TRACKER", 6: "SENSOR", 7: "TAK", 8: "CLIENT_HIDDEN",
	9: "LOST_AND_FOUND", 10: "TAK_TRACKER", 11: "ROUTER_LATE",
}

// RoleName returns the Config.DeviceConfig.Role enum name.
func RoleName(role uint32) string {
	if name, ok := roleNames[role]; ok {
		return name
	}
	return fmt.Sprintf("ROLE_%d", role)
}

// ============================================================================
// Hardware Model Names (common Meshtastic devices)
// ============================================================================

var hwModelNames = map[uint32]string{
	0: "UNSET", 1: "TLORA_V2", 2: "TLORA_V1", 3: "TLORA_V2_1_1P6",
	4: "TBEAM", 5: "HELTEC_V2_0", 6: "TBEAM_V0P7", 7: "T_ECHO",
	8: "TLORA_V1_1P3", 9: "RAK4631", 10: "HELTEC_V2_1",
	11: "HELTEC_V1", 12: "LILYGO_TBEAM_S3_CORE", 13: "RAK11200",
	14: "NANO_G1", 15: "TLORA_V2_1_1P8", 16: "TLORA_T3_S3",
	17: "NANO_G1_EXPLORER", 18: "NANO_G2_ULTRA", 25: "STATION_G1",
	26: "RAK11310", 29: "CANARYONE", 30: "RP2040_LORA", 31: "STATION_G2",
	39: "DIY_V1", 43: "HELTEC_V3", 44: "HELTEC_WSL_V3", 47: "RPI_PICO",
	48: "HELTEC_WIRELESS_TRACKER", 49: "HELTEC_WIRELESS_PAPER",
	50: "T_DECK", 51: "T_WATCH_S3", 52: "PICOMPUTER_S3", 53: "HELTEC_HT62",
	58: "HELTEC_WIRELESS_TRACKER_V1_0", 60: "WIO_E5", 64: "TRACKER_T1000_E",
	66: "HELTEC_MESH_NODE_T114", 71: "SEEED_XIAO_S3", 255: "PRIVATE_HW",
}

// HWModelName returns the HardwareModel enum name for a numeric model.
func HWModelName(model uint32) string {
	if name, ok := hwModelNames[model]; ok {
		return name
	}
	return fmt.Sprintf("HW_MODEL_%d", model)
}
