package radio

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================================================
// Protobuf wire codec (subset of meshtastic/protobufs)
// ============================================================================
//
// Messages are decoded field by field with protowire so that unknown fields
// and newer firmware additions are skipped instead of rejected. Integer
// fields declared fixed32 are also accepted as varints; several firmware
// releases disagree on the encoding.

// BroadcastNum is the destination number addressing every node.
const BroadcastNum uint32 = 0xFFFFFFFF

var errTruncated = errors.New("radio: truncated protobuf message")

// field is one decoded protobuf field.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

// uint32 returns the field as an unsigned integer regardless of encoding.
func (f field) uint32() uint32 {
	switch f.typ {
	case protowire.Fixed32Type:
		return f.fixed32
	case protowire.Fixed64Type:
		return uint32(f.fixed64)
	default:
		return uint32(f.varint)
	}
}

// int32 handles int32 (two's complement varint) and sfixed32.
func (f field) int32() int32 {
	if f.typ == protowire.Fixed32Type {
		return int32(f.fixed32)
	}
	return int32(f.varint)
}

func (f field) float32() float32 {
	if f.typ == protowire.Fixed32Type {
		return math.Float32frombits(f.fixed32)
	}
	return float32(f.varint)
}

func (f field) bool() bool { return protowire.DecodeBool(f.varint) }

func (f field) string() string { return string(f.bytes) }

func (f field) copyBytes() []byte {
	if len(f.bytes) == 0 {
		return nil
	}
	out := make([]byte, len(f.bytes))
	copy(out, f.bytes)
	return out
}

// walk calls fn for every field in b. Groups and other unused wire types are
// skipped.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// repeatedFixed32 appends packed or unpacked fixed32 values.
func repeatedFixed32(dst []uint32, f field) ([]uint32, error) {
	if f.typ != protowire.BytesType {
		return append(dst, f.uint32()), nil
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return dst, errTruncated
		}
		dst = append(dst, v)
		b = b[n:]
	}
	return dst, nil
}

// repeatedInt32 appends packed or unpacked int32 varint values.
func repeatedInt32(dst []int32, f field) ([]int32, error) {
	if f.typ != protowire.BytesType {
		return append(dst, f.int32()), nil
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, errTruncated
		}
		dst = append(dst, int32(v))
		b = b[n:]
	}
	return dst, nil
}

func ptr[T any](v T) *T { return &v }

// ============================================================================
// FromRadio
// ============================================================================

// FromRadio is the envelope for every message the device sends.
type FromRadio struct {
	ID               uint32
	Packet           *Packet
	MyInfo           *MyNodeInfo
	NodeInfo         *NodeInfo
	ConfigCompleteID uint32
	Rebooted         bool
	Metadata         *DeviceMetadata
}

// MyNodeInfo identifies the locally attached node.
type MyNodeInfo struct {
	MyNodeNum     uint32
	RebootCount   uint32
	MinAppVersion uint32
}

// NodeInfo is one NodeDB entry streamed during the config download.
type NodeInfo struct {
	Num           uint32
	User          *User
	Position      *Position
	SNR           float32
	LastHeard     uint32
	DeviceMetrics *DeviceMetrics
	Channel       uint32
	ViaMQTT       bool
	HopsAway      *uint32
	IsFavorite    bool
}

// DeviceMetadata carries firmware and hardware details of the local node.
type DeviceMetadata struct {
	FirmwareVersion    string
	DeviceStateVersion uint32
	HasWifi            bool
	HasBluetooth       bool
	Role               uint32
	HWModel            uint32
}

// DecodeFromRadio parses a FromRadio message.
func DecodeFromRadio(b []byte) (*FromRadio, error) {
	fr := &FromRadio{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			fr.ID = f.uint32()
		case 2:
			fr.Packet, err = DecodeMeshPacket(f.bytes)
		case 3:
			fr.MyInfo, err = decodeMyNodeInfo(f.bytes)
		case 4:
			fr.NodeInfo, err = decodeNodeInfo(f.bytes)
		case 7:
			fr.ConfigCompleteID = f.uint32()
		case 8:
			fr.Rebooted = f.bool()
		case 13:
			fr.Metadata, err = decodeDeviceMetadata(f.bytes)
		}
		return err
	})
	return fr, err
}

func decodeMyNodeInfo(b []byte) (*MyNodeInfo, error) {
	mi := &MyNodeInfo{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			mi.MyNodeNum = f.uint32()
		case 8:
			mi.RebootCount = f.uint32()
		case 11:
			mi.MinAppVersion = f.uint32()
		}
		return nil
	})
	return mi, err
}

func decodeNodeInfo(b []byte) (*NodeInfo, error) {
	ni := &NodeInfo{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			ni.Num = f.uint32()
		case 2:
			ni.User, err = DecodeUser(f.bytes)
		case 3:
			ni.Position, err = DecodePosition(f.bytes)
		case 4:
			ni.SNR = f.float32()
		case 5:
			ni.LastHeard = f.uint32()
		case 6:
			ni.DeviceMetrics, err = decodeDeviceMetrics(f.bytes)
		case 7:
			ni.Channel = f.uint32()
		case 8:
			ni.ViaMQTT = f.bool()
		case 9:
			ni.HopsAway = ptr(f.uint32())
		case 10:
			ni.IsFavorite = f.bool()
		}
		return err
	})
	return ni, err
}

func decodeDeviceMetadata(b []byte) (*DeviceMetadata, error) {
	md := &DeviceMetadata{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			md.FirmwareVersion = f.string()
		case 2:
			md.DeviceStateVersion = f.uint32()
		case 4:
			md.HasWifi = f.bool()
		case 5:
			md.HasBluetooth = f.bool()
		case 7:
			md.Role = f.uint32()
		case 9:
			md.HWModel = f.uint32()
		}
		return nil
	})
	return md, err
}

// ============================================================================
// MeshPacket / Data
// ============================================================================

// Packet is a decoded MeshPacket as delivered to receive handlers. FromID and
// ToID carry the canonical "!xxxxxxxx" rendering; the broadcast address is
// rendered as "^all".
type Packet struct {
	From      uint32
	To        uint32
	FromID    string
	ToID      string
	Channel   uint32
	ID        uint32
	RxTime    uint32
	RxSNR     float32
	RxRSSI    int32
	HopLimit  uint32
	HopStart  uint32
	WantAck   bool
	ViaMQTT   bool
	Decoded   *Data
	Encrypted []byte
}

// Data is the decoded application payload of a MeshPacket.
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
	Emoji        uint32
}

// DecodeMeshPacket parses a MeshPacket and fills FromID/ToID.
func DecodeMeshPacket(b []byte) (*Packet, error) {
	p := &Packet{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			p.From = f.uint32()
		case 2:
			p.To = f.uint32()
		case 3:
			p.Channel = f.uint32()
		case 4:
			p.Decoded, err = decodeData(f.bytes)
		case 5:
			p.Encrypted = f.copyBytes()
		case 6:
			p.ID = f.uint32()
		case 7:
			p.RxTime = f.uint32()
		case 8:
			p.RxSNR = f.float32()
		case 9:
			p.HopLimit = f.uint32()
		case 10:
			p.WantAck = f.bool()
		case 12:
			p.RxRSSI = f.int32()
		case 14:
			p.ViaMQTT = f.bool()
		case 15:
			p.HopStart = f.uint32()
		}
		return err
	})
	p.FromID = NodeID(p.From)
	p.ToID = NodeID(p.To)
	return p, err
}

func decodeData(b []byte) (*Data, error) {
	d := &Data{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			d.PortNum = PortNum(f.int32())
		case 2:
			d.Payload = f.copyBytes()
		case 3:
			d.WantResponse = f.bool()
		case 4:
			d.Dest = f.uint32()
		case 5:
			d.Source = f.uint32()
		case 6:
			d.RequestID = f.uint32()
		case 7:
			d.ReplyID = f.uint32()
		case 8:
			d.Emoji = f.uint32()
		}
		return nil
	})
	return d, err
}

// ============================================================================
// Application payloads
// ============================================================================

// User is the NODEINFO_APP payload.
type User struct {
	ID         string
	LongName   string
	ShortName  string
	MacAddr    []byte
	HWModel    uint32
	IsLicensed bool
	Role       uint32
	PublicKey  []byte
}

// DecodeUser parses a User message.
func DecodeUser(b []byte) (*User, error) {
	u := &User{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			u.ID = f.string()
		case 2:
			u.LongName = f.string()
		case 3:
			u.ShortName = f.string()
		case 4:
			u.MacAddr = f.copyBytes()
		case 5:
			u.HWModel = f.uint32()
		case 6:
			u.IsLicensed = f.bool()
		case 7:
			u.Role = f.uint32()
		case 8:
			u.PublicKey = f.copyBytes()
		}
		return nil
	})
	return u, err
}

// Position is the POSITION_APP payload. Optional scalars are nil when absent.
type Position struct {
	LatitudeI     *int32
	LongitudeI    *int32
	Altitude      *int32
	Time          uint32
	GroundSpeed   *uint32
	GroundTrack   *uint32
	SatsInView    uint32
	PrecisionBits uint32
}

// Latitude returns degrees, or false when the fix carries no latitude.
func (p *Position) Latitude() (float64, bool) {
	if p.LatitudeI == nil {
		return 0, false
	}
	return float64(*p.LatitudeI) / 1e7, true
}

// Longitude returns degrees, or false when the fix carries no longitude.
func (p *Position) Longitude() (float64, bool) {
	if p.LongitudeI == nil {
		return 0, false
	}
	return float64(*p.LongitudeI) / 1e7, true
}

// DecodePosition parses a Position message.
func DecodePosition(b []byte) (*Position, error) {
	p := &Position{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			p.LatitudeI = ptr(f.int32())
		case 2:
			p.LongitudeI = ptr(f.int32())
		case 3:
			p.Altitude = ptr(f.int32())
		case 4:
			p.Time = f.uint32()
		case 15:
			p.GroundSpeed = ptr(f.uint32())
		case 16:
			p.GroundTrack = ptr(f.uint32())
		case 19:
			p.SatsInView = f.uint32()
		case 23:
			p.PrecisionBits = f.uint32()
		}
		return nil
	})
	return p, err
}

// Telemetry is the TELEMETRY_APP payload; exactly one variant is normally set.
type Telemetry struct {
	Time        uint32
	Device      *DeviceMetrics
	Environment *EnvironmentMetrics
	AirQuality  *AirQualityMetrics
	Power       *PowerMetrics
}

// DeviceMetrics reports battery and channel usage of a node.
type DeviceMetrics struct {
	BatteryLevel       *uint32
	Voltage            *float32
	ChannelUtilization *float32
	AirUtilTx          *float32
	UptimeSeconds      *uint32
}

// EnvironmentMetrics reports attached environment sensor readings.
type EnvironmentMetrics struct {
	Temperature        *float32
	RelativeHumidity   *float32
	BarometricPressure *float32
	GasResistance      *float32
	Voltage            *float32
	Current            *float32
	IAQ                *uint32
	Distance           *float32
	Lux                *float32
	WindDirection      *uint32
	WindSpeed          *float32
}

// AirQualityMetrics reports particulate and CO2 readings.
type AirQualityMetrics struct {
	PM10Standard       *uint32
	PM25Standard       *uint32
	PM100Standard      *uint32
	PM10Environmental  *uint32
	PM25Environmental  *uint32
	PM100Environmental *uint32
	CO2                *uint32
}

// PowerMetrics reports up to three voltage/current channels.
type PowerMetrics struct {
	Ch1Voltage *float32
	Ch1Current *float32
	Ch2Voltage *float32
	Ch2Current *float32
	Ch3Voltage *float32
	Ch3Current *float32
}

// DecodeTelemetry parses a Telemetry message.
func DecodeTelemetry(b []byte) (*Telemetry, error) {
	t := &Telemetry{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Time = f.uint32()
		case 2:
			t.Device, err = decodeDeviceMetrics(f.bytes)
		case 3:
			t.Environment, err = decodeEnvironmentMetrics(f.bytes)
		case 4:
			t.AirQuality, err = decodeAirQualityMetrics(f.bytes)
		case 5:
			t.Power, err = decodePowerMetrics(f.bytes)
		}
		return err
	})
	return t, err
}

func decodeDeviceMetrics(b []byte) (*DeviceMetrics, error) {
	m := &DeviceMetrics{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.BatteryLevel = ptr(f.uint32())
		case 2:
			m.Voltage = ptr(f.float32())
		case 3:
			m.ChannelUtilization = ptr(f.float32())
		case 4:
			m.AirUtilTx = ptr(f.float32())
		case 5:
			m.UptimeSeconds = ptr(f.uint32())
		}
		return nil
	})
	return m, err
}

func decodeEnvironmentMetrics(b []byte) (*EnvironmentMetrics, error) {
	m := &EnvironmentMetrics{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Temperature = ptr(f.float32())
		case 2:
			m.RelativeHumidity = ptr(f.float32())
		case 3:
			m.BarometricPressure = ptr(f.float32())
		case 4:
			m.GasResistance = ptr(f.float32())
		case 5:
			m.Voltage = ptr(f.float32())
		case 6:
			m.Current = ptr(f.float32())
		case 7:
			m.IAQ = ptr(f.uint32())
		case 8:
			m.Distance = ptr(f.float32())
		case 9:
			m.Lux = ptr(f.float32())
		case 13:
			m.WindDirection = ptr(f.uint32())
		case 14:
			m.WindSpeed = ptr(f.float32())
		}
		return nil
	})
	return m, err
}

func decodeAirQualityMetrics(b []byte) (*AirQualityMetrics, error) {
	m := &AirQualityMetrics{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.PM10Standard = ptr(f.uint32())
		case 2:
			m.PM25Standard = ptr(f.uint32())
		case 3:
			m.PM100Standard = ptr(f.uint32())
		case 4:
			m.PM10Environmental = ptr(f.uint32())
		case 5:
			m.PM25Environmental = ptr(f.uint32())
		case 6:
			m.PM100Environmental = ptr(f.uint32())
		case 13:
			m.CO2 = ptr(f.uint32())
		}
		return nil
	})
	return m, err
}

func decodePowerMetrics(b []byte) (*PowerMetrics, error) {
	m := &PowerMetrics{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Ch1Voltage = ptr(f.float32())
		case 2:
			m.Ch1Current = ptr(f.float32())
		case 3:
			m.Ch2Voltage = ptr(f.float32())
		case 4:
			m.Ch2Current = ptr(f.float32())
		case 5:
			m.Ch3Voltage = ptr(f.float32())
		case 6:
			m.Ch3Current = ptr(f.float32())
		}
		return nil
	})
	return m, err
}

// Routing is the ROUTING_APP payload.
type Routing struct {
	RouteRequest *RouteDiscovery
	RouteReply   *RouteDiscovery
	ErrorReason  RoutingError
	HasError     bool
}

// DecodeRouting parses a Routing message.
func DecodeRouting(b []byte) (*Routing, error) {
	r := &Routing{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			r.RouteRequest, err = DecodeRouteDiscovery(f.bytes)
		case 2:
			r.RouteReply, err = DecodeRouteDiscovery(f.bytes)
		case 3:
			r.ErrorReason = RoutingError(f.int32())
			r.HasError = true
		}
		return err
	})
	return r, err
}

// RouteDiscovery is the TRACEROUTE_APP payload. SNR values are dB scaled by 4.
type RouteDiscovery struct {
	Route      []uint32
	SNRTowards []int32
	RouteBack  []uint32
	SNRBack    []int32
}

// DecodeRouteDiscovery parses a RouteDiscovery message.
func DecodeRouteDiscovery(b []byte) (*RouteDiscovery, error) {
	rd := &RouteDiscovery{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			rd.Route, err = repeatedFixed32(rd.Route, f)
		case 2:
			rd.SNRTowards, err = repeatedInt32(rd.SNRTowards, f)
		case 3:
			rd.RouteBack, err = repeatedFixed32(rd.RouteBack, f)
		case 4:
			rd.SNRBack, err = repeatedInt32(rd.SNRBack, f)
		}
		return err
	})
	return rd, err
}

// NeighborInfo is the NEIGHBORINFO_APP payload.
type NeighborInfo struct {
	NodeID                uint32
	LastSentByID          uint32
	BroadcastIntervalSecs uint32
	Neighbors             []Neighbor
}

// Neighbor is one directly heard node.
type Neighbor struct {
	NodeID uint32
	SNR    float32
}

// DecodeNeighborInfo parses a NeighborInfo message.
func DecodeNeighborInfo(b []byte) (*NeighborInfo, error) {
	ni := &NeighborInfo{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			ni.NodeID = f.uint32()
		case 2:
			ni.LastSentByID = f.uint32()
		case 3:
			ni.BroadcastIntervalSecs = f.uint32()
		case 4:
			var n Neighbor
			err := walk(f.bytes, func(nf field) error {
				switch nf.num {
				case 1:
					n.NodeID = nf.uint32()
				case 2:
					n.SNR = nf.float32()
				}
				return nil
			})
			if err != nil {
				return err
			}
			ni.Neighbors = append(ni.Neighbors, n)
		}
		return nil
	})
	return ni, err
}

// Waypoint is the WAYPOINT_APP payload.
type Waypoint struct {
	ID          uint32
	LatitudeI   *int32
	LongitudeI  *int32
	Expire      uint32
	LockedTo    uint32
	Name        string
	Description string
	Icon        uint32
}

// DecodeWaypoint parses a Waypoint message.
func DecodeWaypoint(b []byte) (*Waypoint, error) {
	w := &Waypoint{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			w.ID = f.uint32()
		case 2:
			w.LatitudeI = ptr(f.int32())
		case 3:
			w.LongitudeI = ptr(f.int32())
		case 4:
			w.Expire = f.uint32()
		case 5:
			w.LockedTo = f.uint32()
		case 6:
			w.Name = f.string()
		case 7:
			w.Description = f.string()
		case 8:
			w.Icon = f.uint32()
		}
		return nil
	})
	return w, err
}

// Paxcount is the PAXCOUNTER_APP payload.
type Paxcount struct {
	WiFi   uint32
	BLE    uint32
	Uptime uint32
}

// DecodePaxcount parses a Paxcount message.
func DecodePaxcount(b []byte) (*Paxcount, error) {
	p := &Paxcount{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			p.WiFi = f.uint32()
		case 2:
			p.BLE = f.uint32()
		case 3:
			p.Uptime = f.uint32()
		}
		return nil
	})
	return p, err
}

// StoreAndForward is the STORE_FORWARD_APP payload, reduced to its
// request/response code and an optional text body.
type StoreAndForward struct {
	RR   uint32
	Text []byte
}

// DecodeStoreAndForward parses a StoreAndForward message.
func DecodeStoreAndForward(b []byte) (*StoreAndForward, error) {
	s := &StoreAndForward{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			s.RR = f.uint32()
		case 5:
			s.Text = f.copyBytes()
		}
		return nil
	})
	return s, err
}

// AdminVariant returns the field number of the populated AdminMessage oneof,
// or 0 for an empty message. Admin payloads are not interpreted further.
func AdminVariant(b []byte) (int, error) {
	variant := 0
	err := walk(b, func(f field) error {
		if variant == 0 && f.num != 100 { // 100 is session_passkey
			variant = int(f.num)
		}
		return nil
	})
	return variant, err
}

// ============================================================================
// ToRadio builders
// ============================================================================

// OutgoingPacket describes a MeshPacket to transmit.
type OutgoingPacket struct {
	To           uint32
	Channel      uint32
	ID           uint32
	HopLimit     uint32
	WantAck      bool
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
}

// EncodeWantConfig builds ToRadio{want_config_id}.
func EncodeWantConfig(configID uint32) []byte {
	b := protowire.AppendTag(nil, 3, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(configID))
}

// EncodeDisconnect builds ToRadio{disconnect: true}.
func EncodeDisconnect() []byte {
	b := protowire.AppendTag(nil, 4, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(true))
}

// EncodePacket builds ToRadio{packet}.
func EncodePacket(p OutgoingPacket) []byte {
	var data []byte
	data = protowire.AppendTag(data, 1, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(p.PortNum))
	data = protowire.AppendTag(data, 2, protowire.BytesType)
	data = protowire.AppendBytes(data, p.Payload)
	if p.WantResponse {
		data = protowire.AppendTag(data, 3, protowire.VarintType)
		data = protowire.AppendVarint(data, protowire.EncodeBool(true))
	}

	var pkt []byte
	pkt = protowire.AppendTag(pkt, 2, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, p.To)
	if p.Channel != 0 {
		pkt = protowire.AppendTag(pkt, 3, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, uint64(p.Channel))
	}
	pkt = protowire.AppendTag(pkt, 4, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)
	pkt = protowire.AppendTag(pkt, 6, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, p.ID)
	if p.HopLimit != 0 {
		pkt = protowire.AppendTag(pkt, 9, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, uint64(p.HopLimit))
	}
	if p.WantAck {
		pkt = protowire.AppendTag(pkt, 10, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, protowire.EncodeBool(true))
	}

	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(b, pkt)
}

// EncodeRouteDiscovery serializes a RouteDiscovery with packed repeated fields.
func EncodeRouteDiscovery(rd RouteDiscovery) []byte {
	var b []byte
	b = appendPackedFixed32(b, 1, rd.Route)
	b = appendPackedInt32(b, 2, rd.SNRTowards)
	b = appendPackedFixed32(b, 3, rd.RouteBack)
	b = appendPackedInt32(b, 4, rd.SNRBack)
	return b
}

// EncodeRouting serializes a Routing message carrying only an error reason.
func EncodeRouting(reason RoutingError) []byte {
	b := protowire.AppendTag(nil, 3, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(reason))
}

func appendPackedFixed32(b []byte, num protowire.Number, vals []uint32) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedInt32(b []byte, num protowire.Number, vals []int32) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}
