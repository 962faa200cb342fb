package mesh

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// Classify turns one received packet into zero or more events. It is pure:
// the same packet and time always produce the same events. Payloads that
// fail to decode degrade to a raw_unknown event carrying the error.
func Classify(pkt radio.Packet, now time.Time) []Event {
	ts := timestamp(now)

	if pkt.Decoded == nil {
		return []Event{NewEvent(now, RawUnknownPayload{
			FromNodeID: packetFromID(pkt),
			ToNodeID:   packetToID(pkt),
			PortNum:    "ENCRYPTED",
			Payload:    hex.EncodeToString(pkt.Encrypted),
			Channel:    pkt.Channel,
			RxSNR:      pkt.RxSNR,
			RxRSSI:     pkt.RxRSSI,
			Timestamp:  ts,
		})}
	}

	payloads, err := classifyPayload(pkt, ts)
	if err != nil {
		return []Event{NewEvent(now, rawUnknown(pkt, ts, err.Error()))}
	}

	events := make([]Event, 0, len(payloads))
	for _, p := range payloads {
		events = append(events, NewEvent(now, p))
	}
	return events
}

func classifyPayload(pkt radio.Packet, ts string) ([]Payload, error) {
	d := pkt.Decoded
	from := packetFromID(pkt)

	switch d.PortNum {
	case radio.PortTextMessage:
		to := packetToID(pkt)
		return []Payload{MessagePayload{
			FromNodeID: from,
			ToNodeID:   to,
			Channel:    pkt.Channel,
			Text:       payloadText(d.Payload),
			PacketID:   pkt.ID,
			Broadcast:  IsBroadcast(pkt.ToID, pkt.To),
			RxSNR:      pkt.RxSNR,
			RxRSSI:     pkt.RxRSSI,
			HopsAway:   hopsAway(pkt),
			Timestamp:  ts,
		}}, nil

	case radio.PortPosition:
		pos, err := radio.DecodePosition(d.Payload)
		if err != nil {
			return nil, err
		}
		if pos.LatitudeI == nil && pos.LongitudeI == nil && pos.Altitude == nil && pos.Time == 0 {
			return nil, nil
		}
		p := PositionPayload{
			NodeID:        from,
			Altitude:      pos.Altitude,
			SatsInView:    pos.SatsInView,
			GroundSpeed:   pos.GroundSpeed,
			PrecisionBits: pos.PrecisionBits,
			Timestamp:     ts,
		}
		if lat, ok := pos.Latitude(); ok {
			p.Latitude = &lat
		}
		if lon, ok := pos.Longitude(); ok {
			p.Longitude = &lon
		}
		return []Payload{p}, nil

	case radio.PortTelemetry:
		tel, err := radio.DecodeTelemetry(d.Payload)
		if err != nil {
			return nil, err
		}
		return telemetryPayloads(from, tel, ts), nil

	case radio.PortNodeInfo:
		user, err := radio.DecodeUser(d.Payload)
		if err != nil {
			return nil, err
		}
		if user.ID == "" && user.LongName == "" && user.ShortName == "" {
			return nil, nil
		}
		p := NodeUpdatePayload{
			NodeID:    from,
			LongName:  user.LongName,
			ShortName: user.ShortName,
			HWModel:   radio.HWModelName(user.HWModel),
			Role:      radio.RoleName(user.Role),
			Timestamp: ts,
		}
		if len(user.MacAddr) > 0 {
			p.MacAddr = hex.EncodeToString(user.MacAddr)
		}
		return []Payload{p}, nil

	case radio.PortTraceroute:
		rd, err := radio.DecodeRouteDiscovery(d.Payload)
		if err != nil {
			return nil, err
		}
		return []Payload{TraceroutePayload{
			FromNodeID: from,
			ToNodeID:   packetToID(pkt),
			Route:      formatNodeIDs(rd.Route),
			RouteBack:  formatNodeIDs(rd.RouteBack),
			SNRTowards: scaleSNR(rd.SNRTowards),
			SNRBack:    scaleSNR(rd.SNRBack),
			Timestamp:  ts,
		}}, nil

	case radio.PortRouting:
		r, err := radio.DecodeRouting(d.Payload)
		if err != nil {
			return nil, err
		}
		return []Payload{RoutingPayload{
			FromNodeID:  from,
			ToNodeID:    packetToID(pkt),
			RequestID:   d.RequestID,
			ErrorReason: r.ErrorReason.String(),
			Timestamp:   ts,
		}}, nil

	case radio.PortNeighborInfo:
		ni, err := radio.DecodeNeighborInfo(d.Payload)
		if err != nil {
			return nil, err
		}
		p := NeighborInfoPayload{
			NodeID:                from,
			BroadcastIntervalSecs: ni.BroadcastIntervalSecs,
			Neighbors:             make([]Neighbor, 0, len(ni.Neighbors)),
			Timestamp:             ts,
		}
		if ni.NodeID != 0 {
			p.NodeID = FormatNodeID(ni.NodeID)
		}
		if ni.LastSentByID != 0 {
			p.LastSentByID = FormatNodeID(ni.LastSentByID)
		}
		for _, n := range ni.Neighbors {
			p.Neighbors = append(p.Neighbors, Neighbor{NodeID: FormatNodeID(n.NodeID), SNR: n.SNR})
		}
		return []Payload{p}, nil

	case radio.PortWaypoint:
		w, err := radio.DecodeWaypoint(d.Payload)
		if err != nil {
			return nil, err
		}
		p := WaypointPayload{
			FromNodeID:  from,
			ID:          w.ID,
			Name:        w.Name,
			Description: w.Description,
			Expire:      w.Expire,
			Icon:        w.Icon,
			Timestamp:   ts,
		}
		if w.LatitudeI != nil {
			lat := float64(*w.LatitudeI) / 1e7
			p.Latitude = &lat
		}
		if w.LongitudeI != nil {
			lon := float64(*w.LongitudeI) / 1e7
			p.Longitude = &lon
		}
		if w.LockedTo != 0 {
			p.LockedTo = FormatNodeID(w.LockedTo)
		}
		return []Payload{p}, nil

	case radio.PortAdmin:
		variant, err := radio.AdminVariant(d.Payload)
		if err != nil {
			return nil, err
		}
		return []Payload{AdminPayload{
			FromNodeID: from,
			ToNodeID:   packetToID(pkt),
			Variant:    variant,
			Timestamp:  ts,
		}}, nil

	case radio.PortRangeTest:
		return []Payload{RangeTestPayload{
			FromNodeID: from,
			Text:       payloadText(d.Payload),
			RxSNR:      pkt.RxSNR,
			RxRSSI:     pkt.RxRSSI,
			Timestamp:  ts,
		}}, nil

	case radio.PortStoreForward:
		sf, err := radio.DecodeStoreAndForward(d.Payload)
		if err != nil {
			return nil, err
		}
		return []Payload{StoreForwardPayload{
			FromNodeID: from,
			Type:       radio.StoreForwardName(sf.RR),
			Text:       payloadText(sf.Text),
			Timestamp:  ts,
		}}, nil

	case radio.PortDetectionSensor:
		return []Payload{DetectionSensorPayload{
			FromNodeID: from,
			Text:       payloadText(d.Payload),
			Timestamp:  ts,
		}}, nil

	case radio.PortPaxCounter:
		pc, err := radio.DecodePaxcount(d.Payload)
		if err != nil {
			return nil, err
		}
		return []Payload{PaxCounterPayload{
			NodeID:    from,
			WiFi:      pc.WiFi,
			BLE:       pc.BLE,
			Uptime:    pc.Uptime,
			Timestamp: ts,
		}}, nil
	}

	return []Payload{rawUnknown(pkt, ts, "")}, nil
}

func telemetryPayloads(from string, tel *radio.Telemetry, ts string) []Payload {
	var out []Payload
	if m := tel.Device; m != nil {
		out = append(out, TelemetryPayload{
			NodeID:             from,
			Type:               TelemetryDevice,
			BatteryLevel:       m.BatteryLevel,
			Voltage:            m.Voltage,
			ChannelUtilization: m.ChannelUtilization,
			AirUtilTx:          m.AirUtilTx,
			UptimeSeconds:      m.UptimeSeconds,
			Timestamp:          ts,
		})
	}
	if m := tel.Environment; m != nil {
		out = append(out, TelemetryPayload{
			NodeID:             from,
			Type:               TelemetryEnvironment,
			Temperature:        m.Temperature,
			RelativeHumidity:   m.RelativeHumidity,
			BarometricPressure: m.BarometricPressure,
			GasResistance:      m.GasResistance,
			Voltage:            m.Voltage,
			Current:            m.Current,
			IAQ:                m.IAQ,
			Lux:                m.Lux,
			WindDirection:      m.WindDirection,
			WindSpeed:          m.WindSpeed,
			Timestamp:          ts,
		})
	}
	if m := tel.AirQuality; m != nil {
		out = append(out, TelemetryPayload{
			NodeID:        from,
			Type:          TelemetryAirQuality,
			PM10Standard:  m.PM10Standard,
			PM25Standard:  m.PM25Standard,
			PM100Standard: m.PM100Standard,
			CO2:           m.CO2,
			Timestamp:     ts,
		})
	}
	if m := tel.Power; m != nil {
		out = append(out, TelemetryPayload{
			NodeID:     from,
			Type:       TelemetryPower,
			Ch1Voltage: m.Ch1Voltage,
			Ch1Current: m.Ch1Current,
			Ch2Voltage: m.Ch2Voltage,
			Ch2Current: m.Ch2Current,
			Ch3Voltage: m.Ch3Voltage,
			Ch3Current: m.Ch3Current,
			Timestamp:  ts,
		})
	}
	return out
}

func rawUnknown(pkt radio.Packet, ts, decodeErr string) RawUnknownPayload {
	return RawUnknownPayload{
		FromNodeID:  packetFromID(pkt),
		ToNodeID:    packetToID(pkt),
		PortNum:     pkt.Decoded.PortNum.String(),
		Payload:     hex.EncodeToString(pkt.Decoded.Payload),
		Channel:     pkt.Channel,
		RxSNR:       pkt.RxSNR,
		RxRSSI:      pkt.RxRSSI,
		DecodeError: decodeErr,
		Timestamp:   ts,
	}
}

// scaleSNR converts RouteDiscovery SNR values (dB × 4) to dB.
func scaleSNR(raw []int32) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v) / 4
	}
	return out
}

func payloadText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func hopsAway(pkt radio.Packet) *uint32 {
	if pkt.HopStart == 0 || pkt.HopStart < pkt.HopLimit {
		return nil
	}
	hops := pkt.HopStart - pkt.HopLimit
	return &hops
}
