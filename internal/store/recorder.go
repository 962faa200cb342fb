package store

import (
	"context"
	"fmt"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// Record is a mesh.Handler persisting the events the dashboard keeps
// history for. Other kinds are ignored.
func (s *Store) Record(ctx context.Context, ev mesh.Event) error {
	switch p := ev.Data.(type) {
	case mesh.MessagePayload:
		_, err := s.InsertMessage(ctx, Message{
			FromNodeID: nullable(p.FromNodeID),
			ToNodeID:   nullable(p.ToNodeID),
			Channel:    p.Channel,
			Text:       p.Text,
			Timestamp:  ev.Time,
		})
		return err

	case mesh.AckPayload:
		if p.ToNodeID == "" || p.Text == "" {
			return nil
		}
		matched, err := s.MarkAck(ctx, p.ToNodeID, p.Text, p.Success, p.Error)
		if err != nil {
			return err
		}
		if !matched {
			s.logger.Debug("ack for unrecorded message", "to", p.ToNodeID)
		}
		return nil

	case mesh.TelemetryPayload:
		if p.Type != mesh.TelemetryDevice {
			return nil
		}
		t := Telemetry{
			NodeID:             p.NodeID,
			BatteryLevel:       p.BatteryLevel,
			Voltage:            widen(p.Voltage),
			ChannelUtilization: widen(p.ChannelUtilization),
			AirUtilTx:          widen(p.AirUtilTx),
			UptimeSeconds:      p.UptimeSeconds,
			Timestamp:          ev.Time,
		}
		_, err := s.InsertTelemetry(ctx, t)
		return err

	case mesh.PositionPayload:
		if p.Latitude == nil || p.Longitude == nil {
			return nil
		}
		_, err := s.InsertPosition(ctx, Position{
			NodeID:    p.NodeID,
			Latitude:  *p.Latitude,
			Longitude: *p.Longitude,
			Altitude:  p.Altitude,
			Timestamp: ev.Time,
		})
		return err

	case mesh.NodeUpdatePayload:
		num, err := radio.ParseNodeID(p.NodeID)
		if err != nil {
			return fmt.Errorf("node_update: %w", err)
		}
		heard := ev.Time
		return s.UpsertNode(ctx, Node{
			ID:        p.NodeID,
			Num:       num,
			LongName:  nullable(p.LongName),
			ShortName: nullable(p.ShortName),
			MacAddr:   nullable(p.MacAddr),
			HWModel:   nullable(p.HWModel),
			Role:      nullable(p.Role),
			LastHeard: &heard,
		})
	}
	return nil
}

func widen(v *float32) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
