package jobs

import (
	"context"
	"log/slog"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// NodeSource is the live NodeDB.
type NodeSource interface {
	Status() mesh.Status
	Nodes() map[string]radio.Node
}

// NodeSink persists a NodeDB snapshot.
type NodeSink interface {
	SyncNodes(ctx context.Context, nodes map[string]radio.Node) (int, error)
}

// AckSweeper expires overdue outstanding sends.
type AckSweeper interface {
	SweepAcks() int
}

// NodeSync copies the radio's NodeDB into the store. It does nothing while
// the link is down.
func NodeSync(src NodeSource, sink NodeSink, logger *slog.Logger) Func {
	return func(ctx context.Context) error {
		if !src.Status().Connected {
			return nil
		}
		n, err := sink.SyncNodes(ctx, src.Nodes())
		if err != nil {
			return err
		}
		logger.Debug("node sync", "synced", n)
		return nil
	}
}

// AckSweep abandons sends whose ack window has passed. No event is published.
func AckSweep(s AckSweeper, logger *slog.Logger) Func {
	return func(context.Context) error {
		if n := s.SweepAcks(); n > 0 {
			logger.Info("expired pending acks", "count", n)
		}
		return nil
	}
}
