package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// TracerouteRequest is the handle returned when a traceroute is dispatched.
// Done is closed when the probe finishes; the result is published as a
// traceroute or traceroute_error event.
type TracerouteRequest struct {
	ID          string `json:"request_id"`
	Destination string `json:"destination"`
	HopLimit    uint32 `json:"hop_limit"`
	Channel     uint32 `json:"channel"`

	Done <-chan struct{} `json:"-"`
}

// Tracer runs traceroute probes in the background. Concurrent probes to the
// same destination are not serialized.
type Tracer struct {
	publish func(Payload)
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracer creates a tracer. Probes are cancelled by Stop.
func NewTracer(publish func(Payload), logger *slog.Logger, metrics *Metrics) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracer{
		publish: publish,
		logger:  logger.With("component", "traceroute"),
		metrics: metrics,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start validates dest and dispatches a probe. It returns once the probe
// goroutine is running; the returned request only confirms dispatch.
func (t *Tracer) Start(r Radio, dest string, hopLimit, channel uint32) (*TracerouteRequest, error) {
	num, err := radio.ParseNodeID(dest)
	if err != nil {
		return nil, err
	}
	if num == radio.BroadcastNum {
		return nil, fmt.Errorf("traceroute needs a single destination, got %q", dest)
	}
	if hopLimit == 0 {
		hopLimit = radio.DefaultHopLimit
	}

	done := make(chan struct{})
	req := &TracerouteRequest{
		ID:          newID(t.now()),
		Destination: dest,
		HopLimit:    hopLimit,
		Channel:     channel,
		Done:        done,
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(done)
		t.probe(r, req, num)
	}()
	return req, nil
}

func (t *Tracer) probe(r Radio, req *TracerouteRequest, num uint32) {
	log := t.logger.With("destination", req.Destination, "request_id", req.ID)

	failed := make(chan string, 1)
	onResponse := func(pkt radio.Packet) {
		if d := pkt.Decoded; d != nil && d.PortNum == radio.PortRouting {
			if rt, err := radio.DecodeRouting(d.Payload); err == nil && rt.ErrorReason != radio.RoutingErrorNone {
				select {
				case failed <- rt.ErrorReason.String():
				default:
				}
			}
		}
	}

	id, err := r.SendData(t.ctx, radio.EncodeRouteDiscovery(radio.RouteDiscovery{}), radio.SendOptions{
		Destination:  num,
		PortNum:      radio.PortTraceroute,
		Channel:      req.Channel,
		HopLimit:     req.HopLimit,
		WantResponse: true,
		OnResponse:   onResponse,
	})
	if err != nil {
		t.fail(log, req, err.Error(), fmt.Errorf("%w: %w", ErrTracerouteFailed, err))
		return
	}
	log.Info("traceroute sent", "packet_id", id, "hop_limit", req.HopLimit)

	factor := min(r.NodeCount()-1, int(req.HopLimit))
	if factor < 1 {
		factor = 1
	}
	if err := r.WaitForResponse(t.ctx, id, factor); err != nil {
		if isTimeout(err) {
			t.fail(log, req, "TIMEOUT", fmt.Errorf("%w: %w", ErrTracerouteTimeout, err))
			return
		}
		t.fail(log, req, err.Error(), fmt.Errorf("%w: %w", ErrTracerouteFailed, err))
		return
	}

	select {
	case reason := <-failed:
		t.fail(log, req, reason, fmt.Errorf("%w: %s", ErrTracerouteFailed, reason))
	default:
		// The route itself reaches subscribers through the classifier.
		t.metrics.traceroute("completed")
		log.Info("traceroute completed")
	}
}

func (t *Tracer) fail(log *slog.Logger, req *TracerouteRequest, reason string, err error) {
	if reason == "TIMEOUT" {
		t.metrics.traceroute("timeout")
	} else {
		t.metrics.traceroute("failed")
	}
	log.Warn("traceroute failed", "error", err)
	if t.publish != nil {
		t.publish(TracerouteErrorPayload{
			Destination: req.Destination,
			Error:       reason,
			RequestID:   req.ID,
			Timestamp:   timestamp(t.now()),
		})
	}
}

// Stop cancels in-flight probes and waits for them to exit.
func (t *Tracer) Stop() {
	t.cancel()
	t.wg.Wait()
}

// Wait blocks until every in-flight probe has finished.
func (t *Tracer) Wait() {
	t.wg.Wait()
}

func isTimeout(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
