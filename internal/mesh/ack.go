package mesh

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// DefaultAckTimeout is how long a direct message may wait for its routing
// response before the correlator abandons it.
const DefaultAckTimeout = 2 * time.Minute

// OutstandingSend is a direct message awaiting a delivery response.
type OutstandingSend struct {
	ID          string
	Destination string
	Text        string
	Created     time.Time

	once    sync.Once
	release func()
}

type sendKey struct {
	dest string
	text string
}

// Correlator matches routing responses to direct messages and publishes one
// ack event per send. Sends are keyed by (destination, text): a later
// identical send hides the earlier one.
type Correlator struct {
	mu      sync.Mutex
	pending map[sendKey]*OutstandingSend

	timeout time.Duration
	publish func(Payload)
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewCorrelator creates a correlator publishing ack payloads with publish.
func NewCorrelator(timeout time.Duration, publish func(Payload), logger *slog.Logger, metrics *Metrics) *Correlator {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pending: make(map[sendKey]*OutstandingSend),
		timeout: timeout,
		publish: publish,
		logger:  logger.With("component", "ack"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Track registers a send to dest and returns it with the response handler to
// pass to the driver. Broadcast destinations must not be tracked.
func (c *Correlator) Track(dest, text string) (*OutstandingSend, radio.ResponseHandler) {
	now := c.now()
	send := &OutstandingSend{
		ID:          newID(now),
		Destination: dest,
		Text:        text,
		Created:     now,
	}

	c.mu.Lock()
	c.pending[sendKey{dest, text}] = send
	n := len(c.pending)
	c.mu.Unlock()
	c.metrics.setPending(n)

	return send, func(pkt radio.Packet) { c.handleResponse(send, pkt) }
}

// Forget drops a send whose dispatch failed. No event is published.
func (c *Correlator) Forget(send *OutstandingSend) {
	send.once.Do(func() { c.remove(send) })
}

// Attach sets the func that releases the driver's response handler for
// send. Sweep calls it when the send is abandoned.
func (c *Correlator) Attach(send *OutstandingSend, release func()) {
	c.mu.Lock()
	send.release = release
	c.mu.Unlock()
}

// Pending returns the number of outstanding sends.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Sweep abandons sends older than the ack timeout and returns how many were
// dropped. The driver-side response handler of each abandoned send is
// released, so a response arriving after the sweep is ignored.
func (c *Correlator) Sweep(now time.Time) int {
	c.mu.Lock()
	var expired []*OutstandingSend
	for _, s := range c.pending {
		if now.Sub(s.Created) >= c.timeout {
			expired = append(expired, s)
		}
	}
	c.mu.Unlock()

	for _, s := range expired {
		s.once.Do(func() {
			c.remove(s)
			c.mu.Lock()
			release := s.release
			c.mu.Unlock()
			if release != nil {
				release()
			}
			c.logger.Info("no delivery response, giving up", "to", s.Destination, "send_id", s.ID, "age", now.Sub(s.Created).Round(time.Second))
		})
	}
	return len(expired)
}

func (c *Correlator) handleResponse(send *OutstandingSend, pkt radio.Packet) {
	reason := radio.RoutingErrorNone
	if d := pkt.Decoded; d != nil && d.PortNum == radio.PortRouting {
		r, err := radio.DecodeRouting(d.Payload)
		if err != nil {
			c.logger.Warn("undecodable routing response", "to", send.Destination, "error", err)
		} else {
			reason = r.ErrorReason
		}
	}

	send.once.Do(func() {
		c.remove(send)

		p := AckPayload{
			ToNodeID:  send.Destination,
			Text:      send.Text,
			Success:   reason == radio.RoutingErrorNone,
			SendID:    send.ID,
			Timestamp: timestamp(c.now()),
		}
		if !p.Success {
			p.Error = reason.String()
			c.logger.Warn("message not delivered", "to", send.Destination, "error", fmt.Errorf("%w: %s", ErrDeliveryFailed, p.Error))
		} else {
			c.logger.Debug("message delivered", "to", send.Destination, "send_id", send.ID)
		}
		c.metrics.ack(p.Success)
		if c.publish != nil {
			c.publish(p)
		}
	})
}

// remove deletes send if it is still the pending entry for its key.
func (c *Correlator) remove(send *OutstandingSend) {
	c.mu.Lock()
	key := sendKey{send.Destination, send.Text}
	if c.pending[key] == send {
		delete(c.pending, key)
	}
	n := len(c.pending)
	c.mu.Unlock()
	c.metrics.setPending(n)
}

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
