package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

type payloadSink struct {
	mu       sync.Mutex
	payloads []Payload
}

func (s *payloadSink) publish(p Payload) {
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
}

func (s *payloadSink) acks() []AckPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AckPayload
	for _, p := range s.payloads {
		if a, ok := p.(AckPayload); ok {
			out = append(out, a)
		}
	}
	return out
}

func routingResponse(reason radio.RoutingError) radio.Packet {
	return radio.Packet{
		From:    0xabcd1234,
		Decoded: &radio.Data{PortNum: radio.PortRouting, Payload: radio.EncodeRouting(reason)},
	}
}

func newTestCorrelator(sink *payloadSink) *Correlator {
	c := NewCorrelator(time.Minute, sink.publish, discardLogger(), NewMetrics())
	c.now = func() time.Time { return testNow }
	return c
}

func TestCorrelatorAckSuccessOnce(t *testing.T) {
	sink := &payloadSink{}
	c := newTestCorrelator(sink)

	send, onResponse := c.Track("!abcd1234", "hi")
	require.NotEmpty(t, send.ID)
	assert.Equal(t, 1, c.Pending())

	onResponse(routingResponse(radio.RoutingErrorNone))
	onResponse(routingResponse(radio.RoutingErrorNone))

	acks := sink.acks()
	require.Len(t, acks, 1)
	assert.Equal(t, "!abcd1234", acks[0].ToNodeID)
	assert.Equal(t, "hi", acks[0].Text)
	assert.True(t, acks[0].Success)
	assert.Empty(t, acks[0].Error)
	assert.Equal(t, send.ID, acks[0].SendID)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelatorNakCarriesReason(t *testing.T) {
	sink := &payloadSink{}
	c := newTestCorrelator(sink)

	_, onResponse := c.Track("!abcd1234", "hi")
	onResponse(routingResponse(radio.RoutingError(5)))

	acks := sink.acks()
	require.Len(t, acks, 1)
	assert.False(t, acks[0].Success)
	assert.Equal(t, "MAX_RETRANSMIT", acks[0].Error)
}

func TestCorrelatorNonRoutingResponseIsSuccess(t *testing.T) {
	sink := &payloadSink{}
	c := newTestCorrelator(sink)

	_, onResponse := c.Track("!abcd1234", "hi")
	onResponse(radio.Packet{From: 0xabcd1234})

	acks := sink.acks()
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Success)
}

func TestCorrelatorForget(t *testing.T) {
	sink := &payloadSink{}
	c := newTestCorrelator(sink)

	send, onResponse := c.Track("!abcd1234", "hi")
	c.Forget(send)
	onResponse(routingResponse(radio.RoutingErrorNone))

	assert.Equal(t, 0, c.Pending())
	assert.Empty(t, sink.acks())
}

func TestCorrelatorSweepDropsExpired(t *testing.T) {
	sink := &payloadSink{}
	c := newTestCorrelator(sink)

	_, lateResponse := c.Track("!abcd1234", "old")
	c.now = func() time.Time { return testNow.Add(50 * time.Second) }
	_, _ = c.Track("!abcd1234", "new")

	assert.Equal(t, 1, c.Sweep(testNow.Add(time.Minute)))
	assert.Equal(t, 1, c.Pending())

	lateResponse(routingResponse(radio.RoutingErrorNone))
	assert.Empty(t, sink.acks())
}

func TestCorrelatorSweepReleasesDriverHandler(t *testing.T) {
	sink := &payloadSink{}
	c := newTestCorrelator(sink)

	released := map[string]int{}
	expired, _ := c.Track("!abcd1234", "old")
	c.Attach(expired, func() { released["old"]++ })
	answered, onResponse := c.Track("!abcd1234", "answered")
	c.Attach(answered, func() { released["answered"]++ })
	onResponse(routingResponse(radio.RoutingErrorNone))

	assert.Equal(t, 1, c.Sweep(testNow.Add(time.Hour)))
	assert.Equal(t, 0, c.Sweep(testNow.Add(2*time.Hour)))
	assert.Equal(t, map[string]int{"old": 1}, released)
}

func TestCorrelatorLaterIdenticalSendHidesEarlier(t *testing.T) {
	sink := &payloadSink{}
	c := newTestCorrelator(sink)

	_, first := c.Track("!abcd1234", "same")
	_, second := c.Track("!abcd1234", "same")
	assert.Equal(t, 1, c.Pending())

	first(routingResponse(radio.RoutingErrorNone))
	assert.Equal(t, 1, c.Pending(), "resolving the hidden send must not drop the visible one")

	second(routingResponse(radio.RoutingErrorNone))
	assert.Equal(t, 0, c.Pending())
	assert.Len(t, sink.acks(), 2)
}
