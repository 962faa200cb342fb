package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddRejectsBadSchedule(t *testing.T) {
	s := New(discardLogger())

	err := s.Add("broken", "every five minutes", 0, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Empty(t, s.Jobs())
}

func TestAddEmptyScheduleDisablesJob(t *testing.T) {
	s := New(discardLogger())

	require.NoError(t, s.Add("off", "", 0, func(context.Context) error { return nil }))
	assert.Empty(t, s.Jobs())
}

func TestRunExecutesJobsUntilCancelled(t *testing.T) {
	s := New(discardLogger())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", time.Second, func(context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}))
	assert.Equal(t, []string{"tick"}, s.Jobs())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeSource struct {
	connected bool
	nodes     map[string]radio.Node
}

func (f fakeSource) Status() mesh.Status          { return mesh.Status{Connected: f.connected} }
func (f fakeSource) Nodes() map[string]radio.Node { return f.nodes }

type fakeSink struct {
	calls int
	got   map[string]radio.Node
	err   error
}

func (f *fakeSink) SyncNodes(_ context.Context, nodes map[string]radio.Node) (int, error) {
	f.calls++
	f.got = nodes
	return len(nodes), f.err
}

func TestNodeSync(t *testing.T) {
	nodes := map[string]radio.Node{"!00000001": {Num: 1}}

	sink := &fakeSink{}
	require.NoError(t, NodeSync(fakeSource{connected: false, nodes: nodes}, sink, discardLogger())(context.Background()))
	assert.Zero(t, sink.calls)

	require.NoError(t, NodeSync(fakeSource{connected: true, nodes: nodes}, sink, discardLogger())(context.Background()))
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, nodes, sink.got)

	sink.err = errors.New("disk full")
	assert.EqualError(t, NodeSync(fakeSource{connected: true, nodes: nodes}, sink, discardLogger())(context.Background()), "disk full")
}

type fakeSweeper struct{ swept int }

func (f *fakeSweeper) SweepAcks() int {
	f.swept++
	return 2
}

func TestAckSweep(t *testing.T) {
	s := &fakeSweeper{}
	require.NoError(t, AckSweep(s, discardLogger())(context.Background()))
	assert.Equal(t, 1, s.swept)
}
