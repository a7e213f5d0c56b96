package status

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saxis/internal/motion"
	"saxis/internal/protocol"
)

// fakeTransport blocks each Status call until a reply is pushed.
type fakeTransport struct {
	mu      sync.Mutex
	queries []protocol.Query
	replies chan Result
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(chan Result, 8)}
}

func (f *fakeTransport) Status(ctx context.Context, q protocol.Query) (*protocol.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	select {
	case r := <-f.replies:
		return r.Response, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Scene(ctx context.Context) (*protocol.Scene, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) calls() []protocol.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Query(nil), f.queries...)
}

type fakeRecorder struct {
	started, stopped []int64
}

func (r *fakeRecorder) RecordingStarted(n int64) { r.started = append(r.started, n) }
func (r *fakeRecorder) RecordingStopped(n int64) { r.stopped = append(r.stopped, n) }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var now0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPoller(t *testing.T, opts ...Option) (*Poller, *fakeTransport, *motion.Player, *motion.PoseState) {
	t.Helper()
	ft := newFakeTransport()
	ps := motion.NewPoseState(motion.Pose{0, 0}, nil)
	player := motion.NewPlayer(ps)
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return NewPoller(ft, player, opts...), ft, player, ps
}

func program(seq int64, j ...float64) *protocol.Response {
	return &protocol.Response{
		Pcount:  seq,
		Program: [][]protocol.Pace{{{Frac: 1, J: j}}},
	}
}

func awaitResult(t *testing.T, p *Poller) Result {
	t.Helper()
	select {
	case r := <-p.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status result")
		return Result{}
	}
}

func TestPoller_single_in_flight(t *testing.T) {
	p, ft, _, _ := newTestPoller(t)
	ctx := context.Background()

	require.True(t, p.Poll(ctx))
	assert.False(t, p.Poll(ctx), "second poll while outstanding must be a no-op")
	assert.True(t, p.InFlight())

	ft.replies <- Result{Response: &protocol.Response{}}
	r := awaitResult(t, p)
	require.NoError(t, p.Complete(r, now0))
	assert.False(t, p.InFlight())
	assert.Len(t, ft.calls(), 1)
	assert.Equal(t, uint64(1), p.Polls())

	require.True(t, p.Poll(ctx))
	ft.replies <- Result{Response: &protocol.Response{}}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))
	assert.Len(t, ft.calls(), 2)
}

func TestPoller_adopts_new_program(t *testing.T) {
	p, ft, player, _ := newTestPoller(t)

	require.True(t, p.Poll(context.Background()))
	ft.replies <- Result{Response: program(1, 1, 1)}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))

	assert.Equal(t, motion.StatePlaying, player.State())
	assert.Equal(t, int64(1), player.LastSequence())
}

func TestPoller_ignores_stale_program(t *testing.T) {
	p, ft, player, _ := newTestPoller(t)

	p.Poll(context.Background())
	ft.replies <- Result{Response: program(3, 1, 1)}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))

	p.Poll(context.Background())
	ft.replies <- Result{Response: program(3, 9, 9)}
	require.NoError(t, p.Complete(awaitResult(t, p), now0.Add(time.Second/2)))

	assert.Equal(t, now0, player.Progress().Clock, "stale program must not restart playback")
	stopped, _ := p.Stopped()
	assert.False(t, stopped)
}

func TestPoller_echoes_completed_sequence(t *testing.T) {
	p, ft, player, _ := newTestPoller(t)
	ctx := context.Background()

	p.Poll(ctx)
	ft.replies <- Result{Response: program(5, 1, 1)}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))
	assert.Equal(t, int64(0), ft.calls()[0].Pcount)

	p.Poll(ctx)
	ft.replies <- Result{Response: &protocol.Response{Pcount: 5}}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))
	assert.Equal(t, int64(0), ft.calls()[1].Pcount, "program still in progress")

	require.NoError(t, player.Tick(now0.Add(2*time.Second)))
	require.Equal(t, motion.StateDone, player.State())

	p.Poll(ctx)
	ft.replies <- Result{Response: &protocol.Response{Pcount: 5}}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))
	assert.Equal(t, int64(5), ft.calls()[2].Pcount)
	assert.Equal(t, protocol.CmdStatus, ft.calls()[2].Cmd)
}

func TestPoller_pose_bootstrap_only_before_program(t *testing.T) {
	p, ft, _, ps := newTestPoller(t)
	ctx := context.Background()

	p.Poll(ctx)
	ft.replies <- Result{Response: &protocol.Response{Pose: &protocol.WirePose{J: []float64{0.5, -0.5}}}}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))
	assert.Equal(t, motion.Pose{0.5, -0.5}, ps.Snapshot())

	p.Poll(ctx)
	resp := program(1, 1, 1)
	resp.Pose = &protocol.WirePose{J: []float64{3, 3}}
	ft.replies <- Result{Response: resp}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))
	assert.Equal(t, motion.Pose{0.5, -0.5}, ps.Snapshot(), "pose after adoption is ignored")
}

func TestPoller_failures_stop_polling(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		check  func(t *testing.T, err error)
	}{
		{
			name:   "transport",
			result: Result{Err: &TransportError{Err: errors.New("connection refused")}},
			check: func(t *testing.T, err error) {
				var te *TransportError
				assert.ErrorAs(t, err, &te)
			},
		},
		{
			name:   "unclassified error becomes transport",
			result: Result{Err: errors.New("boom")},
			check: func(t *testing.T, err error) {
				var te *TransportError
				assert.ErrorAs(t, err, &te)
			},
		},
		{
			name:   "server",
			result: Result{Err: &ServerError{Message: "no robot"}},
			check: func(t *testing.T, err error) {
				var se *ServerError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, "no robot", se.Message)
			},
		},
		{
			name: "invalid program",
			result: Result{Response: &protocol.Response{
				Pcount:  1,
				Program: [][]protocol.Pace{{{Frac: 2, J: []float64{0, 0}}, {Frac: 1, J: []float64{0, 0}}}},
			}},
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				require.ErrorAs(t, err, &pe)
				assert.ErrorIs(t, err, motion.ErrInvalidProgram)
			},
		},
		{
			name:   "missing response",
			result: Result{},
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				assert.ErrorAs(t, err, &pe)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ft, _, _ := newTestPoller(t)
			require.True(t, p.Poll(context.Background()))
			ft.replies <- tt.result
			err := p.Complete(awaitResult(t, p), now0)
			require.Error(t, err)
			tt.check(t, err)

			stopped, stopErr := p.Stopped()
			assert.True(t, stopped)
			assert.Equal(t, err, stopErr)
			assert.False(t, p.Poll(context.Background()), "polling never resumes after a failure")
		})
	}
}

func TestPoller_late_result_after_stop_is_discarded(t *testing.T) {
	p, _, player, _ := newTestPoller(t)

	require.Error(t, p.Complete(Result{Err: errors.New("lost")}, now0))
	require.NoError(t, p.Complete(Result{Response: program(1, 1, 1)}, now0))
	assert.False(t, player.Adopted())
}

func TestPoller_recording_signals(t *testing.T) {
	rec := &fakeRecorder{}
	p, ft, player, _ := newTestPoller(t, WithRecorder(rec, RecordingConfig{StartPcount: 4, StopPcount: 5}))
	ctx := context.Background()

	for seq := int64(3); seq <= 6; seq++ {
		require.True(t, p.Poll(ctx))
		ft.replies <- Result{Response: program(seq, 1, 1)}
		require.NoError(t, p.Complete(awaitResult(t, p), now0))
		require.Equal(t, seq, player.LastSequence())
	}

	assert.Equal(t, []int64{4}, rec.started)
	assert.Equal(t, []int64{5}, rec.stopped)
}

func TestPoller_recording_disabled_by_zero(t *testing.T) {
	rec := &fakeRecorder{}
	p, ft, _, _ := newTestPoller(t, WithRecorder(rec, RecordingConfig{}))

	p.Poll(context.Background())
	ft.replies <- Result{Response: program(1, 1, 1)}
	require.NoError(t, p.Complete(awaitResult(t, p), now0))

	assert.Empty(t, rec.started)
	assert.Empty(t, rec.stopped)
}

func TestPoller_rejects_malformed_pose(t *testing.T) {
	for _, j := range [][]float64{{7}, {1, 2, 3, 4}, {}} {
		p, ft, player, ps := newTestPoller(t)

		require.True(t, p.Poll(context.Background()))
		ft.replies <- Result{Response: &protocol.Response{Pose: &protocol.WirePose{J: j}}}
		err := p.Complete(awaitResult(t, p), now0)

		var pe *ProtocolError
		require.ErrorAs(t, err, &pe, "pose %v", j)
		stopped, _ := p.Stopped()
		assert.True(t, stopped)
		assert.Equal(t, motion.Pose{0, 0}, ps.Snapshot(), "malformed pose must not be applied")
		assert.False(t, player.Adopted())
	}
}

func TestPoller_malformed_pose_blocks_program(t *testing.T) {
	p, ft, player, _ := newTestPoller(t)

	require.True(t, p.Poll(context.Background()))
	resp := program(1, 1, 1)
	resp.Pose = &protocol.WirePose{J: []float64{1}}
	ft.replies <- Result{Response: resp}

	var pe *ProtocolError
	require.ErrorAs(t, p.Complete(awaitResult(t, p), now0), &pe)
	assert.False(t, player.Adopted(), "nothing from a malformed response is adopted")
}
