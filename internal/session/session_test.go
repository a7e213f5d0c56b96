package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saxis/internal/motion"
	"saxis/internal/platform/metrics"
	"saxis/internal/programserver"
	"saxis/internal/protocol"
	"saxis/internal/status"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type call struct {
	axis  string
	index int
	rad   float64
}

type fakeRenderer struct {
	mu       sync.Mutex
	calls    []call
	commits  int
	attached uuid.UUID
	spec     motion.JointSpec
}

func (f *fakeRenderer) RotateX(i int, rad float64) { f.add("x", i, rad) }
func (f *fakeRenderer) RotateY(i int, rad float64) { f.add("y", i, rad) }
func (f *fakeRenderer) RotateZ(i int, rad float64) { f.add("z", i, rad) }

func (f *fakeRenderer) add(axis string, i int, rad float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{axis, i, rad})
}

func (f *fakeRenderer) Commit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
}

func (f *fakeRenderer) Attach(id uuid.UUID, spec motion.JointSpec) {
	f.attached = id
	f.spec = spec
}

func (f *fakeRenderer) snapshot() ([]call, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...), f.commits
}

func (f *fakeRenderer) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.commits = 0
}

// sceneTransport serves a fixed scene and never answers status.
type sceneTransport struct {
	scene *protocol.Scene
	err   error
}

func (t sceneTransport) Scene(ctx context.Context) (*protocol.Scene, error) { return t.scene, t.err }

func (t sceneTransport) Status(ctx context.Context, q protocol.Query) (*protocol.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func twoJointScene() *protocol.Scene {
	return &protocol.Scene{
		Robot: []protocol.WireJoint{
			{Axis: "z", Min: -180, Max: 180},
			{Axis: "x", Min: -90, Max: 90},
		},
		Pose: protocol.WirePose{J: []float64{0, 0.5}},
	}
}

func TestAxisSink_dispatches_by_axis(t *testing.T) {
	r := &fakeRenderer{}
	spec := motion.JointSpec{{Axis: motion.RotateX}, {Axis: motion.RotateY}, {Axis: motion.RotateZ}}
	sink := NewAxisSink(spec, r)

	sink.SetJoint(0, 0.1)
	sink.SetJoint(1, 0.2)
	sink.SetJoint(2, 0.3)
	sink.SetJoint(3, 9)
	sink.SetJoint(-1, 9)

	calls, _ := r.snapshot()
	assert.Equal(t, []call{{"x", 0, 0.1}, {"y", 1, 0.2}, {"z", 2, 0.3}}, calls)
}

func TestAxisSink_Flush_and_Readout(t *testing.T) {
	r := &fakeRenderer{}
	sink := NewAxisSink(motion.JointSpec{{Axis: motion.RotateZ}}, r)

	assert.False(t, sink.Flush(), "nothing to commit")
	sink.SetJoint(0, 3.141592653589793/2)
	assert.True(t, sink.Flush())
	assert.False(t, sink.Flush())

	_, commits := r.snapshot()
	assert.Equal(t, 1, commits)
	assert.InDelta(t, 90.0, sink.Readout()[0], 1e-9)
}

func TestRenderers_fan_out(t *testing.T) {
	a, b := &fakeRenderer{}, &fakeRenderer{}
	rs := Renderers{a, b}
	rs.RotateX(0, 1)
	rs.RotateY(1, 2)
	rs.RotateZ(2, 3)
	rs.Commit()

	for _, r := range []*fakeRenderer{a, b} {
		calls, commits := r.snapshot()
		assert.Len(t, calls, 3)
		assert.Equal(t, 1, commits)
	}
}

func TestNew_draws_scene_pose(t *testing.T) {
	r := &fakeRenderer{}
	s, err := New(context.Background(), sceneTransport{scene: twoJointScene()}, r, Config{}, WithLogger(quiet))
	require.NoError(t, err)

	calls, commits := r.snapshot()
	assert.Equal(t, []call{{"z", 0, 0}, {"x", 1, 0.5}}, calls)
	assert.Equal(t, 1, commits)
	assert.Equal(t, s.ID(), r.attached)
	assert.Len(t, r.spec, 2)
	assert.Equal(t, motion.Pose{0, 0.5}, s.Pose())
	assert.Equal(t, motion.StateIdle, s.Player().State())
}

func TestNew_rejects_bad_scene(t *testing.T) {
	tests := []struct {
		name  string
		scene *protocol.Scene
	}{
		{"unknown_axis", &protocol.Scene{Robot: []protocol.WireJoint{{Axis: "q"}}, Pose: protocol.WirePose{J: []float64{0}}}},
		{"pose_length", &protocol.Scene{Robot: []protocol.WireJoint{{Axis: "x"}}, Pose: protocol.WirePose{J: []float64{0, 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), sceneTransport{scene: tt.scene}, &fakeRenderer{}, Config{}, WithLogger(quiet))
			var pe *status.ProtocolError
			assert.ErrorAs(t, err, &pe)
		})
	}

	t.Run("transport_failure", func(t *testing.T) {
		_, err := New(context.Background(), sceneTransport{err: &status.TransportError{Err: errors.New("refused")}}, &fakeRenderer{}, Config{}, WithLogger(quiet))
		var te *status.TransportError
		assert.ErrorAs(t, err, &te)
	})
}

func TestSession_Tick_renders_interpolated_pose(t *testing.T) {
	r := &fakeRenderer{}
	m := metrics.NewPlayer()
	s, err := New(context.Background(), sceneTransport{scene: twoJointScene()}, r, Config{}, WithLogger(quiet), WithMetrics(m))
	require.NoError(t, err)
	r.reset()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prog := motion.Program{Sequence: 1, Segments: []motion.Segment{{Waypoints: []motion.Waypoint{
		{Fraction: 1, Joints: motion.Pose{1, 0.5}},
	}}}}
	adopted, err := s.Player().Load(prog, t0)
	require.NoError(t, err)
	require.True(t, adopted)

	s.Tick(t0.Add(500 * time.Millisecond))
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, s.Pose(), 1e-9)
	_, commits := r.snapshot()
	assert.Equal(t, 1, commits)

	s.Tick(t0.Add(2 * time.Second))
	assert.Equal(t, motion.Pose{1, 0.5}, s.Pose())
	assert.Equal(t, motion.StateDone, s.Player().State())
	assert.InDelta(t, 57.29577951308232, s.Readout()[0], 1e-9)

	r.reset()
	s.Tick(t0.Add(3 * time.Second))
	_, commits = r.snapshot()
	assert.Equal(t, 0, commits, "no frame when nothing moved")
}

func TestSession_Recording(t *testing.T) {
	down := &fakeRecorder{}
	m := metrics.NewPlayer()
	rec := NewRecording(quiet, m, down)

	rec.RecordingStarted(4)
	assert.True(t, rec.Active())
	rec.RecordingStopped(5)
	assert.False(t, rec.Active())
	assert.Equal(t, []int64{4}, down.started)
	assert.Equal(t, []int64{5}, down.stopped)
}

type fakeRecorder struct {
	mu               sync.Mutex
	started, stopped []int64
}

func (r *fakeRecorder) RecordingStarted(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, n)
}

func (r *fakeRecorder) RecordingStopped(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, n)
}

func (r *fakeRecorder) get() ([]int64, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.started...), append([]int64(nil), r.stopped...)
}

// newProgramServer runs a program server with a one-joint robot.
func newProgramServer(t *testing.T, lib ...programserver.LibraryProgram) (*programserver.Service, *programserver.InMemoryRepository, string) {
	t.Helper()
	scene := protocol.Scene{
		Robot: []protocol.WireJoint{{Axis: "y", Min: -180, Max: 180}},
		Pose:  protocol.WirePose{J: []float64{0}},
	}
	repo := programserver.NewInMemoryRepository()
	svc := programserver.NewService(repo, scene, lib, quiet, nil)
	h := programserver.NewHandler(svc, quiet)

	r := chi.NewRouter()
	r.Post("/rpc", h.RPC)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, repo, srv.URL
}

func TestSession_Run_plays_and_reports_completion(t *testing.T) {
	short := [][]protocol.Pace{{{Frac: 0.02, J: []float64{0.4}}}, {{Frac: 0.02, J: []float64{0.8}}}}
	svc, repo, url := newProgramServer(t,
		programserver.LibraryProgram{Name: "a", Segments: short},
		programserver.LibraryProgram{Name: "b", Segments: short},
	)
	_, err := svc.PublishNext()
	require.NoError(t, err)

	rec := &fakeRecorder{}
	r := &fakeRenderer{}
	s, err := New(context.Background(), status.NewHTTPTransport(url, time.Second), r,
		Config{
			FrameInterval: time.Millisecond,
			PollInterval:  5 * time.Millisecond,
			Recording:     status.RecordingConfig{StartPcount: 1, StopPcount: 2},
		},
		WithLogger(quiet), WithRecorder(rec))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		p, ok := repo.Get(1)
		return ok && p.Completed
	}, 3*time.Second, 5*time.Millisecond, "server should see the completion echo")
	assert.Equal(t, []float64{0.8}, repo.Pose())

	_, err = svc.PublishNext()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p, ok := repo.Get(2)
		return ok && p.Completed
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	started, stopped := rec.get()
	assert.Equal(t, []int64{1}, started)
	assert.Equal(t, []int64{2}, stopped)
	assert.False(t, s.Recording())
	assert.Equal(t, int64(2), s.Player().LastSequence())
	assert.InDelta(t, 0.8, s.Pose()[0], 1e-9)
}

func TestSession_Run_stops_on_server_error(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.Write([]byte(`{"Robot":[{"Axis":"x"}],"Pose":{"J":[0]}}`))
			return
		}
		w.Write([]byte(`{"Error":"robot unplugged"}`))
	}))
	defer srv.Close()

	s, err := New(context.Background(), status.NewHTTPTransport(srv.URL, time.Second), &fakeRenderer{},
		Config{FrameInterval: time.Millisecond, PollInterval: 5 * time.Millisecond}, WithLogger(quiet))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, status.ErrStopped)
		var se *status.ServerError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "robot unplugged", se.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on server error")
	}
	stopped, _ := s.Poller().Stopped()
	assert.True(t, stopped)
}

func TestRenderers_Attach_and_LogRenderer(t *testing.T) {
	a := &fakeRenderer{}
	lr := NewLogRenderer(quiet)
	rs := Renderers{a, lr}
	id := uuid.New()

	rs.Attach(id, motion.JointSpec{{Axis: motion.RotateX}, {Axis: motion.RotateY}})
	assert.Equal(t, id, a.attached)
	assert.Len(t, lr.joints, 2)

	rs.RotateY(1, 0.25)
	rs.RotateZ(5, 1)
	rs.Commit()
	assert.Equal(t, []float64{0, 0.25}, lr.joints)
}
