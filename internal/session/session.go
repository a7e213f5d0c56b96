// Package session owns one playback session: the robot description, the
// pose, the player and the poller, driven from a single goroutine.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"saxis/internal/motion"
	"saxis/internal/platform/metrics"
	"saxis/internal/status"
)

// Defaults for Config.
const (
	DefaultFrameInterval = 16 * time.Millisecond
	DefaultPollInterval  = 213 * time.Millisecond
)

// Config holds the session timing and recording settings.
type Config struct {
	FrameInterval time.Duration
	PollInterval  time.Duration
	Recording     status.RecordingConfig
}

// Attacher is implemented by renderers that want to know which session and
// robot they are drawing.
type Attacher interface {
	Attach(id uuid.UUID, spec motion.JointSpec)
}

// Session is a playback session. All mutation happens on the goroutine
// running Run.
type Session struct {
	id  uuid.UUID
	cfg Config
	log *slog.Logger
	now func() time.Time

	spec   motion.JointSpec
	sink   *AxisSink
	pose   *motion.PoseState
	player *motion.Player
	poller *status.Poller

	metrics   *metrics.Player
	recorders []status.Recorder
	recording *Recording

	lastStats motion.Stats
	lastPolls uint64
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics publishes playback counters to m.
func WithMetrics(m *metrics.Player) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRecorder adds a recipient of recording notifications.
func WithRecorder(r status.Recorder) Option {
	return func(s *Session) { s.recorders = append(s.recorders, r) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New fetches the scene over t and builds a session rendering through r.
// The scene's pose is drawn once before New returns.
func New(ctx context.Context, t status.Transport, r Renderer, cfg Config, opts ...Option) (*Session, error) {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Session{
		id:  uuid.New(),
		cfg: cfg,
		log: slog.Default(),
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("session", s.id.String()))

	scene, err := t.Scene(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch scene: %w", err)
	}
	spec, err := scene.JointSpec()
	if err != nil {
		return nil, &status.ProtocolError{Err: fmt.Errorf("scene: %w", err)}
	}
	if len(scene.Pose.J) != len(spec) {
		return nil, &status.ProtocolError{Err: fmt.Errorf("scene pose has %d joints, robot has %d", len(scene.Pose.J), len(spec))}
	}

	if a, ok := r.(Attacher); ok {
		a.Attach(s.id, spec)
	}

	s.spec = spec
	s.sink = NewAxisSink(spec, r)
	s.pose = motion.NewPoseState(scene.Pose.J, s.sink)
	s.player = motion.NewPlayer(s.pose)
	s.recording = NewRecording(s.log, s.metrics, s.recorders...)
	s.poller = status.NewPoller(t, s.player,
		status.WithLogger(s.log),
		status.WithRecorder(s.recording, cfg.Recording))

	s.pose.Apply(scene.Pose.J)
	s.sink.Flush()

	s.log.Info("session started",
		slog.Int("joints", len(spec)),
		slog.Duration("frame_interval", cfg.FrameInterval),
		slog.Duration("poll_interval", cfg.PollInterval))
	return s, nil
}

// Run drives playback and polling until ctx is done or polling stops. A
// polling failure is returned wrapping both status.ErrStopped and its cause.
func (s *Session) Run(ctx context.Context) error {
	frames := time.NewTicker(s.cfg.FrameInterval)
	defer frames.Stop()
	polls := time.NewTicker(s.cfg.PollInterval)
	defer polls.Stop()

	s.poller.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-frames.C:
			s.Tick(s.now())
		case <-polls.C:
			s.poller.Poll(ctx)
		case r := <-s.poller.Results():
			if err := s.poller.Complete(r, s.now()); err != nil {
				return fmt.Errorf("%w: %w", status.ErrStopped, err)
			}
			s.updateMetrics()
		}
	}
}

// Tick advances playback to now and commits the frame if the pose changed.
func (s *Session) Tick(now time.Time) {
	if err := s.player.Tick(now); err != nil {
		s.log.Warn("tick skipped", slog.String("error", err.Error()))
	}
	s.sink.Flush()
	s.updateMetrics()
}

func (s *Session) updateMetrics() {
	if s.metrics == nil {
		return
	}
	st := s.player.Stats()
	s.metrics.AddTicks(st.Ticks - s.lastStats.Ticks)
	s.metrics.AddCatchup(st.SegmentsCompleted - s.lastStats.SegmentsCompleted)
	s.metrics.AddProgramsAdopted(st.ProgramsAdopted - s.lastStats.ProgramsAdopted)
	s.lastStats = st

	polls := s.poller.Polls()
	s.metrics.AddPolls(polls - s.lastPolls)
	s.lastPolls = polls

	pr := s.player.Progress()
	s.metrics.SetSegmentIndex(pr.Segment)
	s.metrics.SetState(int(pr.State))
}

// ID is the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Spec returns the robot's joint description.
func (s *Session) Spec() motion.JointSpec { return s.spec }

// Player returns the session's player.
func (s *Session) Player() *motion.Player { return s.player }

// Poller returns the session's poller.
func (s *Session) Poller() *status.Poller { return s.poller }

// Pose returns a copy of the current pose.
func (s *Session) Pose() motion.Pose { return s.pose.Snapshot() }

// Readout returns the current joint angles in degrees.
func (s *Session) Readout() []float64 { return s.sink.Readout() }

// Recording reports whether frame capture is active.
func (s *Session) Recording() bool { return s.recording.Active() }
