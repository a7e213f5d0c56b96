package programserver

import (
	"context"
	"errors"
	"log/slog"

	"saxis/internal/platform/metrics"
	"saxis/internal/protocol"
)

// ErrEmptyLibrary is returned by the publisher when there is nothing to publish.
var ErrEmptyLibrary = errors.New("program library is empty")

// Service answers rpc queries and publishes library programs in turn.
type Service struct {
	repo    Repository
	scene   protocol.Scene
	library []LibraryProgram
	log     *slog.Logger
	metrics *metrics.Metrics

	next      int
	completed chan int64
}

// NewService returns a Service serving scene and publishing from library.
// The repository's pose is initialised from the scene. log and m may be nil.
func NewService(repo Repository, scene protocol.Scene, library []LibraryProgram, log *slog.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	if repo.Pose() == nil {
		repo.SetPose(scene.Pose.J)
	}
	return &Service{
		repo:      repo,
		scene:     scene,
		library:   library,
		log:       log,
		metrics:   m,
		completed: make(chan int64, 1),
	}
}

// Scene returns the robot description with the current pose.
func (s *Service) Scene() protocol.Scene {
	scene := s.scene
	scene.Pose = protocol.WirePose{J: s.repo.Pose()}
	return scene
}

// Status answers a status query. The response always carries the pose and
// the latest sequence number; the program is included only while the
// client has not completed it. A query echoing the latest sequence marks
// that program completed.
func (s *Service) Status(q protocol.Query) protocol.Response {
	latest, ok := s.repo.Latest()
	if !ok {
		return protocol.Response{Pose: &protocol.WirePose{J: s.repo.Pose()}}
	}

	resp := protocol.Response{Pcount: latest.Sequence}
	switch {
	case q.Pcount == latest.Sequence:
		s.complete(latest)
	case q.Pcount < latest.Sequence:
		resp.Program = latest.Segments
	}
	resp.Pose = &protocol.WirePose{J: s.repo.Pose()}
	return resp
}

func (s *Service) complete(p Published) {
	changed, err := s.repo.Complete(p.Sequence)
	if err != nil {
		s.log.Error("complete program failed", slog.Int64("pcount", p.Sequence), slog.String("error", err.Error()))
		return
	}
	if !changed {
		return
	}

	s.log.Info("program completed", slog.Int64("pcount", p.Sequence), slog.String("name", p.Name))
	if s.metrics != nil {
		s.metrics.IncProgramsCompleted()
	}
	select {
	case s.completed <- p.Sequence:
	default:
	}
}

// PublishNext publishes the next library program, wrapping around at the end.
func (s *Service) PublishNext() (int64, error) {
	if len(s.library) == 0 {
		return 0, ErrEmptyLibrary
	}
	lp := s.library[s.next%len(s.library)]
	seq, err := s.repo.Publish(lp.Name, lp.Segments)
	if err != nil {
		return 0, err
	}
	s.next++

	s.log.Info("program published",
		slog.Int64("pcount", seq),
		slog.String("name", lp.Name),
		slog.Int("segments", len(lp.Segments)))
	if s.metrics != nil {
		s.metrics.IncProgramsPublished()
	}
	return seq, nil
}

// RunPublisher publishes a program, waits until a player reports it
// completed, and repeats until ctx is done.
func (s *Service) RunPublisher(ctx context.Context) error {
	for {
		seq, err := s.PublishNext()
		if err != nil {
			return err
		}
		for done := false; !done; {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-s.completed:
				done = c == seq
			}
		}
	}
}

// Program returns the program published under seq.
func (s *Service) Program(seq int64) (Published, bool) {
	return s.repo.Get(seq)
}

// LatestSequence returns the latest published sequence number, or 0.
func (s *Service) LatestSequence() int64 {
	p, ok := s.repo.Latest()
	if !ok {
		return 0
	}
	return p.Sequence
}
