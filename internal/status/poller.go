// Package status polls the program server for new motion programs and the
// initial pose, keeping at most one request outstanding.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"saxis/internal/motion"
	"saxis/internal/protocol"
)

// Target is the part of the motion player driven by the poller.
type Target interface {
	Load(p motion.Program, now time.Time) (bool, error)
	Bootstrap(p motion.Pose) bool
	CompletedSequence() int64
	Joints() int
}

// Recorder is told when the programs reserved for frame capture are adopted.
type Recorder interface {
	RecordingStarted(pcount int64)
	RecordingStopped(pcount int64)
}

// RecordingConfig names the program sequence numbers that start and stop
// frame capture. Zero disables the corresponding signal.
type RecordingConfig struct {
	StartPcount int64
	StopPcount  int64
}

// Result is the outcome of one status request.
type Result struct {
	Query    protocol.Query
	Response *protocol.Response
	Err      error
}

// Poller issues status requests and applies their results to a Target.
//
// Poll and Complete are meant to be called from the goroutine that owns the
// player. The request itself runs on its own goroutine and its Result is
// delivered on Results.
type Poller struct {
	transport Transport
	target    Target
	log       *slog.Logger
	recorder  Recorder
	recording RecordingConfig

	mu       sync.Mutex
	inFlight bool
	stopped  bool
	stopErr  error
	adopted  bool
	lastSeq  int64
	polls    uint64

	results chan Result
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Poller) { p.log = log }
}

// WithRecorder enables the recording start/stop notifications.
func WithRecorder(r Recorder, cfg RecordingConfig) Option {
	return func(p *Poller) {
		p.recorder = r
		p.recording = cfg
	}
}

// NewPoller returns a Poller issuing requests over t on behalf of target.
func NewPoller(t Transport, target Target, opts ...Option) *Poller {
	p := &Poller{
		transport: t,
		target:    target,
		log:       slog.Default(),
		results:   make(chan Result, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Results delivers the outcome of each request started by Poll.
func (p *Poller) Results() <-chan Result {
	return p.results
}

// Poll starts a status request unless one is already outstanding or polling
// has stopped. It reports whether a request was started.
func (p *Poller) Poll(ctx context.Context) bool {
	p.mu.Lock()
	if p.stopped || p.inFlight {
		p.mu.Unlock()
		return false
	}
	p.inFlight = true
	p.polls++
	p.mu.Unlock()

	q := protocol.Query{Cmd: protocol.CmdStatus, Pcount: p.target.CompletedSequence()}
	go func() {
		resp, err := p.transport.Status(ctx, q)
		p.results <- Result{Query: q, Response: resp, Err: err}
	}()
	return true
}

// Complete applies the result of a request. Any failure stops polling for
// good and is returned; results arriving after the stop are discarded.
func (p *Poller) Complete(r Result, now time.Time) error {
	p.mu.Lock()
	p.inFlight = false
	if p.stopped {
		p.mu.Unlock()
		p.log.Debug("discarding status result after stop")
		return nil
	}
	p.mu.Unlock()

	if r.Err != nil {
		return p.stop(classify(r.Err))
	}
	if r.Response == nil {
		return p.stop(&ProtocolError{Err: errors.New("empty status response")})
	}

	resp := r.Response
	if resp.Pose != nil && len(resp.Pose.J) != p.target.Joints() {
		return p.stop(&ProtocolError{Err: fmt.Errorf("pose has %d joints, robot has %d", len(resp.Pose.J), p.target.Joints())})
	}
	if resp.HasProgram() {
		if err := p.adopt(resp, now); err != nil {
			return p.stop(err)
		}
	}

	if resp.Pose != nil {
		if p.target.Bootstrap(motion.Pose(resp.Pose.J).Clone()) {
			p.log.Info("adopted initial pose", slog.Int("joints", len(resp.Pose.J)))
		} else {
			p.log.Debug("ignoring pose, player owns the pose")
		}
	}
	return nil
}

func (p *Poller) adopt(resp *protocol.Response, now time.Time) error {
	p.mu.Lock()
	stale := p.adopted && resp.Pcount <= p.lastSeq
	p.mu.Unlock()
	if stale {
		p.log.Debug("ignoring stale program", slog.Int64("pcount", resp.Pcount))
		return nil
	}

	prog := resp.MotionProgram()
	adopted, err := p.target.Load(prog, now)
	if err != nil {
		return &ProtocolError{Err: fmt.Errorf("program %d: %w", resp.Pcount, err)}
	}
	if !adopted {
		p.log.Debug("player ignored stale program", slog.Int64("pcount", resp.Pcount))
		return nil
	}

	p.mu.Lock()
	p.adopted = true
	p.lastSeq = resp.Pcount
	p.mu.Unlock()

	p.log.Info("loading program",
		slog.Int64("pcount", resp.Pcount),
		slog.Int("segments", len(resp.Program)),
		slog.Float64("duration_s", prog.Duration()))

	if p.recorder != nil {
		switch resp.Pcount {
		case p.recording.StartPcount:
			if p.recording.StartPcount != 0 {
				p.recorder.RecordingStarted(resp.Pcount)
			}
		case p.recording.StopPcount:
			if p.recording.StopPcount != 0 {
				p.recorder.RecordingStopped(resp.Pcount)
			}
		}
	}
	return nil
}

func (p *Poller) stop(err error) error {
	p.mu.Lock()
	p.stopped = true
	p.stopErr = err
	p.mu.Unlock()
	p.log.Error("status polling stopped", slog.String("error", err.Error()))
	return err
}

// Stopped reports whether polling has stopped and why.
func (p *Poller) Stopped() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped, p.stopErr
}

// InFlight reports whether a request is outstanding.
func (p *Poller) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Polls is the number of requests started.
func (p *Poller) Polls() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// classify maps an arbitrary transport failure onto the error taxonomy.
func classify(err error) error {
	var te *TransportError
	var pe *ProtocolError
	var se *ServerError
	switch {
	case errors.As(err, &te), errors.As(err, &pe), errors.As(err, &se):
		return err
	default:
		return &TransportError{Err: err}
	}
}
