package session

import (
	"log/slog"
	"sync"

	"github.com/golang/geo/s1"
	"github.com/google/uuid"

	"saxis/internal/motion"
)

// Renderer turns joint angles into a picture. Rotate calls for one frame are
// followed by a single Commit.
type Renderer interface {
	RotateX(index int, radians float64)
	RotateY(index int, radians float64)
	RotateZ(index int, radians float64)
	Commit()
}

// Renderers fans every call out to each renderer in order.
type Renderers []Renderer

func (rs Renderers) RotateX(i int, rad float64) {
	for _, r := range rs {
		r.RotateX(i, rad)
	}
}

func (rs Renderers) RotateY(i int, rad float64) {
	for _, r := range rs {
		r.RotateY(i, rad)
	}
}

func (rs Renderers) RotateZ(i int, rad float64) {
	for _, r := range rs {
		r.RotateZ(i, rad)
	}
}

func (rs Renderers) Commit() {
	for _, r := range rs {
		r.Commit()
	}
}

// Attach forwards to every renderer that implements Attacher.
func (rs Renderers) Attach(id uuid.UUID, spec motion.JointSpec) {
	for _, r := range rs {
		if a, ok := r.(Attacher); ok {
			a.Attach(id, spec)
		}
	}
}

// AxisSink is the PoseSink that routes each joint to the renderer rotation
// matching the joint's axis and keeps a readout in degrees.
type AxisSink struct {
	spec     motion.JointSpec
	renderer Renderer

	mu      sync.Mutex
	readout []float64
	dirty   bool
}

// NewAxisSink returns a sink for spec drawing through r.
func NewAxisSink(spec motion.JointSpec, r Renderer) *AxisSink {
	return &AxisSink{
		spec:     spec,
		renderer: r,
		readout:  make([]float64, len(spec)),
	}
}

// SetJoint implements motion.PoseSink.
func (s *AxisSink) SetJoint(i int, rad float64) {
	if i < 0 || i >= len(s.spec) {
		return
	}

	s.mu.Lock()
	s.readout[i] = s1.Angle(rad).Degrees()
	s.dirty = true
	s.mu.Unlock()

	switch s.spec[i].Axis {
	case motion.RotateX:
		s.renderer.RotateX(i, rad)
	case motion.RotateY:
		s.renderer.RotateY(i, rad)
	case motion.RotateZ:
		s.renderer.RotateZ(i, rad)
	}
}

// Flush commits the frame if any joint was set since the last Flush and
// reports whether it did.
func (s *AxisSink) Flush() bool {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()

	if dirty {
		s.renderer.Commit()
	}
	return dirty
}

// Readout returns the joint angles in degrees.
func (s *AxisSink) Readout() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.readout))
	copy(out, s.readout)
	return out
}

// LogRenderer writes each committed frame to a logger at debug level.
type LogRenderer struct {
	log    *slog.Logger
	joints []float64
}

// NewLogRenderer returns a LogRenderer. It draws nothing until attached
// to a session.
func NewLogRenderer(log *slog.Logger) *LogRenderer {
	return &LogRenderer{log: log}
}

// Attach sizes the renderer for spec.
func (r *LogRenderer) Attach(id uuid.UUID, spec motion.JointSpec) {
	r.joints = make([]float64, len(spec))
}

func (r *LogRenderer) RotateX(i int, rad float64) { r.set(i, rad) }
func (r *LogRenderer) RotateY(i int, rad float64) { r.set(i, rad) }
func (r *LogRenderer) RotateZ(i int, rad float64) { r.set(i, rad) }

func (r *LogRenderer) set(i int, rad float64) {
	if i >= 0 && i < len(r.joints) {
		r.joints[i] = rad
	}
}

// Commit logs the current joint angles.
func (r *LogRenderer) Commit() {
	deg := make([]float64, len(r.joints))
	for i, rad := range r.joints {
		deg[i] = s1.Angle(rad).Degrees()
	}
	r.log.Debug("frame", slog.Any("degrees", deg))
}
