package motion

import (
	"fmt"
	"math"
)

// Axis is the rotation axis of a joint.
type Axis int

const (
	RotateX Axis = iota
	RotateY
	RotateZ
)

// ParseAxis maps the scene's "x", "y" or "z" to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x":
		return RotateX, nil
	case "y":
		return RotateY, nil
	case "z":
		return RotateZ, nil
	default:
		return 0, fmt.Errorf("unknown joint axis %q", s)
	}
}

// String returns the scene spelling of the axis.
func (a Axis) String() string {
	switch a {
	case RotateX:
		return "x"
	case RotateY:
		return "y"
	case RotateZ:
		return "z"
	default:
		return "unknown"
	}
}

// Joint describes one joint of the robot. Width and Length are only used by
// renderers; Min and Max are limits in degrees.
type Joint struct {
	Axis   Axis
	Width  float64
	Length float64
	Min    float64
	Max    float64
}

// JointSpec is the ordered joint list of a robot. It does not change after
// the scene is loaded.
type JointSpec []Joint

// Pose is an ordered list of joint angles in radians.
type Pose []float64

// Clone returns a copy of p that shares no storage with it.
func (p Pose) Clone() Pose {
	if p == nil {
		return nil
	}
	out := make(Pose, len(p))
	copy(out, p)
	return out
}

// Waypoint is a pose that must be attained exactly Fraction seconds after
// the start of its segment.
type Waypoint struct {
	Fraction float64
	Joints   Pose
}

// Segment is one phase of a program. Waypoints are sorted by Fraction.
type Segment struct {
	Waypoints []Waypoint
}

// Duration is the fraction of the final waypoint, in seconds.
func (s Segment) Duration() float64 {
	if len(s.Waypoints) == 0 {
		return 0
	}
	return s.Waypoints[len(s.Waypoints)-1].Fraction
}

func (s Segment) last() Waypoint {
	return s.Waypoints[len(s.Waypoints)-1]
}

// Program is an ordered list of segments identified by a sequence number
// that increases with every program the server publishes.
type Program struct {
	Sequence int64
	Segments []Segment
}

// Joints is the joint count of the program's waypoints.
func (p Program) Joints() int {
	if len(p.Segments) == 0 || len(p.Segments[0].Waypoints) == 0 {
		return 0
	}
	return len(p.Segments[0].Waypoints[0].Joints)
}

// Duration is the sum of all segment durations, in seconds.
func (p Program) Duration() float64 {
	total := 0.0
	for _, s := range p.Segments {
		total += s.Duration()
	}
	return total
}

// Validate checks the preconditions playback relies on: at least one
// segment, no empty segment, finite non-negative non-decreasing fractions
// and joint vectors of length joints. With joints <= 0 the first waypoint
// sets the expected length.
func (p Program) Validate(joints int) error {
	if len(p.Segments) == 0 {
		return fmt.Errorf("%w: program %d has no segments", ErrInvalidProgram, p.Sequence)
	}
	if joints <= 0 && len(p.Segments[0].Waypoints) > 0 {
		joints = len(p.Segments[0].Waypoints[0].Joints)
	}
	for si, seg := range p.Segments {
		if len(seg.Waypoints) == 0 {
			return fmt.Errorf("%w: segment %d is empty", ErrInvalidProgram, si)
		}
		prev := 0.0
		for wi, wp := range seg.Waypoints {
			if math.IsNaN(wp.Fraction) || math.IsInf(wp.Fraction, 0) || wp.Fraction < 0 {
				return fmt.Errorf("%w: segment %d waypoint %d has fraction %v", ErrInvalidProgram, si, wi, wp.Fraction)
			}
			if wp.Fraction < prev {
				return fmt.Errorf("%w: segment %d waypoint %d fraction %v precedes %v", ErrInvalidProgram, si, wi, wp.Fraction, prev)
			}
			prev = wp.Fraction
			if len(wp.Joints) != joints {
				return fmt.Errorf("%w: segment %d waypoint %d has %d joints, want %d", ErrInvalidProgram, si, wi, len(wp.Joints), joints)
			}
			for ji, v := range wp.Joints {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%w: segment %d waypoint %d joint %d is %v", ErrInvalidProgram, si, wi, ji, v)
				}
			}
		}
	}
	return nil
}

// PlaybackState is the externally visible state of a Player.
type PlaybackState int

const (
	// StateIdle means no program has been adopted yet.
	StateIdle PlaybackState = iota

	// StatePlaying means a program is advancing with wall-clock time.
	StatePlaying

	// StateHeld means a program is loaded but playback is suspended.
	StateHeld

	// StateDone means the last program finished; the next Load starts over.
	StateDone
)

// String returns a human-readable state name.
func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateHeld:
		return "held"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
