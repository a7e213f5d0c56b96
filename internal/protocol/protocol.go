// Package protocol defines the JSON messages exchanged over the rpc endpoint
// and their conversion to motion types.
package protocol

import (
	"fmt"

	"saxis/internal/motion"
)

// Commands understood by the server.
const (
	CmdStatus = "status"
	CmdScene  = "scene"
)

// FormField is the form field carrying the JSON-encoded Query.
const FormField = "rpc"

// Query is the request body.
type Query struct {
	Cmd    string
	Pcount int64
}

// Pace is one waypoint on the wire.
type Pace struct {
	Frac float64
	J    []float64
}

// WirePose is a joint vector on the wire.
type WirePose struct {
	J []float64
}

// Response answers a status query. Pose and Program are optional; Program is
// only meaningful together with Pcount, its sequence number.
type Response struct {
	Pose    *WirePose `json:",omitempty"`
	Pcount  int64
	Program [][]Pace `json:",omitempty"`
}

// ErrorResponse is returned by the server for any failed request.
type ErrorResponse struct {
	Error string
}

// WireJoint is a joint description as sent in a Scene.
type WireJoint struct {
	Width  float64
	Length float64
	Min    float64
	Max    float64
	Axis   string
}

// Scene describes the robot and its initial pose.
type Scene struct {
	Robot []WireJoint
	Pose  WirePose
	Path  [][3]float64 `json:",omitempty"`
}

// HasProgram reports whether the response carries a program.
func (r *Response) HasProgram() bool {
	return len(r.Program) > 0
}

// MotionProgram converts the response's program section.
func (r *Response) MotionProgram() motion.Program {
	return ToProgram(r.Pcount, r.Program)
}

// ToProgram converts wire segments to a motion.Program.
func ToProgram(seq int64, segs [][]Pace) motion.Program {
	p := motion.Program{Sequence: seq, Segments: make([]motion.Segment, 0, len(segs))}
	for _, s := range segs {
		ws := make([]motion.Waypoint, 0, len(s))
		for _, pace := range s {
			ws = append(ws, motion.Waypoint{Fraction: pace.Frac, Joints: motion.Pose(pace.J).Clone()})
		}
		p.Segments = append(p.Segments, motion.Segment{Waypoints: ws})
	}
	return p
}

// FromProgram converts a motion.Program to wire segments.
func FromProgram(p motion.Program) [][]Pace {
	out := make([][]Pace, 0, len(p.Segments))
	for _, s := range p.Segments {
		paces := make([]Pace, 0, len(s.Waypoints))
		for _, wp := range s.Waypoints {
			paces = append(paces, Pace{Frac: wp.Fraction, J: wp.Joints.Clone()})
		}
		out = append(out, paces)
	}
	return out
}

// JointSpec converts the scene's robot description.
func (s Scene) JointSpec() (motion.JointSpec, error) {
	spec := make(motion.JointSpec, 0, len(s.Robot))
	for i, j := range s.Robot {
		axis, err := motion.ParseAxis(j.Axis)
		if err != nil {
			return nil, fmt.Errorf("joint %d: %w", i, err)
		}
		spec = append(spec, motion.Joint{
			Axis:   axis,
			Width:  j.Width,
			Length: j.Length,
			Min:    j.Min,
			Max:    j.Max,
		})
	}
	return spec, nil
}
