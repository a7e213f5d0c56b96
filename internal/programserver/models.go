// Package programserver serves the scene and a sequence of motion programs
// to players over the rpc endpoint.
package programserver

import (
	"time"

	"saxis/internal/protocol"
)

// LibraryProgram is a named program loaded from the program directory.
type LibraryProgram struct {
	Name     string
	Segments [][]protocol.Pace
}

// Published is a program that has been assigned a sequence number and made
// available to players.
type Published struct {
	Sequence int64
	Name     string
	Segments [][]protocol.Pace

	PublishedAt time.Time
	Completed   bool
	CompletedAt time.Time
}

// finalPose returns the last waypoint of the last segment, or nil.
func (p *Published) finalPose() []float64 {
	if len(p.Segments) == 0 {
		return nil
	}
	last := p.Segments[len(p.Segments)-1]
	if len(last) == 0 {
		return nil
	}
	return cloneJoints(last[len(last)-1].J)
}

func cloneJoints(j []float64) []float64 {
	if j == nil {
		return nil
	}
	out := make([]float64, len(j))
	copy(out, j)
	return out
}

func cloneSegments(segs [][]protocol.Pace) [][]protocol.Pace {
	out := make([][]protocol.Pace, 0, len(segs))
	for _, s := range segs {
		paces := make([]protocol.Pace, 0, len(s))
		for _, p := range s {
			paces = append(paces, protocol.Pace{Frac: p.Frac, J: cloneJoints(p.J)})
		}
		out = append(out, paces)
	}
	return out
}
