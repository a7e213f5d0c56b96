package motion

import (
	"fmt"
	"sync"
	"time"
)

// Stats counts playback events since the player was created.
type Stats struct {
	Ticks             uint64
	SegmentsCompleted uint64
	ProgramsAdopted   uint64
	ProgramsCompleted uint64
}

// Progress describes where playback currently is.
type Progress struct {
	State    PlaybackState
	Sequence int64
	Segment  int
	Segments int
	Clock    time.Time
}

// Player replays a Program against wall-clock time. Tick is expected once per
// rendered frame; the pose it computes is pushed through the PoseState.
//
// The playback clock marks the start of the current segment. When a segment
// completes the clock moves forward by the segment's nominal duration rather
// than to the tick time, so a late tick delays the following segments by
// exactly its own lateness and no more.
type Player struct {
	mu sync.Mutex

	pose     *PoseState
	program  *Program
	index    int
	clock    time.Time
	baseline Pose
	scratch  Pose
	done     bool
	held     bool

	adopted bool
	lastSeq int64

	stats Stats
}

// NewPlayer returns an idle player driving pose.
func NewPlayer(pose *PoseState) *Player {
	return &Player{
		pose:     pose,
		baseline: pose.Snapshot(),
	}
}

// Load adopts prog if its sequence number is greater than the last adopted
// one. Adoption restarts playback at the first segment with the clock at now
// and the current pose as baseline, discarding any program in progress.
// A stale program is ignored and reported as (false, nil) without being
// validated.
func (p *Player) Load(prog Program, now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.adopted && prog.Sequence <= p.lastSeq {
		return false, nil
	}
	if err := prog.Validate(p.pose.Len()); err != nil {
		return false, err
	}

	p.program = &prog
	p.index = 0
	p.clock = now
	p.done = false
	p.held = false
	p.baseline = p.pose.Snapshot()
	if n := prog.Joints(); len(p.baseline) != n {
		p.baseline = make(Pose, n)
	}
	p.adopted = true
	p.lastSeq = prog.Sequence
	p.stats.ProgramsAdopted++
	return true, nil
}

// Joints is the number of joints the player drives.
func (p *Player) Joints() int {
	return p.pose.Len()
}

// Bootstrap applies an initial pose. It only has an effect while no program
// has ever been adopted; after that the player owns the pose.
func (p *Player) Bootstrap(pose Pose) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.adopted {
		return false
	}
	p.pose.Apply(pose)
	p.baseline = p.pose.Snapshot()
	return true
}

// Hold suspends playback; Tick leaves the pose alone until Resume.
func (p *Player) Hold() {
	p.mu.Lock()
	p.held = true
	p.mu.Unlock()
}

// Resume lifts a Hold. The clock is not adjusted, so the next Tick catches
// up with any segments that ended meanwhile.
func (p *Player) Resume() {
	p.mu.Lock()
	p.held = false
	p.mu.Unlock()
}

// Held reports whether playback is suspended.
func (p *Player) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Tick advances playback to now and pushes the resulting pose.
//
// Segments whose final waypoint lies at or before now are completed first,
// each applying its final pose exactly, so no segment boundary is skipped
// however late the tick. Within the current segment the last waypoint
// already reached becomes the baseline and the pose is interpolated
// linearly toward the next one.
func (p *Player) Tick(now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.program == nil || p.held || p.done {
		return nil
	}
	p.stats.Ticks++

	elapsed := now.Sub(p.clock).Seconds()
	seg := p.program.Segments[p.index]
	for last := seg.last(); last.Fraction <= elapsed; last = seg.last() {
		p.setBaseline(last.Joints)
		p.pose.Apply(last.Joints)

		p.clock = p.clock.Add(seconds(last.Fraction))
		elapsed = now.Sub(p.clock).Seconds()
		p.index++
		p.stats.SegmentsCompleted++

		if p.index >= len(p.program.Segments) {
			p.finishLocked()
			return nil
		}
		seg = p.program.Segments[p.index]
	}

	loT := 0.0
	hi := seg.last()
	for _, wp := range seg.Waypoints {
		if wp.Fraction > elapsed {
			hi = wp
			break
		}
		loT = wp.Fraction
		p.setBaseline(wp.Joints)
	}

	t := (elapsed - loT) / (hi.Fraction - loT)
	if !(t >= 0 && t < 1) {
		return fmt.Errorf("%w: t=%v in segment %d of program %d (elapsed %.6fs)",
			ErrFactorOutOfRange, t, p.index, p.program.Sequence, elapsed)
	}

	if cap(p.scratch) < len(hi.Joints) {
		p.scratch = make(Pose, len(hi.Joints))
	}
	cur := p.scratch[:len(hi.Joints)]
	oneLess := 1.0 - t
	for j := range hi.Joints {
		cur[j] = p.baseline[j]*oneLess + t*hi.Joints[j]
	}
	p.pose.Apply(cur)
	return nil
}

// State returns the playback state.
func (p *Player) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Adopted reports whether any program has ever been adopted.
func (p *Player) Adopted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adopted
}

// LastSequence is the sequence number of the last adopted program.
func (p *Player) LastSequence() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

// CompletedSequence returns the sequence number of the last adopted program
// once it has finished playing, and 0 while a program is in progress or none
// was adopted.
func (p *Player) CompletedSequence() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.lastSeq
	}
	return 0
}

// Baseline returns a copy of the interpolation origin.
func (p *Player) Baseline() Pose {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseline.Clone()
}

// Progress returns the current playback position.
func (p *Player) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr := Progress{
		State:    p.stateLocked(),
		Sequence: p.lastSeq,
		Segment:  p.index,
		Clock:    p.clock,
	}
	if p.program != nil {
		pr.Segments = len(p.program.Segments)
	}
	return pr
}

// Stats returns the event counters.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Player) stateLocked() PlaybackState {
	switch {
	case p.done:
		return StateDone
	case p.program == nil:
		return StateIdle
	case p.held:
		return StateHeld
	default:
		return StatePlaying
	}
}

// finishLocked ends playback in the held state. Caller must hold p.mu.
func (p *Player) finishLocked() {
	p.done = true
	p.held = true
	p.program = nil
	p.index = 0
	p.stats.ProgramsCompleted++
}

func (p *Player) setBaseline(j Pose) {
	if len(p.baseline) != len(j) {
		p.baseline = make(Pose, len(j))
	}
	copy(p.baseline, j)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
