package motion

import "sync"

// PoseSink receives joint angles for rendering.
type PoseSink interface {
	SetJoint(index int, radians float64)
}

// PoseState holds the current joint values of the robot. Set is the only
// write path and every write is forwarded to the sink.
type PoseState struct {
	mu     sync.RWMutex
	joints Pose
	sink   PoseSink
}

// NewPoseState returns a PoseState initialised to a copy of initial.
// The initial values are not forwarded to the sink; call Apply for that.
func NewPoseState(initial Pose, sink PoseSink) *PoseState {
	return &PoseState{joints: initial.Clone(), sink: sink}
}

// Set stores joint i and forwards it to the sink. It returns false if i is
// out of range.
func (s *PoseState) Set(i int, v float64) bool {
	s.mu.Lock()
	if i < 0 || i >= len(s.joints) {
		s.mu.Unlock()
		return false
	}
	s.joints[i] = v
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.SetJoint(i, v)
	}
	return true
}

// Apply sets every joint of p, including joints whose value is unchanged,
// so that readouts stay in step with the pose.
func (s *PoseState) Apply(p Pose) {
	for i, v := range p {
		s.Set(i, v)
	}
}

// Snapshot returns a copy of the current pose.
func (s *PoseState) Snapshot() Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joints.Clone()
}

// Len is the number of joints.
func (s *PoseState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.joints)
}
