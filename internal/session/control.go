package session

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// PlaybackStatus is the body returned by the playback control endpoints.
type PlaybackStatus struct {
	State    string    `json:"state"`
	Pcount   int64     `json:"pcount"`
	Segment  int       `json:"segment"`
	Segments int       `json:"segments"`
	Held     bool      `json:"held"`
	Degrees  []float64 `json:"degrees"`
}

// Hold suspends playback until Resume.
func (s *Session) Hold() {
	s.player.Hold()
	s.log.Info("playback held", slog.Int64("pcount", s.player.LastSequence()))
}

// Resume lifts a Hold. Segments that ended while held are caught up on the
// next tick.
func (s *Session) Resume() {
	s.player.Resume()
	s.log.Info("playback resumed", slog.Int64("pcount", s.player.LastSequence()))
}

// Status reports the playback position.
func (s *Session) Status() PlaybackStatus {
	pr := s.player.Progress()
	return PlaybackStatus{
		State:    pr.State.String(),
		Pcount:   pr.Sequence,
		Segment:  pr.Segment,
		Segments: pr.Segments,
		Held:     s.player.Held(),
		Degrees:  s.sink.Readout(),
	}
}

// HoldHandler handles POST /hold.
func (s *Session) HoldHandler(w http.ResponseWriter, r *http.Request) {
	s.Hold()
	s.writeStatus(w)
}

// ResumeHandler handles POST /resume.
func (s *Session) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	s.Resume()
	s.writeStatus(w)
}

// StatusHandler handles GET /status.
func (s *Session) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w)
}

func (s *Session) writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		s.log.Error("write status failed", slog.String("error", err.Error()))
	}
}
