package session

import (
	"log/slog"
	"sync"

	"saxis/internal/platform/metrics"
	"saxis/internal/status"
)

// Recording tracks whether frame capture is active and passes the
// notifications on to downstream recorders.
type Recording struct {
	log     *slog.Logger
	metrics *metrics.Player
	next    []status.Recorder

	mu sync.Mutex
	on bool
}

// NewRecording returns a Recording that logs, updates m (may be nil) and
// forwards to next.
func NewRecording(log *slog.Logger, m *metrics.Player, next ...status.Recorder) *Recording {
	return &Recording{log: log, metrics: m, next: next}
}

// RecordingStarted implements status.Recorder.
func (r *Recording) RecordingStarted(pcount int64) {
	r.set(true)
	r.log.Info("recording started", slog.Int64("pcount", pcount))
	for _, n := range r.next {
		n.RecordingStarted(pcount)
	}
}

// RecordingStopped implements status.Recorder.
func (r *Recording) RecordingStopped(pcount int64) {
	r.set(false)
	r.log.Info("recording stopped", slog.Int64("pcount", pcount))
	for _, n := range r.next {
		n.RecordingStopped(pcount)
	}
}

// Active reports whether frame capture is on.
func (r *Recording) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *Recording) set(on bool) {
	r.mu.Lock()
	r.on = on
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetRecording(on)
	}
}
