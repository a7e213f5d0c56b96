package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Player holds Prometheus metrics for a motion player process.
type Player struct {
	registry        *prometheus.Registry
	ticksTotal      prometheus.Counter
	catchupTotal    prometheus.Counter
	programsAdopted prometheus.Counter
	pollsTotal      prometheus.Counter
	segmentIndex    prometheus.Gauge
	state           prometheus.Gauge
	recording       prometheus.Gauge
}

// NewPlayer creates and registers Prometheus metrics for the motion player.
func NewPlayer() *Player {
	registry := prometheus.NewRegistry()

	p := &Player{
		registry: registry,
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saxis_player_ticks_total",
			Help: "Total number of playback ticks",
		}),
		catchupTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saxis_player_catchup_total",
			Help: "Total number of segment boundaries crossed by playback",
		}),
		programsAdopted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saxis_player_programs_adopted_total",
			Help: "Total number of motion programs adopted",
		}),
		pollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saxis_player_polls_total",
			Help: "Total number of status requests issued",
		}),
		segmentIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "saxis_player_segment_index",
			Help: "Index of the segment currently playing",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "saxis_player_state",
			Help: "Playback state (0 idle, 1 playing, 2 held, 3 done)",
		}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "saxis_player_recording",
			Help: "1 while frame capture is active",
		}),
	}

	registry.MustRegister(
		p.ticksTotal,
		p.catchupTotal,
		p.programsAdopted,
		p.pollsTotal,
		p.segmentIndex,
		p.state,
		p.recording,
	)
	return p
}

// AddTicks adds n to the tick counter.
func (p *Player) AddTicks(n uint64) {
	p.ticksTotal.Add(float64(n))
}

// AddCatchup adds n crossed segment boundaries.
func (p *Player) AddCatchup(n uint64) {
	p.catchupTotal.Add(float64(n))
}

// AddProgramsAdopted adds n adopted programs.
func (p *Player) AddProgramsAdopted(n uint64) {
	p.programsAdopted.Add(float64(n))
}

// AddPolls adds n issued status requests.
func (p *Player) AddPolls(n uint64) {
	p.pollsTotal.Add(float64(n))
}

// SetSegmentIndex sets the current segment gauge.
func (p *Player) SetSegmentIndex(i int) {
	p.segmentIndex.Set(float64(i))
}

// SetState sets the playback state gauge.
func (p *Player) SetState(s int) {
	p.state.Set(float64(s))
}

// SetRecording sets the recording gauge.
func (p *Player) SetRecording(on bool) {
	if on {
		p.recording.Set(1)
		return
	}
	p.recording.Set(0)
}

// Handler returns an http.Handler that serves the player metrics.
func (p *Player) Handler(updateGauges func()) http.Handler {
	return handler(p.registry, updateGauges)
}
