// Package viewer streams the rendered pose to browsers over websockets.
package viewer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/s1"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"saxis/internal/motion"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 30 * time.Second
	pingInterval = pongWait * 9 / 10
)

// DefaultSendBuffer is the number of messages queued per client before the
// client is dropped.
const DefaultSendBuffer = 32

// Message types.
const (
	TypeHello     = "hello"
	TypeFrame     = "frame"
	TypeRecording = "recording"
)

// JointInfo describes one joint in the hello message.
type JointInfo struct {
	Index  int     `json:"index"`
	Axis   string  `json:"axis"`
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Hello is the first message sent to each client.
type Hello struct {
	Type    string      `json:"type"`
	Session string      `json:"session"`
	Joints  []JointInfo `json:"joints"`
}

// FrameJoint is one joint angle of a frame.
type FrameJoint struct {
	Index   int     `json:"index"`
	Axis    string  `json:"axis"`
	Radians float64 `json:"radians"`
	Degrees float64 `json:"degrees"`
}

// Frame is broadcast on every Commit.
type Frame struct {
	Type   string       `json:"type"`
	Seq    uint64       `json:"seq"`
	Joints []FrameJoint `json:"joints"`
}

// Recording is broadcast when frame capture starts or stops.
type Recording struct {
	Type   string `json:"type"`
	On     bool   `json:"on"`
	Pcount int64  `json:"pcount"`
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

// Hub is a renderer that broadcasts each committed frame to all connected
// websocket clients. A client whose send buffer is full is dropped.
type Hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.RWMutex
	clients map[*client]struct{}
	hello   []byte

	fmu     sync.Mutex
	spec    motion.JointSpec
	pending []float64

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-client queue length. Non-positive values keep
// DefaultSendBuffer.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(log *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:        log,
		sendBuffer: DefaultSendBuffer,
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Attach sets the session and robot announced to new clients.
func (h *Hub) Attach(id uuid.UUID, spec motion.JointSpec) {
	hello := Hello{Type: TypeHello, Session: id.String(), Joints: make([]JointInfo, 0, len(spec))}
	for i, j := range spec {
		hello.Joints = append(hello.Joints, JointInfo{
			Index:  i,
			Axis:   j.Axis.String(),
			Width:  j.Width,
			Length: j.Length,
			Min:    j.Min,
			Max:    j.Max,
		})
	}
	data, err := json.Marshal(hello)
	if err != nil {
		h.log.Error("encode hello failed", slog.String("error", err.Error()))
		return
	}

	h.fmu.Lock()
	h.spec = spec
	h.pending = make([]float64, len(spec))
	h.fmu.Unlock()

	h.mu.Lock()
	h.hello = data
	h.mu.Unlock()
}

func (h *Hub) RotateX(i int, rad float64) { h.set(i, rad) }
func (h *Hub) RotateY(i int, rad float64) { h.set(i, rad) }
func (h *Hub) RotateZ(i int, rad float64) { h.set(i, rad) }

func (h *Hub) set(i int, rad float64) {
	h.fmu.Lock()
	if i >= 0 && i < len(h.pending) {
		h.pending[i] = rad
	}
	h.fmu.Unlock()
}

// Commit broadcasts the current joint angles as one frame.
func (h *Hub) Commit() {
	h.fmu.Lock()
	f := Frame{Type: TypeFrame, Seq: h.frames.Add(1), Joints: make([]FrameJoint, len(h.pending))}
	for i, rad := range h.pending {
		f.Joints[i] = FrameJoint{
			Index:   i,
			Axis:    h.spec[i].Axis.String(),
			Radians: rad,
			Degrees: s1.Angle(rad).Degrees(),
		}
	}
	h.fmu.Unlock()

	h.broadcast(f)
}

// RecordingStarted implements status.Recorder.
func (h *Hub) RecordingStarted(pcount int64) {
	h.broadcast(Recording{Type: TypeRecording, On: true, Pcount: pcount})
}

// RecordingStopped implements status.Recorder.
func (h *Hub) RecordingStopped(pcount int64) {
	h.broadcast(Recording{Type: TypeRecording, On: false, Pcount: pcount})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of clients dropped for falling behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode message failed", slog.String("error", err.Error()))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		if h.remove(c) {
			h.dropped.Add(1)
			h.log.Warn("dropping slow viewer", slog.String("remote", c.remote))
		}
	}
}

// remove unregisters c and reports whether it was still registered.
func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return ok
}

// ServeWS handles GET /ws.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, remote: conn.RemoteAddr().String(), send: make(chan []byte, h.sendBuffer)}
	h.mu.Lock()
	if h.hello != nil {
		c.send <- h.hello
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("viewer connected", slog.String("remote", c.remote), slog.Int("clients", n))

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and unregisters the client when the
// connection closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		if h.remove(c) {
			h.log.Info("viewer disconnected", slog.String("remote", c.remote))
		}
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
