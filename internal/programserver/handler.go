package programserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"saxis/internal/protocol"
)

// ErrUnknownCommand is returned for a query with an unrecognized Cmd.
var ErrUnknownCommand = errors.New("unrecognized command")

// Handler exposes the rpc endpoint using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RPC handles POST /rpc with a form field rpc=<json query>.
func (h *Handler) RPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var q protocol.Query
	if err := json.Unmarshal([]byte(r.FormValue(protocol.FormField)), &q); err != nil {
		h.log.Debug("invalid rpc body", slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest, "invalid rpc query: "+err.Error())
		return
	}

	switch q.Cmd {
	case protocol.CmdScene:
		h.writeJSON(w, http.StatusOK, h.svc.Scene())
	case protocol.CmdStatus:
		h.writeJSON(w, http.StatusOK, h.svc.Status(q))
	default:
		h.log.Info("rpc rejected", slog.String("cmd", q.Cmd))
		h.writeError(w, http.StatusBadRequest, ErrUnknownCommand.Error()+": "+q.Cmd)
	}
}

// ProgramInfo is the body of GET /programs/{pcount}.
type ProgramInfo struct {
	Pcount      int64
	Name        string
	Program     [][]protocol.Pace
	PublishedAt time.Time
	Completed   bool
	CompletedAt *time.Time `json:",omitempty"`
}

// GetProgram handles GET /programs/{pcount}.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseInt(chi.URLParam(r, "pcount"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid pcount")
		return
	}

	p, ok := h.svc.Program(seq)
	if !ok {
		h.writeError(w, http.StatusNotFound, ErrNoProgram.Error())
		return
	}

	info := ProgramInfo{
		Pcount:      p.Sequence,
		Name:        p.Name,
		Program:     p.Segments,
		PublishedAt: p.PublishedAt,
		Completed:   p.Completed,
	}
	if p.Completed {
		info.CompletedAt = &p.CompletedAt
	}
	h.writeJSON(w, http.StatusOK, info)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("write response failed", slog.String("error", err.Error()))
	}
}
