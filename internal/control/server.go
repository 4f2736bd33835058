// Package control is the HTTP control surface: parameter and gate
// commands, patch sessions, status snapshots, and a websocket feed of the
// same snapshot. Command delivery is fire-and-forget; patch session errors
// come back synchronously with a specific reason.
package control

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunfall-audio/tandem/internal/command"
	"github.com/sunfall-audio/tandem/internal/patch"
	"github.com/sunfall-audio/tandem/internal/supervisor"
)

// Server wires the supervisor and patch router to HTTP.
type Server struct {
	sup    *supervisor.Supervisor
	router *patch.Router

	upgrader websocket.Upgrader
	wsPush   time.Duration
}

// NewServer creates a control server.
func NewServer(sup *supervisor.Supervisor, router *patch.Router) *Server {
	return &Server{
		sup:    sup,
		router: router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		wsPush: 500 * time.Millisecond,
	}
}

// Register installs the control routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/param", s.handleParam)
	mux.HandleFunc("/api/gate", s.handleGate)
	mux.HandleFunc("/api/patch/create", s.handlePatchCreate)
	mux.HandleFunc("/api/patch/connect", s.handlePatchConnect)
	mux.HandleFunc("/api/patch/commit", s.handlePatchCommit)
	mux.HandleFunc("/api/patch/abort", s.handlePatchAbort)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws/status", s.handleStatusWS)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": err.Error()})
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleParam(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Target string  `json:"target"` // "all" (default) or "active"
		Stage  string  `json:"stage"`
		Param  string  `json:"param"`
		Value  float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" || req.Param == "" {
		http.Error(w, "invalid param request", http.StatusBadRequest)
		return
	}
	target := command.TargetAll
	if req.Target == "active" {
		target = command.TargetActive
	} else if req.Target != "" && req.Target != "all" {
		http.Error(w, "target must be all or active", http.StatusBadRequest)
		return
	}
	s.sup.Apply(command.Param(req.Stage, req.Param, req.Value), target)
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Stage string `json:"stage"`
		On    bool   `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" {
		http.Error(w, "invalid gate request", http.StatusBadRequest)
		return
	}
	s.sup.Apply(command.GateOn(req.Stage, req.On), command.TargetAll)
	writeJSON(w, map[string]any{"ok": true})
}

// patchCode maps patch-session errors to HTTP codes: caller mistakes are
// 400/409, a priming timeout is the supervisor declining the swap.
func patchCode(err error) int {
	switch {
	case errors.Is(err, patch.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrPrimingTimeout), errors.Is(err, supervisor.ErrNoStandby):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handlePatchCreate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Stage string `json:"stage"`
		Type  string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" || req.Type == "" {
		http.Error(w, "invalid create request", http.StatusBadRequest)
		return
	}
	if err := s.router.Create(req.Stage, req.Type); err != nil {
		writeErr(w, patchCode(err), err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "session": s.router.State()})
}

func (s *Server) handlePatchConnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Src == "" || req.Dst == "" {
		http.Error(w, "invalid connect request", http.StatusBadRequest)
		return
	}
	if err := s.router.Connect(req.Src, req.Dst); err != nil {
		writeErr(w, patchCode(err), err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "session": s.router.State()})
}

func (s *Server) handlePatchCommit(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.router.Commit(); err != nil {
		writeErr(w, patchCode(err), err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "active_slot": s.sup.ActiveIndex()})
}

func (s *Server) handlePatchAbort(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.router.Abort(); err != nil {
		writeErr(w, patchCode(err), err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

type statusPayload struct {
	supervisor.Status
	Session patch.SessionState `json:"patch_session"`
}

func (s *Server) snapshot() statusPayload {
	return statusPayload{
		Status:  s.sup.Status(),
		Session: s.router.State(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

// handleStatusWS pushes the status snapshot at a fixed cadence until the
// peer goes away.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Status WS upgrade: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.wsPush)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}
}
