// Package monitor serves a live view of a running calibration. Clients
// connect over a websocket and receive JSON-RPC 2.0 notifications as the
// controller moves through its phases; the same methods answer plain
// HTTP requests.
package monitor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/log"
)

var logger = log.GetLogger("monitor")

// Version is reported by server.info.
const Version = "1.0"

// Status is the latest known state of the calibration.
type Status struct {
	RunID    string     `json:"run_id"`
	Mode     string     `json:"mode"`
	Phase    string     `json:"phase"`
	Pass     int        `json:"pass"`
	Terminal bool       `json:"terminal"`
	State    *StateJSON `json:"state,omitempty"`
	Error    *ErrorJSON `json:"error,omitempty"`
	Firmware *Firmware  `json:"firmware,omitempty"`
	Updated  float64    `json:"updated"`
}

// Firmware summarises a firmware-delegated loop.
type Firmware struct {
	Iterations int        `json:"iterations"`
	Reason     string     `json:"reason"`
	StdDev     float64    `json:"std_dev"`
	Height     float64    `json:"height"`
	Radius     float64    `json:"radius"`
	RodLength  float64    `json:"rod_length"`
	Endstops   [3]float64 `json:"endstops"`
}

// Config holds server configuration.
type Config struct {
	// Address to listen on, e.g. ":7125".
	Addr string

	// Passes kept for calibration.history. Zero means 100.
	HistoryLimit int
}

// Server publishes calibration progress. It implements calibrate.Observer.
type Server struct {
	addr       string
	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	stopped    bool

	wsUpgrader websocket.Upgrader
	clients    map[int64]*wsClient
	clientMu   sync.RWMutex
	nextID     int64

	statusMu sync.RWMutex
	status   Status
	history  *History

	running   atomic.Bool
	startTime time.Time
	now       func() time.Time
}

// New creates a monitor server.
func New(cfg Config) *Server {
	limit := cfg.HistoryLimit
	if limit == 0 {
		limit = 100
	}
	s := &Server{
		addr:      cfg.Addr,
		clients:   make(map[int64]*wsClient),
		history:   NewHistory(limit),
		startTime: time.Now(),
		now:       time.Now,
		status:    Status{Phase: "idle"},
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// History returns the pass history.
func (s *Server) History() *History {
	return s.history
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/server/info", s.restMethod("server.info"))
	mux.HandleFunc("/calibration/status", s.restMethod("calibration.status"))
	mux.HandleFunc("/calibration/history", s.restMethod("calibration.history"))
	return corsMiddleware(mux)
}

// Start listens and serves until Stop. After Stop it returns at once.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	srv := &http.Server{Handler: s.Handler()}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ln.Close()
	}
	s.listener, s.httpServer = ln, srv
	s.mu.Unlock()
	s.running.Store(true)
	logger.Info("status feed on ws://%s/websocket", ln.Addr())

	err = srv.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every client and the listener.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	s.mu.Lock()
	s.stopped = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

// Status returns a copy of the latest status.
func (s *Server) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Server) stamp() float64 {
	return float64(s.now().UnixMilli()) / 1000
}

// OnPhase publishes a phase change.
func (s *Server) OnPhase(runID string, pass int, phase calibrate.Phase) {
	s.statusMu.Lock()
	if s.status.RunID != runID {
		s.status = Status{RunID: runID, Mode: "host"}
	}
	s.status.Phase = phase.String()
	s.status.Pass = pass
	s.status.Terminal = phase.Terminal()
	s.status.Updated = s.stamp()
	st := s.status
	s.statusMu.Unlock()

	s.broadcast("notify_phase_update", st)
}

// OnPass publishes a finished pass and stores it in the history.
func (s *Server) OnPass(runID string, rec calibrate.PassRecord) {
	ps := summarize(runID, rec, s.now())
	s.history.Add(ps)

	s.statusMu.Lock()
	s.status.State = &ps.Next
	s.status.Error = &ps.Error
	s.status.Updated = s.stamp()
	s.statusMu.Unlock()

	s.broadcast("notify_pass_complete", ps)
}

// RecordFirmware publishes the result of a firmware-delegated loop.
func (s *Server) RecordFirmware(runID string, out *calibrate.FirmwareOutcome) {
	if out == nil {
		return
	}
	fw := &Firmware{
		Iterations: out.Iterations,
		Reason:     out.Reason.String(),
		StdDev:     out.Best.StdDev,
		Height:     out.Best.Height,
		Radius:     out.Best.Radius,
		RodLength:  out.BestRodLength,
		Endstops:   out.Best.Endstops,
	}
	s.statusMu.Lock()
	s.status = Status{
		RunID:    runID,
		Mode:     "firmware",
		Phase:    out.Reason.String(),
		Pass:     out.Iterations,
		Terminal: true,
		Firmware: fw,
		Updated:  s.stamp(),
	}
	s.statusMu.Unlock()

	s.broadcast("notify_firmware_complete", fw)
}

func (s *Server) broadcast(method string, params any) {
	msg := jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: []any{params}}
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, c := range s.clients {
		c.Send(msg)
	}
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeServerError    = -32000
)

type methodError struct {
	code int
	msg  string
}

func (e *methodError) Error() string { return e.msg }

func (s *Server) dispatchMethod(method string, params map[string]any) (any, error) {
	switch method {
	case "server.info":
		return map[string]any{
			"version":       Version,
			"uptime":        time.Since(s.startTime).Seconds(),
			"clients":       s.clientCount(),
			"history_count": s.history.Len(),
		}, nil
	case "calibration.status":
		return s.Status(), nil
	case "calibration.history":
		limit := 0
		switch v := params["limit"].(type) {
		case float64:
			limit = int(v)
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, &methodError{codeServerError, fmt.Sprintf("invalid limit %q", v)}
			}
			limit = n
		}
		return map[string]any{"passes": s.history.List(limit)}, nil
	}
	return nil, &methodError{codeMethodNotFound, "Method not found: " + method}
}

func errorCode(err error) int {
	if me, ok := err.(*methodError); ok {
		return me.code
	}
	return codeServerError
}

func (s *Server) clientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: codeParseError, Message: "Parse error"}})
		return
	}
	result, err := s.dispatchMethod(req.Method, req.Params)
	if err != nil {
		writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: errorCode(err), Message: err.Error()}, ID: req.ID})
		return
	}
	writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// restMethod exposes a JSON-RPC method as GET with query parameters.
func (s *Server) restMethod(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		params := make(map[string]any)
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		result, err := s.dispatchMethod(method, params)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": errorCode(err), "message": err.Error()}})
			return
		}
		writeJSON(w, map[string]any{"result": result})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("write response: %v", err)
	}
}
