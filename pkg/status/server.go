// Package status exposes printer state over HTTP and websocket: the
// planned position, temperatures, heater duty, and scheduler health.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/js-god/printipi/pkg/log"
	"github.com/js-god/printipi/pkg/sched"
)

// broadcastInterval is the websocket push cadence.
const broadcastInterval = 500 * time.Millisecond

// Report is the wire form of one status snapshot.
type Report struct {
	Position     [3]float64 `json:"position"`
	Extruder     float64    `json:"extruder"`
	Homed        bool       `json:"homed"`
	HotendTemp   float64    `json:"hotend_temp"`
	HotendTarget float64    `json:"hotend_target"`
	HotendDuty   float64    `json:"hotend_duty"`
	FanDuty      float64    `json:"fan_duty"`
	Pending      int        `json:"pending"`
	Underruns    uint64     `json:"underruns"`
	TempFault    bool       `json:"temp_fault"`
}

func makeReport(st sched.Status) Report {
	return Report{
		Position:     [3]float64{st.X, st.Y, st.Z},
		Extruder:     st.E,
		Homed:        st.Homed,
		HotendTemp:   st.HotendTemp,
		HotendTarget: st.HotendTarget,
		HotendDuty:   st.HotendDuty,
		FanDuty:      st.FanDuty,
		Pending:      st.Pending,
		Underruns:    st.Underruns,
		TempFault:    st.TempFault,
	}
}

// Server serves status snapshots.
type Server struct {
	sched *sched.Scheduler
	log   *log.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	cancel context.CancelFunc
}

// NewServer returns a status server over the scheduler.
func NewServer(s *sched.Scheduler, addr string) *Server {
	srv := &Server{
		sched:   s,
		log:     log.GetLogger("status"),
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/ws", srv.handleWS)
	srv.httpServer = &http.Server{Addr: addr, Handler: mux}
	return srv
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving and broadcasting in the background.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("status server stopped")
		}
	}()
	go s.broadcastLoop(ctx)
	s.log.Info("serving on %s", s.httpServer.Addr)
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(makeReport(s.sched.GetStatus()))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Push the first snapshot immediately.
	conn.WriteJSON(makeReport(s.sched.GetStatus()))

	// Drain (and discard) client messages to notice disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.clients, conn)
				s.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := makeReport(s.sched.GetStatus())
			s.mu.Lock()
			for conn := range s.clients {
				if err := conn.WriteJSON(report); err != nil {
					delete(s.clients, conn)
					conn.Close()
				}
			}
			s.mu.Unlock()
		}
	}
}
