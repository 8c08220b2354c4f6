// Package server exposes the stabilizer to operators over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/stabilizer/pkg/host"
	"github.com/robotalks/stabilizer/pkg/pid"
	"github.com/robotalks/stabilizer/pkg/protocol"
)

// BoolT is the {"bool": value} payload.
type BoolT struct {
	Bool bool `json:"bool"`
}

// PIDT is the payload of POST /pid.
type PIDT struct {
	P      float64 `json:"p"`
	I      float64 `json:"i"`
	D      float64 `json:"d"`
	Target float64 `json:"target"`
}

// Server serves the operator API:
//
//	GET  /status          latest snapshot
//	POST /pwm             {"freq": 10000, "duty": 32768}, open loop
//	POST /pid             {"p": 1, "i": 0, "d": 0, "target": 25}
//	POST /pid/reset
//	POST /loop            {"bool": true}
//	POST /sampling        {"bool": true}
//	GET  /samples         samples within ?window=30s
//	GET  /samples/stream  websocket of snapshots as JSON
type Server struct {
	Addr       string
	Stabilizer *host.Stabilizer
	Window     time.Duration

	hub    hub
	router chi.Router
}

// New creates a Server.
func New(addr string, stab *host.Stabilizer, window time.Duration) *Server {
	s := &Server{Addr: addr, Stabilizer: stab, Window: window}
	s.hub.subs = make(map[chan host.Snapshot]struct{})
	r := chi.NewRouter()
	r.Get("/status", s.getStatus)
	r.Post("/pwm", s.setPWM)
	r.Post("/pid", s.setPID)
	r.Post("/pid/reset", s.action(stab.ResetPID))
	r.Post("/loop", s.setBool(stab.EnableLoop))
	r.Post("/sampling", s.setBool(stab.EnableSampling))
	r.Get("/samples", s.getSamples)
	r.Handle("/samples/stream", websocket.Handler(s.stream))
	s.router = r
	return s
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "http"
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Observe implements host.Observer, feeding the sample streams.
func (s *Server) Observe(snap host.Snapshot) {
	s.hub.broadcast(snap)
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s}
	errCh := make(chan error, 1)
	go func() {
		glog.Infof("http listening on %s", s.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("respond: %v", err)
	}
}

func fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if _, ok := err.(*protocol.DecodeError); ok {
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, s.Stabilizer.Status())
}

func (s *Server) setPWM(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.Command
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Stabilizer.SetPWM(cmd.Freq, cmd.Duty); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) setPID(w http.ResponseWriter, r *http.Request) {
	var req PIDT
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Stabilizer.SetPID(pid.Gains{P: req.P, I: req.I, D: req.D}, req.Target); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) setBool(fn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b BoolT
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fn(b.Bool); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) action(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) getSamples(w http.ResponseWriter, r *http.Request) {
	window := s.Window
	if val := r.URL.Query().Get("window"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		window = d
	}
	since := s.Stabilizer.Clock.Now().Add(-window)
	samples := s.Stabilizer.Series.Since(since)
	if samples == nil {
		samples = []host.Sample{}
	}
	respond(w, samples)
}

func (s *Server) stream(conn *websocket.Conn) {
	defer conn.Close()
	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)
	glog.V(2).Infof("stream %s connected", conn.Request().RemoteAddr)
	for snap := range ch {
		if err := websocket.JSON.Send(conn, &snap); err != nil {
			glog.V(2).Infof("stream %s: %v", conn.Request().RemoteAddr, err)
			return
		}
	}
}
