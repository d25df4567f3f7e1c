package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/skobkin/ibtop/internal/config"
	"github.com/skobkin/ibtop/internal/hostinfo"
	"github.com/skobkin/ibtop/internal/ib"
	"github.com/skobkin/ibtop/internal/procscan"
	"github.com/skobkin/ibtop/internal/sampler"
	"github.com/skobkin/ibtop/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	interfaces []ib.Interface
	ifaceIndex map[string]ib.Interface
	host       hostinfo.Info
	sampler    *sampler.Manager
	proc       *procscan.Manager

	// describe reads link attributes on demand.
	describe func() (ib.Attributes, error)

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its handlers. procManager may be nil.
func New(cfg config.Config, logger *slog.Logger, interfaces []ib.Interface, host hostinfo.Info, samplerManager *sampler.Manager, procManager *procscan.Manager) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		interfaces: interfaces,
		ifaceIndex: make(map[string]ib.Interface, len(interfaces)),
		host:       host,
		sampler:    samplerManager,
		proc:       procManager,
		describe: func() (ib.Attributes, error) {
			return ib.Describe(cfg.SysfsRoot)
		},
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	for _, iface := range interfaces {
		s.ifaceIndex[iface.Name] = iface
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/api/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/interfaces", s.handleAPIInterfaces)
	mux.HandleFunc("/api/interfaces/", s.handleAPIInterfaceSubresource)
	mux.HandleFunc("/ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleAPIInterfaces(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	attrs := s.linkAttributes(r.Context())
	views := make([]interfaceView, 0, len(s.interfaces))
	for _, iface := range s.interfaces {
		views = append(views, newInterfaceView(iface, attrs))
	}
	s.writeJSON(w, r, http.StatusOK, views)
}

func (s *Server) handleAPIInterfaceSubresource(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	const prefix = "/api/interfaces/"
	rest, ok := strings.CutPrefix(r.URL.Path, prefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	segments := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(segments) > 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}

	iface, ok := s.ifaceIndex[segments[0]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if len(segments) == 1 {
		s.writeJSON(w, r, http.StatusOK, newInterfaceView(iface, s.linkAttributes(r.Context())))
		return
	}

	switch segments[1] {
	case "bandwidth":
		s.serveBandwidth(w, r, iface.Name)
	case "procs":
		s.serveProcs(w, r, iface.Name)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveBandwidth(w http.ResponseWriter, r *http.Request, name string) {
	if s.sampler == nil {
		http.Error(w, "sampler unavailable", http.StatusServiceUnavailable)
		return
	}

	samples := s.sampler.LatestFor(name)
	if len(samples) == 0 {
		http.Error(w, "no sample available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, samples)
}

func (s *Server) serveProcs(w http.ResponseWriter, r *http.Request, name string) {
	if s.proc == nil || !s.proc.Enabled() {
		http.Error(w, "process scanner unavailable", http.StatusServiceUnavailable)
		return
	}

	snapshot, ok := s.proc.Latest(name)
	if !ok {
		http.Error(w, "no process data available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, snapshot)
}

func (s *Server) linkAttributes(ctx context.Context) ib.Attributes {
	if s.describe == nil {
		return nil
	}
	attrs, err := s.describe()
	if err != nil {
		s.loggerFromContext(ctx).Debug("link attributes unavailable", "err", err)
		return nil
	}
	return attrs
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.loggerFromContext(r.Context()).Warn("failed to write response", "err", err)
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

type interfaceView struct {
	ib.Interface
	Links map[string]ib.PortAttributes `json:"links,omitempty"`
}

func newInterfaceView(iface ib.Interface, attrs ib.Attributes) interfaceView {
	view := interfaceView{Interface: iface}
	for _, port := range iface.Ports {
		pa, ok := attrs.Lookup(iface.Name, port)
		if !ok {
			continue
		}
		if view.Links == nil {
			view.Links = make(map[string]ib.PortAttributes, len(iface.Ports))
		}
		view.Links[port] = pa
	}
	return view
}

func (s *Server) readiness() readyResponse {
	resp := readyResponse{
		Interfaces: len(s.interfaces),
	}

	if s.sampler == nil {
		resp.Status = "degraded"
		resp.Reason = "sampler_not_configured"
		return resp
	}

	resp.Ports = len(s.sampler.Ports())
	if resp.Ports == 0 {
		resp.Status = "degraded"
		resp.Reason = "no_ports"
		return resp
	}

	if s.sampler.Ready() {
		resp.Status = "ok"
		return resp
	}

	resp.Status = "initializing"
	resp.Reason = "waiting_for_samples"
	return resp
}

type readyResponse struct {
	Status     string `json:"status"`
	Interfaces int    `json:"interfaces"`
	Ports      int    `json:"ports"`
	Reason     string `json:"reason,omitempty"`
}
