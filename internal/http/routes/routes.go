package routes

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	appmw "github.com/briangreenhill/offlinesw/internal/http/middleware"
	"github.com/briangreenhill/offlinesw/internal/metrics"
	"github.com/briangreenhill/offlinesw/internal/protocol"
	"github.com/briangreenhill/offlinesw/internal/worker"
)

type Server struct {
	Router  *chi.Mux
	Worker  *worker.Worker
	Metrics *metrics.Metrics
}

type ServerOptions struct {
	Worker  *worker.Worker
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmw.Metrics(opts.Metrics))

	s := &Server{Router: r, Worker: opts.Worker, Metrics: opts.Metrics}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/_sw", func(sw chi.Router) {
		sw.Post("/install", s.handleInstall)
		sw.Post("/activate", s.handleActivate)
		sw.Post("/message", s.handleMessage)
		sw.Post("/sync", s.handleSync)
		sw.Get("/pending", s.handlePending)
	})

	// everything else is a fetch
	r.NotFound(s.Worker.ServeHTTP)

	return s
}

// Handler is the server's root handler, forward-proxy requests included.
func (s *Server) Handler() http.Handler {
	proxy := appmw.Metrics(s.Metrics)(s.Worker)
	return appmw.ForwardProxy(proxy)(s.Router)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write json response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	n, err := s.Worker.Install(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("install failed")
		writeError(w, r, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"cached": n})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.Worker.Activate(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("activate failed")
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	writeJSON(w, r, http.StatusOK, map[string][]string{"deleted": deleted})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var m protocol.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&m); err != nil {
		writeJSON(w, r, http.StatusBadRequest, protocol.Rejected(m.Kind, err))
		return
	}
	if err := m.Validate(); err != nil {
		writeJSON(w, r, http.StatusBadRequest, protocol.Rejected(m.Kind, err))
		return
	}
	ack := s.Worker.Message(r.Context(), m)
	status := http.StatusOK
	if !ack.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, r, status, ack)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	scheduled, err := s.Worker.Sync(r.Context(), body.Tag)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("tag", body.Tag).Msg("schedule sync")
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	if !scheduled {
		writeJSON(w, r, http.StatusOK, map[string]bool{"scheduled": false, "ignored": true})
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]bool{"scheduled": true})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	p, err := s.Worker.Pending(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list pending writes")
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}
