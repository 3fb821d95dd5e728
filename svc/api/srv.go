package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"penne/cfg"
	"penne/metrics"
	"penne/svc/auth"
	"penne/svc/db"
	"penne/svc/svc"
	"penne/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	store      svc.Store
	rdb        *db.Redis
	cfg        *cfg.Cfg
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, paste *svc.Paste, sessions *auth.Manager, store svc.Store, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(sessions, c)
	s := &Server{
		router: r,
		store:  store,
		rdb:    rdb,
		cfg:    c,
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Mount("/debug", middleware.Profiler())

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			// route pattern, not the raw path, to keep label cardinality bounded
			endpoint := chi.RouteContext(req.Context()).RoutePattern()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			metrics.RequestDuration.
				WithLabelValues(req.Method, endpoint, strconv.Itoa(status)).
				Observe(dur.Seconds())
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.CurrentUser)
		hdl := &Hdl{paste: paste, sessions: sessions, cfg: c}
		r.Post("/pastes", hdl.CreatePaste)
		r.Get("/pastes/{id}", hdl.GetPaste)
		r.Delete("/pastes/{id}", hdl.DeletePaste)
		r.Get("/users/{userID}/pastes", hdl.ListUserPastes)
		r.Get("/config/expiry", hdl.ExpiryOptions)
		r.Post("/auth/signup", hdl.Signup)
		r.Post("/auth/login", hdl.Login)
		r.Post("/auth/logout", hdl.Logout)
	})
	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
