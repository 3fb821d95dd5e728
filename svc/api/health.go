package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"penne/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Store    string `json:"store"`
	Sessions string `json:"sessions"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:    true,
		Store:    "up",
		Sessions: "up",
	}
	storeCtx, storeCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer storeCancel()
	if err := s.store.Ping(storeCtx); err != nil {
		util.Error().Err(err).Msg("store health check failed")
		resp.Store = "down"
		resp.Ready = false
	}
	if s.rdb != nil {
		redisCtx, redisCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer redisCancel()
		if err := s.rdb.Ping(redisCtx); err != nil {
			util.Error().Err(err).Msg("session store health check failed")
			resp.Sessions = "down"
			resp.Degraded = true
		}
	} else {
		resp.Sessions = "disabled"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
