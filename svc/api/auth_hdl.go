package api

import (
	"encoding/json"
	"net/http"

	"penne/pkg/domain"
	"penne/svc/util"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Hdl) decodeCredentials(w http.ResponseWriter, r *http.Request, requestID string) (*credentialsReq, bool) {
	var req credentialsReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return nil, false
	}
	return &req, true
}

func (h *Hdl) Signup(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if h.sessions == nil {
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	req, ok := h.decodeCredentials(w, r, requestID)
	if !ok {
		return
	}
	if err := h.sessions.SignUp(r.Context(), req.Email, req.Password); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("signup failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *Hdl) Login(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if h.sessions == nil {
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	req, ok := h.decodeCredentials(w, r, requestID)
	if !ok {
		return
	}
	session, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("login failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.Environment == "production",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
	})
	log.Info().Str("user_id", session.UserID).Msg("user logged in")
	writeJSON(w, http.StatusOK, domain.User{ID: session.UserID, Email: session.Email})
}

func (h *Hdl) Logout(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	if h.sessions == nil {
		writeErr(w, domain.ErrUnauthorized, requestID)
		return
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		if err := h.sessions.Logout(r.Context(), cookie.Value); err != nil {
			util.Warn().Err(err).Msg("logout failed")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
