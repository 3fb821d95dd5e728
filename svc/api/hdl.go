package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"penne/cfg"
	"penne/pkg/crypto"
	"penne/pkg/domain"
	"penne/svc/auth"
	"penne/svc/expiry"
	"penne/svc/svc"
	"penne/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

type Hdl struct {
	paste    *svc.Paste
	sessions *auth.Manager
	cfg      *cfg.Cfg
}

type CreateReq struct {
	Title     string `json:"title"`
	Contents  string `json:"contents"`
	ExpiresIn int64  `json:"expires_in"`
}

type CreateResp struct {
	ID        string     `json:"id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type PasteResp struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Contents  string     `json:"contents,omitempty"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func pasteResp(p *domain.Paste) PasteResp {
	resp := PasteResp{
		ID:        p.Meta.PasteID,
		Title:     p.Title,
		UserID:    p.Meta.UserID,
		CreatedAt: p.Meta.CreatedAt,
		ExpiresAt: p.Meta.ExpiresAt,
	}
	if p.Contents != nil {
		resp.Contents = *p.Contents
	}
	return resp
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*2)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid request body")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if req.Contents == "" {
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}
	if int64(len(req.Contents)) > h.cfg.MaxPasteSize {
		log.Warn().Int("content_length", len(req.Contents)).Msg("contents exceed maximum size")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if !expiry.ValidChoice(req.ExpiresIn) {
		log.Warn().Int64("expires_in", req.ExpiresIn).Msg("expiry not in menu")
		writeErr(w, domain.ErrInvalidDuration, requestID)
		return
	}
	authorID := domain.AnonymousUserID
	if user := UserFromContext(r.Context()); user != nil {
		authorID = user.ID
	}
	meta, err := h.paste.Create(r.Context(), authorID, sanitizeTitle(req.Title), req.Contents, req.ExpiresIn)
	if err != nil {
		if errors.Is(err, domain.ErrAnonymousPermanent) || errors.Is(err, domain.ErrInvalidRequest) {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", meta.PasteID).
		Int64("expires_in", req.ExpiresIn).
		Bool("anonymous", authorID == domain.AnonymousUserID).
		Msg("paste created")
	writeJSON(w, http.StatusCreated, CreateResp{
		ID:        meta.PasteID,
		ExpiresAt: meta.ExpiresAt,
	})
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		if errors.Is(err, crypto.ErrAuthentication) {
			log.Error().Str("paste_id", id).Msg("stored ciphertext failed authentication")
			writeErr(w, domain.ErrPasteCorrupted, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("get failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Str("paste_id", id).Msg("paste retrieved")
	writeJSON(w, http.StatusOK, pasteResp(paste))
}

// ListUserPastes returns titles and timestamps only; bodies are never
// loaded for listings.
func (h *Hdl) ListUserPastes(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userID")
	pastes, err := h.paste.ListByUser(r.Context(), userID, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("list failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	resp := make([]PasteResp, 0, len(pastes))
	for i := range pastes {
		resp = append(resp, pasteResp(&pastes[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	requesterID := ""
	if user := UserFromContext(r.Context()); user != nil {
		requesterID = user.ID
	}
	if err := h.paste.Delete(r.Context(), id, requesterID); err != nil {
		switch {
		case errors.Is(err, domain.ErrPasteNotFound),
			errors.Is(err, domain.ErrForbidden),
			errors.Is(err, domain.ErrUnauthorized):
			writeErr(w, err, requestID)
		default:
			log.Error().Err(err).Str("paste_id", id).Msg("delete failed")
			writeErr(w, domain.ErrInternalServer, requestID)
		}
		return
	}
	log.Info().Str("paste_id", id).Str("user_id", requesterID).Msg("paste deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ExpiryOptions returns the duration menu. Anonymous callers never see
// the "Never" entry since they cannot use it.
func (h *Hdl) ExpiryOptions(w http.ResponseWriter, r *http.Request) {
	excludeNever := UserFromContext(r.Context()) == nil
	writeJSON(w, http.StatusOK, expiry.Options(excludeNever))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	writeJSON(w, statusCode, map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}

func sanitizeTitle(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
