package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/extraction"
	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/otp"
	"github.com/clearpath-id/kyc-engine/internal/pipeline"
	"github.com/clearpath-id/kyc-engine/internal/session"
)

// newRouter builds the HTTP API over the pipeline.
func newRouter(p *pipeline.Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", handleCreateSession(p))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handleStatus(p))
			r.Post("/personal-info", handlePersonalInfo(p))
			r.Post("/document", handleDocument(p))
			r.Post("/otp", handleRequestOTP(p))
			r.Post("/otp/verify", handleVerifyOTP(p))
			r.Post("/face", handleFace(p))
		})
	})

	return r
}

func handleCreateSession(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := p.CreateSession(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

func handleStatus(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := p.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handlePersonalInfo(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pi pipeline.PersonalInfo
		if !decodeBody(w, r, &pi) {
			return
		}
		s, err := p.SubmitPersonalInfo(r.Context(), chi.URLParam(r, "id"), pi)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

type documentRequest struct {
	DocumentType string `json:"document_type"`
	Format       string `json:"format"`
	Image        string `json:"image"` // base64
}

func handleDocument(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req documentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			badRequest(w, "image must be base64")
			return
		}

		s, err := p.SubmitDocument(r.Context(), chi.URLParam(r, "id"), extraction.Document{
			Type:   model.DocumentType(req.DocumentType),
			Format: req.Format,
			Image:  image,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleRequestOTP(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, err := p.RequestOTP(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		// The code itself goes to the delivery channel, never the API caller.
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id": handle.SessionID,
			"expires_at": handle.ExpiresAt,
		})
	}
}

func handleVerifyOTP(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		result, s, err := p.SubmitOTP(r.Context(), chi.URLParam(r, "id"), req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result":  result,
			"session": s,
		})
	}
}

func handleFace(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image string `json:"image"` // base64
		}
		if !decodeBody(w, r, &req) {
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			badRequest(w, "image must be base64")
			return
		}

		s, attestation, err := p.SubmitFace(r.Context(), chi.URLParam(r, "id"), image)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":     s,
			"attestation": attestation,
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP statuses. Internal detail stays in
// the logs; the client sees a category.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case eris.Is(err, pipeline.ErrWrongStage):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "operation does not match session stage"})
	case eris.Is(err, session.ErrStaleTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "concurrent update, retry"})
	case eris.Is(err, otp.ErrIssueRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "passcode issuance rate limited"})
	case eris.Is(err, extraction.ErrAllEnginesUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "document extraction unavailable"})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
