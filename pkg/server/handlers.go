package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/rendermill/pkg/backend"
	"github.com/matzehuels/rendermill/pkg/buildinfo"
	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/pipeline"
	"github.com/matzehuels/rendermill/pkg/pool"
	"github.com/matzehuels/rendermill/pkg/store"
)

type successResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

type errorResponse struct {
	Error string    `json:"error"`
	Kind  errs.Code `json:"kind,omitempty"`
}

type backendsResponse struct {
	Backends []backend.ProbeResult `json:"backends"`
	Pool     []pool.Stats          `json:"pool,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind errs.Code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

type healthResponse struct {
	Status string         `json:"status"`
	Build  buildinfo.Info `json:"build"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Build: buildinfo.Get()})
}

func (s *Server) handleMermaid(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxSourceBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errs.ErrCodeInvalidInput, "Mermaid code is too large")
			return
		}
		writeError(w, http.StatusBadRequest, errs.ErrCodeInvalidInput, "Could not read request body")
		return
	}

	req, err := ParseRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.ErrCodeInvalidInput, errs.UserMessage(err))
		return
	}
	if f := r.URL.Query().Get("format"); f != "" {
		req.Format = f
	}

	res := s.cfg.Runner.Execute(r.Context(), req)
	if res.Outcome.Failed() {
		s.logger.Error("render request failed",
			"kind", res.Outcome.Kind,
			"error", res.Err,
			"states", res.States,
			"request_id", middleware.GetReqID(r.Context()))
		writeError(w, errs.HTTPStatus(res.Outcome.Kind), res.Outcome.Kind, res.Outcome.Message)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, URL: res.Outcome.URL})
}

// ParseRequest reads the inbound body. A JSON object supplies mermaidCode
// and optional format and folder; a JSON string is the source itself. Bare
// JSON numbers and booleans, and any body that is not JSON, are taken
// verbatim.
func ParseRequest(body []byte) (pipeline.Request, error) {
	trimmed := bytes.TrimSpace(body)
	var raw any
	if len(trimmed) == 0 || json.Unmarshal(trimmed, &raw) != nil {
		return requireSource(pipeline.Request{Source: string(body)})
	}

	switch v := raw.(type) {
	case string:
		return requireSource(pipeline.Request{Source: v})
	case float64, bool:
		return requireSource(pipeline.Request{Source: string(trimmed)})
	case map[string]any:
		var req pipeline.Request
		code, ok := v["mermaidCode"].(string)
		if !ok {
			return pipeline.Request{}, errs.New(errs.ErrCodeInvalidInput, "Mermaid code is required")
		}
		req.Source = code
		req.Format, _ = v["format"].(string)
		req.Folder, _ = v["folder"].(string)
		return requireSource(req)
	default:
		return pipeline.Request{}, errs.New(errs.ErrCodeInvalidInput, "Mermaid code is required")
	}
}

func requireSource(req pipeline.Request) (pipeline.Request, error) {
	if len(bytes.TrimSpace([]byte(req.Source))) == 0 {
		return pipeline.Request{}, errs.New(errs.ErrCodeInvalidInput, "Mermaid code is required")
	}
	return req, nil
}

func (s *Server) handleBackends(w http.ResponseWriter, _ *http.Request) {
	resp := backendsResponse{Backends: s.cfg.Runner.Selector().Probe()}
	if s.cfg.Pool != nil {
		resp.Pool = s.cfg.Pool.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	o, ok := s.cfg.Store.(store.Opener)
	if !ok || errs.ValidatePath(name) != nil {
		http.NotFound(w, r)
		return
	}
	rc, err := o.Open(r.Context(), name)
	if err != nil {
		if errs.Is(err, errs.ErrCodeNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("open artifact", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, errs.ErrCodeInternal, "Could not read artifact")
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("write artifact", "name", name, "error", err)
	}
}
