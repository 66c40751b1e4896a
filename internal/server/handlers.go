package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/go-core-stack/throttle/db"
	"github.com/go-core-stack/throttle/errors"
	"github.com/go-core-stack/throttle/rate"
)

// LimiterView is the admin representation of a limiter
type LimiterView struct {
	Name           string `json:"name"`
	BytesPerSecond int64  `json:"bytesPerSecond"`
	MinTake        int64  `json:"minTake"`
	MaxTake        int64  `json:"maxTake"`
	// EffectiveRate differs from BytesPerSecond while the manager is
	// rebalancing its budget
	EffectiveRate int64 `json:"effectiveRate"`
	Streams       int   `json:"streams"`
}

// LimiterRequest is the body of PUT /limiters/{key}
type LimiterRequest struct {
	BytesPerSecond int64  `json:"bytesPerSecond"`
	MinTake        *int64 `json:"minTake,omitempty"`
	MaxTake        *int64 `json:"maxTake,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func viewOf(l *rate.Limiter) LimiterView {
	n := l.Nominal()
	return LimiterView{
		Name:           l.Key(),
		BytesPerSecond: n.BytesPerSecond,
		MinTake:        n.MinTake,
		MaxTake:        n.MaxTake,
		EffectiveRate:  l.Allocator().Snapshot().BytesPerSecond,
		Streams:        l.Streams(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleError maps coded errors to HTTP status codes
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetErrCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.InvalidArgument:
		status = http.StatusBadRequest
	case errors.NotFound:
		status = http.StatusNotFound
	case errors.AlreadyExists:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: code.String(), Message: err.Error()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listLimiters(w http.ResponseWriter, r *http.Request) {
	views := []LimiterView{}
	for _, key := range s.mgr.Keys() {
		l, err := s.mgr.Get(key)
		if err != nil {
			// removed concurrently
			continue
		}
		views = append(views, viewOf(l))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getLimiter(w http.ResponseWriter, r *http.Request) {
	l, err := s.mgr.Get(chi.URLParam(r, "key"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(l))
}

// putLimiter reconfigures a limiter, or creates it when missing. Omitted
// takes keep their current value, or the defaults for a new limiter.
func (s *Server) putLimiter(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req LimiterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.handleError(w, r, errors.Wrapf(errors.InvalidArgument, "invalid request body: %s", err))
		return
	}

	status := http.StatusOK
	minTake, maxTake := rate.DefaultMinTake, rate.DefaultMaxTake
	existing, err := s.mgr.Get(key)
	if err == nil {
		n := existing.Nominal()
		minTake, maxTake = n.MinTake, n.MaxTake
	}
	if req.MinTake != nil {
		minTake = *req.MinTake
	}
	if req.MaxTake != nil {
		maxTake = *req.MaxTake
	}

	if existing != nil {
		err = s.mgr.Configure(key, req.BytesPerSecond, minTake, maxTake)
	} else {
		_, err = s.mgr.NewLimiter(key, req.BytesPerSecond, minTake, maxTake)
		status = http.StatusCreated
	}
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	if s.profiles != nil {
		p := &db.Profile{Name: key, BytesPerSecond: req.BytesPerSecond, MinTake: minTake, MaxTake: maxTake}
		if err := s.profiles.Upsert(r.Context(), p); err != nil {
			// the live limiter is already updated, only persistence failed
			s.logger.Error("failed to persist profile", zap.String("limiter", key), zap.Error(err))
		}
	}

	l, err := s.mgr.Get(key)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, status, viewOf(l))
}

func (s *Server) deleteLimiter(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.mgr.Delete(key); err != nil {
		s.handleError(w, r, err)
		return
	}
	if s.profiles != nil {
		if err := s.profiles.Delete(r.Context(), key); err != nil && !errors.IsNotFound(err) {
			s.logger.Error("failed to delete profile", zap.String("limiter", key), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// serveFile streams a file under root through the named limiter
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rel := path.Clean("/" + chi.URLParam(r, "*"))
	name := filepath.Join(s.root, filepath.FromSlash(rel))
	if fi, err := os.Stat(name); err != nil || fi.IsDir() {
		s.handleError(w, r, errors.Wrapf(errors.NotFound, "file %q not found", rel))
		return
	}

	rw, err := s.mgr.WrapHTTPResponseWriter(r.Context(), key, w)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	defer rw.Close()
	http.ServeFile(rw, r, name)
}
