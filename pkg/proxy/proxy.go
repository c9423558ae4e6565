package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trproxy/trproxy/pkg/backend"
	"github.com/trproxy/trproxy/pkg/cache/tiered"
	"github.com/trproxy/trproxy/pkg/config"
	"github.com/trproxy/trproxy/pkg/dispatch"
	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/tier"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// Dispatcher runs a transaction request.
type Dispatcher interface {
	Handle(ctx context.Context, target dispatch.Target, raw models.Record) (*dispatch.Result, error)
}

// CacheAdmin exposes cache maintenance to the admin endpoints.
type CacheAdmin interface {
	Stats() []models.TierStats
	Evict(name tier.Name) error
	SweepAll() int
}

// CallRecorder persists dispatched calls.
type CallRecorder interface {
	Record(ctx context.Context, rec models.CallRecord) error
}

// Server is the trproxy HTTP front end.
type Server struct {
	cfg        *config.Config
	dispatcher Dispatcher
	cache      CacheAdmin
	calls      CallRecorder
	log        *zap.Logger
	mux        *http.ServeMux
	handler    http.Handler
}

// New creates a proxy Server wired with all dependencies. cache and calls may
// be nil, which disables the admin endpoints and the call log respectively.
func New(cfg *config.Config, d Dispatcher, cache CacheAdmin, calls CallRecorder, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		cache:      cache,
		calls:      calls,
		log:        log,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /proxy/health", s.handleHealth)
	s.mux.HandleFunc("POST /proxy/api/kb/{trCode}", s.handleByCode)
	s.mux.HandleFunc("POST /v1.0/ksv/spec/{alias}", s.handleByAlias)
	s.mux.HandleFunc("POST /v2.0/NISV01/{alias}", s.handleByAlias)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if cache != nil {
		s.mux.HandleFunc("GET /proxy/admin/cache", s.handleCacheStats)
		s.mux.HandleFunc("POST /proxy/admin/cache/{tier}/evict", s.handleCacheEvict)
		s.mux.HandleFunc("POST /proxy/admin/cache/sweep", s.handleCacheSweep)
	}
	s.handler = s.authenticate(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("trproxy listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// authenticate rejects requests without the configured API key. Health
// checks and metrics scrapes are always allowed.
func (s *Server) authenticate(next http.Handler) http.Handler {
	token := s.cfg.Auth.Token
	header := s.cfg.Auth.Header
	if header == "" {
		header = "X-API-KEY"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.URL.Path == "/proxy/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get(header) != token {
			writeJSONError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleByCode(w http.ResponseWriter, r *http.Request) {
	s.serveTransaction(w, r, dispatch.ByCode(r.PathValue("trCode")))
}

func (s *Server) handleByAlias(w http.ResponseWriter, r *http.Request) {
	s.serveTransaction(w, r, dispatch.ByAlias(r.PathValue("alias")))
}

func (s *Server) serveTransaction(w http.ResponseWriter, r *http.Request, target dispatch.Target) {
	reqStart := time.Now()
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	rec := models.CallRecord{
		RequestID: requestID,
		Code:      target.Code,
		Alias:     target.Alias,
		Tier:      string(tier.Uncached),
	}

	raw, err := decodeBody(r)
	var res *dispatch.Result
	if err == nil {
		res, err = s.dispatcher.Handle(r.Context(), target, raw)
	}

	status := http.StatusOK
	if err != nil {
		status = s.writeError(w, target, err)
		rec.Error = err.Error()
	} else {
		rec.Code = res.Code
		rec.Tier = string(res.Tier)
		rec.Outcome = res.Outcome
		rec.HasContKey = res.HasContKey
		w.Header().Set("X-Trproxy-Cache", res.Outcome)
		w.Header().Set("X-Trproxy-Tier", string(res.Tier))
		writeJSON(w, status, res.Envelope)
	}

	latency := time.Since(reqStart)
	requestDuration.WithLabelValues(rec.Tier, fmt.Sprint(status)).Observe(latency.Seconds())
	if res != nil {
		requestsTotal.WithLabelValues(res.Outcome).Inc()
	}

	if s.calls != nil {
		rec.StatusCode = status
		rec.LatencyMs = latency.Milliseconds()
		rec.CreatedAt = time.Now().UTC()
		go func() {
			if err := s.calls.Record(context.Background(), rec); err != nil {
				s.log.Warn("call log error", zap.String("request_id", rec.RequestID), zap.Error(err))
			}
		}()
	}
}

// writeError maps a dispatch error onto a response and returns its status.
func (s *Server) writeError(w http.ResponseWriter, target dispatch.Target, err error) int {
	switch {
	case errors.Is(err, dispatch.ErrAliasNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrBadRequest):
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrBackendFailure):
		s.log.Warn("transaction failed", zap.String("code", target.Code), zap.String("alias", target.Alias), zap.Error(err))
	default:
		s.log.Error("transaction error", zap.String("code", target.Code), zap.String("alias", target.Alias), zap.Error(err))
	}
	writeJSON(w, http.StatusInternalServerError, models.FailureEnvelope(err.Error()))
	return http.StatusInternalServerError
}

// decodeBody reads the request as a single JSON object. An empty body is an
// empty object. Numbers are kept in their literal form.
func decodeBody(r *http.Request) (models.Record, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.Record{}, nil
		}
		return nil, fmt.Errorf("%w: invalid JSON: %v", dispatch.ErrBadRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", dispatch.ErrBadRequest)
	}
	switch body := v.(type) {
	case map[string]any:
		return body, nil
	case nil:
		return models.Record{}, nil
	default:
		return nil, fmt.Errorf("%w: body must be a JSON object", dispatch.ErrBadRequest)
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	name := tier.Name(r.PathValue("tier"))
	if err := s.cache.Evict(name); err != nil {
		if errors.Is(err, tiered.ErrUnknownTier) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("tier evicted by admin", zap.String("tier", string(name)))
	writeJSON(w, http.StatusOK, map[string]string{"tier": string(name), "status": "evicted"})
}

func (s *Server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	removed := s.cache.SweepAll()
	s.log.Info("sweep triggered by admin", zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"message": message})
}
