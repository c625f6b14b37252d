package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/catalog"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/executor"
)

// MaxBodyBytes caps evaluate request bodies.
const MaxBodyBytes = 1 << 20

// DigestHeader carries the canonical digest of the returned update.
const DigestHeader = "X-Update-Digest"

// CatalogSource yields the catalog in force. *catalog.Watcher implements it.
type CatalogSource interface {
	Current() *catalog.Catalog
}

// StaticCatalog serves a fixed catalog.
type StaticCatalog struct{ Catalog *catalog.Catalog }

func (s StaticCatalog) Current() *catalog.Catalog { return s.Catalog }

// Evaluator runs a catalog entry. *executor.Executor implements it.
type Evaluator interface {
	ExecuteJSON(ctx context.Context, entry catalog.Entry, raw []byte) (*executor.Result, error)
}

// ServerOptions wires a Server.
type ServerOptions struct {
	Catalog   CatalogSource
	Evaluator Evaluator
	Logger    *slog.Logger
	// Limiter is optional; nil disables rate limiting.
	Limiter LimiterStore
	Policy  RatePolicy
	// Validator is used unless AuthDisabled is set. A nil Validator with
	// auth enabled rejects every protected request.
	Validator    *JWTValidator
	AuthDisabled bool
	Version      string
}

// Server is the HTTP front of the post-action host.
type Server struct {
	opts    ServerOptions
	logger  *slog.Logger
	metrics *Metrics
	handler http.Handler
}

// NewServer builds the routes and middleware chain.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		opts:    opts,
		logger:  opts.Logger.With("component", "api"),
		metrics: NewMetrics(),
	}

	mux := http.NewServeMux()
	s.handle(mux, "GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	s.handle(mux, "GET /v1/post-actions", s.handleList)
	s.handle(mux, "POST /v1/post-actions/{name}/evaluate", s.handleEvaluate)

	mw := []func(http.Handler) http.Handler{RequestID}
	if opts.Limiter != nil {
		rl := &RateLimiter{Store: opts.Limiter, Policy: opts.Policy, Logger: s.logger, OnReject: s.metrics.rateLimited.Inc}
		mw = append(mw, rl.Middleware)
	}
	if !opts.AuthDisabled {
		mw = append(mw, NewAuthMiddleware(opts.Validator))
	}
	s.handler = Chain(mux, mw...)
	return s
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.Instrument(pattern, h))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Metrics returns the server's Prometheus metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.opts.Catalog.Current() == nil {
		status = "no catalog"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "version": s.opts.Version})
}

// EntryView is the listing shape of one catalog entry.
type EntryView struct {
	Name          string             `json:"name"`
	Kind          string             `json:"kind"`
	Builtin       string             `json:"builtin,omitempty"`
	Module        *catalog.ModuleRef `json:"module,omitempty"`
	Trackers      []int              `json:"trackers,omitempty"`
	When          string             `json:"when,omitempty"`
	Timeout       string             `json:"timeout,omitempty"`
	MemoryLimitMB uint32             `json:"memory_limit_mb,omitempty"`
}

func viewOf(e catalog.Entry) EntryView {
	v := EntryView{
		Name:          e.Name,
		Kind:          "builtin",
		Builtin:       e.Builtin,
		Module:        e.Module,
		Trackers:      e.Trackers,
		When:          e.When,
		MemoryLimitMB: e.MemoryLimitMB,
	}
	if e.IsModule() {
		v.Kind = "module"
	}
	if e.Timeout > 0 {
		v.Timeout = e.Timeout.String()
	}
	return v
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	cat := s.opts.Catalog.Current()
	if cat == nil {
		WriteUnavailable(w, r, "No catalog loaded")
		return
	}
	views := make([]EntryView, 0, len(cat.PostActions))
	for _, e := range cat.PostActions {
		views = append(views, viewOf(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": cat.Version, "post_actions": views})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cat := s.opts.Catalog.Current()
	if cat == nil {
		WriteUnavailable(w, r, "No catalog loaded")
		return
	}
	entry, ok := cat.Get(name)
	if !ok {
		WriteNotFound(w, r, "Unknown post-action "+name)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "Request body exceeds 1 MiB")
			return
		}
		WriteBadRequest(w, r, "Failed to read request body")
		return
	}

	if claims, ok := ClaimsFrom(r.Context()); ok {
		var peek struct {
			Tracker struct {
				ID int `json:"id"`
			} `json:"tracker"`
		}
		if err := json.Unmarshal(body, &peek); err == nil && !claims.MayUse(peek.Tracker.ID) {
			WriteForbidden(w, r, "Token does not cover this tracker")
			return
		}
	}

	res, err := s.opts.Evaluator.ExecuteJSON(r.Context(), entry, body)
	if err != nil {
		f := executor.Classify(err)
		s.metrics.observeResult(name, f.Kind)
		s.writeFailure(w, r, f, err)
		return
	}
	result := "updated"
	switch {
	case res.Skipped:
		result = "skipped"
	case res.Update.IsEmpty():
		result = "noop"
	}
	s.metrics.observeResult(name, result)

	w.Header().Set(DigestHeader, res.Digest)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, f executor.Failure, err error) {
	switch f.Class {
	case executor.ClassInput:
		WriteKindError(w, r, http.StatusBadRequest, "Bad Request", f.Kind, f.Message)
	case executor.ClassNotFound:
		WriteKindError(w, r, http.StatusNotFound, "Not Found", f.Kind, f.Message)
	case executor.ClassConfiguration:
		WriteKindError(w, r, http.StatusUnprocessableEntity, "Unprocessable Entity", f.Kind, f.Message)
	case executor.ClassModule:
		s.logger.WarnContext(r.Context(), "module failure", "error", err, "kind", f.Kind)
		WriteKindError(w, r, http.StatusBadGateway, "Bad Gateway", f.Kind, f.Message)
	default:
		WriteInternal(w, r, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadHeaderTimeout bounds slow clients on the listener.
const ReadHeaderTimeout = 10 * time.Second
