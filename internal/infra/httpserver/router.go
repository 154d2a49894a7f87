package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appanalysis "github.com/bryanwahyu/fp16-analyzer/internal/application/analysis"
	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/fp16-analyzer/internal/middleware"
)

// UploadField is the multipart field carrying the source file.
const UploadField = "codeFile"

// multipartSlack covers form boundaries and headers around the file part.
const multipartSlack = 64 << 10

// Options configures the HTTP surface.
type Options struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
	CORSOrigins       []string
	APIKeys           map[string]string
	RateCapacity      int
	RateRefill        int
	HealthCheckers    map[string]middleware.HealthChecker
}

type Router struct {
	svc  *appanalysis.Service
	opts Options
	log  *zap.Logger
}

func NewRouter(svc *appanalysis.Service, opts Options, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{svc: svc, opts: opts, log: log}
	mux := chi.NewRouter()

	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.LoggingMiddleware(log))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateCapacity > 0 {
		mux.Use(middleware.RateLimitMiddleware(opts.RateCapacity, opts.RateRefill))
	}

	mux.Get("/", r.wrap(r.handleBanner))
	mux.Get("/health", middleware.HealthHandler(opts.HealthCheckers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Post("/analyze", r.wrap(r.handleAnalyze))

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/diff", r.wrap(r.handleDiff))
		rt.Post("/report", r.wrap(r.handleReport))
		rt.Get("/analyses/latest", r.wrap(r.handleLatest))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		status, msg := http.StatusInternalServerError, err.Error()
		switch {
		case errors.Is(err, domain.ErrAdmission):
			status, msg = http.StatusBadRequest, middleware.AdmissionMessage(err)
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrToolTimeout):
			status = http.StatusGatewayTimeout
		}
		if status >= 500 {
			r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
		}
		writeJSON(w, status, errorBody{Success: false, Error: msg})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// GET /
func (r *Router) handleBanner(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{"message": "FP16 Demotion Plugin API Server"})
}

// POST /analyze
// multipart/form-data with the source file in "codeFile".
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	maxBytes := r.opts.MaxUploadBytes
	if maxBytes > 0 && req.ContentLength > maxBytes+multipartSlack {
		return middleware.FileTooLarge(maxBytes)
	}
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes+multipartSlack)

	file, header, err := req.FormFile(UploadField)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return middleware.FileTooLarge(maxBytes)
		}
		return fmt.Errorf("%w: No file uploaded", domain.ErrAdmission)
	}
	defer file.Close()
	defer req.MultipartForm.RemoveAll()

	name := middleware.SanitizeFilename(header.Filename)
	if err := middleware.ValidateSourceFile(name, header.Size, r.opts.AllowedExtensions, maxBytes); err != nil {
		return err
	}

	src, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if err := middleware.ValidateSourceFile(name, int64(len(src)), r.opts.AllowedExtensions, maxBytes); err != nil {
		return err
	}

	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	res, err := r.svc.Analyze(req.Context(), domain.Request{Source: src, OriginalName: name})
	middleware.DecrementAnalysesRunning()
	if err != nil {
		middleware.IncrementAnalysesFailed()
		if errors.Is(err, domain.ErrToolTimeout) {
			middleware.IncrementAnalysesTimedOut()
		}
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

type diffRequest struct {
	Original    string `json:"original"`
	Transformed string `json:"transformed"`
}

type diffResponse struct {
	Differences []domain.DiffEntry `json:"differences"`
	Demotions   int                `json:"demotions"`
}

// POST /v1/diff
// Body: {"original": "...", "transformed": "..."}
func (r *Router) handleDiff(w http.ResponseWriter, req *http.Request) error {
	var body diffRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 2*r.opts.MaxUploadBytes+multipartSlack))
	if err := dec.Decode(&body); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrAdmission, err)
	}

	diffs := domain.Diff(body.Original, body.Transformed)
	if diffs == nil {
		diffs = []domain.DiffEntry{}
	}
	return writeJSON(w, http.StatusOK, diffResponse{
		Differences: diffs,
		Demotions:   domain.CountDemotions(diffs),
	})
}

type reportResponse struct {
	Report  *domain.MemoryReport `json:"report"`
	Savings *domain.Savings      `json:"savings,omitempty"`
}

// POST /v1/report
// Body: memory_analysis.txt as plain text.
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	text, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.opts.MaxUploadBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("%w: report too large", domain.ErrAdmission)
		}
		return err
	}

	resp := reportResponse{Report: domain.ParseReport(string(text))}
	if s, ok := resp.Report.Savings(); ok {
		resp.Savings = &s
	}
	return writeJSON(w, http.StatusOK, resp)
}

// GET /v1/analyses/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.svc.Latest(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateAnalysisID(id); err != nil {
		return err
	}

	res, err := r.svc.Get(req.Context(), domain.AnalysisID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}
