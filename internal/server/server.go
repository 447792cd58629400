// Package server exposes the submission operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/orchestrator"
)

// UserHeader carries the caller identity set by the upstream identity proxy.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Service is the set of operations served over HTTP. *orchestrator.Orchestrator
// satisfies it.
type Service interface {
	Create(ctx context.Context, userID, rawText string, lang model.Language) (*model.Submission, error)
	Get(ctx context.Context, userID, id string) (*model.Submission, error)
	List(ctx context.Context, userID string, limit int) ([]model.SubmissionSummary, error)
	RunFacts(ctx context.Context, userID, id string) (*model.Submission, error)
	RunClassification(ctx context.Context, userID, id string) (*model.Submission, error)
	RunQuestions(ctx context.Context, userID, id string) (*model.Submission, error)
	SubmitAnswers(ctx context.Context, userID, id string, answers []string) (*model.Submission, error)
	Finalize(ctx context.Context, userID, id string) (*model.Submission, error)
	Redo(ctx context.Context, userID, id, stage string) (*model.Submission, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// Options configures the router.
type Options struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics
}

type handler struct {
	svc Service
}

type userKey struct{}

// NewRouter builds the chi router for svc.
func NewRouter(svc Service, opts Options) http.Handler {
	h := &handler{svc: svc}
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
		MaxAge:         300,
	}))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware(routePattern))
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/submissions", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/facts", h.stage(svc.RunFacts))
			r.Post("/classification", h.stage(svc.RunClassification))
			r.Post("/questions", h.stage(svc.RunQuestions))
			r.Post("/answers", h.answers)
			r.Post("/finalize", h.stage(svc.Finalize))
			r.Post("/redo/{stage}", h.redo)
		})
	})

	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			if len(p) > 1 {
				p = strings.TrimSuffix(p, "/")
			}
			return p
		}
	}
	return "unmatched"
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			writeError(w, model.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

type createRequest struct {
	RawText  string `json:"raw_text"`
	Language string `json:"language"`
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.svc.Create(r.Context(), userFrom(r.Context()), req.RawText, model.Language(req.Language))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, orchestrator.ErrorResponse{Error: "invalid_request", Detail: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	subs, err := h.svc.List(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if subs == nil {
		subs = []model.SubmissionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Get(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type stageFunc func(ctx context.Context, userID, id string) (*model.Submission, error)

func (h *handler) stage(fn stageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := fn(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

type answersRequest struct {
	Answers []string `json:"answers"`
}

func (h *handler) answers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.svc.SubmitAnswers(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) redo(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Redo(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, orchestrator.ErrorResponse{Error: "invalid_request", Detail: "request body must be a JSON object"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := orchestrator.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, orchestrator.NewErrorResponse(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}
