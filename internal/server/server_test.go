package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) sub(args mock.Arguments) (*model.Submission, error) {
	if s := args.Get(0); s != nil {
		return s.(*model.Submission), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) Create(ctx context.Context, userID, rawText string, lang model.Language) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, rawText, lang))
}

func (m *mockService) Get(ctx context.Context, userID, id string) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, id))
}

func (m *mockService) List(ctx context.Context, userID string, limit int) ([]model.SubmissionSummary, error) {
	args := m.Called(ctx, userID, limit)
	if s := args.Get(0); s != nil {
		return s.([]model.SubmissionSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) RunFacts(ctx context.Context, userID, id string) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, id))
}

func (m *mockService) RunClassification(ctx context.Context, userID, id string) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, id))
}

func (m *mockService) RunQuestions(ctx context.Context, userID, id string) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, id))
}

func (m *mockService) SubmitAnswers(ctx context.Context, userID, id string, answers []string) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, id, answers))
}

func (m *mockService) Finalize(ctx context.Context, userID, id string) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, id))
}

func (m *mockService) Redo(ctx context.Context, userID, id, stage string) (*model.Submission, error) {
	return m.sub(m.Called(ctx, userID, id, stage))
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	w := do(t, NewRouter(new(mockService), Options{}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestRequiresUser(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	w := do(t, NewRouter(svc, Options{}), http.MethodGet, "/v1/submissions/abc", "  ", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decode(t, w)["error"])
	svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("Create", mock.Anything, "u1", "Quero estudar em Boston", model.LanguageEN).
		Return(&model.Submission{ID: "s1", UserID: "u1", Status: model.StageNone, Language: model.LanguageEN}, nil).Once()

	w := do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/submissions", "u1",
		`{"raw_text": "Quero estudar em Boston", "language": "en"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "s1", body["id"])
	assert.Equal(t, "en", body["language"])
	svc.AssertExpectations(t)
}

func TestCreate_BadBody(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	w := do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/submissions", "u1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate_InputTooShort(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("Create", mock.Anything, "u1", "", model.Language("")).
		Return(nil, eris.Wrap(model.ErrInputTooShort, "orchestrator: empty narrative")).Once()

	w := do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/submissions", "u1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "input_too_short", decode(t, w)["error"])
}

func TestList(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("List", mock.Anything, "u1", 5).
		Return([]model.SubmissionSummary{{ID: "s2"}, {ID: "s1"}}, nil).Once()
	svc.On("List", mock.Anything, "u2", 0).Return(nil, nil).Once()
	r := NewRouter(svc, Options{})

	w := do(t, r, http.MethodGet, "/v1/submissions?limit=5", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	subs := decode(t, w)["submissions"].([]any)
	require.Len(t, subs, 2)
	assert.Equal(t, "s2", subs[0].(map[string]any)["id"])

	w = do(t, r, http.MethodGet, "/v1/submissions", "u2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["submissions"])

	w = do(t, r, http.MethodGet, "/v1/submissions?limit=-1", "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("Get", mock.Anything, "u1", "missing").
		Return(nil, eris.Wrap(model.ErrSubmissionNotFound, "store: submission missing")).Once()

	w := do(t, NewRouter(svc, Options{}), http.MethodGet, "/v1/submissions/missing", "u1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "submission_not_found", decode(t, w)["error"])
}

func TestStageRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		method string
	}{
		{"/v1/submissions/s1/facts", "RunFacts"},
		{"/v1/submissions/s1/classification", "RunClassification"},
		{"/v1/submissions/s1/questions", "RunQuestions"},
		{"/v1/submissions/s1/finalize", "Finalize"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()

			svc := new(mockService)
			svc.On(tt.method, mock.Anything, "u1", "s1").
				Return(&model.Submission{ID: "s1", Status: model.StageFacts}, nil).Once()

			w := do(t, NewRouter(svc, Options{}), http.MethodPost, tt.path, "u1", "")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "s1", decode(t, w)["id"])
			svc.AssertExpectations(t)
		})
	}
}

func TestStage_PrerequisiteDetail(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("RunQuestions", mock.Anything, "u1", "s1").Return(nil, &model.PrerequisiteError{
		Stage:   model.StageQuestionsReady,
		Missing: []model.Field{model.FieldClassification},
	}).Once()

	w := do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/submissions/s1/questions", "u1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "missing_prerequisite", body["error"])
	detail := body["detail"].(map[string]any)
	assert.Equal(t, []any{"classification"}, detail["missing"])
}

func TestStage_UpstreamUnavailable(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("RunFacts", mock.Anything, "u1", "s1").
		Return(nil, eris.Wrap(model.ErrUpstreamTransient, "gateway: facts")).Once()

	w := do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/submissions/s1/facts", "u1", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "upstream_unavailable", decode(t, w)["error"])
}

func TestAnswers(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("SubmitAnswers", mock.Anything, "u1", "s1", []string{"sim", "não"}).
		Return(&model.Submission{ID: "s1", Status: model.StageAnswered}, nil).Once()
	svc.On("SubmitAnswers", mock.Anything, "u1", "s1", []string{"sim"}).
		Return(nil, eris.Wrap(model.ErrAnswersCountMismatch, "orchestrator: 1 answers for 2 questions")).Once()
	r := NewRouter(svc, Options{})

	w := do(t, r, http.MethodPost, "/v1/submissions/s1/answers", "u1", `{"answers": ["sim", "não"]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/v1/submissions/s1/answers", "u1", `{"answers": ["sim"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "answers_count_mismatch", decode(t, w)["error"])
	svc.AssertExpectations(t)
}

func TestRedo(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("Redo", mock.Anything, "u1", "s1", "facts").
		Return(&model.Submission{ID: "s1", Status: model.StageFacts}, nil).Once()
	svc.On("Redo", mock.Anything, "u1", "s1", "decision").
		Return(nil, eris.Wrap(model.ErrInvalidStage, "model: redo stage \"decision\"")).Once()
	r := NewRouter(svc, Options{})

	w := do(t, r, http.MethodPost, "/v1/submissions/s1/redo/facts", "u1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/v1/submissions/s1/redo/decision", "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_stage", decode(t, w)["error"])
	svc.AssertExpectations(t)
}

func TestInternalErrorHidesDetail(t *testing.T) {
	t.Parallel()

	svc := new(mockService)
	svc.On("Get", mock.Anything, "u1", "s1").Return(nil, eris.New("pq: connection refused")).Once()

	w := do(t, NewRouter(svc, Options{}), http.MethodGet, "/v1/submissions/s1", "u1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Equal(t, "internal_error", decode(t, w)["error"])
}

func TestCORS(t *testing.T) {
	t.Parallel()

	r := NewRouter(new(mockService), Options{CORSOrigins: []string{"https://app.example.com"}})
	req := httptest.NewRequest(http.MethodOptions, "/v1/submissions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", UserHeader)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	svc := new(mockService)
	svc.On("Get", mock.Anything, "u1", "s1").Return(&model.Submission{ID: "s1"}, nil).Once()
	r := NewRouter(svc, Options{Metrics: m})

	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/v1/submissions/s1", "u1", "").Code)

	w := do(t, r, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/v1/submissions/{id}"`)
	assert.NotContains(t, w.Body.String(), `route="/v1/submissions/{id}/"`)
}

func TestRoutePattern_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	var got []string
	r := chi.NewRouter()
	r.Route("/v1/submissions", func(r chi.Router) {
		record := func(w http.ResponseWriter, req *http.Request) {
			got = append(got, routePattern(req))
		}
		r.Get("/", record)
		r.Get("/{id}/", record)
	})
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		got = append(got, routePattern(req))
	})

	for _, path := range []string{"/v1/submissions/", "/v1/submissions/s1/", "/"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, []string{"/v1/submissions", "/v1/submissions/{id}", "/"}, got)

	assert.Equal(t, "unmatched", routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))
}
