package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-pipeline/internal/model"
)

// fakeRunner advances a submission one stage per call and fails the facts
// stage for narratives listed in failFacts.
type fakeRunner struct {
	mu        sync.Mutex
	created   map[string]string
	users     []string
	failFacts map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{created: map[string]string{}, failFacts: map[string]bool{}}
}

func (f *fakeRunner) Create(_ context.Context, userID, rawText string, _ model.Language) (*model.Submission, error) {
	if userID == "" {
		return nil, eris.Wrap(model.ErrUnauthenticated, "orchestrator: caller identity required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "sub-" + rawText
	f.created[id] = rawText
	f.users = append(f.users, userID)
	return &model.Submission{ID: id, UserID: userID, Status: model.StageNone}, nil
}

func (f *fakeRunner) RunFacts(_ context.Context, _, id string) (*model.Submission, error) {
	f.mu.Lock()
	text := f.created[id]
	f.mu.Unlock()
	if f.failFacts[text] {
		return nil, eris.Wrap(model.ErrUpstreamTransient, "gateway: facts")
	}
	return &model.Submission{ID: id, Status: model.StageFacts}, nil
}

func (f *fakeRunner) RunClassification(_ context.Context, _, id string) (*model.Submission, error) {
	return &model.Submission{ID: id, Status: model.StageClassified}, nil
}

func (f *fakeRunner) RunQuestions(_ context.Context, _, id string) (*model.Submission, error) {
	return &model.Submission{ID: id, Status: model.StageQuestionsReady}, nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadIntake_YAML(t *testing.T) {
	path := writeFile(t, "intake.yaml", `
submissions:
  - text: "  Quero estudar inglês em Boston por seis meses.  "
    language: en
    user: applicant-1
  - text: "   "
  - text: Tenho uma oferta de trabalho de uma empresa americana.
`)

	items, err := loadIntake(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Quero estudar inglês em Boston por seis meses.", items[0].Text)
	assert.Equal(t, "en", items[0].Language)
	assert.Equal(t, "applicant-1", items[0].User)
	assert.Empty(t, items[1].User)
}

func TestLoadIntake_JSON(t *testing.T) {
	path := writeFile(t, "intake.json", `{"submissions": [{"text": "Quero abrir uma empresa nos EUA.", "language": "pt"}]}`)

	items, err := loadIntake(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "pt", items[0].Language)
}

func TestLoadIntake_Errors(t *testing.T) {
	_, err := loadIntake(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadIntake(writeFile(t, "bad.yaml", "submissions: [unclosed"))
	assert.Error(t, err)
}

func TestProcessBatch_Empty(t *testing.T) {
	results, err := processBatch(context.Background(), nil, 10, 2, newFakeRunner())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessBatch_ReportsPerItem(t *testing.T) {
	callerID = "default-user"
	t.Cleanup(func() { callerID = "" })

	runner := newFakeRunner()
	runner.failFacts["b"] = true
	items := []intakeItem{{Text: "a", User: "u1"}, {Text: "b"}, {Text: "c"}}

	results, err := processBatch(context.Background(), items, 0, 2, runner)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, batchResult{Index: 0, SubmissionID: "sub-a", Status: model.StageQuestionsReady}, results[0])
	assert.Equal(t, batchResult{Index: 1, SubmissionID: "sub-b", Status: model.StageNone, Error: "upstream_unavailable"}, results[1])
	assert.Equal(t, model.StageQuestionsReady, results[2].Status)
	assert.Empty(t, results[2].Error)
	assert.ElementsMatch(t, []string{"u1", "default-user", "default-user"}, runner.users)
}

func TestProcessBatch_LimitAndMissingUser(t *testing.T) {
	callerID = ""
	items := []intakeItem{{Text: "a"}, {Text: "b"}, {Text: "c"}}

	results, err := processBatch(context.Background(), items, 2, 0, newFakeRunner())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "unauthenticated", r.Error)
		assert.Empty(t, r.SubmissionID)
	}
}
