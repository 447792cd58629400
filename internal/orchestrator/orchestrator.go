// Package orchestrator sequences the pipeline stages over persisted
// submissions: ownership checks, prerequisites, idempotent stage runs and
// the transactional redo engine.
package orchestrator

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/pipeline"
	"github.com/sells-group/visa-pipeline/internal/store"
)

// FactExtractor turns a narrative into structured facts.
type FactExtractor interface {
	Extract(ctx context.Context, rawText string) (*model.Facts, error)
}

// VisaClassifier ranks candidate visas for a set of facts.
type VisaClassifier interface {
	Classify(ctx context.Context, facts *model.Facts) (*model.Classification, error)
}

// QuestionGenerator produces follow-up questions for the candidates.
type QuestionGenerator interface {
	Generate(ctx context.Context, facts *model.Facts, cls *model.Classification, lang model.Language) ([]model.Question, error)
}

// DecisionFinalizer produces the final recommendation.
type DecisionFinalizer interface {
	Finalize(ctx context.Context, in pipeline.FinalizeInput) (*model.Decision, error)
}

// Stages are the stage implementations the orchestrator drives.
type Stages struct {
	Facts      FactExtractor
	Classifier VisaClassifier
	Questions  QuestionGenerator
	Finalizer  DecisionFinalizer
}

// FromPipeline adapts the concrete pipeline stages.
func FromPipeline(s *pipeline.Stages) Stages {
	return Stages{
		Facts:      s.Extractor,
		Classifier: s.Classifier,
		Questions:  s.Questions,
		Finalizer:  s.Finalizer,
	}
}

// Orchestrator runs stages against the store on behalf of a caller.
type Orchestrator struct {
	store       store.Store
	stages      Stages
	defaultLang model.Language
}

// New creates an Orchestrator. New submissions without a language get
// defaultLang, or pt when it is unknown.
func New(st store.Store, stages Stages, defaultLang model.Language) *Orchestrator {
	return &Orchestrator{
		store:       st,
		stages:      stages,
		defaultLang: model.ParseLanguage(string(defaultLang), model.LanguagePT),
	}
}

// Create stores a new narrative for userID.
func (o *Orchestrator) Create(ctx context.Context, userID, rawText string, lang model.Language) (*model.Submission, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, eris.Wrap(model.ErrInputTooShort, "orchestrator: empty narrative")
	}
	sub := &model.Submission{
		UserID:   userID,
		RawText:  text,
		Language: model.ParseLanguage(string(lang), o.defaultLang),
	}
	if err := o.store.CreateSubmission(ctx, sub); err != nil {
		return nil, eris.Wrap(err, "orchestrator: create submission")
	}
	zap.L().Info("orchestrator: submission created",
		zap.String("submission_id", sub.ID),
		zap.String("language", string(sub.Language)),
	)
	return sub, nil
}

// Get returns the caller's submission.
func (o *Orchestrator) Get(ctx context.Context, userID, id string) (*model.Submission, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return o.store.GetSubmission(ctx, id, userID)
}

// List returns the caller's most recent submissions.
func (o *Orchestrator) List(ctx context.Context, userID string, limit int) ([]model.SubmissionSummary, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return o.store.ListSubmissions(ctx, userID, limit)
}

// RunFacts extracts facts from the narrative unless they already exist.
func (o *Orchestrator) RunFacts(ctx context.Context, userID, id string) (*model.Submission, error) {
	sub, err := o.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sub.Facts != nil {
		return sub, nil
	}
	changes, err := o.factsChanges(ctx, sub)
	if err != nil {
		return nil, err
	}
	return o.commit(ctx, sub, model.StageFacts, model.FieldFacts, changes, model.FieldRawText)
}

// RunClassification classifies the extracted facts unless a classification
// already exists.
func (o *Orchestrator) RunClassification(ctx context.Context, userID, id string) (*model.Submission, error) {
	sub, err := o.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sub.Classification != nil {
		return sub, nil
	}
	changes, err := o.classificationChanges(ctx, sub)
	if err != nil {
		return nil, err
	}
	return o.commit(ctx, sub, model.StageClassified, model.FieldClassification, changes, model.FieldFacts)
}

// RunQuestions generates follow-up questions unless they already exist.
func (o *Orchestrator) RunQuestions(ctx context.Context, userID, id string) (*model.Submission, error) {
	sub, err := o.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if len(sub.FollowupQuestions) > 0 {
		return sub, nil
	}
	changes, err := o.questionChanges(ctx, sub)
	if err != nil {
		return nil, err
	}
	return o.commit(ctx, sub, model.StageQuestionsReady, model.FieldQuestions, changes,
		model.FieldFacts, model.FieldClassification)
}

// SubmitAnswers stores one trimmed answer per follow-up question. Nothing
// is written when validation fails.
func (o *Orchestrator) SubmitAnswers(ctx context.Context, userID, id string, answers []string) (*model.Submission, error) {
	sub, err := o.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := prerequisites(sub, model.StageAnswered, model.FieldQuestions); err != nil {
		return nil, err
	}
	if len(answers) != len(sub.FollowupQuestions) {
		return nil, eris.Wrapf(model.ErrAnswersCountMismatch,
			"orchestrator: got %d answers for %d questions", len(answers), len(sub.FollowupQuestions))
	}
	trimmed := make([]string, len(answers))
	for i, a := range answers {
		trimmed[i] = strings.TrimSpace(a)
		if trimmed[i] == "" {
			return nil, eris.Wrapf(model.ErrEmptyAnswer, "orchestrator: answer %d", i+1)
		}
	}
	return o.commit(ctx, sub, model.StageAnswered, "", []model.Change{
		model.Set(model.FieldAnswers, trimmed),
		model.Clear(model.FieldDecision),
	}, model.FieldQuestions)
}

// Finalize produces the final decision unless one already exists.
func (o *Orchestrator) Finalize(ctx context.Context, userID, id string) (*model.Submission, error) {
	sub, err := o.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sub.FinalDecision != nil {
		return sub, nil
	}
	if err := prerequisites(sub, model.StageFinal,
		model.FieldFacts, model.FieldClassification, model.FieldQuestions, model.FieldAnswers); err != nil {
		return nil, err
	}
	decision, err := o.stages.Finalizer.Finalize(ctx, pipeline.FinalizeInput{
		Facts:          sub.Facts,
		Classification: sub.Classification,
		Questions:      sub.FollowupQuestions,
		Answers:        sub.FollowupAnswers,
		Language:       sub.Language,
	})
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: finalize")
	}
	return o.commit(ctx, sub, model.StageFinal, model.FieldDecision,
		[]model.Change{model.Set(model.FieldDecision, decision)},
		model.FieldFacts, model.FieldClassification, model.FieldQuestions, model.FieldAnswers)
}

func (o *Orchestrator) factsChanges(ctx context.Context, sub *model.Submission) ([]model.Change, error) {
	if err := prerequisites(sub, model.StageFacts, model.FieldRawText); err != nil {
		return nil, err
	}
	facts, err := o.stages.Facts.Extract(ctx, sub.RawText)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: extract facts")
	}
	return append([]model.Change{model.Set(model.FieldFacts, facts)}, model.RedoFacts.Invalidates()...), nil
}

func (o *Orchestrator) classificationChanges(ctx context.Context, sub *model.Submission) ([]model.Change, error) {
	if err := prerequisites(sub, model.StageClassified, model.FieldFacts); err != nil {
		return nil, err
	}
	cls, err := o.stages.Classifier.Classify(ctx, sub.Facts)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: classify")
	}
	return append([]model.Change{model.Set(model.FieldClassification, cls)}, model.RedoClassification.Invalidates()...), nil
}

func (o *Orchestrator) questionChanges(ctx context.Context, sub *model.Submission) ([]model.Change, error) {
	if err := prerequisites(sub, model.StageQuestionsReady, model.FieldFacts, model.FieldClassification); err != nil {
		return nil, err
	}
	qs, err := o.stages.Questions.Generate(ctx, sub.Facts, sub.Classification, sub.Language)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: generate questions")
	}
	texts, sources := model.QuestionTexts(qs)
	return append([]model.Change{
		model.Set(model.FieldQuestions, texts),
		model.Set(model.FieldQuestionSources, sources),
	}, model.RedoQuestions.Invalidates()...), nil
}

// commit persists changes computed from read under the row lock. When the
// locked row already carries output it is returned as is. When any of inputs
// differs from read, a redo or another writer got there first and nothing is
// written.
func (o *Orchestrator) commit(ctx context.Context, read *model.Submission, stage model.Stage, output model.Field, changes []model.Change, inputs ...model.Field) (*model.Submission, error) {
	skipped := false
	sub, err := o.store.ApplyChanges(ctx, read.ID, read.UserID, changes, func(current *model.Submission) (bool, error) {
		if output != "" && len(current.Missing(output)) == 0 {
			skipped = true
			return false, nil
		}
		if !current.Unchanged(read, inputs...) {
			return false, eris.Wrapf(model.ErrConflict, "orchestrator: %s inputs changed during the stage run", stage)
		}
		return true, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: persist %s", stage)
	}
	zap.L().Info("orchestrator: stage complete",
		zap.String("submission_id", sub.ID),
		zap.String("stage", string(stage)),
		zap.String("status", string(sub.Status)),
		zap.Bool("already_present", skipped),
	)
	return sub, nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return eris.Wrap(model.ErrUnauthenticated, "orchestrator: missing caller identity")
	}
	return nil
}

func prerequisites(sub *model.Submission, stage model.Stage, fields ...model.Field) error {
	if missing := sub.Missing(fields...); len(missing) > 0 {
		return &model.PrerequisiteError{Stage: stage, Missing: missing}
	}
	return nil
}
