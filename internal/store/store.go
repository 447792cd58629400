package store

import (
	"context"
	"embed"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visa-pipeline/internal/model"
)

//go:embed migrations
var migrationFS embed.FS

// DefaultListLimit caps ListSubmissions when no limit is given.
const DefaultListLimit = 50

// previewRunes is the length of the narrative preview in list views.
const previewRunes = 80

// Store defines the persistence interface for visa submissions. Every read
// and write is scoped to the owning user.
type Store interface {
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id, userID string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, userID string, limit int) ([]model.SubmissionSummary, error)

	// ApplyChanges locks the row, consults guard and writes whole columns with
	// the status derived from the result. It returns the row as committed.
	ApplyChanges(ctx context.Context, id, userID string, changes []model.Change, guard Guard) (*model.Submission, error)

	// WithLockedSubmission runs fn inside a transaction holding the row lock.
	// Any error from fn rolls back every change made through the Tx.
	WithLockedSubmission(ctx context.Context, id, userID string, fn func(ctx context.Context, tx Tx) error) (*model.Submission, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Tx is a locked submission inside WithLockedSubmission.
type Tx interface {
	// Submission is the locked row, kept in step with Apply.
	Submission() *model.Submission
	Apply(ctx context.Context, changes []model.Change, status model.Stage) error
}

// Guard inspects the locked row before ApplyChanges writes. Returning false
// commits nothing and leaves the row as it is; an error rolls back. A nil
// Guard always writes.
type Guard func(current *model.Submission) (bool, error)

// applyGuarded implements ApplyChanges on top of WithLockedSubmission.
func applyGuarded(ctx context.Context, s Store, id, userID string, changes []model.Change, guard Guard) (*model.Submission, error) {
	if _, err := encodeChanges(changes); err != nil {
		return nil, err
	}
	return s.WithLockedSubmission(ctx, id, userID, func(ctx context.Context, tx Tx) error {
		current := tx.Submission()
		if guard != nil {
			ok, err := guard(current)
			if err != nil || !ok {
				return err
			}
		}
		next := *current
		if err := next.Apply(changes...); err != nil {
			return eris.Wrap(err, "store: apply changes")
		}
		return tx.Apply(ctx, changes, next.Status)
	})
}

// column is one encoded SET assignment.
type column struct {
	name  string
	value any
}

// encodeChanges whitelists fields and JSON-encodes their values. Nil values
// (and typed nil pointers) become SQL NULL.
func encodeChanges(changes []model.Change) ([]column, error) {
	if len(changes) == 0 {
		return nil, eris.New("store: no changes")
	}
	seen := make(map[model.Field]int, len(changes))
	var cols []column
	for _, c := range changes {
		if !c.Field.Valid() {
			return nil, eris.Errorf("store: field %q is not writable", c.Field)
		}
		var value any
		if c.Value != nil {
			b, err := json.Marshal(c.Value)
			if err != nil {
				return nil, eris.Wrapf(err, "store: encode %s", c.Field)
			}
			if string(b) != "null" {
				value = string(b)
			}
		}
		// Last write for a field wins.
		if i, ok := seen[c.Field]; ok {
			cols[i].value = value
			continue
		}
		seen[c.Field] = len(cols)
		cols = append(cols, column{name: string(c.Field), value: value})
	}
	return cols, nil
}

// submissionColumns is the SELECT list shared by both drivers.
const submissionColumns = `id, user_id, status, language, raw_text, extracted_facts, classification,
	followup_questions, question_sources, followup_answers, final_decision, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

// scanSubmission reads one row in submissionColumns order. JSON columns are
// scanned as bytes so both JSONB and TEXT storage decode the same way.
func scanSubmission(row scannable) (*model.Submission, error) {
	var (
		sub                                     model.Submission
		status, lang                            string
		facts, cls, questions, sources, answers []byte
		decision                                []byte
		createdAt, updatedAt                    time.Time
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &status, &lang, &sub.RawText,
		&facts, &cls, &questions, &sources, &answers, &decision,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sub.Status = model.Stage(status)
	sub.Language = model.ParseLanguage(lang, model.LanguagePT)
	sub.CreatedAt = createdAt.UTC()
	sub.UpdatedAt = updatedAt.UTC()

	for _, f := range []struct {
		field model.Field
		data  []byte
		dst   any
	}{
		{model.FieldFacts, facts, &sub.Facts},
		{model.FieldClassification, cls, &sub.Classification},
		{model.FieldQuestions, questions, &sub.FollowupQuestions},
		{model.FieldQuestionSources, sources, &sub.QuestionSources},
		{model.FieldAnswers, answers, &sub.FollowupAnswers},
		{model.FieldDecision, decision, &sub.FinalDecision},
	} {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, eris.Wrapf(err, "store: decode %s", f.field)
		}
	}
	return &sub, nil
}

func summaryOf(id, status, lang, rawText string, createdAt, updatedAt time.Time) model.SubmissionSummary {
	return model.SubmissionSummary{
		ID:        id,
		Status:    model.Stage(status),
		Language:  model.ParseLanguage(lang, model.LanguagePT),
		Preview:   model.Preview(rawText, previewRunes),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
}

// prepareNew fills the server-owned fields of a new submission.
func prepareNew(sub *model.Submission, newID func() string) error {
	if sub == nil {
		return eris.New("store: nil submission")
	}
	if strings.TrimSpace(sub.UserID) == "" {
		return eris.Wrap(model.ErrUnauthenticated, "store: submission without owner")
	}
	if sub.ID == "" {
		sub.ID = newID()
	}
	if sub.Language == "" {
		sub.Language = model.LanguagePT
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Status = sub.DeriveStage()
	return nil
}

func notFound(id string) error {
	return eris.Wrapf(model.ErrSubmissionNotFound, "store: submission %s", id)
}
