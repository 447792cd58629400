package model

import (
	"reflect"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Language selects the language of generated questions and decisions.
type Language string

const (
	LanguagePT Language = "pt"
	LanguageEN Language = "en"
)

// ParseLanguage normalizes s, falling back to def when s is unknown.
func ParseLanguage(s string, def Language) Language {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguagePT:
		return LanguagePT
	case LanguageEN:
		return LanguageEN
	}
	if def == "" {
		return LanguagePT
	}
	return def
}

// Submission is the persisted record that every stage reads and writes.
type Submission struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	Status            Stage            `json:"status"`
	Language          Language         `json:"language"`
	RawText           string           `json:"raw_text,omitempty"`
	Facts             *Facts           `json:"extracted_facts,omitempty"`
	Classification    *Classification  `json:"classification,omitempty"`
	FollowupQuestions []string         `json:"followup_questions,omitempty"`
	QuestionSources   []QuestionSource `json:"question_sources,omitempty"`
	FollowupAnswers   []string         `json:"followup_answers,omitempty"`
	FinalDecision     *Decision        `json:"final_decision,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// SubmissionSummary is the list view of a submission.
type SubmissionSummary struct {
	ID        string    `json:"id"`
	Status    Stage     `json:"status"`
	Language  Language  `json:"language"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveStage computes the lifecycle stage from the populated fields.
func (s *Submission) DeriveStage() Stage {
	switch {
	case s.FinalDecision != nil:
		return StageFinal
	case len(s.FollowupAnswers) > 0:
		return StageAnswered
	case len(s.FollowupQuestions) > 0:
		return StageQuestionsReady
	case s.Classification != nil:
		return StageClassified
	case s.Facts != nil:
		return StageFacts
	}
	return StageNone
}

// Missing returns which of the given fields are absent on s.
func (s *Submission) Missing(fields ...Field) []Field {
	var out []Field
	for _, f := range fields {
		if !s.has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Unchanged reports whether s and other hold equal values for every field.
func (s *Submission) Unchanged(other *Submission, fields ...Field) bool {
	for _, f := range fields {
		if !reflect.DeepEqual(s.value(f), other.value(f)) {
			return false
		}
	}
	return true
}

func (s *Submission) value(f Field) any {
	switch f {
	case FieldRawText:
		return s.RawText
	case FieldFacts:
		return s.Facts
	case FieldClassification:
		return s.Classification
	case FieldQuestions:
		return s.FollowupQuestions
	case FieldQuestionSources:
		return s.QuestionSources
	case FieldAnswers:
		return s.FollowupAnswers
	case FieldDecision:
		return s.FinalDecision
	}
	return nil
}

func (s *Submission) has(f Field) bool {
	switch f {
	case FieldRawText:
		return strings.TrimSpace(s.RawText) != ""
	case FieldFacts:
		return s.Facts != nil
	case FieldClassification:
		return s.Classification != nil
	case FieldQuestions:
		return len(s.FollowupQuestions) > 0
	case FieldAnswers:
		return len(s.FollowupAnswers) > 0
	case FieldDecision:
		return s.FinalDecision != nil
	case FieldQuestionSources:
		return len(s.QuestionSources) > 0
	}
	return false
}

// Preview returns the first n runes of the narrative on one line.
func Preview(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	r := []rune(flat)
	if len(r) <= n {
		return flat
	}
	return string(r[:n]) + "…"
}

// Apply replays changes onto s in memory and refreshes Status.
func (s *Submission) Apply(changes ...Change) error {
	for _, c := range changes {
		if !c.Field.Valid() {
			return eris.Errorf("model: field %q is not writable", c.Field)
		}
		if err := s.set(c.Field, c.Value); err != nil {
			return err
		}
	}
	s.Status = s.DeriveStage()
	return nil
}

func (s *Submission) set(f Field, v any) error {
	ok := true
	switch f {
	case FieldFacts:
		s.Facts, ok = asPointer[Facts](v)
	case FieldClassification:
		s.Classification, ok = asPointer[Classification](v)
	case FieldDecision:
		s.FinalDecision, ok = asPointer[Decision](v)
	case FieldQuestions:
		s.FollowupQuestions, ok = asSlice[string](v)
	case FieldAnswers:
		s.FollowupAnswers, ok = asSlice[string](v)
	case FieldQuestionSources:
		s.QuestionSources, ok = asSlice[QuestionSource](v)
	}
	if !ok {
		return eris.Errorf("model: unexpected %T for %s", v, f)
	}
	return nil
}

func asPointer[T any](v any) (*T, bool) {
	if v == nil {
		return nil, true
	}
	p, ok := v.(*T)
	return p, ok
}

func asSlice[T any](v any) ([]T, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := v.([]T)
	return s, ok
}
