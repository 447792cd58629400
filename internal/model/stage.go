package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Stage is the lifecycle position of a submission.
type Stage string

const (
	StageNone           Stage = "NONE"
	StageFacts          Stage = "FACTS"
	StageClassified     Stage = "CLASSIFIED"
	StageQuestionsReady Stage = "QUESTIONS_READY"
	StageAnswered       Stage = "ANSWERED"
	StageFinal          Stage = "FINAL"
)

// Field names a persisted submission column. Only these columns may be
// written by pipeline stages.
type Field string

const (
	FieldRawText         Field = "raw_text"
	FieldFacts           Field = "extracted_facts"
	FieldClassification  Field = "classification"
	FieldQuestions       Field = "followup_questions"
	FieldQuestionSources Field = "question_sources"
	FieldAnswers         Field = "followup_answers"
	FieldDecision        Field = "final_decision"
)

// Valid reports whether f is a writable stage column.
func (f Field) Valid() bool {
	switch f {
	case FieldFacts, FieldClassification, FieldQuestions, FieldQuestionSources, FieldAnswers, FieldDecision:
		return true
	}
	return false
}

// Change replaces one field wholesale. A nil Value clears the column.
type Change struct {
	Field Field
	Value any
}

// Set returns a change writing v into f.
func Set(f Field, v any) Change { return Change{Field: f, Value: v} }

// Clear returns a change nulling f.
func Clear(f Field) Change { return Change{Field: f} }

// RedoStage is a stage that can be re-executed by the redo engine.
type RedoStage string

const (
	RedoFacts          RedoStage = "facts"
	RedoClassification RedoStage = "classification"
	RedoQuestions      RedoStage = "questions"
)

// ParseRedoStage accepts the canonical names plus "classify" as an alias.
func ParseRedoStage(s string) (RedoStage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "facts", "extract":
		return RedoFacts, nil
	case "classification", "classify":
		return RedoClassification, nil
	case "questions":
		return RedoQuestions, nil
	}
	return "", eris.Wrapf(ErrInvalidStage, "redo stage %q", s)
}

// Invalidates returns the changes that clear everything derived from s.
// The stage's own output is left for the rerun to replace; final_decision
// is always cleared.
func (s RedoStage) Invalidates() []Change {
	changes := []Change{Clear(FieldDecision)}
	switch s {
	case RedoFacts:
		changes = append(changes,
			Clear(FieldClassification),
			Clear(FieldQuestions), Clear(FieldQuestionSources), Clear(FieldAnswers))
	case RedoClassification:
		changes = append(changes,
			Clear(FieldQuestions), Clear(FieldQuestionSources), Clear(FieldAnswers))
	case RedoQuestions:
		changes = append(changes, Clear(FieldAnswers))
	}
	return changes
}
