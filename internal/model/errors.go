package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Error kinds shared by every pipeline layer. Compare with errors.Is.
var (
	ErrInputTooShort         = eris.New("input too short")
	ErrInvalidOutput         = eris.New("invalid output")
	ErrValidation            = eris.New("validation error")
	ErrUpstreamTransient     = eris.New("upstream unavailable")
	ErrMissingPrerequisite   = eris.New("missing prerequisite")
	ErrNoCandidates          = eris.New("no candidates")
	ErrInsufficientQuestions = eris.New("insufficient questions")
	ErrSubmissionNotFound    = eris.New("submission not found")
	ErrAnswersCountMismatch  = eris.New("answers count mismatch")
	ErrEmptyAnswer           = eris.New("empty answer")
	ErrInvalidStage          = eris.New("invalid stage")
	ErrUnauthenticated       = eris.New("unauthenticated")
	ErrConflict              = eris.New("conflict")
)

// ContractError is returned when backend output breaks a declared contract.
// Kind is ErrInvalidOutput or ErrValidation.
type ContractError struct {
	Kind   error
	Stage  string
	Detail []string
}

func (e *ContractError) Error() string {
	msg := e.Kind.Error()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if len(e.Detail) > 0 {
		msg += ": " + strings.Join(e.Detail, "; ")
	}
	return msg
}

// Is matches the error kind.
func (e *ContractError) Is(target error) bool {
	return target == e.Kind
}

// NewInvalidOutput builds a ContractError for unparseable backend output.
func NewInvalidOutput(stage string, detail ...string) *ContractError {
	return &ContractError{Kind: ErrInvalidOutput, Stage: stage, Detail: detail}
}

// NewValidationError builds a ContractError for schema-violating backend output.
func NewValidationError(stage string, detail ...string) *ContractError {
	return &ContractError{Kind: ErrValidation, Stage: stage, Detail: detail}
}

// PrerequisiteError lists the fields a stage needs but the submission lacks.
type PrerequisiteError struct {
	Stage   Stage
	Missing []Field
}

func (e *PrerequisiteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, ErrMissingPrerequisite.Error(), strings.Join(names, ", "))
}

// Is matches ErrMissingPrerequisite.
func (e *PrerequisiteError) Is(target error) bool {
	return target == ErrMissingPrerequisite
}

// ErrorCode returns the stable snake_case code for an error kind, used in
// API responses. Unknown errors map to "internal_error".
func ErrorCode(err error) string {
	for _, k := range errorCodes {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return "internal_error"
}

var errorCodes = []struct {
	kind error
	code string
}{
	{ErrInputTooShort, "input_too_short"},
	{ErrInvalidOutput, "invalid_output"},
	{ErrValidation, "validation_error"},
	{ErrUpstreamTransient, "upstream_unavailable"},
	{ErrMissingPrerequisite, "missing_prerequisite"},
	{ErrNoCandidates, "no_candidates"},
	{ErrInsufficientQuestions, "insufficient_questions"},
	{ErrSubmissionNotFound, "submission_not_found"},
	{ErrAnswersCountMismatch, "answers_count_mismatch"},
	{ErrEmptyAnswer, "empty_answer"},
	{ErrInvalidStage, "invalid_stage"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrConflict, "conflict"},
}
