// Package pipeline implements the four generative stages of a submission:
// fact extraction, visa classification, follow-up question generation and
// the final decision. Each stage talks to the backend only through a
// gateway.Caller and returns typed model values.
package pipeline

import (
	"github.com/sells-group/visa-pipeline/internal/gateway"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/visa"
)

// Stage labels used in logs, metrics and gateway requests.
const (
	StageFacts          = "facts"
	StageClassification = "classification"
	StageQuestions      = "questions"
	StageFinalize       = "finalize"
)

// Temperatures holds the sampling temperature per stage.
type Temperatures struct {
	Extract   float64
	Classify  float64
	Questions float64
	Finalize  float64
	Path      float64
}

// Config tunes stage behaviour.
type Config struct {
	MinTextLength   int
	ClassifyCount   int
	RequireTopFloor bool
	ConfidenceFloor float64
	QuestionMin     int
	QuestionMax     int
	QuestionTop     int
	NoVisaThreshold float64
	DefaultLanguage model.Language
	Temperatures    Temperatures
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinTextLength:   20,
		ClassifyCount:   6,
		RequireTopFloor: true,
		ConfidenceFloor: 0.8,
		QuestionMin:     5,
		QuestionMax:     10,
		QuestionTop:     6,
		NoVisaThreshold: 0.4,
		DefaultLanguage: model.LanguagePT,
		Temperatures: Temperatures{
			Extract:   0.2,
			Classify:  0.15,
			Questions: 0.25,
			Finalize:  0.2,
			Path:      0.25,
		},
	}
}

// normalized clamps out-of-range values back into their valid ranges.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MinTextLength <= 0 {
		c.MinTextLength = d.MinTextLength
	}
	if c.ClassifyCount <= 0 {
		c.ClassifyCount = d.ClassifyCount
	}
	if c.ClassifyCount > 30 {
		c.ClassifyCount = 30
	}
	if c.ConfidenceFloor <= 0 || c.ConfidenceFloor > 1 {
		c.ConfidenceFloor = d.ConfidenceFloor
	}
	if c.QuestionMin <= 0 {
		c.QuestionMin = d.QuestionMin
	}
	if c.QuestionMax < c.QuestionMin {
		c.QuestionMax = c.QuestionMin
	}
	if c.QuestionTop <= 0 {
		c.QuestionTop = d.QuestionTop
	}
	if c.NoVisaThreshold < 0 || c.NoVisaThreshold > 1 {
		c.NoVisaThreshold = d.NoVisaThreshold
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = d.DefaultLanguage
	}
	return c
}

// Stages bundles the four stage implementations sharing one gateway.
type Stages struct {
	Extractor  *Extractor
	Classifier *Classifier
	Questions  *QuestionGenerator
	Finalizer  *Finalizer
}

// New wires every stage to caller. A nil resolver uses visa.Default().
func New(caller gateway.Caller, cfg Config, resolver *visa.Resolver, m *metrics.Metrics) *Stages {
	if resolver == nil {
		resolver = visa.Default()
	}
	cfg = cfg.normalized()
	return &Stages{
		Extractor:  &Extractor{caller: caller, cfg: cfg, metrics: m},
		Classifier: &Classifier{caller: caller, cfg: cfg, resolver: resolver, metrics: m},
		Questions:  &QuestionGenerator{caller: caller, cfg: cfg, resolver: resolver, metrics: m},
		Finalizer:  &Finalizer{caller: caller, cfg: cfg, resolver: resolver, metrics: m},
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return model.ErrorCode(err)
}

func language(lang, def model.Language) model.Language {
	return model.ParseLanguage(string(lang), def)
}
