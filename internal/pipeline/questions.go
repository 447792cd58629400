package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/contract"
	"github.com/sells-group/visa-pipeline/internal/gateway"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/visa"
)

// QuestionGenerator produces follow-up questions for the top candidates.
type QuestionGenerator struct {
	caller   gateway.Caller
	cfg      Config
	resolver *visa.Resolver
	metrics  *metrics.Metrics
}

// NewQuestionGenerator builds a standalone QuestionGenerator. A nil resolver
// uses visa.Default().
func NewQuestionGenerator(caller gateway.Caller, cfg Config, resolver *visa.Resolver, m *metrics.Metrics) *QuestionGenerator {
	if resolver == nil {
		resolver = visa.Default()
	}
	return &QuestionGenerator{caller: caller, cfg: cfg.normalized(), resolver: resolver, metrics: m}
}

type questionList struct {
	Questions []string `json:"questions"`
}

// Generate runs stage 3. Every returned question targets only codes in the
// classification; the list holds between QuestionMin and QuestionMax items
// or an error is returned.
func (g *QuestionGenerator) Generate(ctx context.Context, facts *model.Facts, cls *model.Classification, lang model.Language) ([]model.Question, error) {
	qs, err := g.generate(ctx, facts, cls, lang)
	g.metrics.RecordStage(StageQuestions, outcome(err))
	return qs, err
}

func (g *QuestionGenerator) generate(ctx context.Context, facts *model.Facts, cls *model.Classification, lang model.Language) ([]model.Question, error) {
	var missing []model.Field
	if facts == nil {
		missing = append(missing, model.FieldFacts)
	}
	if cls == nil || len(cls.Candidates) == 0 {
		missing = append(missing, model.FieldClassification)
	}
	if len(missing) > 0 {
		return nil, &model.PrerequisiteError{Stage: model.StageQuestionsReady, Missing: missing}
	}
	lang = language(lang, g.cfg.DefaultLanguage)

	top := topCandidates(cls.Candidates, g.cfg.QuestionTop)
	allowed := make(map[visa.Code]bool, len(top))
	codes := make([]string, len(top))
	for i, c := range top {
		allowed[c.Code] = true
		codes[i] = string(c.Code)
	}
	flags := BuildKnownFlags(facts)

	system := fmt.Sprintf("%s\n\n%s\nReturn between %d and %d questions.",
		questionsPrompt, languageRule(lang), g.cfg.QuestionMin, g.cfg.QuestionMax)
	payload := map[string]any{
		"purpose":        facts.Purpose,
		"facts":          facts,
		"known_flags":    flags,
		"top_candidates": top,
		"instruction": "Ask only about visas in top_candidates (" + strings.Join(codes, ", ") +
			"). Each question must fill a decisive gap for one of them and must not repeat facts or known_flags.",
	}

	list, err := gateway.CallAs[questionList](ctx, g.caller, gateway.Request{
		Stage:       StageQuestions,
		System:      system,
		Payload:     payload,
		Temperature: gateway.Float(g.cfg.Temperatures.Questions),
		Validate: func(obj map[string]any) (map[string]any, error) {
			out := map[string]any{"questions": questionStrings(obj["questions"])}
			return out, contract.Validate(contract.QuestionsSchema(), out)
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: generate questions")
	}

	b := &questionSet{allowed: allowed, resolver: g.resolver, flags: flags}
	b.add(model.QuestionFromModel, g.cfg.QuestionMax, list.Questions...)
	fromModel := len(b.items)

	if len(b.items) < g.cfg.QuestionMin {
		b.add(model.QuestionFromFallback, g.cfg.QuestionMin, fallbackQuestions(top, lang)...)
	}
	fromFallback := len(b.items) - fromModel

	if len(b.items) < g.cfg.QuestionMin {
		b.add(model.QuestionFromDepth, g.cfg.QuestionMin, depthQuestions(top, lang)...)
	}
	fromDepth := len(b.items) - fromModel - fromFallback

	if fromFallback+fromDepth > 0 {
		zap.L().Warn("pipeline: padded follow-up questions",
			zap.Int("from_model", fromModel),
			zap.Int("fallback", fromFallback),
			zap.Int("depth", fromDepth),
		)
		g.metrics.RecordPadding(string(model.QuestionFromFallback), fromFallback)
		g.metrics.RecordPadding(string(model.QuestionFromDepth), fromDepth)
	}

	if len(b.items) < g.cfg.QuestionMin {
		return nil, eris.Wrapf(model.ErrInsufficientQuestions,
			"pipeline: generate questions: %d after padding, need %d", len(b.items), g.cfg.QuestionMin)
	}

	zap.L().Info("pipeline: questions generated",
		zap.Int("count", len(b.items)),
		zap.Strings("candidates", codes),
	)
	return b.items, nil
}

// topCandidates returns up to n candidates ordered by descending confidence.
func topCandidates(in []model.Candidate, n int) []model.Candidate {
	out := make([]model.Candidate, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// questionStrings keeps the non-empty string entries of v, whitespace
// normalized.
func questionStrings(v any) []any {
	items, _ := v.([]any)
	out := make([]any, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			if s = contract.NormalizeSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// questionSet accumulates accepted questions.
type questionSet struct {
	allowed  map[visa.Code]bool
	resolver *visa.Resolver
	flags    KnownFlags
	items    []model.Question
	seen     map[string]bool
}

// add appends acceptable texts until the set holds limit items.
func (s *questionSet) add(src model.QuestionSource, limit int, texts ...string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	for _, t := range texts {
		if len(s.items) >= limit {
			return
		}
		t = contract.NormalizeSpace(t)
		if t == "" {
			continue
		}
		if !s.contained(t) {
			zap.L().Debug("pipeline: dropping question outside candidates", zap.String("question", t))
			continue
		}
		if AlreadyAnswered(t, s.flags) {
			continue
		}
		key := contract.Fold(t)
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.items = append(s.items, model.Question{Text: t, Source: src})
	}
}

// contained reports whether every code in the question prefix is allowed.
// Questions without a resolvable prefix are rejected.
func (s *questionSet) contained(q string) bool {
	codes, _, ok := s.resolver.Prefix(q)
	if !ok {
		return false
	}
	for _, c := range codes {
		if !s.allowed[c] {
			return false
		}
	}
	return true
}
