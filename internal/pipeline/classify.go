package pipeline

import (
	"context"
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

const sponsorTag = "(requires sponsor)"

// Classifier ranks candidate visas for a set of facts.
type Classifier struct {
	caller   gateway.Caller
	cfg      Config
	resolver *visa.Resolver
	metrics  *metrics.Metrics
}

// NewClassifier builds a standalone Classifier. A nil resolver uses
// visa.Default().
func NewClassifier(caller gateway.Caller, cfg Config, resolver *visa.Resolver, m *metrics.Metrics) *Classifier {
	if resolver == nil {
		resolver = visa.Default()
	}
	return &Classifier{caller: caller, cfg: cfg.normalized(), resolver: resolver, metrics: m}
}

type candidateList struct {
	Candidates []model.Candidate `json:"candidates"`
	Selected   visa.Code         `json:"selected,omitempty"`
}

// Classify runs stage 2. The result is never padded: fewer resolved
// candidates than requested is fine, zero is ErrNoCandidates.
func (c *Classifier) Classify(ctx context.Context, facts *model.Facts) (*model.Classification, error) {
	cls, err := c.classify(ctx, facts)
	c.metrics.RecordStage(StageClassification, outcome(err))
	return cls, err
}

func (c *Classifier) classify(ctx context.Context, facts *model.Facts) (*model.Classification, error) {
	if facts == nil {
		return nil, &model.PrerequisiteError{Stage: model.StageClassified, Missing: []model.Field{model.FieldFacts}}
	}
	count := c.cfg.ClassifyCount
	hints := visa.Strings(visa.RelevantFor(string(facts.Purpose)))

	instruction := "Classify only visas that fit the purpose and the profile. Start each rationale with \"CODE — \" and mark \"(requires sponsor)\" when the visa needs a sponsor."
	if len(hints) > 0 {
		instruction += " Prioritise among: " + strings.Join(hints, ", ") + "; include others only when the facts justify them."
	}
	payload := map[string]any{
		"extracted_facts": facts,
		"purpose":         facts.Purpose,
		"count":           count,
		"instruction":     instruction,
	}
	if len(hints) > 0 {
		payload["relevant_visas_hint"] = hints
	}

	schema := contract.CandidatesSchema(visa.Strings(visa.All), count)
	list, err := gateway.CallAs[candidateList](ctx, c.caller, gateway.Request{
		Stage:       StageClassification,
		System:      classifyPrompt + "\n\n" + classifyCodesLine(count),
		Payload:     payload,
		Temperature: gateway.Float(c.cfg.Temperatures.Classify),
		Validate: func(obj map[string]any) (map[string]any, error) {
			out := c.sanitize(obj, count)
			if len(out["candidates"].([]any)) == 0 {
				return nil, eris.Wrap(model.ErrNoCandidates, "pipeline: classify: no resolvable visa codes")
			}
			return out, contract.Validate(schema, out)
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classify visas")
	}

	cls := &model.Classification{
		Candidates:  reorderBySponsor(list.Candidates),
		RuleVersion: c.resolver.Version(),
	}
	cls.Selected = selectCandidate(cls.Candidates, list.Selected)
	if c.cfg.RequireTopFloor && applyFloor(cls, c.cfg.ConfidenceFloor) {
		c.metrics.RecordFloorApplied()
		zap.L().Info("pipeline: confidence floor applied",
			zap.String("visa", string(cls.Candidates[0].Code)),
			zap.Float64("raw_confidence", *cls.Candidates[0].RawConfidence),
			zap.Float64("floor", c.cfg.ConfidenceFloor),
		)
	}

	zap.L().Info("pipeline: visas classified",
		zap.Int("candidates", len(cls.Candidates)),
		zap.String("selected", string(cls.Selected)),
	)
	return cls, nil
}

// sanitize resolves codes, normalizes confidences and rationales, removes
// duplicates and truncates to count. Unresolvable items are dropped.
func (c *Classifier) sanitize(obj map[string]any, count int) map[string]any {
	items, _ := obj["candidates"].([]any)

	type raw struct {
		code       visa.Code
		confidence float64
		rationale  string
	}
	cleaned := make([]raw, 0, len(items))
	for _, item := range items {
		m := contract.Object(item)
		name, _ := contract.String(m["visa"])
		code, ok := c.resolver.Resolve(name)
		if !ok {
			zap.L().Debug("pipeline: dropping unresolvable visa", zap.String("visa", name))
			continue
		}
		rationale, _ := contract.String(m["rationale"])
		cleaned = append(cleaned, raw{
			code:       code,
			confidence: contract.Confidence(m["confidence"]),
			rationale:  prefixRationale(code, rationale),
		})
	}

	ranked := visa.DedupRank(cleaned,
		func(r raw) visa.Code { return r.code },
		func(r raw) float64 { return r.confidence })
	if len(ranked) > count {
		ranked = ranked[:count]
	}

	candidates := make([]any, len(ranked))
	for i, r := range ranked {
		candidates[i] = map[string]any{
			"visa":             string(r.code),
			"confidence":       r.confidence,
			"rationale":        r.rationale,
			"sponsor_required": visa.SponsorRequired(r.code),
		}
	}
	out := map[string]any{"candidates": candidates}
	if name, ok := contract.String(obj["selected"]); ok {
		if code, ok := c.resolver.Resolve(name); ok {
			out["selected"] = string(code)
		}
	}
	return out
}

// prefixRationale makes sure the rationale starts with the code.
func prefixRationale(code visa.Code, rationale string) string {
	if rationale == "" {
		return string(code)
	}
	if strings.HasPrefix(strings.ToUpper(rationale), string(code)) {
		return rationale
	}
	return string(code) + " — " + rationale
}

// reorderBySponsor puts visas the applicant can pursue alone first. Each
// group keeps descending confidence; sponsor-dependent rationales are tagged
// once.
func reorderBySponsor(in []model.Candidate) []model.Candidate {
	var independent, sponsored []model.Candidate
	for _, c := range in {
		if !visa.SponsorRequired(c.Code) {
			independent = append(independent, c)
			continue
		}
		c.SponsorRequired = true
		if !strings.Contains(strings.ToLower(c.Rationale), "requires sponsor") {
			c.Rationale = strings.TrimSpace(c.Rationale + " " + sponsorTag)
		}
		sponsored = append(sponsored, c)
	}
	byConfidence := func(s []model.Candidate) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Confidence > s[j].Confidence })
	}
	byConfidence(independent)
	byConfidence(sponsored)
	return append(independent, sponsored...)
}

// selectCandidate keeps the backend's choice when it survived sanitizing,
// otherwise the first candidate.
func selectCandidate(candidates []model.Candidate, selected visa.Code) visa.Code {
	if len(candidates) == 0 {
		return ""
	}
	for _, c := range candidates {
		if c.Code == selected {
			return selected
		}
	}
	return candidates[0].Code
}

// applyFloor raises the top candidate's displayed confidence to floor and
// keeps the genuine value in RawConfidence.
func applyFloor(cls *model.Classification, floor float64) bool {
	if len(cls.Candidates) == 0 {
		return false
	}
	top := &cls.Candidates[0]
	if top.Confidence >= floor {
		return false
	}
	raw := top.Confidence
	top.RawConfidence = &raw
	top.Confidence = floor
	cls.FloorApplied = true
	return true
}
