package pipeline

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/contract"
	"github.com/sells-group/visa-pipeline/internal/gateway"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
)

// PurposeSourceHint marks facts whose purpose came from the keyword hint.
const PurposeSourceHint = "keyword_hint"

// Extractor turns a narrative into model.Facts.
type Extractor struct {
	caller  gateway.Caller
	cfg     Config
	metrics *metrics.Metrics
}

// NewExtractor builds a standalone Extractor.
func NewExtractor(caller gateway.Caller, cfg Config, m *metrics.Metrics) *Extractor {
	return &Extractor{caller: caller, cfg: cfg.normalized(), metrics: m}
}

// Extract runs stage 1. Text shorter than the configured minimum is rejected
// before any backend call.
func (e *Extractor) Extract(ctx context.Context, rawText string) (*model.Facts, error) {
	facts, err := e.extract(ctx, rawText)
	e.metrics.RecordStage(StageFacts, outcome(err))
	return facts, err
}

func (e *Extractor) extract(ctx context.Context, rawText string) (*model.Facts, error) {
	text := contract.NormalizeSpace(rawText)
	if n := utf8.RuneCountInString(text); n < e.cfg.MinTextLength {
		return nil, eris.Wrapf(model.ErrInputTooShort, "pipeline: extract: %d characters, need at least %d", n, e.cfg.MinTextLength)
	}

	hint, hasHint := InferPurpose(text)
	payload := map[string]any{
		"raw_text": text,
		"goal":     "Extract objective facts and signals relevant to visa classification.",
	}
	if hasHint {
		payload["purpose_hint"] = string(hint)
	}

	facts, err := gateway.CallAs[model.Facts](ctx, e.caller, gateway.Request{
		Stage:       StageFacts,
		System:      factsPrompt,
		Payload:     payload,
		Temperature: gateway.Float(e.cfg.Temperatures.Extract),
		Validate: func(obj map[string]any) (map[string]any, error) {
			out := SanitizeFacts(obj)
			applyPurposeHint(out, hint, hasHint)
			return out, contract.Validate(contract.FactsSchema(), out)
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: extract facts")
	}

	zap.L().Info("pipeline: facts extracted",
		zap.String("purpose", string(facts.Purpose)),
		zap.String("purpose_source", facts.PurposeSource),
	)
	return &facts, nil
}

// applyPurposeHint overrides the model purpose when the keyword hint has a
// strictly higher priority. A missing purpose is filled from the hint.
func applyPurposeHint(obj map[string]any, hint model.Purpose, hasHint bool) {
	if !hasHint {
		return
	}
	current, ok := obj["purpose"].(string)
	if ok && !(hint.Priority() > model.Purpose(current).Priority()) {
		return
	}
	if ok {
		zap.L().Warn("pipeline: purpose overridden by keyword hint",
			zap.String("model_purpose", current),
			zap.String("hint", string(hint)),
		)
	}
	obj["purpose"] = string(hint)
	obj["purpose_source"] = PurposeSourceHint
}

// purposeHints is evaluated in priority order; the first group with a match
// wins.
var purposeHints = []struct {
	purpose model.Purpose
	re      *regexp.Regexp
}{
	{model.PurposeImmigration, hintPattern(
		"morar nos estados unidos", "mudar de pais", "mudar para os eua", "migrar", "migracao",
		"imigrar", "imigracao", "residencia permanente", "green card", "ajuste de status",
		"residente permanente", "permanent resident", "immigrate", "immigration", "live in the us",
		"move to the us", "move to the united states",
	)},
	{model.PurposeStudy, hintPattern(
		"estudar", "estudo", "curso", "faculdade", "universidade", "college", "escola", "matricula",
		"f-1", "f1", "i-20", "i20", "student visa", "language school", "mestrado", "doutorado", "phd",
		"graduacao", "bachelor", "undergrad", "campus", "study", "university", "master's degree",
	)},
	{model.PurposeWork, hintPattern(
		"trabalhar", "trabalho", "emprego", "empregador", "job offer", "oferta de trabalho",
		"contrato de trabalho", "h-1b", "h1b", "l-1", "l1", "o-1", "o1", "employer", "work visa",
	)},
	{model.PurposeBusiness, hintPattern(
		"negocio", "negocios", "reuniao", "feira", "conference", "meeting", "visita a clientes",
		"b-1", "b1", "workshop corporativo", "treinamento corporativo", "trade show", "business trip",
	)},
	{model.PurposeTourism, hintPattern(
		"turismo", "turista", "passear", "visitar", "lazer", "parques", "museus", "sightseeing",
		"b-2", "b2", "holiday", "vacation", "tourism",
	)},
}

// hintPattern matches any of terms inside folded text. Terms containing a
// digit are short visa codes and need word boundaries.
func hintPattern(terms ...string) *regexp.Regexp {
	alts := make([]string, len(terms))
	for i, t := range terms {
		q := regexp.QuoteMeta(t)
		if strings.ContainsAny(t, "0123456789") {
			q = `\b` + q + `\b`
		}
		alts[i] = q
	}
	return regexp.MustCompile(`(?:` + strings.Join(alts, "|") + `)`)
}

// InferPurpose applies the deterministic keyword hint to text.
func InferPurpose(text string) (model.Purpose, bool) {
	f := contract.Fold(text)
	for _, h := range purposeHints {
		if h.re.MatchString(f) {
			return h.purpose, true
		}
	}
	return "", false
}

var purposeSynonyms = map[string]model.Purpose{
	"study": model.PurposeStudy, "estudante": model.PurposeStudy, "estudo": model.PurposeStudy,
	"estudar": model.PurposeStudy, "curso": model.PurposeStudy, "faculdade": model.PurposeStudy,
	"universidade": model.PurposeStudy, "college": model.PurposeStudy, "escola": model.PurposeStudy,
	"education": model.PurposeStudy,

	"work": model.PurposeWork, "trabalho": model.PurposeWork, "trabalhar": model.PurposeWork,
	"emprego": model.PurposeWork, "employment": model.PurposeWork, "job": model.PurposeWork,

	"business": model.PurposeBusiness, "negocios": model.PurposeBusiness, "negocio": model.PurposeBusiness,
	"reuniao": model.PurposeBusiness, "meeting": model.PurposeBusiness, "conference": model.PurposeBusiness,

	"tourism": model.PurposeTourism, "turista": model.PurposeTourism, "turismo": model.PurposeTourism,
	"viagem": model.PurposeTourism, "visitar": model.PurposeTourism, "lazer": model.PurposeTourism,
	"leisure": model.PurposeTourism, "travel": model.PurposeTourism,

	"immigration": model.PurposeImmigration, "migracao": model.PurposeImmigration,
	"imigracao": model.PurposeImmigration, "imigrar": model.PurposeImmigration,
	"mudar de pais": model.PurposeImmigration, "morar nos estados unidos": model.PurposeImmigration,
	"residencia permanente": model.PurposeImmigration, "green card": model.PurposeImmigration,
}

// NormalizePurpose maps PT/EN purpose synonyms to the canonical enum.
func NormalizePurpose(v any) (model.Purpose, bool) {
	s, ok := contract.String(v)
	if !ok {
		return "", false
	}
	f := contract.NormalizeSpace(contract.Fold(s))
	if p, ok := purposeSynonyms[f]; ok {
		return p, true
	}
	for _, p := range []model.Purpose{
		model.PurposeImmigration, model.PurposeStudy, model.PurposeWork, model.PurposeBusiness, model.PurposeTourism,
	} {
		if strings.Contains(f, string(p)) {
			return p, true
		}
	}
	return "", false
}

type kind int

const (
	kindString kind = iota
	kindBool
	kindNumber
	kindCount
	kindYears
	kindStrings
)

// shape maps a key to a kind or a nested shape.
type shape map[string]any

var signalsShape = shape{
	"field_of_expertise": kindString,
	"has_job_offer":      kindBool,
	"job_offer_details": shape{
		"position":         kindString,
		"industry":         kindString,
		"salary_usd_year":  kindNumber,
		"employer_size":    kindString,
		"is_multinational": kindBool,
	},
	"extraordinary_evidence": shape{
		"awards":                 kindStrings,
		"media_mentions":         kindCount,
		"conference_speaking":    kindBool,
		"peer_review_jury":       kindBool,
		"original_contributions": kindString,
	},
	"niw_prongs": shape{
		"national_importance":          kindString,
		"well_positioned":              kindString,
		"benefit_outweighs_labor_cert": kindString,
	},
	"perm_readiness": shape{
		"occupation":            kindString,
		"degree_requirement":    kindString,
		"prevailing_wage_level": kindString,
	},
	"chargeability_country": kindString,
	"treaty_eligible": shape{
		"e1": kindBool,
		"e2": kindBool,
	},
	"investment_capacity_usd":        kindNumber,
	"multinational_experience_years": kindYears,
	"portfolio_links":                kindStrings,
	"english_level":                  kindString,
	"travel_history":                 kindStrings,
	"immigration_history": shape{
		"overstay_or_violations": kindBool,
		"prior_us_visas":         kindStrings,
	},
	"family_ties_us": shape{
		"immediate_relative_us_citizen": kindBool,
	},
	"entrepreneurship": shape{
		"owns_business":    kindBool,
		"business_details": kindString,
	},
}

var factsShape = shape{
	"personal": shape{
		"full_name":     kindString,
		"nationality":   kindString,
		"date_of_birth": kindString,
	},
	"education":             kindString,
	"work_experience_years": kindYears,
	"has_us_sponsor":        kindBool,
	"signals":               signalsShape,
}

// SanitizeFacts coerces raw extractor output into the facts shape. Unknown
// keys and values that cannot be interpreted are dropped; empty nested
// objects disappear.
func SanitizeFacts(in map[string]any) map[string]any {
	in = contract.Object(contract.StripEmpty(in))
	out := coerceShape(in, factsShape)
	if p, ok := NormalizePurpose(in["purpose"]); ok {
		out["purpose"] = string(p)
	}
	return out
}

func coerceShape(in map[string]any, sh shape) map[string]any {
	out := make(map[string]any)
	for key, spec := range sh {
		raw, present := in[key]
		if !present {
			continue
		}
		if nested, ok := spec.(shape); ok {
			if obj := contract.Object(raw); obj != nil {
				if v := coerceShape(obj, nested); len(v) > 0 {
					out[key] = v
				}
			}
			continue
		}
		if v, ok := coerceValue(raw, spec.(kind)); ok {
			out[key] = v
		}
	}
	return out
}

func coerceValue(v any, k kind) (any, bool) {
	switch k {
	case kindString:
		return contract.String(v)
	case kindBool:
		return contract.Bool(v)
	case kindNumber:
		n, ok := contract.Number(v)
		if !ok || n < 0 {
			return nil, false
		}
		return n, true
	case kindCount:
		n, ok := contract.NonNegativeInt(v)
		return float64(n), ok
	case kindYears:
		n, ok := contract.Years(v)
		return float64(n), ok
	case kindStrings:
		return contract.StringArray(v)
	}
	return nil, false
}
