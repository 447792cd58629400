package pipeline

import (
	"context"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/contract"
	"github.com/sells-group/visa-pipeline/internal/gateway"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/visa"
)

// Finalizer produces the final decision for a submission.
type Finalizer struct {
	caller   gateway.Caller
	cfg      Config
	resolver *visa.Resolver
	metrics  *metrics.Metrics
}

// NewFinalizer builds a standalone Finalizer. A nil resolver uses
// visa.Default().
func NewFinalizer(caller gateway.Caller, cfg Config, resolver *visa.Resolver, m *metrics.Metrics) *Finalizer {
	if resolver == nil {
		resolver = visa.Default()
	}
	return &Finalizer{caller: caller, cfg: cfg.normalized(), resolver: resolver, metrics: m}
}

// FinalizeInput carries everything the decision depends on.
type FinalizeInput struct {
	Facts          *model.Facts
	Classification *model.Classification
	Questions      []string
	Answers        []string
	Language       model.Language
}

// Finalize runs stage 4. The branch is chosen by the best genuine
// confidence; a presentation floor never turns a weak profile into a
// qualifying one.
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (*model.Decision, error) {
	d, err := f.finalize(ctx, in)
	f.metrics.RecordStage(StageFinalize, outcome(err))
	return d, err
}

func (f *Finalizer) finalize(ctx context.Context, in FinalizeInput) (*model.Decision, error) {
	var missing []model.Field
	if in.Facts == nil {
		missing = append(missing, model.FieldFacts)
	}
	if in.Classification == nil || len(in.Classification.Candidates) == 0 {
		missing = append(missing, model.FieldClassification)
	}
	if len(missing) > 0 {
		return nil, &model.PrerequisiteError{Stage: model.StageFinal, Missing: missing}
	}
	lang := language(in.Language, f.cfg.DefaultLanguage)

	best := in.Classification.BestGenuineConfidence()
	var (
		d      *model.Decision
		detail []string
		err    error
	)
	if best < f.cfg.NoVisaThreshold {
		d, detail, err = f.path(ctx, in, lang, best)
	} else {
		d, detail, err = f.qualify(ctx, in, lang)
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: finalize decision")
	}

	if d.Reconstructed {
		f.metrics.RecordReconstructed()
		zap.L().Warn("pipeline: decision rebuilt from non-conforming output",
			zap.Bool("qualifies", d.QualifiesForVisa),
			zap.Strings("detail", detail),
		)
	}
	zap.L().Info("pipeline: decision finalized",
		zap.Bool("qualifies", d.QualifiesForVisa),
		zap.String("selected_visa", string(d.SelectedVisa)),
		zap.Float64("best_confidence", best),
	)
	return d, nil
}

func answerPairs(questions, answers []string) []map[string]string {
	out := make([]map[string]string, 0, len(answers))
	for i, a := range answers {
		q := ""
		if i < len(questions) {
			q = questions[i]
		}
		out = append(out, map[string]string{"question": q, "answer": a})
	}
	return out
}

func (f *Finalizer) qualify(ctx context.Context, in FinalizeInput, lang model.Language) (*model.Decision, []string, error) {
	cls := in.Classification
	raw, err := f.caller.Call(ctx, gateway.Request{
		Stage:  StageFinalize,
		System: withLinks(decisionPrompt) + "\n" + languageRule(lang),
		Payload: map[string]any{
			"extracted_facts": in.Facts,
			"classification":  cls,
			"answers":         answerPairs(in.Questions, in.Answers),
		},
		Temperature: gateway.Float(f.cfg.Temperatures.Finalize),
	})
	if err != nil {
		return nil, nil, err
	}

	check := copyObject(raw)
	check["qualifies_for_visa"] = true
	verr := contract.Validate(contract.DecisionSchema(), check)

	detail := contract.Details(verr)
	selected, accepted := f.selectVisa(raw["selected_visa"], cls)
	if !accepted {
		detail = append(detail, "selected_visa: replaced with "+string(selected))
	}
	cand := cls.Find(selected)

	d := &model.Decision{
		QualifiesForVisa:   true,
		SelectedVisa:       selected,
		Confidence:         cand.Confidence,
		Rationale:          stringOr(raw["rationale"], cand.Rationale),
		TopVisas:           f.topVisas(raw["top_visas"], cls, selected),
		Alternatives:       stringList(raw["alternatives"]),
		ActionPlan:         normalizeSteps(raw["action_plan"]),
		DocumentsChecklist: stringList(raw["documents_checklist"]),
		RisksAndFlags:      stringList(raw["risks_and_flags"]),
		SuggestedTimeline:  stringOr(raw["suggested_timeline"], ""),
		CostsNote:          stringOr(raw["costs_note"], ""),
	}
	if len(d.ActionPlan) == 0 {
		d.ActionPlan = defaultPlan(selected, lang)
		detail = append(detail, "action_plan: default steps")
	}
	if len(d.DocumentsChecklist) == 0 {
		d.DocumentsChecklist = defaultChecklist(lang)
		detail = append(detail, "documents_checklist: default list")
	}
	d.Reconstructed = len(detail) > 0
	return d, detail, nil
}

// selectVisa resolves the backend's choice and accepts it only when it is a
// candidate. Otherwise the classification's selection, then the first
// candidate, reported as not accepted.
func (f *Finalizer) selectVisa(v any, cls *model.Classification) (visa.Code, bool) {
	if s, ok := contract.String(v); ok {
		if code, ok := f.resolver.Resolve(s); ok && cls.Has(code) {
			return code, true
		}
		zap.L().Warn("pipeline: selected visa is not a candidate", zap.String("selected_visa", s))
	}
	if cls.Has(cls.Selected) {
		return cls.Selected, false
	}
	return cls.Candidates[0].Code, false
}

// topVisas keeps at most two candidate codes with the classification's
// confidences, filling from the candidates when the backend gave none.
func (f *Finalizer) topVisas(v any, cls *model.Classification, selected visa.Code) []model.TopVisa {
	var out []model.TopVisa
	seen := make(map[visa.Code]bool)
	push := func(code visa.Code, rationale string) {
		c := cls.Find(code)
		if c == nil || seen[code] || len(out) >= 2 {
			return
		}
		seen[code] = true
		if rationale == "" {
			rationale = c.Rationale
		}
		out = append(out, model.TopVisa{Code: code, Confidence: c.Confidence, Rationale: rationale})
	}

	items, _ := v.([]any)
	for _, it := range items {
		m := contract.Object(it)
		name, _ := contract.String(m["visa"])
		if code, ok := f.resolver.Resolve(name); ok {
			r, _ := contract.String(m["rationale"])
			push(code, r)
		}
	}
	if len(out) == 0 {
		push(selected, "")
		for _, c := range cls.Candidates {
			push(c.Code, "")
		}
	}
	return out
}

func (f *Finalizer) path(ctx context.Context, in FinalizeInput, lang model.Language, best float64) (*model.Decision, []string, error) {
	raw, err := f.caller.Call(ctx, gateway.Request{
		Stage:  StageFinalize,
		System: withLinks(pathPrompt) + "\n" + languageRule(lang),
		Payload: map[string]any{
			"extracted_facts":   in.Facts,
			"classification":    in.Classification,
			"answers":           answerPairs(in.Questions, in.Answers),
			"best_confidence":   best,
			"minimum_threshold": f.cfg.NoVisaThreshold,
			"instruction_reminder": "Do not recommend any visa. Produce path_to_qualify with a clear summary and " +
				"8 to 15 detailed steps, with urls where applicable.",
		},
		Temperature: gateway.Float(f.cfg.Temperatures.Path),
	})
	if err != nil {
		return nil, nil, err
	}

	check := copyObject(raw)
	check["qualifies_for_visa"] = false
	verr := contract.Validate(contract.PathSchema(), check)

	detail := contract.Details(verr)
	text := pathTexts[lang]
	p := contract.Object(raw["path_to_qualify"])
	steps := normalizeSteps(p["steps"])
	if len(steps) == 0 {
		steps = append([]model.Step(nil), text.steps...)
		detail = append(detail, "path_to_qualify.steps: default steps")
	}
	rationale, ok := contract.String(raw["rationale"])
	if !ok {
		rationale = text.rationale
		detail = append(detail, "rationale: default text")
	}
	summary, ok := contract.String(p["summary"])
	if !ok {
		summary = text.summary
		detail = append(detail, "path_to_qualify.summary: default text")
	}
	return &model.Decision{
		QualifiesForVisa:   false,
		Rationale:          rationale,
		ActionPlan:         []model.Step{},
		DocumentsChecklist: []string{},
		PathToQualify: &model.PathToQualify{
			Summary: summary,
			Steps:   steps,
		},
		Reconstructed: len(detail) > 0,
	}, detail, nil
}

func copyObject(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringOr(v any, def string) string {
	if s, ok := contract.String(v); ok {
		return s
	}
	return def
}

func stringList(v any) []string {
	items, _ := contract.StringArray(v)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(string))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeSteps accepts steps as strings or {step, url} objects and fills
// missing urls from stepLinks.
func normalizeSteps(v any) []model.Step {
	items, _ := v.([]any)
	out := make([]model.Step, 0, len(items))
	for _, it := range items {
		var st model.Step
		switch x := it.(type) {
		case string:
			st.Text = contract.NormalizeSpace(x)
		case map[string]any:
			st.Text, _ = contract.String(x["step"])
			st.URL, _ = contract.String(x["url"])
		}
		if st.Text == "" {
			continue
		}
		if st.URL == "" {
			st.URL = StepLink(st.Text)
		}
		out = append(out, st)
	}
	return out
}

// stepLinks is ordered; the first match wins.
var stepLinks = []struct {
	re  *regexp.Regexp
	url string
}{
	{re(`ds-160|ds160|formulario nao imigrante`), "https://ceac.state.gov/genniv/"},
	{re(`agendar|entrevista|interview|consulado|consulate|embaixada|embassy|ustraveldocs`), "https://www.ustraveldocs.com/"},
	{re(`uscis|i-130|i-140|i-485`), "https://www.uscis.gov/forms"},
	{re(`ceac|nvc|imigrante|immigrant visa`), "https://ceac.state.gov/"},
	{re(`diversity|dv lottery|loteria`), "https://dvlottery.state.gov/"},
	{re(`taxa|\bfees?\b|pagamento|payment|mrv`), "https://www.ustraveldocs.com/"},
}

// StepLink returns the official url for a step, or "".
func StepLink(step string) string {
	f := contract.Fold(step)
	for _, l := range stepLinks {
		if l.re.MatchString(f) {
			return l.url
		}
	}
	return ""
}

type pathText struct {
	rationale string
	summary   string
	steps     []model.Step
}

var pathTexts = map[model.Language]pathText{
	model.LanguagePT: {
		rationale: "Com o perfil atual não há um visto com adequação suficiente. Siga o caminho abaixo para se preparar.",
		summary:   "Siga as etapas abaixo para fortalecer seu perfil e um dia se qualificar a um visto.",
		steps: []model.Step{
			{Text: "Revise as categorias de visto no site oficial do Departamento de Estado.", URL: "https://travel.state.gov/"},
			{Text: "Fortaleça seu perfil profissional ou acadêmico com experiência e formação comprováveis."},
			{Text: "Verifique a elegibilidade do seu país de nascimento na loteria de vistos de diversidade.", URL: "https://dvlottery.state.gov/"},
		},
	},
	model.LanguageEN: {
		rationale: "With the current profile no visa is a sufficient fit. Follow the path below to prepare.",
		summary:   "Follow the steps below to strengthen your profile and qualify for a visa in the future.",
		steps: []model.Step{
			{Text: "Review the visa categories on the official State Department site.", URL: "https://travel.state.gov/"},
			{Text: "Strengthen your professional or academic profile with verifiable experience and education."},
			{Text: "Check whether your country of birth is eligible for the diversity visa lottery.", URL: "https://dvlottery.state.gov/"},
		},
	},
}

func defaultPlan(code visa.Code, lang model.Language) []model.Step {
	if lang == model.LanguageEN {
		return []model.Step{
			{Text: "Review the official " + string(code) + " requirements and confirm your eligibility.", URL: "https://travel.state.gov/"},
			{Text: "Gather the supporting documents and file the required USCIS forms when applicable.", URL: "https://www.uscis.gov/forms"},
			{Text: "Pay the visa fee and schedule the consular interview.", URL: "https://www.ustraveldocs.com/"},
		}
	}
	return []model.Step{
		{Text: "Revise os requisitos oficiais do " + string(code) + " e confirme sua elegibilidade.", URL: "https://travel.state.gov/"},
		{Text: "Reúna os documentos de suporte e envie os formulários USCIS quando aplicável.", URL: "https://www.uscis.gov/forms"},
		{Text: "Pague a taxa do visto e agende a entrevista consular.", URL: "https://www.ustraveldocs.com/"},
	}
}

func defaultChecklist(lang model.Language) []string {
	if lang == model.LanguageEN {
		return []string{"Passport valid for at least six months beyond the intended stay."}
	}
	return []string{"Passaporte válido por pelo menos seis meses além da estadia pretendida."}
}
