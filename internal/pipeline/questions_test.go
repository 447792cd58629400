package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-pipeline/internal/gateway"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/visa"
)

func niwClassification() *model.Classification {
	return &model.Classification{
		Candidates: []model.Candidate{candidate(visa.CodeEB2NIW, 0.85), candidate(visa.CodeO1, 0.6)},
		Selected:   visa.CodeEB2NIW,
	}
}

func assertContained(t *testing.T, qs []model.Question, cls *model.Classification) {
	t.Helper()
	for _, q := range qs {
		codes, _, ok := visa.Default().Prefix(q.Text)
		require.True(t, ok, q.Text)
		for _, c := range codes {
			assert.True(t, cls.Has(c), "%q names %s", q.Text, c)
		}
	}
}

func TestGenerate_FiltersAndPads(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, mock.MatchedBy(func(r gateway.Request) bool {
		return r.Stage == StageQuestions &&
			r.Temperature != nil && *r.Temperature == 0.25 &&
			strings.Contains(r.System, "Brazilian Portuguese")
	})).Return(`{"questions": [
		"[EB2_NIW] Qual o impacto nacional do seu trabalho?",
		"[H1B] Seu empregador vai peticionar o H-1B?",
		"Quantos anos de experiência você tem?",
		"[O1] Você tem um empregador que atue como sponsor?",
		"[eb2_niw]   Qual o impacto   nacional do seu trabalho?",
		"[EB2_NIW/H1B] Você prefere um caminho com ou sem empregador?",
		42,
		""
	]}`, nil).Once()

	m := metrics.New()
	cls := niwClassification()
	g := NewQuestionGenerator(mc, DefaultConfig(), nil, m)
	qs, err := g.Generate(context.Background(), workFacts(), cls, model.LanguagePT)
	require.NoError(t, err)

	require.Len(t, qs, 5)
	assert.Equal(t, "[EB2_NIW] Qual o impacto nacional do seu trabalho?", qs[0].Text)
	assert.Equal(t, model.QuestionFromModel, qs[0].Source)
	for _, q := range qs[1:] {
		assert.Equal(t, model.QuestionFromFallback, q.Source, q.Text)
	}
	assert.True(t, strings.HasPrefix(qs[4].Text, "[O1] "))
	assertContained(t, qs, cls)
	mc.AssertExpectations(t)
}

func TestGenerate_DepthTemplatesForUncoveredCode(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageQuestions)).Return(`{"questions": []}`, nil).Once()

	cls := &model.Classification{Candidates: []model.Candidate{candidate(visa.CodeH2A, 0.9)}}
	g := NewQuestionGenerator(mc, DefaultConfig(), nil, nil)
	qs, err := g.Generate(context.Background(), &model.Facts{Purpose: model.PurposeWork}, cls, model.LanguageEN)
	require.NoError(t, err)

	require.Len(t, qs, 5)
	for _, q := range qs {
		assert.Equal(t, model.QuestionFromDepth, q.Source)
		assert.True(t, strings.HasPrefix(q.Text, "[H2A] "), q.Text)
	}
	assertContained(t, qs, cls)
}

func TestGenerate_InsufficientQuestions(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageQuestions)).Return(`{"questions": []}`, nil).Once()

	cfg := DefaultConfig()
	cfg.QuestionMin = 7
	cls := &model.Classification{Candidates: []model.Candidate{candidate(visa.CodeH2A, 0.9)}}
	_, err := NewQuestionGenerator(mc, cfg, nil, nil).Generate(context.Background(), &model.Facts{Purpose: model.PurposeWork}, cls, model.LanguageEN)
	require.ErrorIs(t, err, model.ErrInsufficientQuestions)
}

func TestGenerate_CapsAtMax(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`{"questions": [`)
	for i := 0; i < 15; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`"[EB2_NIW] Pergunta número ` + strings.Repeat("x", i+1) + `?"`)
	}
	b.WriteString(`]}`)

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageQuestions)).Return(b.String(), nil).Once()

	qs, err := NewQuestionGenerator(mc, DefaultConfig(), nil, nil).
		Generate(context.Background(), workFacts(), niwClassification(), model.LanguagePT)
	require.NoError(t, err)
	assert.Len(t, qs, 10)
}

func TestGenerate_Prerequisites(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	g := NewQuestionGenerator(mc, DefaultConfig(), nil, nil)

	_, err := g.Generate(context.Background(), nil, nil, model.LanguagePT)
	require.ErrorIs(t, err, model.ErrMissingPrerequisite)
	var pe *model.PrerequisiteError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []model.Field{model.FieldFacts, model.FieldClassification}, pe.Missing)

	_, err = g.Generate(context.Background(), workFacts(), &model.Classification{}, model.LanguagePT)
	require.ErrorIs(t, err, model.ErrMissingPrerequisite)
	mc.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
}

func TestTopCandidates(t *testing.T) {
	t.Parallel()

	in := []model.Candidate{candidate(visa.CodeB1, 0.1), candidate(visa.CodeB2, 0.9), candidate(visa.CodeF1, 0.5)}
	out := topCandidates(in, 2)
	require.Len(t, out, 2)
	assert.Equal(t, visa.CodeB2, out[0].Code)
	assert.Equal(t, visa.CodeF1, out[1].Code)
	assert.Equal(t, visa.CodeB1, in[0].Code)
}

func TestBuildKnownFlags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KnownFlags{}, BuildKnownFlags(nil))

	yes := true
	invest := 250000.0
	mn := 2
	media := 4
	f := &model.Facts{
		Purpose:  model.PurposeBusiness,
		Personal: &model.Personal{Nationality: "Brasil"},
		Signals: &model.Signals{
			ChargeabilityCountry:         "Brasil",
			InvestmentCapacityUSD:        &invest,
			TreatyEligible:               &model.TreatyEligible{E2: &yes},
			MultinationalExperienceYears: &mn,
			ExtraordinaryEvidence:        &model.ExtraordinaryEvidence{MediaMentions: &media},
			JobOfferDetails:              &model.JobOfferDetails{IsMultinational: &yes},
		},
	}
	k := BuildKnownFlags(f)
	assert.False(t, k.HasSponsor)
	assert.Equal(t, "brasil", k.Nationality)
	assert.Equal(t, "brasil", k.E2TreatyPassportCountry)
	assert.True(t, k.DVEligibleHint)
	assert.True(t, k.EB5Budget)
	assert.True(t, k.E2InvestAmount)
	assert.True(t, k.O1Evidence)
	assert.True(t, k.L1OneYear)
	assert.True(t, k.L1QualifyingRelationship)
}

func TestAlreadyAnswered(t *testing.T) {
	t.Parallel()

	known := KnownFlags{
		HasSponsor:              true,
		EB5Budget:               true,
		E2TreatyPassportCountry: "brasil",
		CountryOfBirth:          "Brasil",
		L1OneYear:               true,
	}
	tests := []struct {
		q    string
		want bool
	}{
		{"[H1B] Você já tem um empregador disposto a peticionar?", true},
		{"[EB5] Qual o valor de investimento disponível?", true},
		{"[E2] Seu passaporte é de um país com tratado?", true},
		{"[DV] Qual é o seu país de nascimento?", true},
		{"[L1] Você trabalhou 1 ano contínuo na empresa?", true},
		{"[L1] Qual a relação entre as empresas?", false},
		{"[O1] Quais prêmios você recebeu?", false},
		{"[EB2_NIW] Qual o impacto nacional do seu trabalho?", false},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, AlreadyAnswered(tt.q, known))
		})
	}

	assert.False(t, AlreadyAnswered("[H1B] Você já tem um empregador disposto a peticionar?", KnownFlags{}))
}

func TestFallbackAndDepthLanguage(t *testing.T) {
	t.Parallel()

	top := []model.Candidate{candidate(visa.CodeEB5, 0.7)}
	pt := fallbackQuestions(top, model.LanguagePT)
	en := fallbackQuestions(top, model.LanguageEN)
	require.Len(t, pt, 5)
	assert.Equal(t, "[EB5] Você pretende investir via centro regional (TEA) ou investimento direto com criação de 10 empregos?", pt[0])
	assert.Equal(t, "[EB5] Will you pursue a regional center (TEA) or direct investment creating 10 jobs?", en[0])

	depth := depthQuestions(top, model.LanguageEN)
	require.Len(t, depth, 1+len(depthTemplates))
	assert.True(t, strings.HasPrefix(depth[0], "[EB5] Have you evaluated"))
	assert.Contains(t, depth[1], "the EB5 requirements")
}
