package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-pipeline/internal/gateway"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
)

const workNarrative = "Sou engenheiro de software com 8 anos de experiência e tenho uma oferta de trabalho nos EUA."

func TestExtract_InputTooShort(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	e := NewExtractor(mc, DefaultConfig(), nil)

	_, err := e.Extract(context.Background(), "   quero   um visto   ")
	require.ErrorIs(t, err, model.ErrInputTooShort)
	assert.Equal(t, "input_too_short", model.ErrorCode(err))
	mc.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
}

func TestExtract_SanitizesOutput(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, mock.MatchedBy(func(r gateway.Request) bool {
		p, ok := r.Payload.(map[string]any)
		return ok && r.Stage == StageFacts &&
			r.Temperature != nil && *r.Temperature == 0.2 &&
			p["purpose_hint"] == "work" &&
			p["raw_text"] == workNarrative
	})).Return(`{
		"purpose": "Trabalho",
		"personal": {"full_name": "", "nationality": "Brasil", "age": 31},
		"work_experience_years": "8 anos",
		"has_us_sponsor": "sim",
		"education": null,
		"signals": {
			"has_job_offer": "true",
			"investment_capacity_usd": -5,
			"extraordinary_evidence": {"media_mentions": "3", "awards": ["", "  "]},
			"treaty_eligible": {},
			"favorite_color": "blue"
		},
		"extra": "dropped"
	}`, nil).Once()

	m := metrics.New()
	e := NewExtractor(mc, DefaultConfig(), m)
	facts, err := e.Extract(context.Background(), "  "+workNarrative+"  ")
	require.NoError(t, err)

	assert.Equal(t, model.PurposeWork, facts.Purpose)
	assert.Empty(t, facts.PurposeSource)
	require.NotNil(t, facts.Personal)
	assert.Equal(t, "Brasil", facts.Personal.Nationality)
	assert.Empty(t, facts.Personal.FullName)
	require.NotNil(t, facts.WorkExperienceYears)
	assert.Equal(t, 8, *facts.WorkExperienceYears)
	assert.True(t, model.BoolValue(facts.HasUSSponsor))
	assert.Empty(t, facts.Education)

	require.NotNil(t, facts.Signals)
	assert.True(t, model.BoolValue(facts.Signals.HasJobOffer))
	assert.Nil(t, facts.Signals.InvestmentCapacityUSD)
	assert.Nil(t, facts.Signals.TreatyEligible)
	require.NotNil(t, facts.Signals.ExtraordinaryEvidence)
	require.NotNil(t, facts.Signals.ExtraordinaryEvidence.MediaMentions)
	assert.Equal(t, 3, *facts.Signals.ExtraordinaryEvidence.MediaMentions)
	assert.Empty(t, facts.Signals.ExtraordinaryEvidence.Awards)

	mc.AssertExpectations(t)
}

func TestExtract_PurposeOverriddenByHigherPriorityHint(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageFacts)).Return(`{"purpose":"tourism"}`, nil).Once()

	e := NewExtractor(mc, DefaultConfig(), nil)
	facts, err := e.Extract(context.Background(), "Quero morar nos Estados Unidos com minha família e conseguir o green card.")
	require.NoError(t, err)
	assert.Equal(t, model.PurposeImmigration, facts.Purpose)
	assert.Equal(t, PurposeSourceHint, facts.PurposeSource)
}

func TestExtract_LowerPriorityHintDoesNotOverride(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageFacts)).Return(`{"purpose":"immigration"}`, nil).Once()

	e := NewExtractor(mc, DefaultConfig(), nil)
	facts, err := e.Extract(context.Background(), "Quero fazer turismo e visitar os parques da Disney com a família.")
	require.NoError(t, err)
	assert.Equal(t, model.PurposeImmigration, facts.Purpose)
	assert.Empty(t, facts.PurposeSource)
}

func TestExtract_MissingPurposeFilledFromHint(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageFacts)).Return(`{"education":"Bacharel"}`, nil).Once()

	e := NewExtractor(mc, DefaultConfig(), nil)
	facts, err := e.Extract(context.Background(), "Quero fazer turismo e visitar os parques da Disney com a família.")
	require.NoError(t, err)
	assert.Equal(t, model.PurposeTourism, facts.Purpose)
	assert.Equal(t, PurposeSourceHint, facts.PurposeSource)
}

func TestExtract_MissingPurposeWithoutHintIsValidationError(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageFacts)).Return(`{"education":"Bacharel"}`, nil).Once()

	e := NewExtractor(mc, DefaultConfig(), nil)
	_, err := e.Extract(context.Background(), "Tenho trinta anos e sou casado, nasci em Recife.")
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestExtract_BackendErrorPropagates(t *testing.T) {
	t.Parallel()

	mc := new(mockCaller)
	mc.On("Call", mock.Anything, stage(StageFacts)).
		Return("", eris.Wrap(model.ErrUpstreamTransient, "gateway: facts")).Once()

	e := NewExtractor(mc, DefaultConfig(), nil)
	_, err := e.Extract(context.Background(), workNarrative)
	require.ErrorIs(t, err, model.ErrUpstreamTransient)
}

func TestInferPurpose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want model.Purpose
		ok   bool
	}{
		{"Quero estudar inglês em Boston", model.PurposeStudy, true},
		{"Recebi uma OFERTA DE TRABALHO", model.PurposeWork, true},
		{"I have an F1 question", model.PurposeStudy, true},
		{"my office is on floor f10", "", false},
		{"Vou a uma feira de negócios em Las Vegas", model.PurposeBusiness, true},
		{"Quero imigrar e estudar", model.PurposeImmigration, true},
		{"Nada relevante aqui", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, ok := InferPurpose(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePurpose(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]model.Purpose{
		"Estudo":              model.PurposeStudy,
		"TURISMO":             model.PurposeTourism,
		"negócios":            model.PurposeBusiness,
		"Imigração":           model.PurposeImmigration,
		"long term work plan": model.PurposeWork,
	} {
		got, ok := NormalizePurpose(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := NormalizePurpose("something else")
	assert.False(t, ok)
	_, ok = NormalizePurpose(42.0)
	assert.False(t, ok)
}
