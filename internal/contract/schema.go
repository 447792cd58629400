package contract

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Purposes accepted by FactsSchema.
var Purposes = []any{"study", "work", "business", "tourism", "immigration"}

func closed(s *openapi3.Schema) *openapi3.Schema {
	s.AdditionalProperties = openapi3.AdditionalProperties{Has: openapi3.BoolPtr(false)}
	return s
}

func nonEmptyString() *openapi3.Schema {
	return openapi3.NewStringSchema().WithMinLength(1)
}

func nonNegInt() *openapi3.Schema {
	return openapi3.NewIntegerSchema().WithMin(0)
}

func nonNegNumber() *openapi3.Schema {
	return openapi3.NewFloat64Schema().WithMin(0)
}

func unitInterval() *openapi3.Schema {
	return openapi3.NewFloat64Schema().WithMin(0).WithMax(1)
}

func stringList() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(nonEmptyString())
}

// FactsSchema describes the sanitized extractor output. Unknown keys are
// rejected; the sanitizer drops them before validation.
func FactsSchema() *openapi3.Schema {
	personal := closed(openapi3.NewObjectSchema().
		WithProperty("full_name", nonEmptyString()).
		WithProperty("nationality", nonEmptyString()).
		WithProperty("date_of_birth", nonEmptyString()))

	jobOffer := closed(openapi3.NewObjectSchema().
		WithProperty("position", nonEmptyString()).
		WithProperty("industry", nonEmptyString()).
		WithProperty("salary_usd_year", nonNegNumber()).
		WithProperty("employer_size", nonEmptyString()).
		WithProperty("is_multinational", openapi3.NewBoolSchema()))

	evidence := closed(openapi3.NewObjectSchema().
		WithProperty("awards", stringList()).
		WithProperty("media_mentions", nonNegInt()).
		WithProperty("conference_speaking", openapi3.NewBoolSchema()).
		WithProperty("peer_review_jury", openapi3.NewBoolSchema()).
		WithProperty("original_contributions", nonEmptyString()))

	niw := closed(openapi3.NewObjectSchema().
		WithProperty("national_importance", nonEmptyString()).
		WithProperty("well_positioned", nonEmptyString()).
		WithProperty("benefit_outweighs_labor_cert", nonEmptyString()))

	perm := closed(openapi3.NewObjectSchema().
		WithProperty("occupation", nonEmptyString()).
		WithProperty("degree_requirement", nonEmptyString()).
		WithProperty("prevailing_wage_level", nonEmptyString()))

	treaty := closed(openapi3.NewObjectSchema().
		WithProperty("e1", openapi3.NewBoolSchema()).
		WithProperty("e2", openapi3.NewBoolSchema()))

	history := closed(openapi3.NewObjectSchema().
		WithProperty("overstay_or_violations", openapi3.NewBoolSchema()).
		WithProperty("prior_us_visas", stringList()))

	family := closed(openapi3.NewObjectSchema().
		WithProperty("immediate_relative_us_citizen", openapi3.NewBoolSchema()))

	business := closed(openapi3.NewObjectSchema().
		WithProperty("owns_business", openapi3.NewBoolSchema()).
		WithProperty("business_details", nonEmptyString()))

	signals := closed(openapi3.NewObjectSchema().
		WithProperty("field_of_expertise", nonEmptyString()).
		WithProperty("has_job_offer", openapi3.NewBoolSchema()).
		WithProperty("job_offer_details", jobOffer).
		WithProperty("extraordinary_evidence", evidence).
		WithProperty("niw_prongs", niw).
		WithProperty("perm_readiness", perm).
		WithProperty("chargeability_country", nonEmptyString()).
		WithProperty("treaty_eligible", treaty).
		WithProperty("investment_capacity_usd", nonNegNumber()).
		WithProperty("multinational_experience_years", nonNegInt()).
		WithProperty("portfolio_links", stringList()).
		WithProperty("english_level", nonEmptyString()).
		WithProperty("travel_history", stringList()).
		WithProperty("immigration_history", history).
		WithProperty("family_ties_us", family).
		WithProperty("entrepreneurship", business))

	return closed(openapi3.NewObjectSchema().
		WithProperty("personal", personal).
		WithProperty("purpose", openapi3.NewStringSchema().WithEnum(Purposes...)).
		WithProperty("purpose_source", nonEmptyString()).
		WithProperty("education", nonEmptyString()).
		WithProperty("work_experience_years", nonNegInt()).
		WithProperty("has_us_sponsor", openapi3.NewBoolSchema()).
		WithProperty("signals", signals).
		WithRequired([]string{"purpose"}))
}

// CandidatesSchema describes the sanitized classifier output. codes is the
// canonical enumeration and limit the maximum list length.
func CandidatesSchema(codes []string, limit int) *openapi3.Schema {
	enum := make([]any, len(codes))
	for i, c := range codes {
		enum[i] = c
	}
	candidate := openapi3.NewObjectSchema().
		WithProperty("visa", openapi3.NewStringSchema().WithEnum(enum...)).
		WithProperty("confidence", unitInterval()).
		WithProperty("rationale", openapi3.NewStringSchema()).
		WithProperty("sponsor_required", openapi3.NewBoolSchema()).
		WithRequired([]string{"visa", "confidence", "rationale"})

	return openapi3.NewObjectSchema().
		WithProperty("candidates", openapi3.NewArraySchema().
			WithItems(candidate).
			WithMinItems(1).
			WithMaxItems(int64(limit))).
		WithProperty("selected", openapi3.NewStringSchema()).
		WithRequired([]string{"candidates"})
}

// QuestionsSchema describes the raw question generator output.
func QuestionsSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("questions", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithRequired([]string{"questions"})
}

func stepSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("step", nonEmptyString()).
		WithProperty("url", openapi3.NewStringSchema()).
		WithRequired([]string{"step"})
}

// DecisionSchema describes a normalized qualifying decision.
func DecisionSchema() *openapi3.Schema {
	top := openapi3.NewObjectSchema().
		WithProperty("visa", nonEmptyString()).
		WithProperty("confidence", unitInterval()).
		WithProperty("rationale", openapi3.NewStringSchema()).
		WithRequired([]string{"visa", "confidence"})

	return openapi3.NewObjectSchema().
		WithProperty("qualifies_for_visa", openapi3.NewBoolSchema().WithEnum(true)).
		WithProperty("selected_visa", nonEmptyString()).
		WithProperty("confidence", unitInterval()).
		WithProperty("rationale", openapi3.NewStringSchema()).
		WithProperty("top_visas", openapi3.NewArraySchema().WithItems(top).WithMinItems(1).WithMaxItems(2)).
		WithProperty("alternatives", stringList()).
		WithProperty("action_plan", openapi3.NewArraySchema().WithItems(stepSchema()).WithMinItems(1)).
		WithProperty("documents_checklist", stringList().WithMinItems(1)).
		WithProperty("risks_and_flags", stringList()).
		WithProperty("suggested_timeline", openapi3.NewStringSchema()).
		WithProperty("costs_note", openapi3.NewStringSchema()).
		WithRequired([]string{"qualifies_for_visa", "selected_visa", "confidence", "top_visas", "action_plan", "documents_checklist"})
}

// PathSchema describes a normalized non-qualifying decision.
func PathSchema() *openapi3.Schema {
	path := openapi3.NewObjectSchema().
		WithProperty("summary", nonEmptyString()).
		WithProperty("steps", openapi3.NewArraySchema().WithItems(stepSchema()).WithMinItems(1)).
		WithRequired([]string{"summary", "steps"})

	return openapi3.NewObjectSchema().
		WithProperty("qualifies_for_visa", openapi3.NewBoolSchema().WithEnum(false)).
		WithProperty("rationale", openapi3.NewStringSchema()).
		WithProperty("action_plan", openapi3.NewArraySchema().WithMaxItems(0)).
		WithProperty("documents_checklist", openapi3.NewArraySchema().WithMaxItems(0)).
		WithProperty("path_to_qualify", path).
		WithRequired([]string{"qualifies_for_visa", "path_to_qualify"})
}
