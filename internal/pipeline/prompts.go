package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/visa"
)

const factsPrompt = `You extract facts relevant to United States visa eligibility from an applicant's narrative.

Return one object with this shape (every field except purpose is optional):
{
  "personal": {"full_name": string, "nationality": string, "date_of_birth": string},
  "purpose": "study" | "work" | "business" | "tourism" | "immigration",
  "education": string,
  "work_experience_years": number,
  "has_us_sponsor": boolean,
  "signals": {
    "field_of_expertise": string,
    "has_job_offer": boolean,
    "job_offer_details": {"position": string, "industry": string, "salary_usd_year": number, "employer_size": string, "is_multinational": boolean},
    "extraordinary_evidence": {"awards": [string], "media_mentions": number, "conference_speaking": boolean, "peer_review_jury": boolean, "original_contributions": string},
    "niw_prongs": {"national_importance": string, "well_positioned": string, "benefit_outweighs_labor_cert": string},
    "perm_readiness": {"occupation": string, "degree_requirement": string, "prevailing_wage_level": string},
    "chargeability_country": string,
    "treaty_eligible": {"e1": boolean, "e2": boolean},
    "investment_capacity_usd": number,
    "multinational_experience_years": number,
    "portfolio_links": [string],
    "english_level": string,
    "travel_history": [string],
    "immigration_history": {"overstay_or_violations": boolean, "prior_us_visas": [string]},
    "family_ties_us": {"immediate_relative_us_citizen": boolean},
    "entrepreneurship": {"owns_business": boolean, "business_details": string}
  }
}

Rules:
- Never use null. Omit any field the narrative does not support.
- Numbers must be JSON numbers and booleans JSON booleans.
- Do not default to "tourism"; use it only when the narrative describes leisure or visits.
- purpose_hint in the input is a keyword heuristic. Treat it as a suggestion, not a rule.`

const classifyPrompt = `You classify United States visa options for an applicant. Only suggest visas that fit the applicant's profile and declared purpose.

Rules:
1. Base every judgement only on extracted_facts. Do not invent facts.
2. Stay coherent with the purpose:
   - tourism: B2, and B1 only when there is a business motive.
   - study: F1, M1, J1, B2. Never permanent work or investment visas.
   - business: B1, E1, E2, L1 when multinational, EB5 only with an investment signal.
   - work: H1B, L1, O1, E2, TN, E3, EB2_NIW, EB1A, EB2_PERM, EB3. H1B, EB2_PERM and EB3 need a job offer or a strong profile.
   - immigration: EB2_NIW, EB1A, EB5, DV, E2, FAMILY, IR1, CR1, K1, EB2_PERM, EB3, prioritised by the signals.
3. Exclude clearly irrelevant visas (DV without an eligible chargeability country, IR1 or CR1 without a citizen spouse, L1 without multinational experience).
4. confidence is a number from 0 to 1 describing how well the facts satisfy the visa. Missing data lowers confidence.
5. Start every rationale with the visa code followed by " — ", then cite the supporting or weakening facts.
6. Prefer visas that do not need a sponsor when the facts allow it. Mark sponsor-dependent visas with "(requires sponsor)" in the rationale.

Output: {"candidates": [{"visa": "CODE", "confidence": 0.0, "rationale": "CODE — ..."}], "selected": "CODE"}
"selected" is the most recommended visa, usually the first candidate.`

// classifyCodesLine lists the canonical codes for the classifier prompt.
func classifyCodesLine(count int) string {
	return fmt.Sprintf("Valid codes (use exactly): %s.\nReturn exactly %d candidates ordered by relevance.",
		strings.Join(visa.Strings(visa.All), ", "), count)
}

const questionsPrompt = `You are a United States visa eligibility analyst. Write follow-up questions that fill gaps in the applicant's data.

Rules:
1. Only ask about visas listed in top_candidates. Never ask about any other visa.
2. Each question must be decisive for one of those visas and must not repeat anything already present in facts or known_flags.
3. Start every question with the visa code in square brackets, for example [EB2_NIW], [E2], [H1B] or [F1].
4. One question per item, no numbering.

What to probe, only for candidate visas and only when missing:
- EB2_NIW: national importance, positioning, evidence (letters, publications, awards), labor certification waiver.
- EB1A: extraordinary ability criteria (awards, memberships, critical role, authorship, high salary).
- EB1B/EB1C: outstanding researcher, or multinational manager with one year abroad.
- EB5: investment amount, lawful source of funds, TEA versus direct investment.
- E2/E1: treaty country, amount invested, risk and substantiality, substantial trade (E1).
- H1B: degree required by the role, match between education and role, employer offer.
- L1: parent/subsidiary relationship, one continuous year abroad, role and duties.
- O1: evidence of extraordinary ability (awards, media, judging, contributions).
- DV: chargeability country, qualifying education or experience.
- FAMILY/IR1/CR1/K1: relationship to the citizen or resident, civil documents, petitioner status.
- F1/M1: study plan, I-20, proof of funds.
- B1/B2: ties to return, itinerary, purpose of the trip.

Output: {"questions": ["...", "..."]}`

const decisionPrompt = `Using the extracted facts, the applicant's answers and the visa classification, write the final recommendation.

Output:
{
  "selected_visa": "CODE",
  "confidence": number,
  "rationale": string,
  "top_visas": [{"visa": "CODE", "confidence": number, "rationale": string}],
  "alternatives": [string],
  "action_plan": [{"step": string, "url": string}],
  "documents_checklist": [string],
  "risks_and_flags": [string],
  "suggested_timeline": string,
  "costs_note": string
}

Rules:
- selected_visa and top_visas must come from classification.candidates. top_visas holds the two best options.
- action_plan has 10 to 18 steps. Each step is a complete sentence saying what to do, in what order and what to expect. Cover eligibility, gathering documents, official forms, fees, scheduling the interview, preparing for it, the interview day and what happens after the decision.
- Add the official url to a step when one applies.
- documents_checklist has 8 to 15 items. Each item names the document, what it must show, validity when relevant and where to get it.`

const pathPrompt = `The applicant does not currently qualify for any visa: the best candidate's confidence is below the threshold.
Do not recommend a visa. Describe a realistic path that would let the applicant qualify for a more accessible visa in the future.

Output:
{
  "rationale": string,
  "path_to_qualify": {
    "summary": string,
    "steps": [{"step": string, "url": string}]
  }
}

Rules:
- rationale explains in one or two paragraphs why no visa fits now.
- summary is two to four sentences naming the most reachable route and what to prioritise.
- steps has 8 to 15 concrete, complete steps with typical timeframes (improving English, gaining experience, securing a job offer, saving investment capital, enrolling in an I-20 program, checking DV eligibility).
- Add an official url to a step when one applies.
- Be encouraging and practical.`

var officialLinks = []string{
	"DS-160 (nonimmigrant visa application): https://ceac.state.gov/genniv/",
	"Interview scheduling (USTravelDocs): https://www.ustraveldocs.com/",
	"USCIS forms: https://www.uscis.gov/forms",
	"CEAC (immigrant visas / NVC): https://ceac.state.gov/",
	"Diversity Visa: https://dvlottery.state.gov/",
	"Visa fee payment (MRV): https://www.ustraveldocs.com/",
}

func withLinks(prompt string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nOfficial links:\n")
	for _, l := range officialLinks {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

// languageRule tells the backend which language to write free text in.
func languageRule(lang model.Language) string {
	if lang == model.LanguageEN {
		return "Write every free-text value in English."
	}
	return "Write every free-text value in Brazilian Portuguese."
}
