package model

// Purpose is the applicant's declared travel intent.
type Purpose string

const (
	PurposeStudy       Purpose = "study"
	PurposeWork        Purpose = "work"
	PurposeBusiness    Purpose = "business"
	PurposeTourism     Purpose = "tourism"
	PurposeImmigration Purpose = "immigration"
)

// Purposes lists every valid purpose.
var Purposes = []Purpose{PurposeStudy, PurposeWork, PurposeBusiness, PurposeTourism, PurposeImmigration}

// Priority ranks purposes for keyword-hint overrides. Higher wins.
func (p Purpose) Priority() int {
	switch p {
	case PurposeImmigration:
		return 5
	case PurposeStudy:
		return 4
	case PurposeWork:
		return 3
	case PurposeBusiness:
		return 2
	case PurposeTourism:
		return 1
	}
	return 0
}

// Facts is the structured output of the extraction stage.
type Facts struct {
	Personal            *Personal `json:"personal,omitempty"`
	Purpose             Purpose   `json:"purpose"`
	PurposeSource       string    `json:"purpose_source,omitempty"`
	Education           string    `json:"education,omitempty"`
	WorkExperienceYears *int      `json:"work_experience_years,omitempty"`
	HasUSSponsor        *bool     `json:"has_us_sponsor,omitempty"`
	Signals             *Signals  `json:"signals,omitempty"`
}

// Personal holds identifying details.
type Personal struct {
	FullName    string `json:"full_name,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// Signals holds optional eligibility evidence.
type Signals struct {
	FieldOfExpertise             string                 `json:"field_of_expertise,omitempty"`
	HasJobOffer                  *bool                  `json:"has_job_offer,omitempty"`
	JobOfferDetails              *JobOfferDetails       `json:"job_offer_details,omitempty"`
	ExtraordinaryEvidence        *ExtraordinaryEvidence `json:"extraordinary_evidence,omitempty"`
	NIWProngs                    *NIWProngs             `json:"niw_prongs,omitempty"`
	PermReadiness                *PermReadiness         `json:"perm_readiness,omitempty"`
	ChargeabilityCountry         string                 `json:"chargeability_country,omitempty"`
	TreatyEligible               *TreatyEligible        `json:"treaty_eligible,omitempty"`
	InvestmentCapacityUSD        *float64               `json:"investment_capacity_usd,omitempty"`
	MultinationalExperienceYears *int                   `json:"multinational_experience_years,omitempty"`
	PortfolioLinks               []string               `json:"portfolio_links,omitempty"`
	EnglishLevel                 string                 `json:"english_level,omitempty"`
	TravelHistory                []string               `json:"travel_history,omitempty"`
	ImmigrationHistory           *ImmigrationHistory    `json:"immigration_history,omitempty"`
	FamilyTiesUS                 *FamilyTiesUS          `json:"family_ties_us,omitempty"`
	Entrepreneurship             *Entrepreneurship      `json:"entrepreneurship,omitempty"`
}

type JobOfferDetails struct {
	Position        string   `json:"position,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	SalaryUSDYear   *float64 `json:"salary_usd_year,omitempty"`
	EmployerSize    string   `json:"employer_size,omitempty"`
	IsMultinational *bool    `json:"is_multinational,omitempty"`
}

type ExtraordinaryEvidence struct {
	Awards                []string `json:"awards,omitempty"`
	MediaMentions         *int     `json:"media_mentions,omitempty"`
	ConferenceSpeaking    *bool    `json:"conference_speaking,omitempty"`
	PeerReviewJury        *bool    `json:"peer_review_jury,omitempty"`
	OriginalContributions string   `json:"original_contributions,omitempty"`
}

type NIWProngs struct {
	NationalImportance        string `json:"national_importance,omitempty"`
	WellPositioned            string `json:"well_positioned,omitempty"`
	BenefitOutweighsLaborCert string `json:"benefit_outweighs_labor_cert,omitempty"`
}

type PermReadiness struct {
	Occupation          string `json:"occupation,omitempty"`
	DegreeRequirement   string `json:"degree_requirement,omitempty"`
	PrevailingWageLevel string `json:"prevailing_wage_level,omitempty"`
}

type TreatyEligible struct {
	E1 *bool `json:"e1,omitempty"`
	E2 *bool `json:"e2,omitempty"`
}

type ImmigrationHistory struct {
	OverstayOrViolations *bool    `json:"overstay_or_violations,omitempty"`
	PriorUSVisas         []string `json:"prior_us_visas,omitempty"`
}

type FamilyTiesUS struct {
	ImmediateRelativeUSCitizen *bool `json:"immediate_relative_us_citizen,omitempty"`
}

type Entrepreneurship struct {
	OwnsBusiness    *bool  `json:"owns_business,omitempty"`
	BusinessDetails string `json:"business_details,omitempty"`
}

// BoolValue dereferences b, treating nil as false.
func BoolValue(b *bool) bool { return b != nil && *b }
