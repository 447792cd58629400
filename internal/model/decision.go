package model

import "github.com/sells-group/visa-pipeline/internal/visa"

// Step is one action-plan or path-to-qualify item.
type Step struct {
	Text string `json:"step"`
	URL  string `json:"url,omitempty"`
}

// TopVisa is a short-listed visa in a qualifying decision.
type TopVisa struct {
	Code       visa.Code `json:"visa"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
}

// PathToQualify describes how a non-qualifying applicant can become eligible.
type PathToQualify struct {
	Summary string `json:"summary"`
	Steps   []Step `json:"steps"`
}

// Decision is the finalizer output. QualifiesForVisa selects the variant:
// qualifying decisions carry SelectedVisa, TopVisas, ActionPlan and
// DocumentsChecklist; non-qualifying ones carry PathToQualify only.
type Decision struct {
	QualifiesForVisa   bool           `json:"qualifies_for_visa"`
	SelectedVisa       visa.Code      `json:"selected_visa,omitempty"`
	Confidence         float64        `json:"confidence"`
	Rationale          string         `json:"rationale,omitempty"`
	TopVisas           []TopVisa      `json:"top_visas,omitempty"`
	Alternatives       []string       `json:"alternatives,omitempty"`
	ActionPlan         []Step         `json:"action_plan"`
	DocumentsChecklist []string       `json:"documents_checklist"`
	RisksAndFlags      []string       `json:"risks_and_flags,omitempty"`
	SuggestedTimeline  string         `json:"suggested_timeline,omitempty"`
	CostsNote          string         `json:"costs_note,omitempty"`
	PathToQualify      *PathToQualify `json:"path_to_qualify,omitempty"`
	Reconstructed      bool           `json:"reconstructed,omitempty"`
}

// QuestionSource records where a follow-up question came from.
type QuestionSource string

const (
	QuestionFromModel    QuestionSource = "model"
	QuestionFromFallback QuestionSource = "fallback"
	QuestionFromDepth    QuestionSource = "depth"
)

// Question is a generated follow-up question with its provenance.
type Question struct {
	Text   string         `json:"text"`
	Source QuestionSource `json:"source"`
}

// QuestionTexts splits qs into parallel text and source slices.
func QuestionTexts(qs []Question) ([]string, []QuestionSource) {
	texts := make([]string, len(qs))
	sources := make([]QuestionSource, len(qs))
	for i, q := range qs {
		texts[i] = q.Text
		sources[i] = q.Source
	}
	return texts, sources
}
