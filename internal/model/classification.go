package model

import "github.com/sells-group/visa-pipeline/internal/visa"

// Candidate is one ranked visa option.
type Candidate struct {
	Code            visa.Code `json:"visa"`
	Confidence      float64   `json:"confidence"`
	Rationale       string    `json:"rationale"`
	SponsorRequired bool      `json:"sponsor_required,omitempty"`
	// RawConfidence holds the model-derived confidence when the presentation
	// floor replaced Confidence.
	RawConfidence *float64 `json:"raw_confidence,omitempty"`
}

// GenuineConfidence returns the evidence-based confidence, ignoring any
// presentation floor.
func (c Candidate) GenuineConfidence() float64 {
	if c.RawConfidence != nil {
		return *c.RawConfidence
	}
	return c.Confidence
}

// Classification is the output of the classification stage.
type Classification struct {
	Candidates   []Candidate `json:"candidates"`
	Selected     visa.Code   `json:"selected,omitempty"`
	FloorApplied bool        `json:"floor_applied,omitempty"`
	RuleVersion  string      `json:"rule_version,omitempty"`
}

// Has reports whether code is one of the candidates.
func (c *Classification) Has(code visa.Code) bool {
	return c.Find(code) != nil
}

// Find returns the candidate for code, or nil.
func (c *Classification) Find(code visa.Code) *Candidate {
	if c == nil {
		return nil
	}
	for i := range c.Candidates {
		if c.Candidates[i].Code == code {
			return &c.Candidates[i]
		}
	}
	return nil
}

// BestGenuineConfidence is the highest evidence-based confidence across
// candidates, 0 when there are none.
func (c *Classification) BestGenuineConfidence() float64 {
	if c == nil {
		return 0
	}
	best := 0.0
	for _, cand := range c.Candidates {
		if v := cand.GenuineConfidence(); v > best {
			best = v
		}
	}
	return best
}

// Codes returns the candidate codes in order.
func (c *Classification) Codes() []visa.Code {
	if c == nil {
		return nil
	}
	out := make([]visa.Code, len(c.Candidates))
	for i, cand := range c.Candidates {
		out[i] = cand.Code
	}
	return out
}
