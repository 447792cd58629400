// Package visa owns the canonical visa-code enumeration and the ordered rule
// table that resolves free-form labels into it.
package visa

import "strings"

// Code is a canonical visa category.
type Code string

// Nonimmigrant codes.
const (
	CodeB1  Code = "B1"
	CodeB2  Code = "B2"
	CodeF1  Code = "F1"
	CodeM1  Code = "M1"
	CodeJ1  Code = "J1"
	CodeH1B Code = "H1B"
	CodeH2A Code = "H2A"
	CodeH2B Code = "H2B"
	CodeH3  Code = "H3"
	CodeL1  Code = "L1"
	CodeO1  Code = "O1"
	CodeO2  Code = "O2"
	CodeP1  Code = "P1"
	CodeP2  Code = "P2"
	CodeP3  Code = "P3"
	CodeP4  Code = "P4"
	CodeTN  Code = "TN"
	CodeE3  Code = "E3"
	CodeE1  Code = "E1"
	CodeE2  Code = "E2"
	CodeI   Code = "I"
	CodeR1  Code = "R1"
	CodeQ1  Code = "Q1"
	CodeU   Code = "U"
	CodeT   Code = "T"
	CodeK1  Code = "K1"
	CodeK3  Code = "K3"
	CodeV   Code = "V"
)

// Immigrant codes.
const (
	CodeIR1      Code = "IR1"
	CodeCR1      Code = "CR1"
	CodeF1Family Code = "F1_FAMILY"
	CodeF2Family Code = "F2_FAMILY"
	CodeF3Family Code = "F3_FAMILY"
	CodeF4Family Code = "F4_FAMILY"
	CodeFamily   Code = "FAMILY"
	CodeEB1A     Code = "EB1A"
	CodeEB1B     Code = "EB1B"
	CodeEB1C     Code = "EB1C"
	CodeEB2NIW   Code = "EB2_NIW"
	CodeEB2PERM  Code = "EB2_PERM"
	CodeEB3      Code = "EB3"
	CodeEB4      Code = "EB4"
	CodeEB5      Code = "EB5"
	CodeDV       Code = "DV"
)

// All lists every canonical code in enumeration order.
var All = []Code{
	CodeB1, CodeB2,
	CodeF1, CodeM1, CodeJ1,
	CodeH1B, CodeH2A, CodeH2B, CodeH3,
	CodeL1, CodeO1, CodeO2, CodeP1, CodeP2, CodeP3, CodeP4, CodeTN, CodeE3, CodeE1, CodeE2, CodeI, CodeR1, CodeQ1,
	CodeU, CodeT,
	CodeK1, CodeK3, CodeV,
	CodeIR1, CodeCR1, CodeF1Family, CodeF2Family, CodeF3Family, CodeF4Family, CodeFamily,
	CodeEB1A, CodeEB1B, CodeEB1C, CodeEB2NIW, CodeEB2PERM, CodeEB3, CodeEB4, CodeEB5,
	CodeDV,
}

var known = func() map[Code]bool {
	m := make(map[Code]bool, len(All))
	for _, c := range All {
		m[c] = true
	}
	return m
}()

// Known reports whether c is a canonical code.
func Known(c Code) bool { return known[c] }

// sponsorRequired are codes that need an employer, petitioner or agent.
var sponsorRequired = map[Code]bool{
	CodeH1B: true, CodeH2A: true, CodeH2B: true, CodeH3: true,
	CodeO1: true, CodeO2: true,
	CodeP1: true, CodeP2: true, CodeP3: true, CodeP4: true,
	CodeR1: true, CodeQ1: true, CodeTN: true, CodeE3: true, CodeL1: true, CodeJ1: true,
	CodeEB1B: true, CodeEB1C: true, CodeEB2PERM: true, CodeEB3: true,
	CodeFamily: true, CodeIR1: true, CodeCR1: true, CodeK1: true, CodeK3: true, CodeV: true,
	CodeF1Family: true, CodeF2Family: true, CodeF3Family: true, CodeF4Family: true,
}

// SponsorRequired reports whether c needs an external sponsor or petitioner.
func SponsorRequired(c Code) bool { return sponsorRequired[c] }

var purposeHints = map[string][]Code{
	"study":       {CodeF1, CodeM1, CodeJ1, CodeB2, CodeF1Family},
	"work":        {CodeEB2NIW, CodeO1, CodeH1B, CodeL1, CodeEB1A, CodeEB2PERM, CodeEB3, CodeE2, CodeTN, CodeE3, CodeB1},
	"business":    {CodeE1, CodeE2, CodeB1, CodeL1, CodeEB5, CodeO1, CodeH1B},
	"tourism":     {CodeB2, CodeB1, CodeF1Family},
	"immigration": {CodeEB2NIW, CodeEB5, CodeEB1A, CodeDV, CodeFamily, CodeIR1, CodeCR1, CodeEB2PERM, CodeEB3, CodeE2},
}

// RelevantFor returns the codes most plausible for a travel purpose. The list
// only steers prompts; it never limits classification.
func RelevantFor(purpose string) []Code {
	hints := purposeHints[strings.ToLower(strings.TrimSpace(purpose))]
	out := make([]Code, len(hints))
	copy(out, hints)
	return out
}

// Strings converts codes to plain strings.
func Strings(codes []Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}
