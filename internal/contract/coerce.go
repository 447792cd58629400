package contract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Coercion helpers for untrusted JSON values decoded into `any`. Each returns
// ok=false when the value cannot be interpreted, so callers can omit the
// field instead of inventing a default.

// String returns the trimmed string value of v when it is a non-empty string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

var (
	trueWords  = map[string]bool{"true": true, "yes": true, "sim": true, "y": true, "1": true, "s": true}
	falseWords = map[string]bool{"false": true, "no": true, "nao": true, "n": true, "0": true}
)

// Bool interprets JSON booleans and yes/no words in English and Portuguese.
func Bool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		w := Fold(strings.TrimSpace(t))
		if trueWords[w] {
			return true, true
		}
		if falseWords[w] {
			return false, true
		}
	case float64:
		if t == 1 {
			return true, true
		}
		if t == 0 {
			return false, true
		}
	}
	return false, false
}

// Number interprets JSON numbers and numeric strings; a comma is read as the
// decimal separator.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, finite(t)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(strings.Replace(t, ",", ".", 1))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// NonNegativeInt floors a numeric value and clamps it at zero.
func NonNegativeInt(v any) (int, bool) {
	f, ok := Number(v)
	if !ok {
		return 0, false
	}
	return int(math.Max(0, math.Floor(f))), true
}

var (
	plainYearsRe = regexp.MustCompile(`^(\d+)([.,]\d+)?$`)
	wordYearsRe  = regexp.MustCompile(`(\d+)\s*(anos?|years?|yrs?)\b`)
)

// Years reads work-experience style durations: numbers, "5", "5,5",
// "5 anos", "10 years". The result is floored and non-negative.
func Years(v any) (int, bool) {
	switch t := v.(type) {
	case float64, int, int64:
		return NonNegativeInt(t)
	case string:
		s := strings.TrimSpace(t)
		if m := plainYearsRe.FindStringSubmatch(s); m != nil {
			n, err := strconv.Atoi(m[1])
			return n, err == nil
		}
		if m := wordYearsRe.FindStringSubmatch(Fold(s)); m != nil {
			n, err := strconv.Atoi(m[1])
			return n, err == nil
		}
	}
	return 0, false
}

var percentRe = regexp.MustCompile(`^(\d{1,3}(?:\.\d+)?)\s*%$`)

// Confidence maps any confidence representation into [0,1]: floats on the
// 0–1 scale pass through, values above 1 are read as 0–100, "NN%" strings
// are percentages. Anything unreadable is 0.
func Confidence(v any) float64 {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if m := percentRe.FindStringSubmatch(s); m != nil {
			f, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return 0
			}
			return Clamp01(f / 100)
		}
	}
	f, ok := Number(v)
	if !ok {
		return 0
	}
	if f > 1 {
		f /= 100
	}
	return Clamp01(f)
}

// Clamp01 clamps f into [0,1]; NaN becomes 0.
func Clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

// StringArray keeps the non-empty trimmed strings of a JSON array.
func StringArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(arr))
	for _, x := range arr {
		if s, ok := String(x); ok {
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}

// StripEmpty removes nulls, blank strings, empty arrays and empty objects
// recursively. It returns nil when v itself is empty.
func StripEmpty(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return t
	case []any:
		out := make([]any, 0, len(t))
		for _, x := range t {
			if c := StripEmpty(x); c != nil {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			if c := StripEmpty(x); c != nil {
				out[k] = c
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return v
}

// Object returns v as a JSON object, or nil.
func Object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
