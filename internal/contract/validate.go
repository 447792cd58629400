package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/rotisserie/eris"
)

// Violations lists every schema violation found in one document.
type Violations struct {
	Details []string
}

func (v *Violations) Error() string {
	return "contract: " + strings.Join(v.Details, "; ")
}

// Details extracts the violation list from err, or returns err's message.
func Details(err error) []string {
	if err == nil {
		return nil
	}
	var v *Violations
	if errors.As(err, &v) {
		return v.Details
	}
	return []string{err.Error()}
}

// Validate checks doc against schema and collects every violation.
func Validate(schema *openapi3.Schema, doc map[string]any) error {
	err := schema.VisitJSON(doc, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	details := flatten(err, nil)
	sort.Strings(details)
	return &Violations{Details: details}
}

func flatten(err error, out []string) []string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			out = flatten(e, out)
		}
		return out
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		path := "/" + strings.Join(se.JSONPointer(), "/")
		return append(out, fmt.Sprintf("%s: %s", path, se.Reason))
	}
	return append(out, err.Error())
}

// Decode converts a validated document into T.
func Decode[T any](doc map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(doc)
	if err != nil {
		return out, eris.Wrap(err, "contract: marshal document")
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, eris.Wrap(err, "contract: decode document")
	}
	return out, nil
}

// Encode converts v into a JSON document.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "contract: marshal value")
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "contract: unmarshal value")
	}
	return out, nil
}
