package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// writeOutput prints v as indented JSON or as YAML. YAML goes through the
// JSON form so field names match the API.
func writeOutput(w io.Writer, v any, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "encode json")
		}
		var tree any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return eris.Wrap(err, "decode json as yaml")
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unsupported output format %q (json or yaml)", format)
	}
}
