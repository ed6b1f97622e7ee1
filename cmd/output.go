package cmd

import (
	"encoding/json"
	"fmt"
	"io"
)

// printJSON writes v as one JSON document, indented when pretty is set.
func printJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "    ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
