package format

import (
	"encoding/json"
	"io"
)

// Formatter renders CLI payloads to a writer.
type Formatter interface {
	Write(w io.Writer, payload any) error
}

// JSONFormatter writes JSON, one document per call. A non-empty Indent
// switches from compact to pretty output.
type JSONFormatter struct {
	Indent string
}

func (f JSONFormatter) Write(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	if f.Indent != "" {
		enc.SetIndent("", f.Indent)
	}
	return enc.Encode(payload)
}
