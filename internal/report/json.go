package report

import (
	"bytes"
	"encoding/json"
	"io"
)

// JSONWriter renders a summary as one JSON document per Write, terminated
// by a newline.
type JSONWriter struct {
	baseWriter

	prefix string
	indent string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent formats the document over multiple lines, as json.Encoder's
// SetIndent does.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.prefix = prefix
		w.indent = indent
	}
}

// WithPrettyPrint indents with two spaces.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter returns a JSONWriter writing to output. Output is compact
// unless an indent option is given.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write encodes the summary itself.
func (w *JSONWriter) Write(summary *Summary) (int, error) {
	return w.encode(summary)
}

// encode buffers the whole document so a marshalling failure writes nothing.
func (w *JSONWriter) encode(v any) (int, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	if w.prefix != "" || w.indent != "" {
		enc.SetIndent(w.prefix, w.indent)
	}
	if err := enc.Encode(v); err != nil {
		return 0, err
	}

	return w.output.Write(buf.Bytes())
}

// JSONReport is the envelope written by FullJSONWriter.
type JSONReport struct {
	Version string   `json:"version"`
	Summary *Summary `json:"summary"`
}

// FullJSONWriter is a JSONWriter that records which torisolate version
// produced the report.
type FullJSONWriter struct {
	*JSONWriter

	version string
}

// NewFullJSONWriter returns a FullJSONWriter stamping reports with version.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{JSONWriter: NewJSONWriter(output, opts...), version: version}
}

// Write encodes the summary inside a JSONReport envelope.
func (w *FullJSONWriter) Write(summary *Summary) (int, error) {
	return w.encode(&JSONReport{Version: w.version, Summary: summary})
}
