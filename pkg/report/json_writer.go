package report

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReport is the document written by JSONWriter.
type JSONReport struct {
	Tool     string  `json:"tool"`
	Summary  Summary `json:"summary"`
	Findings []Entry `json:"findings"`
}

// Summary counts findings.
type Summary struct {
	Total        int            `json:"total"`
	ByKind       map[string]int `json:"byKind"`
	FilesScanned int            `json:"filesScanned"`
}

// JSONWriter writes a Result as a single JSON document.
type JSONWriter struct {
	writer io.Writer
	pretty bool
}

// JSONOption configures a JSONWriter.
type JSONOption func(*JSONWriter)

// WithPrettyJSON indents the output.
func WithPrettyJSON() JSONOption {
	return func(w *JSONWriter) {
		w.pretty = true
	}
}

func NewJSONWriter(writer io.Writer, options ...JSONOption) *JSONWriter {
	w := &JSONWriter{writer: writer}
	for _, opt := range options {
		opt(w)
	}
	return w
}

func (w *JSONWriter) Write(result *Result) error {
	doc := &JSONReport{
		Tool: "lockcheck",
		Summary: Summary{
			Total:        len(result.Entries),
			ByKind:       make(map[string]int),
			FilesScanned: result.FilesScanned,
		},
		Findings: make([]Entry, 0, len(result.Entries)),
	}
	for _, e := range result.Entries {
		doc.Summary.ByKind[e.Kind]++
		doc.Findings = append(doc.Findings, e)
	}
	Sort(doc.Findings)

	var data []byte
	var err error
	if w.pretty {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return errors.Wrap(err, "could not marshal JSON report")
	}
	data = append(data, '\n')
	_, err = w.writer.Write(data)
	return err
}
