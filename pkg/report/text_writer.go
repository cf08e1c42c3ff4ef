package report

import (
	"fmt"
	"io"
)

// TextWriter writes one line per finding in the file:line:col format of
// compilers and go vet.
type TextWriter struct {
	writer  io.Writer
	verbose bool
}

// TextOption configures a TextWriter.
type TextOption func(*TextWriter)

// WithVerbose adds where the held lock was acquired.
func WithVerbose() TextOption {
	return func(w *TextWriter) {
		w.verbose = true
	}
}

func NewTextWriter(writer io.Writer, options ...TextOption) *TextWriter {
	w := &TextWriter{writer: writer}
	for _, opt := range options {
		opt(w)
	}
	return w
}

func (w *TextWriter) Write(result *Result) error {
	entries := append([]Entry(nil), result.Entries...)
	Sort(entries)
	for _, e := range entries {
		if _, err := fmt.Fprintf(w.writer, "%s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message); err != nil {
			return err
		}
		if !w.verbose {
			continue
		}
		if e.FirstLine > 0 {
			fmt.Fprintf(w.writer, "\t%s first acquired at line %d in %s\n", e.Lock, e.FirstLine, e.Function)
		}
		if e.Callee != "" && e.CallLine > 0 {
			fmt.Fprintf(w.writer, "\t%s acquires it again at line %d\n", e.Callee, e.CallLine)
		}
	}
	if w.verbose {
		fmt.Fprintf(w.writer, "%d finding(s) in %d file(s)\n", len(entries), result.FilesScanned)
	}
	return nil
}
