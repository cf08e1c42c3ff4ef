// Package report renders lock-discipline findings for humans and tools.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"github.com/pkg/errors"
)

// Entry is one finding with resolved source positions.
type Entry struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Kind     string `json:"kind"`
	Lock     string `json:"lock"`
	Function string `json:"function"`
	Callee   string `json:"callee,omitempty"`
	Message  string `json:"message"`

	// FirstLine is the line of the acquisition still in effect, CallLine the
	// line of the acquisition inside the callee for findings through a call.
	FirstLine int `json:"firstLine,omitempty"`
	CallLine  int `json:"calleeLine,omitempty"`
}

// Result is the outcome of a run over a set of files.
type Result struct {
	Entries      []Entry
	FilesScanned int
}

// Writer renders a Result.
type Writer interface {
	Write(result *Result) error
}

// Message formats the diagnostic text of a finding on lock, reached through
// a call to callee when callee is not empty.
func Message(kind lockstate.Kind, lock, callee string) string {
	switch {
	case kind == lockstate.DoubleLock && callee != "":
		return fmt.Sprintf("double lock: %s is already read-locked when calling %s() which read-locks %s", lock, callee, lock)
	case kind == lockstate.DoubleLock:
		return fmt.Sprintf("double lock: %s is already read-locked", lock)
	case callee != "":
		return fmt.Sprintf("possible self deadlock: %s is already held when calling %s() which locks %s", lock, callee, lock)
	default:
		return fmt.Sprintf("possible self deadlock: %s is already held", lock)
	}
}

// Sort orders entries by file, then position, then lock.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Lock < b.Lock
	})
}

// New returns a writer for format, "text" or "json".
func New(format string, w io.Writer, verbose bool) (Writer, error) {
	switch format {
	case "text", "":
		var opts []TextOption
		if verbose {
			opts = append(opts, WithVerbose())
		}
		return NewTextWriter(w, opts...), nil
	case "json":
		var opts []JSONOption
		if verbose {
			opts = append(opts, WithPrettyJSON())
		}
		return NewJSONWriter(w, opts...), nil
	}
	return nil, errors.Errorf("unknown report format %q", format)
}
