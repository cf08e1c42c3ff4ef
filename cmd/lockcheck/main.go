// Command lockcheck reports self deadlocks and double read locks in Go
// packages.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/akerouanton/lockcheck/pkg/analyzer"
)

func main() {
	singlechecker.Main(analyzer.Analyzer)
}
