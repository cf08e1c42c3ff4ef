package analyzer_test

import (
	"path/filepath"
	"testing"

	"github.com/akerouanton/lockcheck/pkg/analyzer"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/analysistest"
)

// singlePkgAnalyzer wraps the real analyzer without FactTypes. This prevents
// fact export in single-package tests, avoiding the need for fact expectations
// in every test file. Cross-package tests use the real Analyzer which has FactTypes.
var singlePkgAnalyzer = &analysis.Analyzer{
	Name:     analyzer.Analyzer.Name,
	Doc:      analyzer.Analyzer.Doc,
	Run:      analyzer.Analyzer.Run,
	Requires: analyzer.Analyzer.Requires,
}

// setFlag sets an analyzer flag for the duration of the test.
func setFlag(t *testing.T, name, value string) {
	t.Helper()
	prev := analyzer.Analyzer.Flags.Lookup(name).Value.String()
	if err := analyzer.Analyzer.Flags.Set(name, value); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = analyzer.Analyzer.Flags.Set(name, prev)
	})
}

func TestDoubleLock(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "double_lock")
}

func TestDeferPatterns(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "defer_patterns")
}

func TestBranchPatterns(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "branch_patterns")
}

func TestTryLock(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "try_lock")
}

func TestInterprocedural(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "interprocedural")
}

func TestClosures(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "closures")
}

func TestEscape(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "escape")
}

func TestAnnotations(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "annotations")
}

func TestVerbose(t *testing.T) {
	setFlag(t, "verbose", "true")
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, singlePkgAnalyzer, "verbose")
}

func TestCustomTable(t *testing.T) {
	testdata := analysistest.TestData()
	setFlag(t, "table", filepath.Join(testdata, "custom_table.yaml"))
	analysistest.Run(t, testdata, singlePkgAnalyzer, "custom_table")
}

func TestCrossPackage(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, analyzer.Analyzer, "crosspackage/pkga", "crosspackage/pkgb")
}
