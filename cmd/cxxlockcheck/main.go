// Command cxxlockcheck reports self deadlocks in C and C++ sources.
package main

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/akerouanton/lockcheck/pkg/cxx"
	"github.com/akerouanton/lockcheck/pkg/optable"
	"github.com/akerouanton/lockcheck/pkg/report"
)

var log = logrus.WithField("prefix", "main")

const (
	exitFindings = 1
	exitError    = 2
)

var (
	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Report format. Supports: text, json.",
		Value: "text",
	}
	tableFlag = &cli.StringFlag{
		Name:  "table",
		Usage: "YAML file of lock operations merged onto the built-in table",
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Report where held locks were acquired",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json.",
		Value: "text",
	}
	jobsFlag = &cli.IntFlag{
		Name:  "jobs",
		Usage: "Number of files parsed and lowered concurrently",
		Value: runtime.NumCPU(),
	}
)

var appFlags = []cli.Flag{
	formatFlag,
	tableFlag,
	verboseFlag,
	verbosityFlag,
	logFormatFlag,
	jobsFlag,
}

var sourceExts = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".cxx": true,
	".h": true, ".hh": true, ".hpp": true, ".hxx": true,
}

// newApp builds the command. Reports go to out; status receives the exit
// code of a successful run.
func newApp(out io.Writer, status *int) *cli.App {
	app := cli.NewApp()
	app.Name = "cxxlockcheck"
	app.Usage = "reports self deadlocks in C and C++ sources"
	app.ArgsUsage = "<file or directory>..."
	app.HideVersion = true
	app.Writer = out
	app.Flags = appFlags
	app.Before = configureLogging
	app.Action = func(cliCtx *cli.Context) error {
		n, err := check(cliCtx, out)
		if err != nil {
			return err
		}
		if n > 0 {
			*status = exitFindings
		}
		return nil
	}
	return app
}

func configureLogging(cliCtx *cli.Context) error {
	level, err := logrus.ParseLevel(cliCtx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch format := cliCtx.String(logFormatFlag.Name); format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %s", format)
	}
	return nil
}

// check runs the analysis and writes the report. It returns the number of
// findings.
func check(cliCtx *cli.Context, out io.Writer) (int, error) {
	table := optable.Default()
	if path := cliCtx.String(tableFlag.Name); path != "" {
		var err error
		if table, err = optable.Load(path); err != nil {
			return 0, err
		}
	}

	writer, err := report.New(cliCtx.String(formatFlag.Name), out, cliCtx.Bool(verboseFlag.Name))
	if err != nil {
		return 0, err
	}

	paths, err := collectSources(cliCtx.Args().Slice())
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, errors.New("no C or C++ source files given")
	}
	log.WithField("files", len(paths)).Debug("Checking sources")

	findings, err := cxx.CheckFiles(cliCtx.Context, paths, table, cliCtx.Int(jobsFlag.Name))
	if err != nil {
		return 0, err
	}

	result := &report.Result{FilesScanned: len(paths)}
	for _, f := range findings {
		result.Entries = append(result.Entries, f.Entry())
	}
	if err := writer.Write(result); err != nil {
		return 0, errors.Wrap(err, "could not write report")
	}
	return len(findings), nil
}

// collectSources expands directories into the C and C++ files they contain.
func collectSources(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "could not stat %s", arg)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() && path != arg && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			if !info.IsDir() && sourceExts[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "could not walk %s", arg)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func main() {
	status := 0
	app := newApp(os.Stdout, &status)
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("Check failed")
		os.Exit(exitError)
	}
	os.Exit(status)
}
