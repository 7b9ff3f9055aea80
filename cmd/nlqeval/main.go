package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/evaluation"
	"github.com/funnel-agent/backend/internal/timerange"
	"github.com/funnel-agent/backend/pkg/config"
	appLogger "github.com/funnel-agent/backend/pkg/logger"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitThreshold = 2
)

type options struct {
	datasetPath string
	minExact    float64
	asJSON      bool
}

func main() {
	var opts options
	pflag.StringVarP(&opts.datasetPath, "dataset", "d", "testdata/nlq_eval.json", "labelled question set")
	pflag.Float64Var(&opts.minExact, "min-exact", 0, "exit non-zero when exact matches fall below this percentage")
	pflag.BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(exitFailure)
	}
	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(exitFailure)
	}

	code := run(opts, timerange.Config{
		Timezone:  cfg.TimeRange.Timezone,
		Fiscal:    timerange.FiscalConfig{FiscalYearStartMonth: cfg.TimeRange.FiscalYearStartMonth},
		WeekStart: timerange.WeekStart(cfg.TimeRange.WeekStart),
	}, os.Stdout)

	// os.Exit skips deferred calls.
	appLogger.Sync()
	os.Exit(code)
}

func run(opts options, trCfg timerange.Config, out io.Writer) int {
	data, err := os.ReadFile(opts.datasetPath)
	if err != nil {
		appLogger.Error("Failed to read dataset", zap.String("path", opts.datasetPath), zap.Error(err))
		return exitFailure
	}
	dataset, err := evaluation.LoadDatasetFromJSON(data)
	if err != nil {
		appLogger.Error("Failed to load dataset", zap.Error(err))
		return exitFailure
	}

	report, err := evaluation.NewEvaluator(trCfg).RunDatasetEvaluation(dataset)
	if err != nil {
		appLogger.Error("Evaluation failed", zap.Error(err))
		return exitFailure
	}

	if opts.asJSON {
		encoded, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(out, string(encoded))
	} else {
		fmt.Fprint(out, evaluation.GenerateReport(report))
	}

	if report.ExactPercentage < opts.minExact {
		fmt.Fprintf(out, "exact matches %.1f%% below threshold %.1f%%\n", report.ExactPercentage, opts.minExact)
		return exitThreshold
	}
	return exitOK
}
