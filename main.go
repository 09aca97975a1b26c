package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"falseneg/adapters/mcmc"
	"falseneg/adapters/postgres"
	"falseneg/adapters/report"
	"falseneg/adapters/tabular"
	"falseneg/app"
	"falseneg/domain/dataset"
	"falseneg/domain/scenario"
	"falseneg/internal"
	"falseneg/internal/config"
	"falseneg/internal/errors"
	"falseneg/ports"
)

// fatal logs a pipeline-stopping error, tagged with its code when it is a
// structured application error, and exits.
func fatal(log *internal.Logger, msg string, err error) {
	if errors.IsAppError(err) {
		log.Error("%s [%s]: %v", msg, errors.GetCode(err), err)
	} else {
		log.Error("%s: %v", msg, err)
	}
	os.Exit(1)
}

// falseneg runs the full analysis pipeline end to end: load the
// diagnostic-sensitivity dataset, sample the posterior for every
// sensitivity-analysis scenario, and emit the report artifacts.
func main() {
	// .env is optional; the environment wins where both are set.
	_ = godotenv.Load()

	logger := internal.NewDefaultLogger()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fatal(logger, "invalid configuration", err)
	}

	data, err := tabular.NewDataReader(cfg.Data.TestFile).Read(cfg.Data.Horizon)
	if err != nil {
		fatal(logger, "loading dataset", err)
	}
	logger.Info("loaded %d records from %d studies", data.Len(), data.NumStudies())

	attack := dataset.AttackObservation{
		Exposed:  cfg.Data.AttackExposed,
		Positive: cfg.Data.AttackPositive,
	}

	var archive ports.RunArchive
	if cfg.Archive.DatabaseURL != "" {
		archive, err = postgres.NewRunRepository(cfg.Archive.DatabaseURL)
		if err != nil {
			fatal(logger, "connecting run archive", err)
		}
		defer archive.Close()
	}

	runner := app.NewScenarioRunner(
		data, attack,
		mcmc.NewNUTSSampler(logger),
		archive,
		cfg.Sampler,
		cfg.Runtime.MaxParallelScenarios,
		logger,
	)

	scenarios := scenario.DefaultSet(cfg.Data.Horizon)
	batch, err := runner.RunAll(context.Background(), scenarios)
	if err != nil {
		fatal(logger, "batch failed", err)
	}
	for label, ferr := range batch.Failures {
		logger.Error("scenario %q failed: %v", label, ferr)
	}
	logger.Info("%d/%d scenarios completed in %s", len(batch.Results), len(scenarios), batch.Elapsed)
	if len(batch.Results) == 0 {
		os.Exit(1)
	}

	if err := report.NewMarkdownWriter(cfg.Output.Dir).Write(batch.Results, batch.Failures); err != nil {
		fatal(logger, "writing markdown report", err)
	}
	if err := report.NewExcelWriter(cfg.Output.Dir).Write(batch.Results); err != nil {
		fatal(logger, "writing workbook", err)
	}
	for _, r := range batch.Results {
		runner.MarkReported(r.Label)
	}
	logger.Info("report artifacts written to %s", cfg.Output.Dir)
}
