package drugdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
	"github.com/nextscript/emr-tools/metrics"
	"github.com/nextscript/emr-tools/validation"
)

// ErrEssentialDataset is returned when the drug product dataset cannot be
// fetched. Nothing useful can be compiled without it.
var ErrEssentialDataset = errors.New("essential dataset unavailable")

// Compile-time check to ensure Pipeline implements Compiler
var _ interfaces.Compiler = (*Pipeline)(nil)

// DatasetFetcher downloads one dataset of the drug product API
type DatasetFetcher interface {
	Fetch(ctx context.Context, name, path string) ([]entities.RawRecord, error)
}

// Result describes a finished compile run
type Result struct {
	RunID          string
	Entries        []entities.CompiledEntry
	Stats          CompileStats
	Report         *interfaces.DataQualityReport
	FailedDatasets []string
	Outputs        []string
	Duration       time.Duration
}

// Pipeline runs fetch, index, classify, compile and write
type Pipeline struct {
	fetcher        DatasetFetcher
	validator      interfaces.DataValidator
	restrictedFile string
	classifierOpts ClassifierOptions
	outputPath     string
	compressedPath string
	compress       bool
}

// NewPipeline builds a pipeline from configuration
func NewPipeline(cfg *config.Config) *Pipeline {
	return NewPipelineWithFetcher(cfg, NewFetcher(FetcherConfig{
		BaseURL:   cfg.DrugAPIBaseURL,
		Timeout:   cfg.DrugAPITimeout,
		Delay:     cfg.DrugAPIDelay,
		UserAgent: cfg.DrugAPIUserAgent,
	}))
}

// NewPipelineWithFetcher builds a pipeline that downloads through fetcher
func NewPipelineWithFetcher(cfg *config.Config, fetcher DatasetFetcher) *Pipeline {
	return &Pipeline{
		fetcher:        fetcher,
		validator:      validation.NewDataValidator(),
		restrictedFile: cfg.RestrictedFile,
		classifierOpts: ClassifierOptions{
			MatchContains: cfg.RestrictionMatch == config.MatchContains,
			Strict:        cfg.RestrictionStrict,
			ExtraDenylist: cfg.ExtraDenylist,
		},
		outputPath:     cfg.OutputPath(),
		compressedPath: cfg.CompressedOutputPath(),
		compress:       cfg.CompressOutput,
	}
}

// Compile runs the pipeline and returns the compiled entries
func (p *Pipeline) Compile(ctx context.Context) ([]entities.CompiledEntry, error) {
	result, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// Run executes one compile run. A failed drug product fetch or a failed
// write aborts the run. Other datasets degrade to empty on failure.
func (p *Pipeline) Run(ctx context.Context) (result *Result, err error) {
	start := time.Now()
	result = &Result{RunID: uuid.NewString()}
	log := logging.DefaultLogger().With("run_id", result.RunID)

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.CompileRunsTotal.WithLabelValues(outcome).Inc()
		metrics.CompileDuration.Observe(time.Since(start).Seconds())
	}()

	log.Info("Starting drug data compile")

	var data Datasets
	targets := map[string]*[]entities.RawRecord{
		DatasetSchedule:         &data.Schedules,
		DatasetDrugProduct:      &data.Products,
		DatasetActiveIngredient: &data.Ingredients,
		DatasetForm:             &data.Forms,
	}

	for _, ep := range Endpoints {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		records, fetchErr := p.fetcher.Fetch(ctx, ep.Name, ep.Path)
		if fetchErr != nil {
			kind := KindNetwork
			var fe *FetchError
			if errors.As(fetchErr, &fe) {
				kind = fe.Kind
			}
			metrics.FetchErrorsTotal.WithLabelValues(ep.Name, kind).Inc()

			if ep.Name == DatasetDrugProduct {
				log.Error("Failed to fetch essential dataset, aborting", "dataset", ep.Name, "kind", kind, "error", fetchErr)
				return result, fmt.Errorf("%w: %w", ErrEssentialDataset, fetchErr)
			}
			log.Warn("Failed to fetch dataset, continuing without it", "dataset", ep.Name, "kind", kind, "error", fetchErr)
			result.FailedDatasets = append(result.FailedDatasets, ep.Name)
			records = []entities.RawRecord{}
		}

		*targets[ep.Name] = records
		metrics.DatasetRecords.WithLabelValues(ep.Name).Set(float64(len(records)))
	}

	if len(result.FailedDatasets) > 0 {
		log.Warn("One or more datasets failed, output may be incomplete", "failed", result.FailedDatasets)
	}

	aliases, aliasErr := LoadRestrictedAliases(p.restrictedFile)
	if aliasErr != nil {
		log.Error("Restricted drug list unusable, name based checks limited", "error", aliasErr)
	}

	entries, stats := Compile(data, NewClassifier(aliases, p.classifierOpts))
	result.Entries = entries
	result.Stats = stats

	log.Info("Compiled drug data",
		"products", stats.Products,
		"entries", stats.Entries,
		"restricted", stats.Restricted,
		"skipped_no_ingredients", stats.SkippedNoIngredients,
		"skipped_no_forms", stats.SkippedNoForms,
		"duplicates", stats.Duplicates,
		"multi_form", stats.MultiForm,
		"skipped_ingredient_records", stats.SkippedIngredients,
		"skipped_form_records", stats.SkippedForms,
		"skipped_schedule_records", stats.SkippedSchedules,
		"skipped_product_records", stats.SkippedProducts+stats.DuplicateProducts,
	)

	result.Report = p.validator.ReportDataQuality(entries)
	if result.Report.RestrictedWithoutReason > 0 || len(result.Report.DuplicateDrugCodes) > 0 {
		log.Warn("Data quality issues in compiled dataset",
			"duplicate_drug_codes", len(result.Report.DuplicateDrugCodes),
			"restricted_without_reason", result.Report.RestrictedWithoutReason,
		)
	}

	if err := WriteJSON(p.outputPath, entries); err != nil {
		log.Error("Failed to write compiled data", "path", p.outputPath, "error", err)
		return result, err
	}
	result.Outputs = append(result.Outputs, p.outputPath)

	if p.compress {
		if err := WriteGzipJSON(p.compressedPath, entries); err != nil {
			log.Error("Failed to write compressed compiled data", "path", p.compressedPath, "error", err)
			return result, err
		}
		result.Outputs = append(result.Outputs, p.compressedPath)
	}

	metrics.CompiledEntries.WithLabelValues("true").Set(float64(stats.Restricted))
	metrics.CompiledEntries.WithLabelValues("false").Set(float64(stats.Entries - stats.Restricted))

	result.Duration = time.Since(start)
	log.Info("Drug data compile finished",
		"entries", len(entries),
		"outputs", result.Outputs,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}
