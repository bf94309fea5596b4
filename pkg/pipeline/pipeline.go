// Package pipeline orchestrates the record-cleaning runs: preprocessing
// (parse, local cleanup, LLM cleaning) and postprocessing (timestamping and
// final validation).
package pipeline

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/datakiln/refinery/pkg/docstore"
	"github.com/datakiln/refinery/pkg/formatter"
	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/prompt"
	"github.com/datakiln/refinery/pkg/records"
	"github.com/datakiln/refinery/pkg/schema"
	"github.com/datakiln/refinery/pkg/settings"
	"github.com/datakiln/refinery/pkg/tasks"
)

// Result summarizes a pipeline run.
type Result struct {
	RunID     string
	Total     int
	Succeeded int
	Skipped   int
}

// Pipeline holds the assembled components for both runs. Tests may build it
// directly; New assembles it from a Settings Document.
type Pipeline struct {
	Settings   settings.Settings
	Completer  llm.Completer
	Formatter  *formatter.Formatter
	PreSchema  schema.Document
	PostSchema schema.Document
	Prompts    prompt.Prompts
	Store      *docstore.Store
	Log        *zap.Logger

	nowFunc func() time.Time
}

// New assembles a Pipeline from validated settings: it loads both schemas,
// builds the paced provider completer, and opens the document store.
func New(s settings.Settings, logger *zap.Logger) (*Pipeline, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	ps, err := s.Active()
	if err != nil {
		return nil, err
	}
	logger.Info("provider configured",
		zap.String("provider", s.Provider),
		zap.String("model", ps.ModelName),
		zap.String("api_key", settings.MaskKey(ps.APIKey)),
	)

	preSchema, err := schema.Load(s.Processing.SchemaPaths.PreProcessingSchema)
	if err != nil {
		return nil, err
	}
	postSchema, err := schema.Load(s.Processing.SchemaPaths.PostprocessingSchema)
	if err != nil {
		return nil, err
	}

	prompts, err := prompt.Load(s.Processing.SchemaPaths.Prompts)
	if err != nil {
		return nil, err
	}

	completer, err := buildCompleter(s)
	if err != nil {
		return nil, err
	}

	store, err := docstore.Open(s.Processing.DocumentDB)
	if err != nil {
		return nil, err
	}

	f := formatter.New(completer)
	f.Prompts = prompts

	return &Pipeline{
		Settings:   s,
		Completer:  completer,
		Formatter:  f,
		PreSchema:  preSchema,
		PostSchema: postSchema,
		Prompts:    prompts,
		Store:      store,
		Log:        logger,
	}, nil
}

// Close releases the document store.
func (p *Pipeline) Close() error {
	if p.Store != nil {
		return p.Store.Close()
	}
	return nil
}

// SetNowFunc overrides the time source (for testing).
func (p *Pipeline) SetNowFunc(fn func() time.Time) { p.nowFunc = fn }

func (p *Pipeline) now() time.Time {
	if p.nowFunc != nil {
		return p.nowFunc()
	}
	return time.Now()
}

var paragraphGapRe = regexp.MustCompile(`\n{2,}`)

// Preprocess runs the preprocessing stage. Formatted input is split on
// tagged record blocks; unformatted input is split on blank-line gaps and
// each chunk is structured by the formatter first. Locally cleaned records
// go to preprocessed_file; when the processing flag is set each record is
// then cleaned by the provider, and the result goes to processed_file.
// Per-record failures are logged and skipped.
func (p *Pipeline) Preprocess(ctx context.Context, formatted bool) (Result, error) {
	started := p.now()

	data, err := os.ReadFile(p.Settings.Processing.InputFile) //nolint:gosec // path comes from the settings document
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: read input: %w", err)
	}

	var blocks []string
	if formatted {
		blocks = records.Split(string(data))
	} else {
		for _, chunk := range paragraphGapRe.Split(string(data), -1) {
			if strings.TrimSpace(chunk) != "" {
				blocks = append(blocks, chunk)
			}
		}
	}
	if len(blocks) == 0 {
		return Result{}, fmt.Errorf("pipeline: no records found in %s", p.Settings.Processing.InputFile)
	}

	preOut, err := truncateFile(p.Settings.Processing.PreprocessedFile)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = preOut.Close() }()

	procOut, err := truncateFile(p.Settings.Processing.ProcessedFile)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = procOut.Close() }()

	res := Result{Total: len(blocks)}
	for i, block := range blocks {
		p.Log.Info("preprocessing record",
			zap.Int("index", i+1),
			zap.Int("total", len(blocks)),
		)

		rec, err := p.loadRecord(ctx, block, formatted)
		if err != nil {
			p.Log.Warn("record could not be loaded, skipping", zap.Int("index", i+1), zap.Error(err))
			res.Skipped++
			continue
		}

		rec = tasks.Preprocess(rec)

		if err := p.PreSchema.Validate(rec.ToMap()); err != nil {
			p.Log.Warn("record failed preprocessing validation, skipping",
				zap.String("record_id", rec.RecordID), zap.Error(err))
			res.Skipped++
			continue
		}

		if err := appendRecord(preOut, rec); err != nil {
			return res, err
		}

		cleaned := rec
		if p.Settings.Processing.Processing {
			cleaned, err = p.cleanWithProvider(ctx, rec)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				p.Log.Warn("record failed provider cleaning, skipping",
					zap.String("record_id", rec.RecordID), zap.Error(err))
				res.Skipped++
				continue
			}
		}

		if err := appendRecord(procOut, cleaned); err != nil {
			return res, err
		}
		if err := p.Store.SaveRecord(ctx, cleaned, docstore.StagePreprocessed); err != nil {
			return res, err
		}

		res.Succeeded++
		p.Log.Info("record preprocessed", zap.String("record_id", cleaned.RecordID))
	}

	res.RunID, err = p.Store.RecordRun(ctx, docstore.Run{
		Kind:      "preprocess",
		Total:     res.Total,
		Succeeded: res.Succeeded,
		Skipped:   res.Skipped,
		StartedAt: started,
		EndedAt:   p.now(),
	})
	if err != nil {
		return res, err
	}

	p.logRunSummary("preprocessing complete", res)

	return res, nil
}

// Postprocess runs the postprocessing stage over processed_file: each record
// is stamped with the processing time, validated against the postprocessing
// schema, and appended to final_output_file.
func (p *Pipeline) Postprocess(ctx context.Context) (Result, error) {
	started := p.now()

	data, err := os.ReadFile(p.Settings.Processing.ProcessedFile) //nolint:gosec // path comes from the settings document
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: read processed file: %w", err)
	}

	var blocks []string
	for _, chunk := range paragraphGapRe.Split(strings.TrimSpace(string(data)), -1) {
		if strings.TrimSpace(chunk) != "" {
			blocks = append(blocks, chunk)
		}
	}
	if len(blocks) == 0 {
		return Result{}, fmt.Errorf("pipeline: no records found in %s", p.Settings.Processing.ProcessedFile)
	}

	out, err := truncateFile(p.Settings.Processing.FinalOutputFile)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = out.Close() }()

	res := Result{Total: len(blocks)}
	for i, block := range blocks {
		p.Log.Info("postprocessing record",
			zap.Int("index", i+1),
			zap.Int("total", len(blocks)),
		)

		rec, err := records.Parse(block)
		if err != nil {
			p.Log.Warn("record could not be loaded, skipping", zap.Int("index", i+1), zap.Error(err))
			res.Skipped++
			continue
		}

		rec = tasks.Postprocess(rec, p.now())

		if err := p.PostSchema.Validate(rec.ToMap()); err != nil {
			p.Log.Warn("record failed postprocessing validation, skipping",
				zap.String("record_id", rec.RecordID), zap.Error(err))
			res.Skipped++
			continue
		}

		if err := appendRecord(out, rec); err != nil {
			return res, err
		}
		if err := p.Store.SaveRecord(ctx, rec, docstore.StagePostprocessed); err != nil {
			return res, err
		}

		res.Succeeded++
		p.Log.Info("record postprocessed", zap.String("record_id", rec.RecordID))
	}

	res.RunID, err = p.Store.RecordRun(ctx, docstore.Run{
		Kind:      "postprocess",
		Total:     res.Total,
		Succeeded: res.Succeeded,
		Skipped:   res.Skipped,
		StartedAt: started,
		EndedAt:   p.now(),
	})
	if err != nil {
		return res, err
	}

	p.logRunSummary("postprocessing complete", res)

	return res, nil
}

// Run executes preprocessing followed by postprocessing.
func (p *Pipeline) Run(ctx context.Context, formatted bool) error {
	if _, err := p.Preprocess(ctx, formatted); err != nil {
		return err
	}
	_, err := p.Postprocess(ctx)
	return err
}

// loadRecord parses one input block, structuring it with the formatter when
// the input is unformatted.
func (p *Pipeline) loadRecord(ctx context.Context, block string, formatted bool) (records.Record, error) {
	if formatted {
		return records.Parse(block)
	}
	return p.Formatter.Record(ctx, block)
}

// cleanWithProvider sends the record through the completer and parses the
// cleaned record out of the reply. A reply that changes record_id is
// rejected: the instructions only license editing titles and content.
func (p *Pipeline) cleanWithProvider(ctx context.Context, rec records.Record) (records.Record, error) {
	requirements, err := p.PreSchema.Requirements()
	if err != nil {
		return records.Record{}, err
	}

	req, err := p.Prompts.Clean(requirements, rec)
	if err != nil {
		return records.Record{}, err
	}

	reply, err := p.Completer.Complete(ctx, req)
	if err != nil {
		return records.Record{}, err
	}

	payload, err := prompt.ParseReply(reply)
	if err != nil {
		return records.Record{}, err
	}

	cleaned, err := records.FromJSON(payload)
	if err != nil {
		return records.Record{}, err
	}

	if cleaned.RecordID != rec.RecordID {
		return records.Record{}, fmt.Errorf("pipeline: provider changed record_id from %q to %q", rec.RecordID, cleaned.RecordID)
	}

	if err := p.PreSchema.Validate(cleaned.ToMap()); err != nil {
		return records.Record{}, err
	}

	return cleaned, nil
}

func (p *Pipeline) logRunSummary(msg string, res Result) {
	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("skipped", res.Skipped),
	}

	if ur, ok := p.Completer.(llm.UsageReporter); ok {
		total := ur.UsageTracker().Total()
		fields = append(fields,
			zap.Int("input_tokens", total.InputTokens),
			zap.Int("output_tokens", total.OutputTokens),
		)
	}

	p.Log.Info(msg, fields...)
}

// truncateFile opens path for writing, emptying any previous contents and
// creating parent-relative files as needed.
func truncateFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec // path comes from the settings document
	if err != nil {
		return nil, fmt.Errorf("pipeline: open output file: %w", err)
	}
	return f, nil
}

// appendRecord writes the record as indented JSON followed by a blank line,
// the record separator the postprocessing stage splits on.
func appendRecord(f *os.File, rec records.Record) error {
	s, err := rec.JSON()
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if _, err := f.WriteString(s + "\n\n"); err != nil {
		return fmt.Errorf("pipeline: write record: %w", err)
	}

	return nil
}
