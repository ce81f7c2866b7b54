// Package pipeline runs one document through locate, split, rewrite,
// metadata extraction, requirements lookup and rendering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/islentev/report-generator/internal/document"
	"github.com/islentev/report-generator/internal/llm"
	"github.com/islentev/report-generator/internal/metadata"
	"github.com/islentev/report-generator/internal/render"
	"github.com/islentev/report-generator/internal/rewrite"
	"github.com/islentev/report-generator/internal/section"
	"github.com/islentev/report-generator/internal/storage"
)

const (
	StageValidate     = "validate"
	StageLocate       = "locate"
	StageSplit        = "split"
	StageRewrite      = "rewrite"
	StageMetadata     = "metadata"
	StageRequirements = "requirements"
	StageRender       = "render"
)

type Options struct {
	Locator             *section.Locator
	RequirementsLocator *section.Locator // optional; without it requirements come only from Input
	ChunkPattern        *regexp.Regexp   // defaults to section.DefaultBoundary
	Processor           *rewrite.Processor
	Extractor           *metadata.Extractor
	Renderer            *render.Renderer
	Concurrency         int
	MetadataHead        int
	MetadataTail        int
	Store               storage.RunStore // optional run history
	Logger              *zap.Logger
	Progress            rewrite.ProgressFunc
}

// Pipeline holds only read-only collaborators; every Run builds its own
// Result and may run concurrently with others.
type Pipeline struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Locator == nil {
		return nil, fmt.Errorf("pipeline: section locator is required: %w", llm.ErrInvalidInput)
	}
	if opts.Processor == nil {
		return nil, fmt.Errorf("pipeline: rewrite processor is required: %w", llm.ErrInvalidInput)
	}
	if opts.Renderer == nil {
		opts.Renderer = render.NewRenderer(render.DefaultKeywords, "")
	}
	if opts.ChunkPattern == nil {
		opts.ChunkPattern = section.DefaultBoundary
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MetadataHead <= 0 {
		opts.MetadataHead = 3000
	}
	if opts.MetadataTail <= 0 {
		opts.MetadataTail = 3000
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{opts: opts, logger: logger}, nil
}

// Input is one user action. Metadata and Requirements, when set, are the
// user's edits and take precedence over what the pipeline would derive.
type Input struct {
	Name         string
	Text         string
	Metadata     *metadata.Contract
	Requirements *string
}

// Plan is the part of a run that needs no external calls.
type Plan struct {
	Span             section.Span  `json:"span"`
	Parts            section.Parts `json:"parts"`
	Requirements     string        `json:"requirements"`
	RequirementsSpan section.Span  `json:"requirements_span"`
}

// Result is the complete state of one run. It is built once by Run and not
// modified afterwards.
type Result struct {
	RunID    string            `json:"run_id"`
	Source   string            `json:"source"`
	Plan     Plan              `json:"plan"`
	Chunks   []rewrite.Result  `json:"chunks"`
	Body     string            `json:"body"`
	Metadata metadata.Contract `json:"metadata"`
	Document render.Document   `json:"-"`
	Report   *Report           `json:"report"`
}

// Docx serializes the rendered report.
func (r *Result) Docx() ([]byte, error) {
	return render.Docx(r.Document)
}

// Prepare locates the section, splits it and finds the requirements text.
// It makes no external calls.
func (p *Pipeline) Prepare(text string) (Plan, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Plan{}, document.ErrEmptyInput
	}
	span := p.opts.Locator.Locate(text)
	plan := Plan{
		Span:  span,
		Parts: p.split(span, text),
	}
	plan.Requirements, plan.RequirementsSpan = p.locateRequirements(text)
	return plan, nil
}

// split cuts the located section into chunks. Without an anchor the
// preamble is ordinary section text and gets rewritten like any item.
func (p *Pipeline) split(span section.Span, text string) section.Parts {
	parts := section.Split(span.Text(text), p.opts.ChunkPattern)
	if !span.Anchored {
		parts = parts.PromotePreamble()
	}
	return parts
}

func (p *Pipeline) locateRequirements(text string) (string, section.Span) {
	if p.opts.RequirementsLocator == nil {
		return "", section.Span{}
	}
	span := p.opts.RequirementsLocator.Locate(text)
	if !span.Anchored {
		return "", section.Span{}
	}
	return strings.TrimSpace(span.Body(text)), span
}

// ExtractMetadata runs only the metadata stage over the head+tail window of
// text.
func (p *Pipeline) ExtractMetadata(ctx context.Context, text string) (metadata.Contract, error) {
	if strings.TrimSpace(text) == "" {
		return metadata.Contract{}, document.ErrEmptyInput
	}
	if p.opts.Extractor == nil {
		return metadata.Contract{}, fmt.Errorf("metadata extractor not configured: %w", llm.ErrInvalidInput)
	}
	window := document.ContextWindow(text, p.opts.MetadataHead, p.opts.MetadataTail)
	return p.opts.Extractor.Extract(ctx, window)
}

// Run executes the whole pipeline. On failure the returned Result still
// carries the report of what happened; the error is classified by Classify.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Source: in.Name}
	res.Report = NewReport(res.RunID, in.Name)
	log := p.logger.With(zap.String("run_id", res.RunID), zap.String("source", in.Name))
	started := time.Now().UTC()

	err := p.run(ctx, in, res, log)
	if err != nil {
		res.Report.ErrorKind = Classify(err)
		res.Report.Error = err.Error()
		log.Error("run failed", zap.String("kind", string(res.Report.ErrorKind)), zap.Error(err))
	} else {
		log.Info("run finished",
			zap.Int("chunks", len(res.Chunks)),
			zap.Strings("signals", res.Report.SignalCodes()),
			zap.Duration("took", time.Since(started)))
	}
	p.record(ctx, res, started, err, log)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, in Input, res *Result, log *zap.Logger) error {
	rep := res.Report

	// validate
	h := rep.BeginStage(StageValidate)
	text := strings.TrimSpace(in.Text)
	if text == "" {
		err := fmt.Errorf("%s: %w", in.Name, document.ErrEmptyInput)
		rep.EndStage(h, "error", nil, nil, err)
		return err
	}
	rep.EndStage(h, "ok", map[string]float64{"runes": float64(utf8.RuneCountInString(text))}, nil, nil)

	// locate
	h = rep.BeginStage(StageLocate)
	span := p.opts.Locator.Locate(text)
	res.Plan.Span = span
	var notes []string
	if span.Anchored {
		notes = append(notes, "start marker: "+span.StartMarker)
	} else {
		rep.AddSignal(SignalSectionFallback, StageLocate, "warning",
			"no start marker matched; using the trailing part of the document", float64(span.Len()))
	}
	rep.EndStage(h, "ok", map[string]float64{
		"start": float64(span.Start),
		"end":   float64(span.End),
	}, notes, nil)

	// split
	h = rep.BeginStage(StageSplit)
	res.Plan.Parts = p.split(span, text)
	chunks := res.Plan.Parts.Chunks
	if len(chunks) == 0 {
		err := fmt.Errorf("%s: located section has no text: %w", in.Name, document.ErrEmptyInput)
		rep.EndStage(h, "error", nil, nil, err)
		return err
	}
	rep.EndStage(h, "ok", map[string]float64{"chunks": float64(len(chunks))}, nil, nil)
	log.Debug("section split", zap.Int("chunks", len(chunks)), zap.Bool("anchored", span.Anchored))

	// rewrite
	h = rep.BeginStage(StageRewrite)
	batch := p.opts.Processor.ProcessAll(ctx, chunks, p.opts.Concurrency, p.opts.Progress)
	res.Chunks = batch.Results()
	res.Body = batch.Text()
	counters := p.recordChunks(rep, chunks, batch)
	if err := batch.Err(); err != nil {
		rep.EndStage(h, "error", counters, nil, err)
		return fmt.Errorf("rewrite: %d of %d chunks failed: %w", len(batch.Failed()), len(chunks), err)
	}
	rep.EndStage(h, "ok", counters, nil, nil)

	// metadata
	if err := p.metadataStage(ctx, in, text, res); err != nil {
		return err
	}

	// requirements
	h = rep.BeginStage(StageRequirements)
	if in.Requirements != nil {
		res.Plan.Requirements = strings.TrimSpace(*in.Requirements)
		rep.EndStage(h, "ok", nil, []string{"supplied by user"}, nil)
	} else {
		res.Plan.Requirements, res.Plan.RequirementsSpan = p.locateRequirements(text)
		if res.Plan.Requirements == "" {
			rep.AddSignal(SignalRequirementsMissing, StageRequirements, "info",
				"no requirements section found; the report omits it", 0)
		}
		rep.EndStage(h, "ok", map[string]float64{"runes": float64(utf8.RuneCountInString(res.Plan.Requirements))}, nil, nil)
	}

	// render
	h = rep.BeginStage(StageRender)
	res.Document = p.opts.Renderer.Render(res.Metadata, res.Body, res.Plan.Requirements)
	rep.EndStage(h, "ok", map[string]float64{"blocks": float64(len(res.Document.Blocks))}, nil, nil)
	return nil
}

func (p *Pipeline) recordChunks(rep *Report, chunks []section.Chunk, batch rewrite.Batch) map[string]float64 {
	var repaired, cached, ambiguous float64
	for i, o := range batch.Outcomes {
		m := ChunkMetric{Ordinal: chunks[i].Ordinal, SourceRunes: utf8.RuneCountInString(chunks[i].Text)}
		if o.Err != nil {
			m.Status = "failed"
			m.Error = o.Err.Error()
			rep.AddSignal(SignalChunkFailed, StageRewrite, "critical",
				fmt.Sprintf("chunk %d: %s", chunks[i].Ordinal, DisplayMessage(o.Err)), float64(chunks[i].Ordinal))
			rep.AddChunkMetric(m)
			continue
		}
		r := o.Result
		m.Status = string(r.Status)
		m.OutputRunes = utf8.RuneCountInString(r.Text)
		m.Discrepancies = len(r.Discrepancies)
		m.Ambiguous = r.Ambiguous
		m.Cached = r.Cached
		m.Issues = r.Issues
		rep.AddChunkMetric(m)

		if r.Status == rewrite.StatusRepaired {
			repaired++
		}
		if r.Cached {
			cached++
		}
		if r.Ambiguous {
			ambiguous++
			rep.AddSignal(SignalVerificationAmbiguous, StageRewrite, "warning",
				fmt.Sprintf("chunk %d: verifier answer was not recognized; chunk was repaired", r.Ordinal), float64(r.Ordinal))
		}
		for _, issue := range r.Issues {
			if issue == rewrite.IssueBannedWords {
				rep.AddSignal(SignalResidualBannedWords, StageRewrite, "warning",
					fmt.Sprintf("chunk %d still contains banned words", r.Ordinal), float64(r.Ordinal))
			}
		}
	}
	return map[string]float64{
		"chunks":    float64(len(chunks)),
		"failed":    float64(len(batch.Failed())),
		"repaired":  repaired,
		"cached":    cached,
		"ambiguous": ambiguous,
	}
}

// metadataStage skips extraction when the user supplied every field;
// otherwise user values override extracted ones field by field.
func (p *Pipeline) metadataStage(ctx context.Context, in Input, text string, res *Result) error {
	rep := res.Report
	h := rep.BeginStage(StageMetadata)

	if in.Metadata != nil && len(in.Metadata.Missing()) == 0 {
		res.Metadata = *in.Metadata
		rep.EndStage(h, "skipped", nil, []string{"supplied by user"}, nil)
		return nil
	}

	extracted, err := p.ExtractMetadata(ctx, text)
	if err != nil {
		rep.EndStage(h, "error", nil, nil, err)
		return fmt.Errorf("metadata: %w", err)
	}
	if in.Metadata != nil {
		extracted = extracted.Merge(*in.Metadata)
	}
	res.Metadata = extracted

	missing := extracted.Missing()
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		rep.AddSignal(SignalMetadataIncomplete, StageMetadata, "info",
			"not found in the document: "+strings.Join(names, ", "), float64(len(missing)))
	}
	rep.EndStage(h, "ok", map[string]float64{
		"known":   float64(len(metadata.Schema) - len(missing)),
		"missing": float64(len(missing)),
	}, nil, nil)
	return nil
}

func (p *Pipeline) record(ctx context.Context, res *Result, started time.Time, runErr error, log *zap.Logger) {
	if p.opts.Store == nil {
		return
	}
	data, err := res.Report.JSON()
	if err != nil {
		log.Warn("encode run report", zap.Error(err))
	}
	rec := storage.RunRecord{
		ID:         res.RunID,
		Source:     res.Source,
		Status:     "succeeded",
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Chunks:     len(res.Plan.Parts.Chunks),
		Repaired:   res.Report.Summary.RepairedChunks,
		Signals:    res.Report.SignalCodes(),
		Report:     data,
	}
	if runErr != nil {
		rec.Status = "failed"
		rec.ErrorKind = string(Classify(runErr))
		rec.Error = runErr.Error()
	}
	// history outlives a cancelled request
	saveCtx := context.WithoutCancel(ctx)
	if err := p.opts.Store.SaveRun(saveCtx, rec, res.Chunks); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("failed to record run", zap.Error(err))
	}
}
