package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pep299/legal-doc-analyzer/internal/document"
	"github.com/pep299/legal-doc-analyzer/internal/gemini"
	"github.com/pep299/legal-doc-analyzer/internal/prompts"
)

// Generator produces model output for a request
type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// Options tunes the pipeline
type Options struct {
	// MaxConcurrent bounds in-flight model calls per fan-out step.
	MaxConcurrent int
	// TreeChunkChars is the text budget of one tree-summarize call.
	TreeChunkChars int
}

// Result is the pipeline output for one document
type Result struct {
	DocumentID    string    `json:"document_id"`
	Name          string    `json:"name"`
	Pages         int       `json:"pages"`
	PageSummaries []string  `json:"page_summaries"`
	Analysis      *Analysis `json:"analysis"`
}

// Analyzer runs documents through the summarization pipeline
type Analyzer struct {
	gen     Generator
	loader  *document.Loader
	prompts *prompts.Set
	logger  *zap.Logger
	opts    Options
}

// NewAnalyzer creates a new analyzer
func NewAnalyzer(gen Generator, loader *document.Loader, set *prompts.Set, logger *zap.Logger, opts Options) *Analyzer {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.TreeChunkChars <= 0 {
		opts.TreeChunkChars = 24000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		gen:     gen,
		loader:  loader,
		prompts: set,
		logger:  logger,
		opts:    opts,
	}
}

// AnalyzeFile loads the file at path and analyzes it
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*Result, error) {
	doc, err := a.loader.Load(path)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, doc)
}

// Analyze summarizes every page, merges the summaries and parses the result
func (a *Analyzer) Analyze(ctx context.Context, doc *document.Document) (*Result, error) {
	start := time.Now()
	logger := a.logger.With(zap.String("document_id", doc.ID), zap.String("name", doc.Name))

	summaries, err := a.SummarizePages(ctx, doc)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, ErrNoContent
	}
	logger.Debug("Page summaries ready", zap.Int("pages", len(doc.Pages)), zap.Int("summaries", len(summaries)))

	output, err := a.treeSummarize(ctx, summaries)
	if err != nil {
		return nil, err
	}

	result, err := a.parseWithRepair(ctx, output)
	if err != nil {
		return nil, err
	}

	logger.Info("Document analyzed",
		zap.Int("pages", len(doc.Pages)),
		zap.Int("complexity_rating", result.ComplexityRating),
		zap.Duration("duration", time.Since(start)))

	return &Result{
		DocumentID:    doc.ID,
		Name:          doc.Name,
		Pages:         len(doc.Pages),
		PageSummaries: summaries,
		Analysis:      result,
	}, nil
}

// SummarizePages returns one summary per page in page order, dropping empty ones
func (a *Analyzer) SummarizePages(ctx context.Context, doc *document.Document) ([]string, error) {
	results := make([]string, len(doc.Pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.MaxConcurrent)

	for i, page := range doc.Pages {
		g.Go(func() error {
			req := gemini.Request{Prompt: a.prompts.PageSummary}
			if page.IsBinary() {
				req.Attachments = []gemini.Attachment{{MIMEType: page.MIMEType, Data: page.Data}}
			} else {
				req.Texts = []string{page.Text}
			}

			text, err := a.gen.Generate(gctx, req)
			if errors.Is(err, gemini.ErrEmptyResponse) {
				// A blank page yields no summary; it is skipped below.
				return nil
			}
			if err != nil {
				return fmt.Errorf("summarizing page %d: %w", page.Number, err)
			}
			results[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]string, 0, len(results))
	for _, s := range results {
		if strings.TrimSpace(s) != "" {
			summaries = append(summaries, s+"\n\n")
		}
	}
	return summaries, nil
}

// treeSummarize merges texts level by level until a single call covers them
func (a *Analyzer) treeSummarize(ctx context.Context, texts []string) (string, error) {
	prompt, err := a.prompts.RenderFinal(FormatInstructions())
	if err != nil {
		return "", err
	}
	schema := ResponseSchema()

	for level := 0; ; level++ {
		batches := packBatches(texts, a.opts.TreeChunkChars)
		if len(batches) == 1 {
			out, err := a.gen.Generate(ctx, gemini.Request{Prompt: prompt, Texts: batches[0], Schema: schema})
			if err != nil {
				return "", fmt.Errorf("summarizing document: %w", err)
			}
			return out, nil
		}

		a.logger.Debug("Tree summarize level", zap.Int("level", level), zap.Int("batches", len(batches)))

		next := make([]string, len(batches))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.opts.MaxConcurrent)
		for i, batch := range batches {
			g.Go(func() error {
				out, err := a.gen.Generate(gctx, gemini.Request{Prompt: prompt, Texts: batch, Schema: schema})
				if err != nil {
					return fmt.Errorf("summarizing level %d batch %d: %w", level, i, err)
				}
				next[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		texts = next
	}
}

// packBatches groups texts greedily under limit characters. Every batch but the
// last holds at least two texts, so each level strictly shrinks.
func packBatches(texts []string, limit int) [][]string {
	var batches [][]string
	var current []string
	size := 0
	for _, text := range texts {
		if len(current) >= 2 && size+len(text) > limit {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, text)
		size += len(text)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// parseWithRepair parses output, re-asking the model once if it is malformed
func (a *Analyzer) parseWithRepair(ctx context.Context, output string) (*Analysis, error) {
	result, err := Parse(output)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrInvalidOutput) {
		return nil, err
	}

	a.logger.Warn("Model returned invalid analysis, retrying", zap.Error(err))

	prompt, err := a.prompts.RenderRepair(output, FormatInstructions())
	if err != nil {
		return nil, err
	}
	repaired, err := a.gen.Generate(ctx, gemini.Request{Prompt: prompt, Schema: ResponseSchema()})
	if err != nil {
		return nil, fmt.Errorf("repairing analysis: %w", err)
	}
	return Parse(repaired)
}
