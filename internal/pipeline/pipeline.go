// Package pipeline drives pagination over the listing and accumulates records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
	"github.com/JakeFAU/top250-crawler/internal/metrics"
)

// Page status labels.
const (
	pageFetched = "fetched"
	pageFailed  = "failed"
)

// StartParam is the query parameter carrying the page offset.
const StartParam = "start"

// Config controls Pipeline behavior.
type Config struct {
	ListURL      string
	MaxItems     int
	ItemsPerPage int
}

// Pipeline fetches each listing page in turn and folds parser outcomes into a
// PipelineResult. It is single-use per Run call and not safe for concurrent Runs.
type Pipeline struct {
	fetcher catalog.Fetcher
	parser  catalog.PageParser
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Pipeline.
func New(fetcher catalog.Fetcher, parser catalog.PageParser, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if fetcher == nil || parser == nil {
		return nil, errors.New("pipeline requires a fetcher and a parser")
	}
	if cfg.ListURL == "" {
		return nil, errors.New("pipeline requires a list url")
	}
	if cfg.ItemsPerPage <= 0 {
		return nil, fmt.Errorf("items per page must be > 0, got %d", cfg.ItemsPerPage)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Pipeline{fetcher: fetcher, parser: parser, cfg: cfg, logger: logger}, nil
}

// Offsets lists the page offsets visited by Run.
func (p *Pipeline) Offsets() []int {
	var offsets []int
	for start := 0; start < p.cfg.MaxItems; start += p.cfg.ItemsPerPage {
		offsets = append(offsets, start)
	}
	return offsets
}

// Run visits every page. Fetch and parse failures skip the page; cancellation
// stops between pages and returns the partial result with the context error.
func (p *Pipeline) Run(ctx context.Context) (catalog.PipelineResult, error) {
	var result catalog.PipelineResult
	seen := make(map[string]struct{})

	p.logger.Info("pipeline started",
		zap.String("list_url", p.cfg.ListURL),
		zap.Int("max_items", p.cfg.MaxItems),
		zap.Int("items_per_page", p.cfg.ItemsPerPage),
	)

	for _, start := range p.Offsets() {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("pipeline canceled: %w", err)
		}
		pageNum := start/p.cfg.ItemsPerPage + 1
		p.logger.Info("processing page", zap.Int("page", pageNum), zap.Int("start", start))

		outcomes, err := p.page(ctx, start)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, fmt.Errorf("pipeline canceled: %w", ctxErr)
			}
			result.PagesFailed++
			p.logger.Error("skipping page", zap.Int("page", pageNum), zap.Error(err))
			continue
		}
		result.PagesFetched++

		for _, out := range outcomes {
			p.apply(&result, seen, out)
		}
	}

	p.logger.Info("pipeline finished",
		zap.Int("accepted", len(result.Records)),
		zap.Int("filtered", result.Filtered),
		zap.Int("malformed", result.Malformed),
		zap.Int("parse_errors", result.ParseErrors),
		zap.Int("pages_fetched", result.PagesFetched),
		zap.Int("pages_failed", result.PagesFailed),
	)
	return result, nil
}

func (p *Pipeline) page(ctx context.Context, start int) ([]catalog.Outcome, error) {
	doc, err := p.fetcher.Fetch(ctx, p.cfg.ListURL, url.Values{StartParam: {strconv.Itoa(start)}})
	if err != nil {
		metrics.ObservePage(p.cfg.ListURL, pageFailed, 0)
		return nil, err
	}
	outcomes, err := p.parser.ParseHTML(doc.Body)
	if err != nil {
		metrics.ObservePage(p.cfg.ListURL, pageFailed, len(doc.Body))
		return nil, fmt.Errorf("parse page %d: %w", start, err)
	}
	metrics.ObservePage(p.cfg.ListURL, pageFetched, len(doc.Body))
	return outcomes, nil
}

func (p *Pipeline) apply(result *catalog.PipelineResult, seen map[string]struct{}, out catalog.Outcome) {
	switch out.Kind {
	case catalog.OutcomeAccepted:
		title := out.Record.Title
		if _, dup := seen[title]; dup {
			result.Filtered++
			metrics.ObserveOutcome(catalog.OutcomeFiltered.String(), string(catalog.FilterDuplicate))
			p.logger.Info("skipping duplicate title", zap.String("title", title))
			return
		}
		seen[title] = struct{}{}
		result.Records = append(result.Records, out.Record)
		metrics.ObserveOutcome(out.Kind.String(), "")
		p.logger.Debug("accepted record",
			zap.String("title", title),
			zap.String("director", out.Record.DirectorLabel()),
		)
	case catalog.OutcomeFiltered:
		result.Filtered++
		metrics.ObserveOutcome(out.Kind.String(), string(out.Reason))
	case catalog.OutcomeMalformed:
		result.Malformed++
		metrics.ObserveOutcome(out.Kind.String(), "")
		p.logger.Warn("skipping malformed item", zap.String("title", out.Title), zap.String("detail", out.Detail))
	case catalog.OutcomeParseError:
		result.ParseErrors++
		metrics.ObserveOutcome(out.Kind.String(), "")
	default:
		p.logger.Error("unknown outcome kind", zap.Stringer("kind", out.Kind))
	}
}
