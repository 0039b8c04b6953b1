package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cryptomovers/internal/exclusion"
	"cryptomovers/internal/models"
	"cryptomovers/internal/upstream"
)

// Mode selects how much upstream coverage a run aims for.
type Mode int

const (
	// ModeCold is the shallow fetch used while a caller is blocked on a cold start.
	ModeCold Mode = iota
	// ModeDeep is the full-coverage fetch used by background and forced refreshes.
	ModeDeep
)

func (m Mode) String() string {
	if m == ModeCold {
		return "cold"
	}
	return "deep"
}

// Batch is the concatenated raw output of a source.
type Batch struct {
	Items []models.Item
	// Partial is set when the source covered less than it intended for the mode.
	Partial bool
}

// Source fetches normalized records from one or more upstream calls. Records missing a
// symbol, price or 24h change are dropped by the source before they reach the pipeline.
type Source interface {
	Name() string
	Fetch(ctx context.Context, mode Mode) (Batch, error)
}

// Enricher resolves icon URLs for asset ids in one batched call.
type Enricher interface {
	Icons(ctx context.Context, assetIDs []string) (map[string]string, error)
}

// DedupeMode picks which duplicate of a symbol survives.
type DedupeMode int

const (
	DedupeNone DedupeMode = iota
	DedupeByLiquidity
	DedupeByVolume
)

type Config struct {
	TopN int
	// Sanity filters; zero disables each one.
	MinLiquidity      float64
	MinVolume         float64
	MaxCapToLiquidity float64
	DropFlat          bool
	Dedupe            DedupeMode
	// IconLookupCap bounds the number of distinct asset ids sent to the enricher.
	IconLookupCap   int
	PlaceholderIcon string
}

// Pipeline turns one source into a ranked top-N result.
type Pipeline struct {
	cfg        Config
	source     Source
	exclusions *exclusion.Loader
	enricher   Enricher
	now        func() time.Time
}

// New creates a pipeline. exclusions and enricher may be nil.
func New(cfg Config, source Source, exclusions *exclusion.Loader, enricher Enricher) *Pipeline {
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	if cfg.IconLookupCap <= 0 {
		cfg.IconLookupCap = 100
	}
	return &Pipeline{
		cfg:        cfg,
		source:     source,
		exclusions: exclusions,
		enricher:   enricher,
		now:        time.Now,
	}
}

func (p *Pipeline) Name() string {
	return p.source.Name()
}

// Run fetches, filters, enriches and ranks. It fails only when the source produced no raw
// records at all; an empty result after filtering is still a valid result.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (models.RankedResult, error) {
	excluded := exclusion.Set{}
	if p.exclusions != nil {
		excluded = p.exclusions.Load(ctx)
	}

	batch, err := p.source.Fetch(ctx, mode)
	if err != nil {
		return models.RankedResult{}, fmt.Errorf("%w: %s: %w", upstream.ErrFatal, p.source.Name(), err)
	}
	if len(batch.Items) == 0 {
		return models.RankedResult{}, fmt.Errorf("%w: %s returned no records", upstream.ErrFatal, p.source.Name())
	}

	items := p.filter(batch.Items, excluded)
	items = dedupe(items, p.cfg.Dedupe)
	p.enrich(ctx, items)
	gainers, losers := Rank(items, p.cfg.TopN)

	log.Info().
		Str("source", p.source.Name()).
		Stringer("mode", mode).
		Int("raw", len(batch.Items)).
		Int("kept", len(items)).
		Bool("partial", batch.Partial).
		Msg("pipeline run complete")

	return models.RankedResult{
		Timestamp: p.now(),
		Gainers:   gainers,
		Losers:    losers,
		IsPartial: batch.Partial,
	}, nil
}
