// Package pipeline sequences fetch, parse, derive, and load for the ingest
// run and tracks its progress.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawnstats/pawnstats/internal/derive"
	"github.com/pawnstats/pawnstats/internal/eco"
	"github.com/pawnstats/pawnstats/internal/model"
	"github.com/pawnstats/pawnstats/internal/pgntext"
)

// State is the orchestrator's position in its run loop.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StateLoading
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateLoading:
		return "loading"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source yields raw game records in batches and exposes its position for
// checkpointing.
type Source interface {
	NextBatch(ctx context.Context, limit int) ([]model.RawGame, bool, error)
	Cursor() model.Cursor
}

// Loader commits fully-derived rows, one atomic transaction per call.
type Loader interface {
	LoadBatch(ctx context.Context, rows []model.GameRow) (model.LoadStats, error)
}

// Options tunes a run.
type Options struct {
	BatchSize      int
	Workers        int
	UpsetThreshold int
	BatchRetries   int      // total batch-retry budget for the run
	RatedOnly      bool     // local filter, applied on top of source filters
	TimeClasses    []string // admit only these classes; empty = all
	MaxGames       int      // stop once this many records have been fetched; 0 = no cap
	Openings       *eco.Database
}

// Summary is the run report. Recovered errors show up here as counters, not
// just in the log.
type Summary struct {
	RunID           string
	State           string
	Fetched         int
	Parsed          int
	ParseSkipped    int
	Filtered        int
	Loaded          int
	Duplicates      int
	LoadSkipped     int
	Upsets          int
	PlayersCreated  int
	OpeningsCreated int
	Batches         int
	Elapsed         time.Duration
}

// Pipeline runs Source -> Parser -> Derivation -> Loader batch by batch.
type Pipeline struct {
	src     Source
	loader  Loader
	cp      *Checkpoint
	opts    Options
	log     zerolog.Logger
	state   State
	allowed map[string]bool
}

// New wires a pipeline. Zero option fields get usable defaults.
func New(src Source, loader Loader, cp *Checkpoint, opts Options, log zerolog.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 300
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.UpsetThreshold <= 0 {
		opts.UpsetThreshold = derive.DefaultUpsetThreshold
	}
	if opts.BatchRetries <= 0 {
		opts.BatchRetries = 3
	}
	var allowed map[string]bool
	if len(opts.TimeClasses) > 0 {
		allowed = make(map[string]bool, len(opts.TimeClasses))
		for _, c := range opts.TimeClasses {
			allowed[c] = true
		}
	}
	return &Pipeline{src: src, loader: loader, cp: cp, opts: opts, log: log, allowed: allowed}
}

// State returns the current run state.
func (p *Pipeline) State() State { return p.state }

// Run drives the pipeline until the source is exhausted, the context is
// cancelled, or a non-recoverable error occurs. The summary is returned in
// every case.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString()}
	start := time.Now()
	budget := p.opts.BatchRetries
	lastLog := time.Now()

	p.log.Info().
		Str("run_id", sum.RunID).
		Int("batch_size", p.opts.BatchSize).
		Int("workers", p.opts.Workers).
		Msg("ingest run starting")

	finish := func(s State, err error) (*Summary, error) {
		p.state = s
		sum.State = s.String()
		sum.Elapsed = time.Since(start)
		return sum, err
	}

	for {
		// Cancellation stops before the next fetch; the store stays at the
		// last committed batch.
		if err := ctx.Err(); err != nil {
			return finish(StateFailed, err)
		}

		p.state = StateFetching
		raws, done, err := p.src.NextBatch(ctx, p.opts.BatchSize)
		if err != nil {
			return finish(StateFailed, err)
		}
		sum.Fetched += len(raws)

		if len(raws) > 0 {
			p.state = StateProcessing
			rows := p.processBatch(raws, sum)

			p.state = StateLoading
			stats, err := p.loadWithRetry(ctx, rows, sum, &budget)
			sum.Loaded += stats.Inserted
			sum.Duplicates += stats.Duplicates
			sum.PlayersCreated += stats.PlayersCreated
			sum.OpeningsCreated += stats.OpeningsCreated
			if err != nil {
				return finish(StateFailed, err)
			}
			sum.Batches++

			p.cp.Advance(p.src.Cursor(), stats.Inserted)
			if err := p.cp.Save(); err != nil {
				p.log.Warn().Err(err).Msg("checkpoint save failed")
			}
		}

		if time.Since(lastLog) > 10*time.Second {
			p.log.Info().
				Int("fetched", sum.Fetched).
				Int("loaded", sum.Loaded).
				Int("skipped", sum.ParseSkipped).
				Int("duplicates", sum.Duplicates).
				Msg("ingest progress")
			lastLog = time.Now()
		}

		// The cap stops fetching at a batch boundary: the whole fetched batch
		// is loaded first, so the checkpoint never passes unloaded records.
		if done || (p.opts.MaxGames > 0 && sum.Fetched >= p.opts.MaxGames) {
			return finish(StateDone, nil)
		}
	}
}

// processBatch parses and derives a batch across the worker pool. Raw inputs
// are read-only and results land in per-index slots, so workers need no
// coordination beyond the index channel.
func (p *Pipeline) processBatch(raws []model.RawGame, sum *Summary) []model.GameRow {
	parsed := make([]*model.GameRow, len(raws))
	var skipped, filtered int64

	workers := p.opts.Workers
	if workers > len(raws) {
		workers = len(raws)
	}

	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				rec, err := pgntext.Parse(raws[i].Text)
				if err != nil {
					atomic.AddInt64(&skipped, 1)
					p.log.Warn().Err(err).Msg("record skipped")
					continue
				}
				if !p.admit(rec) {
					atomic.AddInt64(&filtered, 1)
					continue
				}
				if !rec.HasOpening() && p.opts.Openings != nil {
					if o := p.opts.Openings.Classify(rec.SANMoves); o != nil {
						rec.OpeningECO, rec.OpeningName = o.ECO, o.Name
					}
				}
				parsed[i] = &model.GameRow{
					GameRecord: *rec,
					Metrics:    derive.Compute(rec, p.opts.UpsetThreshold),
				}
			}
		}()
	}
	for i := range raws {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()

	rows := make([]model.GameRow, 0, len(raws))
	for _, r := range parsed {
		if r == nil {
			continue
		}
		if r.IsUpset {
			sum.Upsets++
		}
		rows = append(rows, *r)
	}

	sum.Parsed += len(rows)
	sum.ParseSkipped += int(skipped)
	sum.Filtered += int(filtered)
	return rows
}

func (p *Pipeline) admit(rec *model.GameRecord) bool {
	if p.opts.RatedOnly && !rec.Rated {
		return false
	}
	if p.allowed != nil && !p.allowed[rec.TimeClass] {
		return false
	}
	return true
}

// loadChunk is one pending unit of work for loadWithRetry. retried marks a
// single row that already failed once on its own.
type loadChunk struct {
	rows    []model.GameRow
	retried bool
}

// loadWithRetry loads rows, retrying failed batches at half size. A single
// row gets one retry on its own; if it fails again it is skipped and
// reported, never silently dropped. Every failure consumes the run's retry
// budget, and a failure with the budget spent fails the run.
func (p *Pipeline) loadWithRetry(ctx context.Context, rows []model.GameRow, sum *Summary, budget *int) (model.LoadStats, error) {
	var total model.LoadStats
	pending := []loadChunk{{rows: rows}}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		cur := pending[0]
		pending = pending[1:]
		if len(cur.rows) == 0 {
			continue
		}

		stats, err := p.loader.LoadBatch(ctx, cur.rows)
		if err == nil {
			total.Add(stats)
			continue
		}
		if *budget <= 0 {
			return total, err
		}
		*budget--

		if len(cur.rows) == 1 {
			if cur.retried {
				sum.LoadSkipped++
				p.log.Error().Err(err).Str("game", cur.rows[0].GameID).Msg("row failed twice, skipped")
				continue
			}
			p.log.Warn().Err(err).Str("game", cur.rows[0].GameID).Msg("row load failed, retrying")
			pending = append([]loadChunk{{rows: cur.rows, retried: true}}, pending...)
			continue
		}

		mid := len(cur.rows) / 2
		p.log.Warn().Err(err).Int("size", len(cur.rows)).Msg("batch load failed, retrying at half size")
		pending = append([]loadChunk{{rows: cur.rows[:mid]}, {rows: cur.rows[mid:]}}, pending...)
	}
	return total, nil
}
