package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawnstats/pawnstats/internal/model"
)

// BatchError is a transactional load failure. The whole batch rolled back;
// the orchestrator decides whether to retry at reduced size.
type BatchError struct {
	BatchID uuid.UUID
	Size    int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("load batch %s (%d rows): %v", e.BatchID, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Loader writes fully-derived rows into the warehouse, one transaction per
// batch. Loading the same game twice is a no-op, so reruns are safe.
type Loader struct {
	store *Store
	res   *Resolver
	log   zerolog.Logger
}

// NewLoader builds a loader over store using res for entity resolution.
func NewLoader(store *Store, res *Resolver, log zerolog.Logger) *Loader {
	return &Loader{store: store, res: res, log: log}
}

const insertGameSQL = `
INSERT INTO games (
    game_id, played_at, white_id, black_id, white_rating, black_rating,
    winner, termination, ply_count, opening_id, rating_diff)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (game_id) DO NOTHING`

// LoadBatch upserts the batch's entities and inserts its games atomically.
// On any failure the transaction rolls back, the resolver caches are dropped
// (they may reference uncommitted rows), and a *BatchError is returned.
func (l *Loader) LoadBatch(ctx context.Context, rows []model.GameRow) (model.LoadStats, error) {
	var stats model.LoadStats
	if len(rows) == 0 {
		return stats, nil
	}

	batchID := uuid.New()
	start := time.Now()

	tx, err := l.store.pool.Begin(ctx)
	if err != nil {
		return stats, &BatchError{BatchID: batchID, Size: len(rows), Err: err}
	}
	defer tx.Rollback(ctx)

	for i := range rows {
		row := &rows[i]

		whiteID, createdW, err := l.res.ResolvePlayer(ctx, tx, row.White, row.WhiteRating)
		if err != nil {
			l.res.Reset()
			return model.LoadStats{}, &BatchError{BatchID: batchID, Size: len(rows), Err: err}
		}
		blackID, createdB, err := l.res.ResolvePlayer(ctx, tx, row.Black, row.BlackRating)
		if err != nil {
			l.res.Reset()
			return model.LoadStats{}, &BatchError{BatchID: batchID, Size: len(rows), Err: err}
		}
		if createdW {
			stats.PlayersCreated++
		}
		if createdB {
			stats.PlayersCreated++
		}

		var openingID *int64
		if row.HasOpening() {
			id, createdO, err := l.res.ResolveOpening(ctx, tx, row.OpeningECO, row.OpeningName)
			if err != nil {
				l.res.Reset()
				return model.LoadStats{}, &BatchError{BatchID: batchID, Size: len(rows), Err: err}
			}
			if createdO {
				stats.OpeningsCreated++
			}
			openingID = &id
		}

		tag, err := tx.Exec(ctx, insertGameSQL,
			row.GameID, row.PlayedAt, whiteID, blackID,
			row.WhiteRating, row.BlackRating,
			row.Winner, row.Termination, row.PlyCount,
			openingID, row.RatingDiff)
		if err != nil {
			l.res.Reset()
			return model.LoadStats{}, &BatchError{BatchID: batchID, Size: len(rows), Err: fmt.Errorf("insert game %s: %w", row.GameID, err)}
		}
		if tag.RowsAffected() == 1 {
			stats.Inserted++
		} else {
			stats.Duplicates++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		l.res.Reset()
		return model.LoadStats{}, &BatchError{BatchID: batchID, Size: len(rows), Err: err}
	}

	l.log.Info().
		Str("batch_id", batchID.String()).
		Int("rows", len(rows)).
		Int("inserted", stats.Inserted).
		Int("duplicates", stats.Duplicates).
		Dur("elapsed", time.Since(start)).
		Msg("batch committed")

	return stats, nil
}
