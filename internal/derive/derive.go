// Package derive computes the per-game metrics stored alongside a record.
package derive

import "github.com/pawnstats/pawnstats/internal/model"

// DefaultUpsetThreshold is the minimum rating gap for a decisive win by the
// lower-rated side to count as an upset.
const DefaultUpsetThreshold = 150

// Compute returns the derived metrics for a parsed record. Pure: missing
// ratings propagate as a nil diff and never as an upset.
func Compute(rec *model.GameRecord, upsetThreshold int) model.Metrics {
	if upsetThreshold <= 0 {
		upsetThreshold = DefaultUpsetThreshold
	}

	var m model.Metrics
	if rec.WhiteRating == nil || rec.BlackRating == nil {
		return m
	}

	diff := *rec.WhiteRating - *rec.BlackRating
	if diff < 0 {
		diff = -diff
	}
	m.RatingDiff = &diff

	if diff < upsetThreshold {
		return m
	}
	switch rec.Winner {
	case model.WinnerWhite:
		m.IsUpset = *rec.WhiteRating < *rec.BlackRating
	case model.WinnerBlack:
		m.IsUpset = *rec.BlackRating < *rec.WhiteRating
	}
	return m
}
