// Package model holds the record types passed between pipeline stages.
package model

import "time"

// Winner values stored in games.winner.
const (
	WinnerWhite = "white"
	WinnerBlack = "black"
	WinnerDraw  = "draw"
)

// Time-control classes derived from the record headers.
const (
	ClassBullet         = "bullet"
	ClassBlitz          = "blitz"
	ClassRapid          = "rapid"
	ClassClassical      = "classical"
	ClassCorrespondence = "correspondence"
)

// RawGame is one unparsed game record as exported by a source: PGN tag pairs
// followed by a movetext section.
type RawGame struct {
	Username string // account the record was exported for
	Text     string
}

// GameRecord is the structured form of one raw record.
type GameRecord struct {
	GameID      string
	PlayedAt    time.Time
	White       string
	Black       string
	WhiteRating *int // nil when the header is absent or "?"
	BlackRating *int
	Winner      string
	Termination string
	Rated       bool
	OpeningECO  string // empty when the record carries no opening metadata
	OpeningName string
	TimeClass   string
	PlyCount    int
	SANMoves    []string // validated mainline moves, not persisted
}

// HasOpening reports whether the record carries opening metadata.
func (r *GameRecord) HasOpening() bool {
	return r.OpeningECO != "" && r.OpeningName != ""
}

// Metrics are the fields derived from a parsed record at load time.
type Metrics struct {
	RatingDiff *int // |white - black|, nil when either rating is absent
	IsUpset    bool
}

// GameRow is a fully-derived row ready for the loader.
type GameRow struct {
	GameRecord
	Metrics
}

// LoadStats summarizes one committed batch.
type LoadStats struct {
	Inserted        int
	Duplicates      int
	PlayersCreated  int
	OpeningsCreated int
}

// Add accumulates another batch's stats.
func (s *LoadStats) Add(o LoadStats) {
	s.Inserted += o.Inserted
	s.Duplicates += o.Duplicates
	s.PlayersCreated += o.PlayersCreated
	s.OpeningsCreated += o.OpeningsCreated
}

// Cursor is a source position snapshot, keyed by whatever scope the source
// pages over (usernames for the API source, the file path for dumps). Values
// are millisecond timestamps or record offsets.
type Cursor map[string]int64

// Clone returns a copy safe to hand to a checkpoint.
func (c Cursor) Clone() Cursor {
	out := make(Cursor, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
