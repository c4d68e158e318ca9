package lichess

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pawnstats/pawnstats/internal/model"
)

// GameStream pages through the export feed for a list of users, one user at a
// time, tracking a per-user resume cursor.
type GameStream struct {
	client  *Client
	users   []string
	cursors model.Cursor
	idx     int
	log     zerolog.Logger
}

// NewGameStream builds a stream over users. resume carries per-user cursors
// from a previous run; users absent from it start at sinceMS.
func NewGameStream(client *Client, users []string, resume model.Cursor, sinceMS int64, log zerolog.Logger) *GameStream {
	cursors := make(model.Cursor, len(users))
	for _, u := range users {
		if ts, ok := resume[u]; ok && ts > sinceMS {
			cursors[u] = ts
		} else {
			cursors[u] = sinceMS
		}
	}
	return &GameStream{client: client, users: users, cursors: cursors, log: log}
}

// NextBatch fetches the next page of raw records. limit is advisory here:
// the upstream page size was fixed when the client was built. done is true
// once every user's feed is exhausted; the final call returns an empty batch.
func (s *GameStream) NextBatch(ctx context.Context, limit int) ([]model.RawGame, bool, error) {
	for s.idx < len(s.users) {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}

		user := s.users[s.idx]
		page, err := s.client.FetchPage(ctx, user, s.cursors[user])
		if err != nil {
			return nil, false, err
		}

		s.cursors[user] = page.NextCursor
		if page.Last {
			s.idx++
		}
		if len(page.Games) > 0 {
			s.log.Debug().
				Str("user", user).
				Int("games", len(page.Games)).
				Int64("cursor", page.NextCursor).
				Msg("fetched page")
			return page.Games, false, nil
		}
	}
	return nil, true, nil
}

// Cursor returns a snapshot of the per-user positions for checkpointing.
func (s *GameStream) Cursor() model.Cursor {
	return s.cursors.Clone()
}
